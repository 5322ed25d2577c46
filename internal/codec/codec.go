// Package codec encodes application-level structured keys and values into
// opaque backend byte strings and decodes them back, under the three data
// models (binary, array, hash) a table may declare.
//
// The key encoding is the same technique the reference system's 128-bit
// identifier uses — fixed-width, big-endian fields concatenated so that
// byte-lexicographic order matches logical order — generalized from a
// two-field (timestamp, random) layout to an arbitrary ordered tuple of
// typed fields.
package codec

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"

	errs "github.com/enterdb/enterdb/internal/errors"
	"github.com/enterdb/enterdb/pkg/types"
)

// fieldTag identifies the type of an encoded field so decode can self-delimit
// without a schema round-trip. Tags are ordered so that, within one field,
// byte order matches a sensible cross-type order (not required by the spec,
// but keeps the encoding total).
type fieldTag byte

const (
	tagString fieldTag = 1
	tagInt64  fieldTag = 2
	tagFloat  fieldTag = 3
	tagBool   fieldTag = 4
)

// EncodeKey assembles fields, in the exact order of keyDef, into a canonical
// byte string. len(fields) must equal len(keyDef) or this fails key_mismatch.
func EncodeKey(keyDef []string, fields map[string]any) ([]byte, error) {
	if len(fields) != len(keyDef) {
		return nil, errs.InvalidArgumentf(errs.CodeKeyMismatch, "key", "expected %d key fields, got %d", len(keyDef), len(fields))
	}
	return encodeKeyFields(keyDef, fields)
}

// RoutingKey returns the byte string a table hashes for shard/bucket
// routing. For a time_series table this is the sort key with its
// designated timestamp component — the last field of keyDef — left out, so
// every point sharing the rest of the key lands on the same shard and
// bucket regardless of when it was written, and only sorts by time once
// inside it. Non-time-series tables route on the full encoded key.
func RoutingKey(keyDef []string, fields map[string]any, timeSeries bool) ([]byte, error) {
	names := keyDef
	if timeSeries && len(keyDef) > 1 {
		names = keyDef[:len(keyDef)-1]
	}
	return encodeKeyFields(names, fields)
}

// encodeKeyFields encodes the named fields, in order, without requiring
// fields to hold exactly len(names) entries — EncodeKey enforces that on
// top for the full key; RoutingKey deliberately encodes a strict subset.
func encodeKeyFields(names []string, fields map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	for _, name := range names {
		v, ok := fields[name]
		if !ok {
			return nil, errs.InvalidArgumentf(errs.CodeKeyMismatch, name, "missing key field %q", name)
		}
		if err := encodeField(&buf, v); err != nil {
			return nil, errs.InvalidArgumentf(errs.CodeKeyMismatch, name, "field %q: %v", name, err)
		}
	}
	return buf.Bytes(), nil
}

// DecodeKey is the pure inverse of EncodeKey for the same keyDef.
func DecodeKey(keyDef []string, raw []byte) (map[string]any, error) {
	out := make(map[string]any, len(keyDef))
	r := bytes.NewReader(raw)
	for _, name := range keyDef {
		v, err := decodeField(r)
		if err != nil {
			return nil, errs.Downstreamf(errs.CodeKeyMismatch, err, "decoding key field %q", name)
		}
		out[name] = v
	}
	if r.Len() != 0 {
		return nil, errs.InvalidArgumentf(errs.CodeKeyMismatch, "", "trailing bytes after decoding key")
	}
	return out, nil
}

// encodeField writes a single self-delimiting, order-preserving field.
func encodeField(buf *bytes.Buffer, v any) error {
	switch x := v.(type) {
	case string:
		buf.WriteByte(byte(tagString))
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(x)))
		buf.Write(lenBuf[:])
		buf.WriteString(x)
	case int:
		return encodeField(buf, int64(x))
	case int64:
		buf.WriteByte(byte(tagInt64))
		var b [8]byte
		// Flip the sign bit so two's-complement negative values sort before
		// positive ones when compared as unsigned big-endian bytes.
		binary.BigEndian.PutUint64(b[:], uint64(x)^(1<<63))
		buf.Write(b[:])
	case float64:
		buf.WriteByte(byte(tagFloat))
		bits := floatOrderPreservingBits(x)
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], bits)
		buf.Write(b[:])
	case bool:
		buf.WriteByte(byte(tagBool))
		if x {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	default:
		return fmt.Errorf("unsupported key field type %T", v)
	}
	return nil
}

func decodeField(r *bytes.Reader) (any, error) {
	tagByte, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("reading field tag: %w", err)
	}
	switch fieldTag(tagByte) {
	case tagString:
		var lenBuf [4]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return nil, fmt.Errorf("reading string length: %w", err)
		}
		n := binary.BigEndian.Uint32(lenBuf[:])
		strBuf := make([]byte, n)
		if _, err := io.ReadFull(r, strBuf); err != nil {
			return nil, fmt.Errorf("reading string bytes: %w", err)
		}
		return string(strBuf), nil
	case tagInt64:
		var b [8]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return nil, fmt.Errorf("reading int64: %w", err)
		}
		u := binary.BigEndian.Uint64(b[:])
		return int64(u ^ (1 << 63)), nil
	case tagFloat:
		var b [8]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return nil, fmt.Errorf("reading float64: %w", err)
		}
		return floatFromOrderPreservingBits(binary.BigEndian.Uint64(b[:])), nil
	case tagBool:
		b, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("reading bool: %w", err)
		}
		return b != 0, nil
	default:
		return nil, fmt.Errorf("unknown field tag %d", tagByte)
	}
}

// floatOrderPreservingBits maps a float64 to a uint64 whose big-endian byte
// order matches IEEE-754 float order: flip the sign bit for positives, and
// flip every bit for negatives.
func floatOrderPreservingBits(f float64) uint64 {
	bits := math.Float64bits(f)
	if bits&(1<<63) != 0 {
		return ^bits
	}
	return bits | (1 << 63)
}

func floatFromOrderPreservingBits(bits uint64) float64 {
	if bits&(1<<63) != 0 {
		return math.Float64frombits(bits &^ (1 << 63))
	}
	return math.Float64frombits(^bits)
}

// wireValue tags a single column scalar with its Go type before it goes
// into encoding/json, the same self-delimiting idea EncodeKey's fieldTag
// uses for the sort key. Without it, DecodeValue could not tell an int64
// column from a float64 one: json.Unmarshal turns every bare JSON number
// into float64 regardless of what encoded it, which would silently corrupt
// decode(encode(x)) for any integer column. V carries the value's decimal
// text rather than a bare JSON number so an int64 outside float64's 53-bit
// mantissa still round-trips exactly.
type wireValue struct {
	T byte   `json:"t"`
	V string `json:"v"`
}

// toWireValue tags a decoded-JSON-safe column scalar. nil encodes as the
// zero tag (no fieldTag constant is 0) with an empty value.
func toWireValue(v any) (wireValue, error) {
	switch x := v.(type) {
	case nil:
		return wireValue{}, nil
	case string:
		return wireValue{T: byte(tagString), V: x}, nil
	case int:
		return toWireValue(int64(x))
	case int64:
		return wireValue{T: byte(tagInt64), V: strconv.FormatInt(x, 10)}, nil
	case float64:
		return wireValue{T: byte(tagFloat), V: strconv.FormatFloat(x, 'g', -1, 64)}, nil
	case bool:
		return wireValue{T: byte(tagBool), V: strconv.FormatBool(x)}, nil
	default:
		return wireValue{}, fmt.Errorf("unsupported column value type %T", v)
	}
}

func fromWireValue(w wireValue) (any, error) {
	switch fieldTag(w.T) {
	case 0:
		return nil, nil
	case tagString:
		return w.V, nil
	case tagInt64:
		n, err := strconv.ParseInt(w.V, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing int64 value %q: %w", w.V, err)
		}
		return n, nil
	case tagFloat:
		f, err := strconv.ParseFloat(w.V, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing float64 value %q: %w", w.V, err)
		}
		return f, nil
	case tagBool:
		b, err := strconv.ParseBool(w.V)
		if err != nil {
			return nil, fmt.Errorf("parsing bool value %q: %w", w.V, err)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown wire value tag %d", w.T)
	}
}

// EncodeValue serializes a row's non-key columns according to the table's
// data model.
func EncodeValue(dataModel types.DataModel, columnsDef []string, columns map[string]any) ([]byte, error) {
	switch dataModel {
	case types.DataModelBinary:
		wire, err := tagColumnMap(columns)
		if err != nil {
			return nil, errs.InvalidArgumentf(errs.CodeColumnMismatch, "columns", "%v", err)
		}
		b, err := json.Marshal(wire)
		if err != nil {
			return nil, errs.Downstreamf(errs.CodeBackendError, err, "encoding binary value")
		}
		return b, nil
	case types.DataModelArray:
		if len(columns) != len(columnsDef) {
			return nil, errs.InvalidArgumentf(errs.CodeColumnMismatch, "columns", "expected %d columns, got %d", len(columnsDef), len(columns))
		}
		wire := make([]wireValue, len(columnsDef))
		for i, name := range columnsDef {
			v, ok := columns[name]
			if !ok {
				return nil, errs.InvalidArgumentf(errs.CodeColumnMismatch, name, "missing column %q", name)
			}
			wv, err := toWireValue(v)
			if err != nil {
				return nil, errs.InvalidArgumentf(errs.CodeColumnMismatch, name, "column %q: %v", name, err)
			}
			wire[i] = wv
		}
		b, err := json.Marshal(wire)
		if err != nil {
			return nil, errs.Downstreamf(errs.CodeBackendError, err, "encoding array value")
		}
		return b, nil
	case types.DataModelHash:
		wire, err := tagColumnMap(sortedHash(columns))
		if err != nil {
			return nil, errs.InvalidArgumentf(errs.CodeColumnMismatch, "columns", "%v", err)
		}
		b, err := json.Marshal(wire)
		if err != nil {
			return nil, errs.Downstreamf(errs.CodeBackendError, err, "encoding hash value")
		}
		return b, nil
	default:
		return nil, errs.Unsupportedf(errs.CodeTypeNotSupported, "unknown data model %q", dataModel)
	}
}

// tagColumnMap tags every value of a column map for the wire; used by both
// the binary and hash data models, which store an arbitrary key set rather
// than array's fixed column order.
func tagColumnMap(columns map[string]any) (map[string]wireValue, error) {
	wire := make(map[string]wireValue, len(columns))
	for k, v := range columns {
		wv, err := toWireValue(v)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", k, err)
		}
		wire[k] = wv
	}
	return wire, nil
}

// DecodeValue is the pure inverse of EncodeValue for the same columnsDef/dataModel.
func DecodeValue(dataModel types.DataModel, columnsDef []string, raw []byte) (map[string]any, error) {
	switch dataModel {
	case types.DataModelBinary:
		var wire map[string]wireValue
		if err := json.Unmarshal(raw, &wire); err != nil {
			return nil, errs.Downstreamf(errs.CodeBackendError, err, "decoding binary value")
		}
		out := make(map[string]any, len(wire))
		for k, wv := range wire {
			v, err := fromWireValue(wv)
			if err != nil {
				return nil, errs.Downstreamf(errs.CodeBackendError, err, "decoding binary value field %q", k)
			}
			out[k] = v
		}
		return out, nil
	case types.DataModelArray:
		var wire []wireValue
		if err := json.Unmarshal(raw, &wire); err != nil {
			return nil, errs.Downstreamf(errs.CodeBackendError, err, "decoding array value")
		}
		if len(wire) != len(columnsDef) {
			return nil, errs.InvalidArgumentf(errs.CodeColumnMismatch, "columns", "expected %d columns, got %d", len(columnsDef), len(wire))
		}
		out := make(map[string]any, len(columnsDef))
		for i, name := range columnsDef {
			v, err := fromWireValue(wire[i])
			if err != nil {
				return nil, errs.Downstreamf(errs.CodeBackendError, err, "decoding array value field %q", name)
			}
			out[name] = v
		}
		return out, nil
	case types.DataModelHash:
		var wire map[string]wireValue
		if err := json.Unmarshal(raw, &wire); err != nil {
			return nil, errs.Downstreamf(errs.CodeBackendError, err, "decoding hash value")
		}
		out := make(map[string]any, len(wire))
		for k, wv := range wire {
			v, err := fromWireValue(wv)
			if err != nil {
				return nil, errs.Downstreamf(errs.CodeBackendError, err, "decoding hash value field %q", k)
			}
			out[k] = v
		}
		return out, nil
	default:
		return nil, errs.Unsupportedf(errs.CodeTypeNotSupported, "unknown data model %q", dataModel)
	}
}

// sortedHash returns a copy of m, filled in sorted key order. A Go map keeps
// no insertion order, so the copy iterates like any other map; the encoded
// hash value's key order is deterministic because json.Marshal writes map
// keys sorted.
func sortedHash(m map[string]any) map[string]any {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make(map[string]any, len(m))
	for _, k := range keys {
		out[k] = m[k]
	}
	return out
}

// EncodeIndexes always fails not_supported_yet for non-empty input, per the
// original specification; empty lists are a no-op.
func EncodeIndexes(indexes []string, fields map[string]any) ([]byte, error) {
	if len(indexes) == 0 {
		return nil, nil
	}
	return nil, errs.Unsupportedf(errs.CodeNotSupportedYet, "index encoding is not supported yet")
}

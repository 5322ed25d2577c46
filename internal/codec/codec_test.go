package codec

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/enterdb/enterdb/pkg/types"
)

func TestEncodeDecodeKeyRoundTrip(t *testing.T) {
	keyDef := []string{"a", "b"}
	fields := map[string]any{"a": int64(1), "b": "two"}

	encoded, err := EncodeKey(keyDef, fields)
	if err != nil {
		t.Fatalf("EncodeKey: %v", err)
	}
	decoded, err := DecodeKey(keyDef, encoded)
	if err != nil {
		t.Fatalf("DecodeKey: %v", err)
	}
	if decoded["a"].(int64) != 1 || decoded["b"].(string) != "two" {
		t.Fatalf("round trip mismatch: %+v", decoded)
	}
}

func TestEncodeKeyMissingField(t *testing.T) {
	_, err := EncodeKey([]string{"a", "b"}, map[string]any{"a": int64(1)})
	if err == nil {
		t.Fatal("expected key_mismatch error")
	}
}

func TestEncodeKeyOrderIndependentOfFieldMapOrder(t *testing.T) {
	keyDef := []string{"a", "b"}
	k1, err := EncodeKey(keyDef, map[string]any{"a": int64(1), "b": int64(2)})
	if err != nil {
		t.Fatal(err)
	}
	k2, err := EncodeKey(keyDef, map[string]any{"b": int64(2), "a": int64(1)})
	if err != nil {
		t.Fatal(err)
	}
	if string(k1) != string(k2) {
		t.Fatalf("encoding should not depend on map iteration order: %x vs %x", k1, k2)
	}
}

func TestRoutingKeyDropsTrailingTimestampFieldWhenTimeSeries(t *testing.T) {
	keyDef := []string{"device", "ts"}
	fields := map[string]any{"device": "d1", "ts": int64(100)}

	full, err := RoutingKey(keyDef, fields, false)
	if err != nil {
		t.Fatal(err)
	}
	sortKey, err := EncodeKey(keyDef, fields)
	if err != nil {
		t.Fatal(err)
	}
	if string(full) != string(sortKey) {
		t.Fatalf("non-time-series routing key should equal the full sort key")
	}

	routed, err := RoutingKey(keyDef, fields, true)
	if err != nil {
		t.Fatal(err)
	}
	deviceOnly, err := encodeKeyFields([]string{"device"}, fields)
	if err != nil {
		t.Fatal(err)
	}
	if string(routed) != string(deviceOnly) {
		t.Fatalf("time_series routing key should drop the trailing timestamp field")
	}
}

func TestRoutingKeyStableAcrossTimestampForTimeSeries(t *testing.T) {
	keyDef := []string{"device", "ts"}
	k1, err := RoutingKey(keyDef, map[string]any{"device": "d1", "ts": int64(1)}, true)
	if err != nil {
		t.Fatal(err)
	}
	k2, err := RoutingKey(keyDef, map[string]any{"device": "d1", "ts": int64(999999)}, true)
	if err != nil {
		t.Fatal(err)
	}
	if string(k1) != string(k2) {
		t.Fatalf("routing key must not vary with the timestamp component for a time_series key")
	}
}

func TestValueArrayColumnMismatch(t *testing.T) {
	_, err := EncodeValue(types.DataModelArray, []string{"c1", "c2", "c3"}, map[string]any{"c1": "a", "c3": "c"})
	if err == nil {
		t.Fatal("expected column_mismatch error")
	}
}

func TestValueRoundTripAllModels(t *testing.T) {
	columnsDef := []string{"c1", "c2"}
	for _, dm := range []types.DataModel{types.DataModelBinary, types.DataModelArray, types.DataModelHash} {
		cols := map[string]any{"c1": "x", "c2": float64(3.5)}
		encoded, err := EncodeValue(dm, columnsDef, cols)
		if err != nil {
			t.Fatalf("%s: encode: %v", dm, err)
		}
		decoded, err := DecodeValue(dm, columnsDef, encoded)
		if err != nil {
			t.Fatalf("%s: decode: %v", dm, err)
		}
		if decoded["c1"] != "x" || decoded["c2"].(float64) != 3.5 {
			t.Fatalf("%s: round trip mismatch: %+v", dm, decoded)
		}
	}
}

// TestValueRoundTripPreservesInt64VsFloat64 covers invariant 1
// (decode(encode(x)) = x) for an int64 column, which plain encoding/json
// would otherwise collapse into float64 on decode since json.Unmarshal
// always produces float64 for a bare JSON number.
func TestValueRoundTripPreservesInt64VsFloat64(t *testing.T) {
	columnsDef := []string{"count", "ratio", "flag"}
	for _, dm := range []types.DataModel{types.DataModelBinary, types.DataModelArray, types.DataModelHash} {
		cols := map[string]any{"count": int64(5), "ratio": float64(5), "flag": true}
		encoded, err := EncodeValue(dm, columnsDef, cols)
		if err != nil {
			t.Fatalf("%s: encode: %v", dm, err)
		}
		decoded, err := DecodeValue(dm, columnsDef, encoded)
		if err != nil {
			t.Fatalf("%s: decode: %v", dm, err)
		}
		count, ok := decoded["count"].(int64)
		if !ok || count != 5 {
			t.Fatalf("%s: expected count to decode back as int64(5), got %T(%v)", dm, decoded["count"], decoded["count"])
		}
		ratio, ok := decoded["ratio"].(float64)
		if !ok || ratio != 5 {
			t.Fatalf("%s: expected ratio to decode back as float64(5), got %T(%v)", dm, decoded["ratio"], decoded["ratio"])
		}
		if flag, ok := decoded["flag"].(bool); !ok || !flag {
			t.Fatalf("%s: expected flag to decode back as bool(true), got %T(%v)", dm, decoded["flag"], decoded["flag"])
		}
	}
}

// TestValueRoundTripInt64BeyondFloat64Mantissa covers an int64 outside
// float64's 53-bit mantissa, which a wire format that ever routes an
// integer through a JSON number (even transiently) would round incorrectly.
func TestValueRoundTripInt64BeyondFloat64Mantissa(t *testing.T) {
	columnsDef := []string{"c1"}
	const big int64 = 1<<62 + 1
	encoded, err := EncodeValue(types.DataModelBinary, columnsDef, map[string]any{"c1": big})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeValue(types.DataModelBinary, columnsDef, encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded["c1"].(int64) != big {
		t.Fatalf("expected exact int64 round trip, got %v", decoded["c1"])
	}
}

func TestEncodeIndexesNotSupportedYet(t *testing.T) {
	if _, err := EncodeIndexes([]string{"idx1"}, nil); err == nil {
		t.Fatal("expected not_supported_yet")
	}
	if out, err := EncodeIndexes(nil, nil); err != nil || out != nil {
		t.Fatalf("empty index list should be a no-op, got out=%v err=%v", out, err)
	}
}

// TestKeyOrderPreservation is a property test for invariant 2 of the
// original specification: byte order of encoded keys must match logical
// order of the underlying int64 field, for both positive and negative values.
func TestKeyOrderPreservation(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("int64 byte order matches logical order", prop.ForAll(
		func(a, b int64) bool {
			ea, err := EncodeKey([]string{"k"}, map[string]any{"k": a})
			if err != nil {
				return false
			}
			eb, err := EncodeKey([]string{"k"}, map[string]any{"k": b})
			if err != nil {
				return false
			}
			cmp := compareBytes(ea, eb)
			switch {
			case a < b:
				return cmp < 0
			case a > b:
				return cmp > 0
			default:
				return cmp == 0
			}
		},
		gen.Int64(),
		gen.Int64(),
	))

	properties.Property("decode(encode(x)) == x for int64 keys", prop.ForAll(
		func(a int64) bool {
			encoded, err := EncodeKey([]string{"k"}, map[string]any{"k": a})
			if err != nil {
				return false
			}
			decoded, err := DecodeKey([]string{"k"}, encoded)
			if err != nil {
				return false
			}
			return decoded["k"].(int64) == a
		},
		gen.Int64(),
	))

	properties.TestingRun(t)
}

func compareBytes(a, b []byte) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

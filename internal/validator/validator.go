// Package validator implements verify_create_table_args: checking
// table-creation arguments and normalizing them into a canonical table
// descriptor. It follows the reference system's schema validator shape —
// collect every violated rule rather than stop at the first one — widened
// from "one row, several field checks" to "one table descriptor, several
// field checks."
package validator

import (
	"unicode"

	errs "github.com/enterdb/enterdb/internal/errors"
	"github.com/enterdb/enterdb/pkg/types"
)

const (
	MaxNameLen    = 255
	MaxKeyLen     = 100
	MaxColumnsLen = 10000
)

// TableExistsChecker is consulted for name uniqueness; the catalog implements it.
type TableExistsChecker interface {
	TableExists(name string) (bool, error)
}

// Args is the raw (option, value) input to verify_create_table_args.
type Args struct {
	Name    string
	Key     []string
	Columns []string
	Indexes []string
	Options types.Options
}

// Validator checks CreateTable arguments against a name registry.
type Validator struct {
	registry      TableExistsChecker
	defaultShards int
}

func New(registry TableExistsChecker, defaultShards int) *Validator {
	if defaultShards <= 0 {
		defaultShards = 1
	}
	return &Validator{registry: registry, defaultShards: defaultShards}
}

// Verify runs every field rule and, if none failed, produces the canonical
// table descriptor together with the resolved shard count (the descriptor
// itself carries no shard count until the placement layer fills in
// t.Shards). Order of validation is irrelevant to the outcome.
func (v *Validator) Verify(args Args) (*types.Table, int, error) {
	var violations []*errs.Error

	violations = append(violations, v.checkName(args.Name)...)
	violations = append(violations, checkKey(args.Key)...)
	violations = append(violations, checkColumns(args.Columns)...)
	violations = append(violations, checkIndexes(args.Indexes, args.Key)...)
	violations = append(violations, checkOptions(args.Options)...)

	if len(violations) > 0 {
		return nil, 0, errs.Aggregate(errs.InvalidArgument, "invalid_create_table_args", violations)
	}

	dataCols := subtractPreservingOrder(args.Columns, args.Key)
	dataCols = appendIndexFieldsToColumns(dataCols, args.Indexes)

	shards := args.Options.Shards
	if shards <= 0 {
		shards = v.defaultShards
	}
	distributed := true
	if args.Options.Distributed != nil {
		distributed = *args.Options.Distributed
	}
	rf := args.Options.ReplicationFactor
	if rf <= 0 {
		rf = 1
	}
	tableType := args.Options.Type
	if tableType == "" {
		tableType = types.TypeOrdered
	}
	dataModel := args.Options.DataModel
	if dataModel == "" {
		dataModel = types.DataModelBinary
	}
	comparator := args.Options.Comparator
	if comparator == "" {
		comparator = types.ComparatorAscending
	}

	return &types.Table{
		Name:              args.Name,
		Key:               args.Key,
		Columns:           dataCols,
		Indexes:           args.Indexes,
		Type:              tableType,
		DataModel:         dataModel,
		Comparator:        comparator,
		Wrapper:           args.Options.Wrapper,
		TimeSeries:        args.Options.TimeSeries,
		Distributed:       distributed,
		ReplicationFactor: rf,
	}, shards, nil
}

func (v *Validator) checkName(name string) []*errs.Error {
	var out []*errs.Error
	if len(name) == 0 {
		out = append(out, errs.InvalidArgumentf(errs.CodeInvalidKey, "name", "table name must not be empty"))
		return out
	}
	if len(name) > MaxNameLen {
		out = append(out, errs.InvalidArgumentf(errs.CodeTooLongName, "name", "table name exceeds %d bytes", MaxNameLen))
	}
	if !isPrintableUnicode(name) {
		out = append(out, errs.InvalidArgumentf(errs.CodeNonUnicodeName, "name", "table name must be printable unicode"))
	}
	if v.registry != nil {
		exists, err := v.registry.TableExists(name)
		if err != nil {
			out = append(out, errs.Downstreamf(errs.CodeBackendError, err, "checking table existence"))
		} else if exists {
			out = append(out, errs.Conflictf(errs.CodeTableExists, "name", "table %q already exists", name))
		}
	}
	return out
}

func checkKey(key []string) []*errs.Error {
	var out []*errs.Error
	if len(key) == 0 {
		out = append(out, errs.InvalidArgumentf(errs.CodeNoKeyField, "key", "key must not be empty"))
		return out
	}
	if len(key) > MaxKeyLen {
		out = append(out, errs.InvalidArgumentf(errs.CodeKeyTooLong, "key", "key has %d fields, max %d", len(key), MaxKeyLen))
	}
	out = append(out, checkPrintableUnique(key, "key", errs.CodeDuplicateKey)...)
	return out
}

func checkColumns(columns []string) []*errs.Error {
	var out []*errs.Error
	if len(columns) == 0 {
		out = append(out, errs.InvalidArgumentf(errs.CodeInvalidKey, "columns", "columns must not be empty"))
		return out
	}
	if len(columns) > MaxColumnsLen {
		out = append(out, errs.InvalidArgumentf(errs.CodeInvalidKey, "columns", "columns has %d fields, max %d", len(columns), MaxColumnsLen))
	}
	out = append(out, checkPrintableUnique(columns, "columns", errs.CodeDuplicateKey)...)
	return out
}

func checkIndexes(indexes, key []string) []*errs.Error {
	var out []*errs.Error
	out = append(out, checkPrintableUnique(indexes, "indexes", errs.CodeDuplicateKey)...)

	seen := make(map[string]bool, len(indexes)+len(key))
	for _, k := range key {
		seen[k] = true
	}
	for _, idx := range indexes {
		if seen[idx] {
			out = append(out, errs.InvalidArgumentf(errs.CodeDuplicateKey, "indexes", "index field %q duplicates a key field", idx))
		}
		seen[idx] = true
	}
	return out
}

func checkOptions(opts types.Options) []*errs.Error {
	var out []*errs.Error
	if opts.Shards < 0 {
		out = append(out, errs.InvalidArgumentf(errs.CodeInvalidOption, "shards", "shards must be positive, got %d", opts.Shards))
	}
	if opts.ReplicationFactor < 0 {
		out = append(out, errs.InvalidArgumentf(errs.CodeInvalidOption, "replication_factor", "replication_factor must be positive, got %d", opts.ReplicationFactor))
	}
	switch opts.Type {
	case "", types.TypeOrdered, types.TypeOrderedWrapped, types.TypeEtsOrdered, types.TypeEtsOrderedWrapped:
	default:
		out = append(out, errs.InvalidArgumentf(errs.CodeInvalidOption, "type", "unknown type %q", opts.Type))
	}
	switch opts.DataModel {
	case "", types.DataModelBinary, types.DataModelArray, types.DataModelHash:
	default:
		out = append(out, errs.InvalidArgumentf(errs.CodeInvalidOption, "data_model", "unknown data_model %q", opts.DataModel))
	}
	switch opts.Comparator {
	case "", types.ComparatorAscending, types.ComparatorDescending:
	default:
		out = append(out, errs.InvalidArgumentf(errs.CodeInvalidOption, "comparator", "unknown comparator %q", opts.Comparator))
	}
	if opts.Type.Canonical() == types.TypeOrderedWrapped {
		if opts.Wrapper == nil {
			out = append(out, errs.InvalidArgumentf(errs.CodeInvalidOption, "wrapper", "wrapped type requires a wrapper configuration"))
		} else {
			if opts.Wrapper.NumOfBuckets < 3 {
				out = append(out, errs.InvalidArgumentf(errs.CodeInvalidOption, "wrapper.num_of_buckets", "num_of_buckets must be >= 3"))
			}
			if opts.Wrapper.TimeMargin == nil && opts.Wrapper.SizeMargin == nil {
				out = append(out, errs.InvalidArgumentf(errs.CodeInvalidOption, "wrapper", "at least one of time_margin or size_margin is required"))
			}
		}
	}
	return out
}

func checkPrintableUnique(fields []string, name, dupCode string) []*errs.Error {
	var out []*errs.Error
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		if !isPrintableUnicode(f) {
			out = append(out, errs.InvalidArgumentf(errs.CodeNotPrintable, name, "field %q is not printable", f))
			continue
		}
		if seen[f] {
			out = append(out, errs.InvalidArgumentf(dupCode, name, "duplicate field %q", f))
		}
		seen[f] = true
	}
	return out
}

func isPrintableUnicode(s string) bool {
	if len(s) == 0 {
		return false
	}
	for _, r := range s {
		if !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}

// subtractPreservingOrder returns a \ b, preserving a's order.
func subtractPreservingOrder(a, b []string) []string {
	exclude := make(map[string]bool, len(b))
	for _, x := range b {
		exclude[x] = true
	}
	out := make([]string, 0, len(a))
	for _, x := range a {
		if !exclude[x] {
			out = append(out, x)
		}
	}
	return out
}

// appendIndexFieldsToColumns appends index fields not already present in
// columns. The source this was distilled from has a typo (`fasle` in place
// of `false`) that suppresses this append entirely; per its own docstring
// the intended behavior is "append when not already present," which is what
// this implementation does.
func appendIndexFieldsToColumns(columns []string, indexes []string) []string {
	present := make(map[string]bool, len(columns))
	for _, c := range columns {
		present[c] = true
	}
	out := append([]string{}, columns...)
	for _, idx := range indexes {
		if !present[idx] {
			out = append(out, idx)
			present[idx] = true
		}
	}
	return out
}

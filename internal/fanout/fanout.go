package fanout

import (
	"context"

	errs "github.com/enterdb/enterdb/internal/errors"
	"github.com/enterdb/enterdb/internal/topology"
	"github.com/enterdb/enterdb/pkg/types"
)

// ShardRangeReader is what a shard worker exposes to the fanout layer,
// dispatched over either a wrapper or a plain ordered backend depending on
// the table's shard type (§4.6 step 2's per-type callback selection).
type ShardRangeReader interface {
	ReadRangeBinary(ctx context.Context, shardID string, start, stop []byte, chunk int, dir types.Comparator) ([]types.RawKV, []byte, error)
	ReadRangeNBinary(ctx context.Context, shardID string, start []byte, n int, dir types.Comparator) ([]types.RawKV, error)
	ApproximateSize(ctx context.Context, shardID string) (int64, error)
}

// Dispatcher parallel-maps a call across shards, satisfied by
// *topology.Topology for both the local and (single-node) distributed case.
type Dispatcher interface {
	MapShardsSeq(ctx context.Context, shardIDs []string, call func(ctx context.Context, shardID string) (any, error)) []topology.ShardResult
}

type shardRangeResult struct {
	kvl  []types.RawKV
	cont []byte // nil means complete
}

// ReadRangeOnShards implements read_range_on_shards: dispatch a bounded
// range read to every shard in parallel, then merge with a continuation-safe
// cutoff.
func ReadRangeOnShards(ctx context.Context, disp Dispatcher, reader ShardRangeReader, shardIDs []string, start, stop []byte, chunk int, dir types.Comparator) ([]types.RawKV, []byte, error) {
	results := disp.MapShardsSeq(ctx, shardIDs, func(ctx context.Context, shardID string) (any, error) {
		kvl, cont, err := reader.ReadRangeBinary(ctx, shardID, start, stop, chunk, dir)
		if err != nil {
			return nil, err
		}
		return shardRangeResult{kvl: kvl, cont: cont}, nil
	})

	for _, r := range results {
		if r.Err != nil {
			return nil, nil, r.Err
		}
	}

	lists := make([][]types.RawKV, len(results))
	var continuations [][]byte
	for i, r := range results {
		sr := r.Value.(shardRangeResult)
		lists[i] = sr.kvl
		if sr.cont != nil {
			continuations = append(continuations, sr.cont)
		}
	}

	if len(continuations) == 0 {
		return mergeSortedRawKVs(dir, lists), nil, nil
	}

	contStar := minDir(dir, continuations)
	lists = append(lists, []types.RawKV{{Key: contStar, Value: nil}})
	merged := mergeSortedRawKVs(dir, lists)

	cut := len(merged)
	for i, kv := range merged {
		if bytesEqual(kv.Key, contStar) {
			cut = i
			break
		}
	}
	return merged[:cut], contStar, nil
}

// ReadRangeNOnShards implements read_range_n_on_shards: every shard is
// asked for up to n items (the safe upper bound; dividing n by shard count
// is only valid under a uniform key-distribution assumption this layer does
// not make), then the merged head of length n is returned.
func ReadRangeNOnShards(ctx context.Context, disp Dispatcher, reader ShardRangeReader, shardIDs []string, start []byte, n int, dir types.Comparator) ([]types.RawKV, error) {
	results := disp.MapShardsSeq(ctx, shardIDs, func(ctx context.Context, shardID string) (any, error) {
		return reader.ReadRangeNBinary(ctx, shardID, start, n, dir)
	})

	for _, r := range results {
		if r.Err != nil {
			return nil, r.Err
		}
	}

	lists := make([][]types.RawKV, len(results))
	for i, r := range results {
		lists[i] = r.Value.([]types.RawKV)
	}

	merged := mergeSortedRawKVs(dir, lists)
	if len(merged) > n {
		merged = merged[:n]
	}
	return merged, nil
}

// ApproximateSizeOnShards sums per-shard backend size estimates, supported
// only for the plain ordered shard type — ordered_wrapped fails
// type_not_supported, per the top-level approximate_size(type, shards,
// distributed) dispatch rule.
func ApproximateSizeOnShards(ctx context.Context, disp Dispatcher, reader ShardRangeReader, shardType types.ShardType, shardIDs []string) (int64, error) {
	canonical := shardType.Canonical()
	if canonical != types.TypeOrdered {
		return 0, errs.Unsupportedf(errs.CodeTypeNotSupported, "approximate_size not supported for shard type %q", shardType)
	}

	results := disp.MapShardsSeq(ctx, shardIDs, func(ctx context.Context, shardID string) (any, error) {
		return reader.ApproximateSize(ctx, shardID)
	})

	var total int64
	for _, r := range results {
		if r.Err != nil {
			return 0, r.Err
		}
		total += r.Value.(int64)
	}
	return total, nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

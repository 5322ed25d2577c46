package wrapper

import (
	"context"

	"github.com/enterdb/enterdb/internal/fanout"
	"github.com/enterdb/enterdb/pkg/types"
)

// BucketReader is what the wrapper needs from a bucket's backend store to
// serve a range read, keeping this package decoupled from the concrete
// OrderedBackend the same way BackendOpener does for bucket creation.
type BucketReader interface {
	ReadRangeBinary(ctx context.Context, path string, start, stop []byte, chunk int, dir types.Comparator) ([]types.RawKV, []byte, error)
	ReadRangeNBinary(ctx context.Context, path string, start []byte, n int, dir types.Comparator) ([]types.RawKV, error)
	ApproximateSize(ctx context.Context, path string) (int64, error)
}

// bucketRangeAdapter satisfies fanout.ShardRangeReader by treating a wrapped
// shard's buckets as if they were the fanout layer's shards, so a wrapped
// shard's own read_range_binary reuses the exact continuation-safe k-way
// merge C6 uses across real shards, one level down.
type bucketRangeAdapter struct {
	reader  BucketReader
	dataDir string
	shardID string
}

func (a *bucketRangeAdapter) ReadRangeBinary(ctx context.Context, bucketID string, start, stop []byte, chunk int, dir types.Comparator) ([]types.RawKV, []byte, error) {
	return a.reader.ReadRangeBinary(ctx, BucketPath(a.dataDir, a.shardID, bucketID), start, stop, chunk, dir)
}

func (a *bucketRangeAdapter) ReadRangeNBinary(ctx context.Context, bucketID string, start []byte, n int, dir types.Comparator) ([]types.RawKV, error) {
	return a.reader.ReadRangeNBinary(ctx, BucketPath(a.dataDir, a.shardID, bucketID), start, n, dir)
}

func (a *bucketRangeAdapter) ApproximateSize(ctx context.Context, bucketID string) (int64, error) {
	return a.reader.ApproximateSize(ctx, BucketPath(a.dataDir, a.shardID, bucketID))
}

// ReadRangeBinary fans a bounded range read out across every live bucket of
// a wrapped shard and merges the results.
func ReadRangeBinary(ctx context.Context, disp fanout.Dispatcher, reader BucketReader, dataDir, shardID string, buckets []string, start, stop []byte, chunk int, dir types.Comparator) ([]types.RawKV, []byte, error) {
	adapter := &bucketRangeAdapter{reader: reader, dataDir: dataDir, shardID: shardID}
	return fanout.ReadRangeOnShards(ctx, disp, adapter, buckets, start, stop, chunk, dir)
}

// ReadRangeNBinary is the bounded-count analogue of ReadRangeBinary.
func ReadRangeNBinary(ctx context.Context, disp fanout.Dispatcher, reader BucketReader, dataDir, shardID string, buckets []string, start []byte, n int, dir types.Comparator) ([]types.RawKV, error) {
	adapter := &bucketRangeAdapter{reader: reader, dataDir: dataDir, shardID: shardID}
	return fanout.ReadRangeNOnShards(ctx, disp, adapter, buckets, start, n, dir)
}

// ApproximateSize sums the approximate sizes of every bucket in a wrapped shard.
func ApproximateSize(ctx context.Context, disp fanout.Dispatcher, reader BucketReader, dataDir, shardID string, buckets []string) (int64, error) {
	adapter := &bucketRangeAdapter{reader: reader, dataDir: dataDir, shardID: shardID}
	return fanout.ApproximateSizeOnShards(ctx, disp, adapter, types.TypeOrdered, buckets)
}

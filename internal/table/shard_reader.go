package table

import (
	"context"

	"github.com/enterdb/enterdb/internal/backend"
	"github.com/enterdb/enterdb/internal/wrapper"
	"github.com/enterdb/enterdb/pkg/types"
)

// shardReader implements fanout.ShardRangeReader by dispatching each shard
// to either the pool-backed plain path or the wrapper's bucket fanout,
// picked by the shard's canonical type exactly as create/open/delete do.
type shardReader struct {
	m *Manager
}

func (r *shardReader) ReadRangeBinary(ctx context.Context, shardID string, start, stop []byte, chunk int, dir types.Comparator) ([]types.RawKV, []byte, error) {
	s, err := r.m.catalog.GetShard(shardID)
	if err != nil {
		return nil, nil, err
	}
	if s.Type.Canonical() == types.TypeOrderedWrapped {
		return wrapper.ReadRangeBinary(ctx, r.m.topo, r.m.bucketReader(), r.m.dataDir, shardID, s.Buckets, start, stop, chunk, dir)
	}
	path := r.m.shardPath(shardID)
	b, err := r.m.pool.Acquire(path)
	if err != nil {
		return nil, nil, err
	}
	defer r.m.pool.Release(path)
	return b.ReadRangeBinary(ctx, start, stop, chunk, dir)
}

func (r *shardReader) ReadRangeNBinary(ctx context.Context, shardID string, start []byte, n int, dir types.Comparator) ([]types.RawKV, error) {
	s, err := r.m.catalog.GetShard(shardID)
	if err != nil {
		return nil, err
	}
	if s.Type.Canonical() == types.TypeOrderedWrapped {
		return wrapper.ReadRangeNBinary(ctx, r.m.topo, r.m.bucketReader(), r.m.dataDir, shardID, s.Buckets, start, n, dir)
	}
	path := r.m.shardPath(shardID)
	b, err := r.m.pool.Acquire(path)
	if err != nil {
		return nil, err
	}
	defer r.m.pool.Release(path)
	return b.ReadRangeNBinary(ctx, start, n, dir)
}

// ApproximateSize only ever runs against plain ordered shards:
// fanout.ApproximateSizeOnShards rejects an ordered_wrapped table with
// type_not_supported before it ever dispatches to a shard, so this never
// sees a wrapped shard id.
func (r *shardReader) ApproximateSize(ctx context.Context, shardID string) (int64, error) {
	path := r.m.shardPath(shardID)
	b, err := r.m.pool.Acquire(path)
	if err != nil {
		return 0, err
	}
	defer r.m.pool.Release(path)
	return b.ApproximateSize(ctx)
}

// poolBucketReader satisfies wrapper.BucketReader by acquiring a pooled
// handle for the bucket's full path for the duration of one call.
type poolBucketReader struct {
	pool *backend.Pool
}

func (r poolBucketReader) ReadRangeBinary(ctx context.Context, path string, start, stop []byte, chunk int, dir types.Comparator) ([]types.RawKV, []byte, error) {
	b, err := r.pool.Acquire(path)
	if err != nil {
		return nil, nil, err
	}
	defer r.pool.Release(path)
	return b.ReadRangeBinary(ctx, start, stop, chunk, dir)
}

func (r poolBucketReader) ReadRangeNBinary(ctx context.Context, path string, start []byte, n int, dir types.Comparator) ([]types.RawKV, error) {
	b, err := r.pool.Acquire(path)
	if err != nil {
		return nil, err
	}
	defer r.pool.Release(path)
	return b.ReadRangeNBinary(ctx, start, n, dir)
}

func (r poolBucketReader) ApproximateSize(ctx context.Context, path string) (int64, error) {
	b, err := r.pool.Acquire(path)
	if err != nil {
		return 0, err
	}
	defer r.pool.Release(path)
	return b.ApproximateSize(ctx)
}

// poolDeleter satisfies wrapper.BackendDeleter by evicting a pooled handle
// (if any) before deleting the underlying file.
type poolDeleter struct {
	pool *backend.Pool
}

func (d poolDeleter) DeleteDB(path string) error {
	d.pool.Evict(path)
	return backend.Delete(path)
}

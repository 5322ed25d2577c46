package fanout

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/enterdb/enterdb/internal/topology"
	"github.com/enterdb/enterdb/pkg/types"
)

// fakeShardStore holds a fixed, pre-sorted sequence of items per shard and
// answers range/count reads by slicing it, so the fanout layer's merge and
// continuation logic can be tested without a real backend.
type fakeShardStore struct {
	byShard map[string][]types.RawKV
	errShard string
}

func (f *fakeShardStore) ReadRangeBinary(ctx context.Context, shardID string, start, stop []byte, chunk int, dir types.Comparator) ([]types.RawKV, []byte, error) {
	if shardID == f.errShard {
		return nil, nil, errors.New("shard exploded")
	}
	items := f.byShard[shardID]
	if len(items) <= chunk {
		return items, nil, nil
	}
	return items[:chunk], items[chunk].Key, nil
}

func (f *fakeShardStore) ReadRangeNBinary(ctx context.Context, shardID string, start []byte, n int, dir types.Comparator) ([]types.RawKV, error) {
	items := f.byShard[shardID]
	if len(items) <= n {
		return items, nil
	}
	return items[:n], nil
}

func (f *fakeShardStore) ApproximateSize(ctx context.Context, shardID string) (int64, error) {
	return int64(len(f.byShard[shardID])), nil
}

func kv(b byte) types.RawKV {
	return types.RawKV{Key: []byte{b}, Value: []byte("v")}
}

func TestReadRangeOnShardsCompleteWhenChunkCoversAll(t *testing.T) {
	store := &fakeShardStore{byShard: map[string][]types.RawKV{
		"s0": {kv(0), kv(2), kv(4)},
		"s1": {kv(1), kv(3), kv(5)},
	}}
	top := topology.New()
	merged, cont, err := ReadRangeOnShards(context.Background(), top, store, []string{"s0", "s1"}, nil, nil, 3, types.ComparatorAscending)
	if err != nil {
		t.Fatal(err)
	}
	if cont != nil {
		t.Fatalf("expected complete, got continuation %v", cont)
	}
	if len(merged) != 6 {
		t.Fatalf("expected 6 merged items, got %d", len(merged))
	}
	for i := 0; i < 6; i++ {
		if merged[i].Key[0] != byte(i) {
			t.Fatalf("expected sorted merge, got %v at %d", merged[i].Key, i)
		}
	}
}

func TestReadRangeOnShardsTruncatesAtEarliestFrontier(t *testing.T) {
	store := &fakeShardStore{byShard: map[string][]types.RawKV{
		"s0": {kv(0), kv(2), kv(4), kv(6)},
		"s1": {kv(1), kv(3)},
	}}
	top := topology.New()
	// chunk=2: s0 returns {0,2} with cont=4; s1 returns {1,3} complete (only 2 items).
	merged, cont, err := ReadRangeOnShards(context.Background(), top, store, []string{"s0", "s1"}, nil, nil, 2, types.ComparatorAscending)
	if err != nil {
		t.Fatal(err)
	}
	if cont == nil || cont[0] != 4 {
		t.Fatalf("expected continuation at key 4, got %v", cont)
	}
	// every returned key must be strictly before cont
	for _, item := range merged {
		if bytes.Compare(item.Key, cont) >= 0 {
			t.Fatalf("returned key %v not strictly before continuation %v", item.Key, cont)
		}
	}
	if len(merged) != 4 {
		t.Fatalf("expected {0,1,2,3} before cutoff, got %v", merged)
	}
}

func TestReadRangeOnShardsSurfacesFirstError(t *testing.T) {
	store := &fakeShardStore{byShard: map[string][]types.RawKV{
		"s0": {kv(0)},
		"s1": {kv(1)},
	}, errShard: "s1"}
	top := topology.New()
	_, _, err := ReadRangeOnShards(context.Background(), top, store, []string{"s0", "s1"}, nil, nil, 10, types.ComparatorAscending)
	if err == nil {
		t.Fatal("expected shard error to surface")
	}
}

func TestReadRangeNOnShardsBoundedByN(t *testing.T) {
	store := &fakeShardStore{byShard: map[string][]types.RawKV{
		"s0": {kv(0), kv(2), kv(4)},
		"s1": {kv(1), kv(3), kv(5)},
	}}
	top := topology.New()
	merged, err := ReadRangeNOnShards(context.Background(), top, store, []string{"s0", "s1"}, nil, 4, types.ComparatorAscending)
	if err != nil {
		t.Fatal(err)
	}
	if len(merged) != 4 {
		t.Fatalf("expected exactly 4 items, got %d", len(merged))
	}
	for i := 0; i < 4; i++ {
		if merged[i].Key[0] != byte(i) {
			t.Fatalf("expected sorted head, got %v", merged)
		}
	}
}

func TestReadRangeNOnShardsFewerThanNAvailable(t *testing.T) {
	store := &fakeShardStore{byShard: map[string][]types.RawKV{
		"s0": {kv(0)},
		"s1": {kv(1)},
	}}
	top := topology.New()
	merged, err := ReadRangeNOnShards(context.Background(), top, store, []string{"s0", "s1"}, nil, 10, types.ComparatorAscending)
	if err != nil {
		t.Fatal(err)
	}
	if len(merged) != 2 {
		t.Fatalf("expected min(n, available)=2, got %d", len(merged))
	}
}

func TestApproximateSizeOnShardsSums(t *testing.T) {
	store := &fakeShardStore{byShard: map[string][]types.RawKV{
		"s0": {kv(0), kv(1)},
		"s1": {kv(2), kv(3), kv(4)},
	}}
	top := topology.New()
	total, err := ApproximateSizeOnShards(context.Background(), top, store, types.TypeOrdered, []string{"s0", "s1"})
	if err != nil {
		t.Fatal(err)
	}
	if total != 5 {
		t.Fatalf("expected 5, got %d", total)
	}
}

func TestApproximateSizeUnsupportedForNonOrderedType(t *testing.T) {
	store := &fakeShardStore{byShard: map[string][]types.RawKV{}}
	top := topology.New()
	_, err := ApproximateSizeOnShards(context.Background(), top, store, types.ShardType("something_else"), []string{"s0"})
	if err == nil {
		t.Fatal("expected type_not_supported error")
	}
}

// TestApproximateSizeUnsupportedForOrderedWrapped covers §4.6's dispatch
// rule directly: approximate_size is supported only for the plain ordered
// type, not ordered_wrapped, even though a wrapped shard's backend can in
// principle report its own size.
func TestApproximateSizeUnsupportedForOrderedWrapped(t *testing.T) {
	store := &fakeShardStore{byShard: map[string][]types.RawKV{}}
	top := topology.New()
	_, err := ApproximateSizeOnShards(context.Background(), top, store, types.TypeOrderedWrapped, []string{"s0"})
	if err == nil {
		t.Fatal("expected type_not_supported for ordered_wrapped")
	}
}

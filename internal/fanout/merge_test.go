package fanout

import (
	"bytes"
	"sort"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/enterdb/enterdb/pkg/types"
)

func TestMergeSortedRawKVsAscending(t *testing.T) {
	lists := [][]types.RawKV{
		{kv(0), kv(3), kv(6)},
		{kv(1), kv(4)},
		{kv(2), kv(5)},
	}
	merged := mergeSortedRawKVs(types.ComparatorAscending, lists)
	for i := 0; i < len(merged); i++ {
		if merged[i].Key[0] != byte(i) {
			t.Fatalf("expected ascending merge, got %v", merged)
		}
	}
}

func TestMergeSortedRawKVsDescending(t *testing.T) {
	lists := [][]types.RawKV{
		{kv(6), kv(3), kv(0)},
		{kv(4), kv(1)},
	}
	merged := mergeSortedRawKVs(types.ComparatorDescending, lists)
	for i := 1; i < len(merged); i++ {
		if bytes.Compare(merged[i].Key, merged[i-1].Key) > 0 {
			t.Fatalf("expected descending merge, got %v", merged)
		}
	}
}

// TestMergeIsGaplessAndDuplicateFree is a property test for invariant 6
// (continuation safety): merging several independently-sorted per-shard
// sequences reconstructs the full range with no gaps or duplicates.
func TestMergeIsGaplessAndDuplicateFree(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("k-way merge of sorted shard sequences has no gaps or duplicates", prop.ForAll(
		func(keys []byte, nShards int) bool {
			if nShards <= 0 {
				nShards = 1
			}
			if nShards > 5 {
				nShards = 5
			}
			unique := dedupeBytes(keys)
			sort.Slice(unique, func(i, j int) bool { return unique[i] < unique[j] })

			lists := make([][]types.RawKV, nShards)
			for i, k := range unique {
				shard := i % nShards
				lists[shard] = append(lists[shard], types.RawKV{Key: []byte{k}, Value: []byte{k}})
			}

			merged := mergeSortedRawKVs(types.ComparatorAscending, lists)
			if len(merged) != len(unique) {
				return false
			}
			for i, kv := range merged {
				if kv.Key[0] != unique[i] {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.UInt8()),
		gen.IntRange(1, 5),
	))

	properties.TestingRun(t)
}

func dedupeBytes(in []byte) []byte {
	seen := make(map[byte]bool)
	var out []byte
	for _, b := range in {
		if !seen[b] {
			seen[b] = true
			out = append(out, b)
		}
	}
	return out
}

// Package fanout implements Range Fanout (C6): parallel-mapping a range or
// bounded-count request across a table's shards and merging their sorted
// results with a continuation-safe cutoff.
package fanout

import (
	"bytes"

	"github.com/enterdb/enterdb/pkg/types"
)

// heapItem is one shard's current head item during a k-way merge.
type heapItem struct {
	kv       types.RawKV
	shardIdx int
}

// rawKVHeap is a binary min/max-heap (by dir) over per-shard result slices,
// the same k-way merge structure the reference system's streaming result
// merger uses for multi-partition rows, generalized here to a single
// composite-key byte comparator with a direction flag instead of a fixed
// ORDER BY column list.
type rawKVHeap struct {
	items []heapItem
	dir   types.Comparator
}

func less(a, b []byte, dir types.Comparator) bool {
	c := bytes.Compare(a, b)
	if dir == types.ComparatorDescending {
		return c > 0
	}
	return c < 0
}

func (h *rawKVHeap) push(it heapItem) {
	h.items = append(h.items, it)
	i := len(h.items) - 1
	for i > 0 {
		parent := (i - 1) / 2
		if less(h.items[i].kv.Key, h.items[parent].kv.Key, h.dir) {
			h.items[i], h.items[parent] = h.items[parent], h.items[i]
			i = parent
		} else {
			break
		}
	}
}

func (h *rawKVHeap) pop() heapItem {
	top := h.items[0]
	last := len(h.items) - 1
	h.items[0] = h.items[last]
	h.items = h.items[:last]
	i := 0
	for {
		left, right := 2*i+1, 2*i+2
		smallest := i
		if left < len(h.items) && less(h.items[left].kv.Key, h.items[smallest].kv.Key, h.dir) {
			smallest = left
		}
		if right < len(h.items) && less(h.items[right].kv.Key, h.items[smallest].kv.Key, h.dir) {
			smallest = right
		}
		if smallest == i {
			break
		}
		h.items[i], h.items[smallest] = h.items[smallest], h.items[i]
		i = smallest
	}
	return top
}

func (h *rawKVHeap) len() int { return len(h.items) }

// mergeSortedRawKVs performs the stable k-way merge merge_sorted_kvls
// describes: shard result lists are already sorted per dir, and duplicate
// keys across shards are a caller invariant this keeps the first-encountered
// copy of rather than deduplicating deterministically.
func mergeSortedRawKVs(dir types.Comparator, lists [][]types.RawKV) []types.RawKV {
	h := &rawKVHeap{dir: dir}
	idx := make([]int, len(lists))
	for i, l := range lists {
		if len(l) > 0 {
			h.push(heapItem{kv: l[0], shardIdx: i})
		}
	}

	var out []types.RawKV
	for h.len() > 0 {
		top := h.pop()
		if len(out) == 0 || !bytes.Equal(out[len(out)-1].Key, top.kv.Key) {
			out = append(out, top.kv)
		}
		idx[top.shardIdx]++
		if idx[top.shardIdx] < len(lists[top.shardIdx]) {
			h.push(heapItem{kv: lists[top.shardIdx][idx[top.shardIdx]], shardIdx: top.shardIdx})
		}
	}
	return out
}

// minDir returns the smallest key under dir among a set of continuation
// keys, the "earliest not-yet-consumed frontier" the fanout spec picks
// cont* from.
func minDir(dir types.Comparator, keys [][]byte) []byte {
	if len(keys) == 0 {
		return nil
	}
	best := keys[0]
	for _, k := range keys[1:] {
		if less(k, best, dir) {
			best = k
		}
	}
	return best
}

// Package placement implements C3: generating shard names for a table and
// mapping them onto physical nodes via the ring, then filtering a placed
// shard set down to the shards a given node actually owns.
package placement

import (
	"fmt"

	"github.com/enterdb/enterdb/pkg/types"
)

// RingAllocator is the subset of the ring the placement layer needs.
type RingAllocator interface {
	AllocateNodes(shardIDs []string, rf int) []types.Placement
}

// ShardIDs generates the canonical shard identifiers for a table:
// <name>_shard<i> for i in [0, nShards).
func ShardIDs(name string, nShards int) []string {
	ids := make([]string, nShards)
	for i := 0; i < nShards; i++ {
		ids[i] = fmt.Sprintf("%s_shard%d", name, i)
	}
	return ids
}

// Allocate generates shard ids for a distributed table and assigns each to
// rf nodes via the ring.
func Allocate(ring RingAllocator, name string, nShards, rf int) []types.Placement {
	ids := ShardIDs(name, nShards)
	return ring.AllocateNodes(ids, rf)
}

// AllocateLocal generates shard ids for a local-only table: no ring entries,
// since a local table's shards all live on the creating node.
func AllocateLocal(name string, nShards int) []types.Placement {
	ids := ShardIDs(name, nShards)
	out := make([]types.Placement, len(ids))
	for i, id := range ids {
		out[i] = types.Placement{ShardID: id}
	}
	return out
}

// FindLocalShards filters a placed shard sequence down to those whose ring
// entry places thisNode in thisDC. Local (non-distributed) placements carry
// no ring entry and are returned unchanged, since every shard of a local
// table lives on the node that created it.
func FindLocalShards(placements []types.Placement, thisNode, thisDC string) []types.Placement {
	out := make([]types.Placement, 0, len(placements))
	for _, p := range placements {
		if len(p.Ring.DCs) == 0 {
			out = append(out, p)
			continue
		}
		for _, n := range p.Ring.NodesInDC(thisDC) {
			if n == thisNode {
				out = append(out, p)
				break
			}
		}
	}
	return out
}

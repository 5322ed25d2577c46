// Package ring provides the concrete Ring layer collaborator (§6.1): a
// sorted-hash-circle consistent hash ring keyed by murmur3, replacing the
// reference system's flat FNV-modulo shard routing with true multi-node,
// multi-DC placement while keeping the same "hash the key, pick a bucket"
// idiom.
package ring

import (
	"fmt"
	"sort"
	"sync"

	"github.com/spaolacci/murmur3"

	errs "github.com/enterdb/enterdb/internal/errors"
	"github.com/enterdb/enterdb/pkg/types"
)

// Node describes a physical node's identity for ring placement.
type Node struct {
	ID string
	DC string
}

const defaultVirtualNodes = 100

// Ring is a consistent hash ring over a fixed node set. It implements
// create_ring/get_nodes/delete_ring/exists/allocate_nodes.
type Ring struct {
	mu            sync.RWMutex
	virtualPerNode int
	nodes         []Node
	circle        []circlePoint
	tables        map[string][]types.Placement
	notifier      *Notifier
}

type circlePoint struct {
	hash uint32
	node Node
}

func New(nodes []Node, virtualPerNode int) *Ring {
	if virtualPerNode <= 0 {
		virtualPerNode = defaultVirtualNodes
	}
	r := &Ring{
		virtualPerNode: virtualPerNode,
		nodes:          nodes,
		tables:         make(map[string][]types.Placement),
		notifier:       NewNotifier(64),
	}
	r.rebuildCircle()
	return r
}

// Notifier exposes the ring's commit/revert event bus, so in-process caches
// (e.g. a placement cache) can invalidate on ring changes, per the design
// note that any such cache "must invalidate on the ring's commit/revert signal."
func (r *Ring) Notifier() *Notifier { return r.notifier }

func (r *Ring) rebuildCircle() {
	circle := make([]circlePoint, 0, len(r.nodes)*r.virtualPerNode)
	for _, n := range r.nodes {
		for v := 0; v < r.virtualPerNode; v++ {
			h := murmur3.Sum32([]byte(fmt.Sprintf("%s#%d", n.ID, v)))
			circle = append(circle, circlePoint{hash: h, node: n})
		}
	}
	sort.Slice(circle, func(i, j int) bool { return circle[i].hash < circle[j].hash })
	r.circle = circle
}

// AddNode adds a physical node to the ring and rebalances virtual nodes.
// Existing table placements are not retroactively rebalanced.
func (r *Ring) AddNode(n Node) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes = append(r.nodes, n)
	r.rebuildCircle()
}

// CreateRing registers a table's shard set on the ring, allocating each
// shard to rf distinct physical nodes walked clockwise from the shard's hash.
func (r *Ring) CreateRing(name string, shardIDs []string, rf int) ([]types.Placement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tables[name]; exists {
		return nil, errs.Conflictf(errs.CodeTableExists, "name", "ring for table %q already exists", name)
	}
	if len(r.circle) == 0 {
		return nil, errs.Transientf(errs.CodeAborted, nil, "ring has no nodes to place shards on")
	}

	placements := make([]types.Placement, len(shardIDs))
	for i, shardID := range shardIDs {
		entry := r.walkClockwise(shardID, rf)
		placements[i] = types.Placement{ShardID: shardID, Ring: entry}
	}
	r.tables[name] = placements
	r.notifier.Publish(Event{Type: EventRingCommitted, Table: name})
	return placements, nil
}

// walkClockwise starting at hash(shardID) collects up to rf distinct
// physical nodes, grouped by DC into a RingEntry.
func (r *Ring) walkClockwise(shardID string, rf int) types.RingEntry {
	start := murmur3.Sum32([]byte(shardID))
	idx := sort.Search(len(r.circle), func(i int) bool { return r.circle[i].hash >= start })

	seen := make(map[string]bool, rf)
	dcs := make(map[string][]string)
	for i := 0; i < len(r.circle) && len(seen) < rf; i++ {
		p := r.circle[(idx+i)%len(r.circle)]
		if seen[p.node.ID] {
			continue
		}
		seen[p.node.ID] = true
		dcs[p.node.DC] = append(dcs[p.node.DC], p.node.ID)
	}
	return types.RingEntry{Shard: shardID, DCs: dcs}
}

// GetNodes returns the placement for a table, or (nil, false) if undefined.
func (r *Ring) GetNodes(name string) ([]types.Placement, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.tables[name]
	return p, ok
}

// DeleteRing removes a table's ring entry. Deletion has no revert, per the
// original specification's error-handling policy.
func (r *Ring) DeleteRing(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tables, name)
	r.notifier.Publish(Event{Type: EventRingDeleted, Table: name})
}

// RevertRing rolls back a ring commit, used by the distributed create_table
// two-phase commit when a downstream node-level failure occurs.
func (r *Ring) RevertRing(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tables, name)
	r.notifier.Publish(Event{Type: EventRingReverted, Table: name})
}

// Exists reports whether a ring entry exists for the given table.
func (r *Ring) Exists(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tables[name]
	return ok
}

// AllocateNodes is a stateless convenience for placement.Allocate: given
// already-generated shard ids, compute placements without persisting them
// under a table name.
func (r *Ring) AllocateNodes(shardIDs []string, rf int) []types.Placement {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.Placement, len(shardIDs))
	for i, id := range shardIDs {
		out[i] = types.Placement{ShardID: id, Ring: r.walkClockwise(id, rf)}
	}
	return out
}

package types

// RingEntry maps a shard's placement: a data-center id to the ordered sequence
// of nodes in that DC holding a replica, per the ring layer's allocate_nodes contract.
type RingEntry struct {
	Shard string
	DCs   map[string][]string
}

// NodesInDC reports the nodes a ring entry places in a given DC.
func (e RingEntry) NodesInDC(dc string) []string {
	return e.DCs[dc]
}

// HasNode reports whether the given node appears in any DC of this ring entry.
func (e RingEntry) HasNode(node string) bool {
	for _, nodes := range e.DCs {
		for _, n := range nodes {
			if n == node {
				return true
			}
		}
	}
	return false
}

// Placement is a shard id together with its ring placement. For local-only
// tables only ShardID is meaningful; Ring is the zero value.
type Placement struct {
	ShardID string
	Ring    RingEntry
}

// Table is the immutable-after-creation table descriptor (T).
type Table struct {
	Name        string
	Key         []string
	Columns     []string
	Indexes     []string
	Type        ShardType
	DataModel   DataModel
	Comparator  Comparator
	Wrapper     *WrapperOptions
	TimeSeries  bool
	Shards      []Placement
	Distributed bool
	ReplicationFactor int
}

// KeyDef/ColumnsDef give the codec the field-order definitions it needs,
// independent of the rest of the descriptor.
func (t *Table) KeyDef() []string     { return t.Key }
func (t *Table) ColumnsDef() []string { return t.Columns }

// ShardIDs returns the flat list of shard identifiers, regardless of whether
// the table is distributed (Placement carries ring info) or local-only.
func (t *Table) ShardIDs() []string {
	ids := make([]string, len(t.Shards))
	for i, p := range t.Shards {
		ids[i] = p.ShardID
	}
	return ids
}

// Shard is the per-shard descriptor (S). Only Buckets is mutable after creation.
type Shard struct {
	ShardID    string
	Name       string // owning table
	Type       ShardType
	Key        []string
	Columns    []string
	Indexes    []string
	Comparator Comparator
	DataModel  DataModel
	Wrapper    *WrapperOptions
	Buckets    []string // ordered bucket ids, present only for wrapped shards
}

// ShardFromTable builds the shard descriptor a newly placed shard should be
// persisted with, before any wrapper-specific bucket list is computed.
func ShardFromTable(t *Table, shardID string) *Shard {
	return &Shard{
		ShardID:    shardID,
		Name:       t.Name,
		Type:       t.Type,
		Key:        t.Key,
		Columns:    t.Columns,
		Indexes:    t.Indexes,
		Comparator: t.Comparator,
		DataModel:  t.DataModel,
		Wrapper:    t.Wrapper,
	}
}

// KV is a single decoded key/value pair as returned to callers of read_range
// and read_range_n, after the codec has decoded the raw backend bytes.
type KV struct {
	Key    map[string]any
	Fields map[string]any
}

// RawKV is a key/value pair still in backend-bytes form, as produced by the
// ordered backend and consumed by the merge layer.
type RawKV struct {
	Key   []byte
	Value []byte
}

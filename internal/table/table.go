// Package table wires C1-C6 into the operations a node actually serves:
// create_table, open_table, close_table, delete_table, put, read_range,
// read_range_n and approximate_size, matching the reference system's App
// struct role of owning every shared collaborator and exposing one call per
// external operation rather than making callers assemble the pipeline
// themselves.
package table

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/spaolacci/murmur3"

	"github.com/enterdb/enterdb/internal/backend"
	"github.com/enterdb/enterdb/internal/cache"
	"github.com/enterdb/enterdb/internal/catalog"
	"github.com/enterdb/enterdb/internal/codec"
	errs "github.com/enterdb/enterdb/internal/errors"
	"github.com/enterdb/enterdb/internal/fanout"
	"github.com/enterdb/enterdb/internal/placement"
	"github.com/enterdb/enterdb/internal/ring"
	"github.com/enterdb/enterdb/internal/topology"
	"github.com/enterdb/enterdb/internal/validator"
	"github.com/enterdb/enterdb/internal/wrapper"
	"github.com/enterdb/enterdb/pkg/types"
)

// Archiver is what Manager needs to snapshot a bucket before it deletes it,
// satisfied by *archive.Archiver; nil means archiving is disabled.
type Archiver interface {
	ArchiveBucket(ctx context.Context, shardID, bucketID, backendPath string) error
}

// OperationTracker lets Manager register an in-flight call with the node's
// shutdown drain, satisfied by *app.ShutdownManager. Nil disables tracking,
// which every test that builds a Manager directly relies on.
type OperationTracker interface {
	TrackOperation() bool
	UntrackOperation()
}

// Manager owns every collaborator a single node needs to serve table
// operations and dispatches each one to the right combination of C1-C6.
type Manager struct {
	nodeID    string
	dc        string
	dataDir   string
	defaultRF int

	validator   *validator.Validator
	catalog     *catalog.Catalog
	ring        *ring.Ring
	topo        *topology.Topology
	pool        *backend.Pool
	archiver    Archiver
	idempotency *topology.IdempotencyLog
	sizeCache   *cache.LRU
	rotator     *wrapper.Rotator
	tracker     OperationTracker
}

// sizeCacheBytes bounds the approximate_size cache; entries are 8 bytes each
// so this comfortably holds size estimates for every table on a node.
const sizeCacheBytes = 1 << 20

// Config bundles Manager's constructor arguments.
type Config struct {
	NodeID           string
	DataCenter       string
	DataDir          string
	DefaultShards    int
	DefaultRF        int
	Catalog          *catalog.Catalog
	Ring             *ring.Ring
	Pool             *backend.Pool
	Archiver         Archiver
	RotationInterval time.Duration
	Tracker          OperationTracker
}

func NewManager(cfg Config) *Manager {
	rf := cfg.DefaultRF
	if rf <= 0 {
		rf = 1
	}
	m := &Manager{
		nodeID:      cfg.NodeID,
		dc:          cfg.DataCenter,
		dataDir:     cfg.DataDir,
		defaultRF:   rf,
		validator:   validator.New(cfg.Catalog, cfg.DefaultShards),
		catalog:     cfg.Catalog,
		ring:        cfg.Ring,
		topo:        topology.New(),
		pool:        cfg.Pool,
		archiver:    cfg.Archiver,
		idempotency: topology.NewIdempotencyLog(),
		sizeCache:   cache.NewLRU(sizeCacheBytes),
		tracker:     cfg.Tracker,
	}
	m.rotator = wrapper.NewRotator(m.catalog, m.catalog, m.bucketReader(), m.opener(), poolDeleter{pool: m.pool}, m.archiveBucket, m.dataDir, cfg.RotationInterval)
	return m
}

// track registers a call with the shutdown drain, if a tracker is
// configured; the returned bool matches OperationTracker.TrackOperation's
// "still safe to proceed" contract. untrack must be deferred immediately
// after a true result.
func (m *Manager) track() bool {
	if m.tracker == nil {
		return true
	}
	return m.tracker.TrackOperation()
}

func (m *Manager) untrack() {
	if m.tracker != nil {
		m.tracker.UntrackOperation()
	}
}

// StartBucketRotation runs the periodic bucket-rotation sweep (checking
// every wrapped shard's live buckets against their wrapper margins and
// rotating out whichever have exceeded them) until StopBucketRotation is
// called.
func (m *Manager) StartBucketRotation(ctx context.Context) {
	m.rotator.Start(ctx)
}

// StopBucketRotation signals the rotation sweep to exit and waits for it.
func (m *Manager) StopBucketRotation() {
	m.rotator.Stop()
}

func (m *Manager) shardPath(shardID string) string {
	return fmt.Sprintf("%s/%s/shard.db", m.dataDir, shardID)
}

// opener adapts backend.Open to wrapper.BackendOpener for bucket creation,
// which always calls with errorIfExists true and needs no pooling since it
// runs once per bucket at create_table time.
func (m *Manager) opener() wrapper.BackendOpener {
	return wrapper.OpenerFunc(func(path string, createIfMissing, errorIfExists bool) error {
		b, err := backend.Open(path, createIfMissing, errorIfExists)
		if err != nil {
			return err
		}
		return b.Close()
	})
}

func (m *Manager) bucketReader() wrapper.BucketReader {
	return poolBucketReader{pool: m.pool}
}

// CreateTable implements create_table, minting a fresh idempotency token for
// the underlying commit. Most callers want this; CreateTableIdempotent is
// for a caller (e.g. a retried RPC) that already holds a token from a prior
// attempt.
func (m *Manager) CreateTable(ctx context.Context, args validator.Args) (*types.Table, error) {
	return m.CreateTableIdempotent(ctx, args, topology.NewToken())
}

// CreateTableIdempotent implements create_table: verify args, place shards
// on the ring (distributed) or locally, create every locally-owned shard's
// backend(s), then commit the table and shard rows to the catalog. A ring
// commit is reverted if any local shard fails to create, and the catalog
// write is the last step so a reader observing the table row always finds a
// fully initialized set of local shards behind it.
//
// token makes retrying a create_table call whose response was lost (the
// ring committed and the catalog write may or may not have landed) safe: a
// second call with the same token that finds it already applied returns the
// existing table instead of racing a duplicate-name conflict against its
// own earlier attempt.
func (m *Manager) CreateTableIdempotent(ctx context.Context, args validator.Args, token string) (*types.Table, error) {
	if m.idempotency.Applied(token) {
		return m.catalog.GetTable(args.Name)
	}

	t, numShards, err := m.validator.Verify(args)
	if err != nil {
		return nil, err
	}

	rf := t.ReplicationFactor
	if rf <= 0 {
		rf = m.defaultRF
	}

	shardIDs := placement.ShardIDs(t.Name, numShards)
	var placements []types.Placement
	if t.Distributed {
		placements, err = m.ring.CreateRing(t.Name, shardIDs, rf)
		if err != nil {
			return nil, err
		}
	} else {
		placements = placement.AllocateLocal(t.Name, numShards)
	}
	t.Shards = placements

	local := placement.FindLocalShards(placements, m.nodeID, m.dc)
	shards := make([]*types.Shard, len(local))
	for i, p := range local {
		shards[i] = types.ShardFromTable(t, p.ShardID)
	}

	for _, s := range shards {
		if err := m.createLocalShard(s); err != nil {
			if t.Distributed {
				m.ring.RevertRing(t.Name)
			}
			m.idempotency.Forget(token)
			return nil, err
		}
	}

	if err := m.catalog.CreateTable(ctx, t, shards); err != nil {
		m.idempotency.Forget(token)
		return nil, err
	}
	m.idempotency.MarkApplied(token)
	return t, nil
}

func (m *Manager) createLocalShard(s *types.Shard) error {
	if s.Type.Canonical() == types.TypeOrderedWrapped {
		buckets, err := wrapper.CreateBucketList(s.Wrapper)
		if err != nil {
			return err
		}
		if err := wrapper.InitBuckets(m.opener(), m.dataDir, s.ShardID, buckets); err != nil {
			return err
		}
		s.Buckets = buckets
		return nil
	}
	b, err := backend.Open(m.shardPath(s.ShardID), true, true)
	if err != nil {
		return err
	}
	return b.Close()
}

// OpenTable implements open_table: look the table up in the catalog and
// warm the pool with a handle for every bucket/shard this node owns.
func (m *Manager) OpenTable(name string) (*types.Table, error) {
	t, err := m.catalog.GetTable(name)
	if err != nil {
		return nil, err
	}
	local := placement.FindLocalShards(t.Shards, m.nodeID, m.dc)
	for _, p := range local {
		s, err := m.catalog.GetShard(p.ShardID)
		if err != nil {
			return nil, err
		}
		if err := m.openLocalShard(s); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (m *Manager) openLocalShard(s *types.Shard) error {
	if s.Type.Canonical() == types.TypeOrderedWrapped {
		for _, bucketID := range s.Buckets {
			if _, err := m.pool.Acquire(wrapper.BucketPath(m.dataDir, s.ShardID, bucketID)); err != nil {
				return err
			}
		}
		return nil
	}
	_, err := m.pool.Acquire(m.shardPath(s.ShardID))
	return err
}

// CloseTable implements close_table: release this node's pooled handles for
// every local shard/bucket, without touching the catalog or ring.
func (m *Manager) CloseTable(name string) error {
	t, err := m.catalog.GetTable(name)
	if err != nil {
		return err
	}
	local := placement.FindLocalShards(t.Shards, m.nodeID, m.dc)
	for _, p := range local {
		s, err := m.catalog.GetShard(p.ShardID)
		if err != nil {
			return err
		}
		m.closeLocalShard(s)
	}
	return nil
}

func (m *Manager) closeLocalShard(s *types.Shard) {
	if s.Type.Canonical() == types.TypeOrderedWrapped {
		for _, bucketID := range s.Buckets {
			m.pool.Release(wrapper.BucketPath(m.dataDir, s.ShardID, bucketID))
		}
		return
	}
	m.pool.Release(m.shardPath(s.ShardID))
}

// DeleteTable implements delete_table: delete every local shard's on-disk
// data (archiving wrapped buckets first), drop its catalog rows, then drop
// the table row and the ring entry.
func (m *Manager) DeleteTable(ctx context.Context, name string) error {
	t, err := m.catalog.GetTable(name)
	if err != nil {
		return err
	}
	local := placement.FindLocalShards(t.Shards, m.nodeID, m.dc)
	for _, p := range local {
		s, err := m.catalog.GetShard(p.ShardID)
		if err != nil {
			return err
		}
		if err := m.deleteLocalShard(ctx, s); err != nil {
			return err
		}
		if err := m.catalog.DeleteShard(ctx, s.ShardID); err != nil {
			return err
		}
	}
	if err := m.catalog.DeleteTable(ctx, name); err != nil {
		return err
	}
	if t.Distributed {
		m.ring.DeleteRing(name)
	}
	m.sizeCache.Evict(name)
	return nil
}

func (m *Manager) deleteLocalShard(ctx context.Context, s *types.Shard) error {
	if s.Type.Canonical() == types.TypeOrderedWrapped {
		return wrapper.DeleteShard(ctx, poolDeleter{pool: m.pool}, m.dataDir, s.ShardID, s.Buckets, m.archiveBucket)
	}
	path := m.shardPath(s.ShardID)
	m.pool.Evict(path)
	return backend.Delete(path)
}

func (m *Manager) archiveBucket(ctx context.Context, shardID, bucketID, path string) error {
	if m.archiver == nil {
		return nil
	}
	return m.archiver.ArchiveBucket(ctx, shardID, bucketID, path)
}

// Put encodes key and value fields per the table's key/data-model
// configuration and writes them to the shard the key hashes to. Routing has
// no persisted assignment the way shard placement does: any node computing
// the same hash over the same shard set reaches the same shard.
func (m *Manager) Put(ctx context.Context, name string, keyFields, valueFields map[string]any) error {
	if !m.track() {
		return errs.Transientf(errs.CodeAborted, nil, "node %q is shutting down", m.nodeID)
	}
	defer m.untrack()

	t, err := m.catalog.GetTable(name)
	if err != nil {
		return err
	}
	key, err := codec.EncodeKey(t.KeyDef(), keyFields)
	if err != nil {
		return err
	}
	// A time_series table hashes on the key with its timestamp component
	// left out, so routing stays stable across time while the stored key
	// still sorts by time within whatever shard/bucket it lands on.
	routingKey, err := codec.RoutingKey(t.KeyDef(), keyFields, t.TimeSeries)
	if err != nil {
		return err
	}
	value, err := codec.EncodeValue(t.DataModel, t.ColumnsDef(), valueFields)
	if err != nil {
		return err
	}

	shardIDs := t.ShardIDs()
	if len(shardIDs) == 0 {
		return errs.NotFoundf(errs.CodeNoTable, "name", "table %q has no shards", name)
	}
	shardID := shardIDs[murmur3.Sum32(routingKey)%uint32(len(shardIDs))]

	s, err := m.catalog.GetShard(shardID)
	if err != nil {
		return err
	}
	if err := m.putLocalShard(ctx, s, key, value, routingKey); err != nil {
		return err
	}
	m.sizeCache.Evict(name)
	return nil
}

func (m *Manager) putLocalShard(ctx context.Context, s *types.Shard, key, value, routingKey []byte) error {
	if s.Type.Canonical() == types.TypeOrderedWrapped {
		if len(s.Buckets) == 0 {
			return errs.Transientf(errs.CodeAborted, nil, "shard %q has no buckets", s.ShardID)
		}
		bucketID := s.Buckets[murmur3.Sum32(routingKey)%uint32(len(s.Buckets))]
		path := wrapper.BucketPath(m.dataDir, s.ShardID, bucketID)
		b, err := m.pool.Acquire(path)
		if err != nil {
			return err
		}
		defer m.pool.Release(path)
		return b.Put(ctx, key, value)
	}
	path := m.shardPath(s.ShardID)
	b, err := m.pool.Acquire(path)
	if err != nil {
		return err
	}
	defer m.pool.Release(path)
	return b.Put(ctx, key, value)
}

// ReadRange implements read_range: encode the caller's start/stop key
// fields, fan the read out across every shard (C6), and decode the merged
// result plus continuation key.
func (m *Manager) ReadRange(ctx context.Context, name string, startFields, stopFields map[string]any, chunk int) ([]types.KV, map[string]any, error) {
	if !m.track() {
		return nil, nil, errs.Transientf(errs.CodeAborted, nil, "node %q is shutting down", m.nodeID)
	}
	defer m.untrack()

	t, err := m.catalog.GetTable(name)
	if err != nil {
		return nil, nil, err
	}

	start, stop, err := m.encodeBounds(t, startFields, stopFields)
	if err != nil {
		return nil, nil, err
	}

	rawKVs, cont, err := fanout.ReadRangeOnShards(ctx, m.topo, &shardReader{m: m}, t.ShardIDs(), start, stop, chunk, t.Comparator)
	if err != nil {
		return nil, nil, err
	}

	out, err := m.decodeAll(t, rawKVs)
	if err != nil {
		return nil, nil, err
	}

	var contFields map[string]any
	if cont != nil {
		contFields, err = codec.DecodeKey(t.KeyDef(), cont)
		if err != nil {
			return nil, nil, err
		}
	}
	return out, contFields, nil
}

// ReadRangeN implements read_range_n: like ReadRange but bounded by a
// result count instead of an end key.
func (m *Manager) ReadRangeN(ctx context.Context, name string, startFields map[string]any, n int) ([]types.KV, error) {
	if !m.track() {
		return nil, errs.Transientf(errs.CodeAborted, nil, "node %q is shutting down", m.nodeID)
	}
	defer m.untrack()

	t, err := m.catalog.GetTable(name)
	if err != nil {
		return nil, err
	}

	var start []byte
	if startFields != nil {
		start, err = codec.EncodeKey(t.KeyDef(), startFields)
		if err != nil {
			return nil, err
		}
	}

	rawKVs, err := fanout.ReadRangeNOnShards(ctx, m.topo, &shardReader{m: m}, t.ShardIDs(), start, n, t.Comparator)
	if err != nil {
		return nil, err
	}
	return m.decodeAll(t, rawKVs)
}

// ApproximateSize implements approximate_size: sum every shard's backend
// size estimate, C6's non-range fanout. The result is cached under the
// table name until the next Put or DeleteTable against that table, since
// fanning out to every shard on each call would make a cheap estimate as
// costly as a real scan.
func (m *Manager) ApproximateSize(ctx context.Context, name string) (int64, error) {
	if !m.track() {
		return 0, errs.Transientf(errs.CodeAborted, nil, "node %q is shutting down", m.nodeID)
	}
	defer m.untrack()

	if cached, ok := m.sizeCache.Get(name); ok {
		return int64(binary.BigEndian.Uint64(cached)), nil
	}

	t, err := m.catalog.GetTable(name)
	if err != nil {
		return 0, err
	}
	size, err := fanout.ApproximateSizeOnShards(ctx, m.topo, &shardReader{m: m}, t.Type, t.ShardIDs())
	if err != nil {
		return 0, err
	}

	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(size))
	m.sizeCache.Put(name, buf)
	return size, nil
}

func (m *Manager) encodeBounds(t *types.Table, startFields, stopFields map[string]any) (start, stop []byte, err error) {
	if startFields != nil {
		start, err = codec.EncodeKey(t.KeyDef(), startFields)
		if err != nil {
			return nil, nil, err
		}
	}
	if stopFields != nil {
		stop, err = codec.EncodeKey(t.KeyDef(), stopFields)
		if err != nil {
			return nil, nil, err
		}
	}
	return start, stop, nil
}

func (m *Manager) decodeAll(t *types.Table, rawKVs []types.RawKV) ([]types.KV, error) {
	out := make([]types.KV, len(rawKVs))
	for i, raw := range rawKVs {
		key, err := codec.DecodeKey(t.KeyDef(), raw.Key)
		if err != nil {
			return nil, err
		}
		fields, err := codec.DecodeValue(t.DataModel, t.ColumnsDef(), raw.Value)
		if err != nil {
			return nil, err
		}
		out[i] = types.KV{Key: key, Fields: fields}
	}
	return out, nil
}

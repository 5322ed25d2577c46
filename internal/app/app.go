// Package app wires the enterdb node's shared collaborators together and
// owns their lifecycle: open on New, run background workers on Start, close
// everything in dependency order on Stop.
package app

import (
	"context"
	"fmt"
	"log"

	"github.com/enterdb/enterdb/internal/archive"
	"github.com/enterdb/enterdb/internal/backend"
	"github.com/enterdb/enterdb/internal/catalog"
	"github.com/enterdb/enterdb/internal/config"
	"github.com/enterdb/enterdb/internal/ring"
	"github.com/enterdb/enterdb/internal/storage"
	"github.com/enterdb/enterdb/internal/table"
)

// App owns every shared resource a node needs to serve table operations:
// the catalog, the placement ring, the pooled backend handles, the table
// orchestrator, and (optionally) the background catalog/bucket archiver.
type App struct {
	cfg *config.Config

	catalog  *catalog.Catalog
	ring     *ring.Ring
	pool     *backend.Pool
	archiver *archive.Archiver
	tables   *table.Manager

	shutdown *ShutdownManager
}

// New opens every resource a node needs and returns a ready-to-use App. It
// does not start any background workers; call Start for that.
func New(cfg *config.Config) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, err
	}

	cat, err := catalog.Open(cfg.Catalog.Path)
	if err != nil {
		return nil, fmt.Errorf("opening catalog: %w", err)
	}

	r := ring.New([]ring.Node{{ID: cfg.NodeID, DC: cfg.DataCenter}}, cfg.Ring.VirtualNodesPerNode)
	pool := backend.NewPool(backend.DefaultPoolConfig())

	shutdownMgr := NewShutdownManager(DefaultShutdownConfig())

	var archiver *archive.Archiver
	if cfg.Archiver.Enabled {
		store, err := newArchiveStore(cfg)
		if err != nil {
			cat.Close()
			pool.Close()
			return nil, fmt.Errorf("initializing archiver storage: %w", err)
		}
		archiver = archive.New(store, cat, cfg.Archiver.S3Prefix, cfg.Archiver.Interval)
	}

	tableCfg := table.Config{
		NodeID:           cfg.NodeID,
		DataCenter:       cfg.DataCenter,
		DataDir:          cfg.DataDir,
		DefaultShards:    cfg.NumLocalShards,
		DefaultRF:        cfg.Ring.DefaultReplicationFactor,
		Catalog:          cat,
		Ring:             r,
		Pool:             pool,
		RotationInterval: cfg.Wrapper.RotationInterval,
		Tracker:          shutdownMgr,
	}
	// Assigned only when non-nil: a nil *archive.Archiver stored in the
	// table.Archiver interface field would be a non-nil interface value
	// wrapping a nil pointer, which table.Manager's nil check would miss.
	if archiver != nil {
		tableCfg.Archiver = archiver
	}
	tables := table.NewManager(tableCfg)

	shutdownMgr.RegisterCloser(cat)
	shutdownMgr.RegisterCloser(pool)
	if archiver != nil {
		shutdownMgr.RegisterCloser(CloserFunc(func() error {
			archiver.Stop()
			return nil
		}))
	}
	shutdownMgr.RegisterCloser(CloserFunc(func() error {
		tables.StopBucketRotation()
		return nil
	}))

	return &App{
		cfg:      cfg,
		catalog:  cat,
		ring:     r,
		pool:     pool,
		archiver: archiver,
		tables:   tables,
		shutdown: shutdownMgr,
	}, nil
}

// newArchiveStore picks the archiver's object storage backend per
// cfg.Archiver.Backend: "s3" (the default) for a real bucket, or "local"
// for a plain-filesystem store on nodes with no S3 bucket to archive to —
// a single-node deployment or a development box.
func newArchiveStore(cfg *config.Config) (storage.ObjectStorage, error) {
	if cfg.Archiver.Backend == "local" {
		return storage.NewLocalStorage(cfg.Archiver.LocalPath)
	}
	return storage.NewS3Storage(context.Background(), cfg.Archiver.S3Bucket, storage.S3Config{
		Region: cfg.Archiver.Region,
	})
}

// Tables exposes the table.Manager other components (a CLI, an embedding
// process) call into to serve create_table/read_range/put and friends.
func (a *App) Tables() *table.Manager { return a.tables }

// Start runs every background worker: the archiver, if enabled, and the
// bucket-rotation sweep, which always runs since it is a no-op tick for a
// node with no wrapped shards.
func (a *App) Start(ctx context.Context) error {
	if a.archiver != nil {
		log.Printf("starting catalog/bucket archiver, interval=%s", a.cfg.Archiver.Interval)
		a.archiver.Start(ctx)
	}
	log.Printf("starting bucket rotation sweep, interval=%s", a.cfg.Wrapper.RotationInterval)
	a.tables.StartBucketRotation(ctx)
	log.Printf("enterdb node %q ready, data_dir=%s", a.cfg.NodeID, a.cfg.DataDir)
	return nil
}

// Stop initiates a graceful shutdown: drain in-flight table operations, stop
// the archiver, then close the pool and catalog.
func (a *App) Stop(ctx context.Context) error {
	log.Printf("shutting down enterdb node %q", a.cfg.NodeID)
	return a.shutdown.Shutdown(ctx, "stop requested")
}

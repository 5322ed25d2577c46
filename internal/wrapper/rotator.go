package wrapper

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/enterdb/enterdb/pkg/types"
)

// ShardLister supplies the wrapped shards a Rotator sweeps each tick,
// satisfied by *catalog.Catalog's WrappedShards.
type ShardLister interface {
	WrappedShards() ([]*types.Shard, error)
}

// BucketListUpdater persists a shard's rotated bucket list, satisfied by
// *catalog.Catalog's UpdateBucketList.
type BucketListUpdater interface {
	UpdateBucketList(ctx context.Context, shardID string, buckets []string) error
}

// Rotator periodically checks every wrapped shard's live buckets against
// its wrapper margins and rotates out whichever ones have exceeded them,
// the same ticker-driven background-worker shape archive.Archiver uses for
// its catalog-export loop.
type Rotator struct {
	shards  ShardLister
	catalog BucketListUpdater
	reader  BucketReader
	opener  BackendOpener
	deleter BackendDeleter
	archive ArchiveFunc
	finder  *CandidateFinder

	dataDir  string
	interval time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewRotator builds a Rotator. archive may be nil, matching DeleteShard's
// own "no archiving configured" convention.
func NewRotator(shards ShardLister, catalog BucketListUpdater, reader BucketReader, opener BackendOpener, deleter BackendDeleter, archive ArchiveFunc, dataDir string, interval time.Duration) *Rotator {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Rotator{
		shards:   shards,
		catalog:  catalog,
		reader:   reader,
		opener:   opener,
		deleter:  deleter,
		archive:  archive,
		finder:   NewCandidateFinder(),
		dataDir:  dataDir,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start runs the periodic rotation sweep until Stop is called.
func (r *Rotator) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stopCh:
				return
			case <-ticker.C:
				r.Sweep(ctx)
			}
		}
	}()
}

// Stop signals the background loop to exit and waits for it.
func (r *Rotator) Stop() {
	close(r.stopCh)
	r.wg.Wait()
}

// Sweep runs one rotation pass over every wrapped shard on this node,
// exported so a caller can trigger a pass outside the ticker (tests, an
// admin command) without waiting for the interval to elapse.
func (r *Rotator) Sweep(ctx context.Context) {
	shards, err := r.shards.WrappedShards()
	if err != nil {
		log.Printf("bucket rotation: listing wrapped shards: %v", err)
		return
	}
	for _, s := range shards {
		if err := r.rotateShard(ctx, s); err != nil {
			log.Printf("bucket rotation: shard %q: %v", s.ShardID, err)
		}
	}
}

func (r *Rotator) rotateShard(ctx context.Context, s *types.Shard) error {
	stats := make([]BucketStats, 0, len(s.Buckets))
	for _, bucketID := range s.Buckets {
		path := BucketPath(r.dataDir, s.ShardID, bucketID)
		size, err := r.reader.ApproximateSize(ctx, path)
		if err != nil {
			return err
		}
		createdAt, _ := ParseBucketCreatedAt(bucketID)
		stats = append(stats, BucketStats{BucketID: bucketID, SizeBytes: size, CreatedAt: createdAt})
	}

	candidates := r.finder.FindCandidates(ctx, s.Wrapper, stats)
	if len(candidates) == 0 {
		return nil
	}

	rotated, err := RotateBucketList(s.Buckets, candidates, s.Wrapper)
	if err != nil {
		return err
	}
	if err := InitBuckets(r.opener, r.dataDir, s.ShardID, bucketsAddedBy(s.Buckets, rotated)); err != nil {
		return err
	}
	if err := r.catalog.UpdateBucketList(ctx, s.ShardID, rotated); err != nil {
		return err
	}
	return DeleteShard(ctx, r.deleter, r.dataDir, s.ShardID, bucketsAddedBy(rotated, s.Buckets), r.archive)
}

// bucketsAddedBy returns the ids present in after but not in before.
func bucketsAddedBy(before, after []string) []string {
	prev := make(map[string]bool, len(before))
	for _, id := range before {
		prev[id] = true
	}
	var out []string
	for _, id := range after {
		if !prev[id] {
			out = append(out, id)
		}
	}
	return out
}

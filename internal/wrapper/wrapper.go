// Package wrapper implements the wrapped-shard external collaborator
// (§6.4): minting and rotating the time/size-bounded buckets a wrapped
// shard rotates its backend through.
package wrapper

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	errs "github.com/enterdb/enterdb/internal/errors"
	"github.com/enterdb/enterdb/pkg/types"
)

// BackendOpener opens a backend store for a bucket path, matching
// backend.Open's create/open semantics.
type BackendOpener interface {
	Open(path string, createIfMissing, errorIfExists bool) error
}

// CreateBucketList mints num_of_buckets fresh bucket ids for a shard.
// Bucket ids are a short routing-hint prefix followed by a UUIDv4 string
// (see mintBucketIDs), as the reference system mints partition ids with a
// random suffix rather than a sequential counter.
func CreateBucketList(wrapperOpts *types.WrapperOptions) ([]string, error) {
	if wrapperOpts == nil {
		return nil, errs.InvalidArgumentf(errs.CodeInvalidOption, "wrapper", "wrapped shard requires wrapper options")
	}
	if wrapperOpts.NumOfBuckets < 3 {
		return nil, errs.InvalidArgumentf(errs.CodeInvalidOption, "wrapper.num_of_buckets", "num_of_buckets must be >= 3")
	}
	return mintBucketIDs(wrapperOpts, wrapperOpts.NumOfBuckets), nil
}

// mintBucketIDs generates n fresh bucket ids, prefixed with a human-readable
// routing hint borrowed from the reference system's time/tenant/hash
// partition-key routing strategies (§14.1): a time-margin wrapper prefixes
// with the UTC mint date (YYYYMMDD-) so the on-disk bucket listing sorts and
// reads like a partition-by-day layout, while a size-margin-only wrapper prefixes
// sequentially. The hint is cosmetic — identity is the UUID suffix.
func mintBucketIDs(wrapperOpts *types.WrapperOptions, n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = bucketNamePrefix(wrapperOpts, i) + uuid.New().String()
	}
	return ids
}

func bucketNamePrefix(wrapperOpts *types.WrapperOptions, index int) string {
	if wrapperOpts.TimeMargin != nil {
		return time.Now().UTC().Format("20060102") + "-"
	}
	return fmt.Sprintf("seq%03d-", index)
}

// ParseBucketCreatedAt recovers a bucket's mint time from the date prefix
// mintBucketIDs stamps on time-margin wrappers' bucket ids. Buckets minted
// under a size-only wrapper carry a sequential prefix instead, so ok is
// false for those and for anything else that fails to parse; the rotation
// sweep only consults CreatedAt for wrappers that have a time_margin, which
// are exactly the ones that get a date prefix.
func ParseBucketCreatedAt(bucketID string) (time.Time, bool) {
	const layout = "20060102"
	if len(bucketID) <= len(layout) || bucketID[len(layout)] != '-' {
		return time.Time{}, false
	}
	t, err := time.Parse(layout, bucketID[:len(layout)])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// BucketPath computes the on-disk path for a shard's bucket, given a data
// directory root.
func BucketPath(dataDir, shardID, bucketID string) string {
	return fmt.Sprintf("%s/%s/%s.db", dataDir, shardID, bucketID)
}

// OpenerFunc adapts a plain function to BackendOpener.
type OpenerFunc func(path string, createIfMissing, errorIfExists bool) error

func (f OpenerFunc) Open(path string, createIfMissing, errorIfExists bool) error {
	return f(path, createIfMissing, errorIfExists)
}

// InitBuckets opens one backend instance per bucket id, create_if_missing.
func InitBuckets(opener BackendOpener, dataDir, shardID string, buckets []string) error {
	for _, bucketID := range buckets {
		path := BucketPath(dataDir, shardID, bucketID)
		if err := opener.Open(path, true, true); err != nil {
			return errs.Downstreamf(errs.CodeWrapperError, err, "initializing bucket %q for shard %q", bucketID, shardID)
		}
	}
	return nil
}

// CloseShard is a no-op placeholder for backend handles closed by the
// caller's pool; kept as a distinct call site so shard-lifecycle dispatch
// never has to special-case wrapped vs. non-wrapped close paths.
func CloseShard(ctx context.Context, shardID string) error {
	return nil
}

// BackendDeleter deletes the backend store at path, matching backend.Delete's
// no-open-handle-required semantics.
type BackendDeleter interface {
	DeleteDB(path string) error
}

// ArchiveFunc snapshots a bucket's backend file before it is deleted.
type ArchiveFunc func(ctx context.Context, shardID, bucketID, path string) error

// DeleteShard removes every bucket backend of a wrapped shard, archiving
// each one first if archive is non-nil, matching the reference system's
// "snapshot before you retire it" ordering for compacted partitions.
func DeleteShard(ctx context.Context, deleter BackendDeleter, dataDir, shardID string, buckets []string, archive ArchiveFunc) error {
	for _, bucketID := range buckets {
		path := BucketPath(dataDir, shardID, bucketID)
		if archive != nil {
			if err := archive(ctx, shardID, bucketID, path); err != nil {
				return errs.Downstreamf(errs.CodeWrapperError, err, "archiving bucket %q before deletion", bucketID)
			}
		}
		if err := deleter.DeleteDB(path); err != nil {
			return errs.Downstreamf(errs.CodeWrapperError, err, "deleting bucket %q", bucketID)
		}
	}
	return nil
}

package wrapper

import (
	"context"
	"time"

	"github.com/enterdb/enterdb/pkg/types"
)

// BucketStats is the size/age snapshot the rotation checker needs per
// bucket, supplied by the caller from the backend's ApproximateSize and the
// bucket's creation time.
type BucketStats struct {
	BucketID    string
	SizeBytes   int64
	CreatedAt   time.Time
}

// RotationReason describes why a bucket was flagged, mirroring the
// reference system's compaction-candidate reasons generalized from
// "partitions eligible for compaction" to "buckets eligible for rotation."
type RotationReason string

const (
	ReasonSizeMarginExceeded RotationReason = "size_margin_exceeded"
	ReasonTimeMarginExceeded RotationReason = "time_margin_exceeded"
)

// RotationCandidate is a bucket that should be retired and replaced.
type RotationCandidate struct {
	BucketID string
	Reason   RotationReason
}

// CandidateFinder periodically checks a wrapped shard's live buckets
// against its wrapper margins rather than checking on every write, the same
// "periodic threshold check" pattern the reference system's compaction
// daemon uses for partition-size candidates.
type CandidateFinder struct {
	now func() time.Time
}

func NewCandidateFinder() *CandidateFinder {
	return &CandidateFinder{now: time.Now}
}

// FindCandidates returns every bucket that has exceeded its wrapper's
// time_margin or size_margin.
func (f *CandidateFinder) FindCandidates(ctx context.Context, wrapperOpts *types.WrapperOptions, buckets []BucketStats) []RotationCandidate {
	if wrapperOpts == nil {
		return nil
	}
	var out []RotationCandidate
	now := f.now()
	for _, b := range buckets {
		if wrapperOpts.SizeMargin != nil && b.SizeBytes >= wrapperOpts.SizeMargin.Bytes() {
			out = append(out, RotationCandidate{BucketID: b.BucketID, Reason: ReasonSizeMarginExceeded})
			continue
		}
		if wrapperOpts.TimeMargin != nil {
			age := now.Sub(b.CreatedAt)
			if age >= time.Duration(wrapperOpts.TimeMargin.Seconds())*time.Second {
				out = append(out, RotationCandidate{BucketID: b.BucketID, Reason: ReasonTimeMarginExceeded})
			}
		}
	}
	return out
}

// RotateBucketList replaces every candidate id in the current list with a
// freshly minted one, preserving the position and length of the list so
// the shard's bucket count stays fixed at num_of_buckets.
func RotateBucketList(current []string, candidates []RotationCandidate, wrapperOpts *types.WrapperOptions) ([]string, error) {
	retiring := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		retiring[c.BucketID] = true
	}
	fresh := mintBucketIDs(wrapperOpts, len(candidates))

	out := make([]string, 0, len(current))
	freshIdx := 0
	for _, id := range current {
		if retiring[id] {
			out = append(out, fresh[freshIdx])
			freshIdx++
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

package topology

import (
	"context"
	"errors"
	"testing"
	"time"

	errs "github.com/enterdb/enterdb/internal/errors"
)

func TestTopoCallReturnsValue(t *testing.T) {
	top := New()
	val, err := top.TopoCall(context.Background(), func(ctx context.Context) (any, error) {
		return 42, nil
	}, CallOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if val.(int) != 42 {
		t.Fatalf("expected 42, got %v", val)
	}
}

func TestTopoCallTimesOut(t *testing.T) {
	top := New()
	_, err := top.TopoCall(context.Background(), func(ctx context.Context) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}, CallOptions{Timeout: 10 * time.Millisecond})
	if errs.KindOf(err) != errs.Transient {
		t.Fatalf("expected transient timeout error, got %v", err)
	}
}

func TestTopoCallInvokesRevertOnFailure(t *testing.T) {
	top := New()
	reverted := false
	_, err := top.TopoCall(context.Background(), func(ctx context.Context) (any, error) {
		return nil, errors.New("boom")
	}, CallOptions{Revert: func(ctx context.Context) error {
		reverted = true
		return nil
	}})
	if err == nil {
		t.Fatal("expected error to propagate")
	}
	if !reverted {
		t.Fatal("expected revert to run")
	}
}

func TestTopoCallRevertFailureWraps(t *testing.T) {
	top := New()
	_, err := top.TopoCall(context.Background(), func(ctx context.Context) (any, error) {
		return nil, errors.New("boom")
	}, CallOptions{Revert: func(ctx context.Context) error {
		return errors.New("revert also failed")
	}})
	if errs.KindOf(err) != errs.Downstream {
		t.Fatalf("expected downstream error, got %v", err)
	}
}

func TestMapShardsSeqRunsAllConcurrently(t *testing.T) {
	top := New()
	shardIDs := []string{"s0", "s1", "s2"}
	results := top.MapShardsSeq(context.Background(), shardIDs, func(ctx context.Context, shardID string) (any, error) {
		return shardID + "-done", nil
	})
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for i, r := range results {
		if r.ShardID != shardIDs[i] || r.Value != shardIDs[i]+"-done" {
			t.Fatalf("unexpected result %+v", r)
		}
	}
}

func TestMapShardsSeqPropagatesPerShardError(t *testing.T) {
	top := New()
	results := top.MapShardsSeq(context.Background(), []string{"good", "bad"}, func(ctx context.Context, shardID string) (any, error) {
		if shardID == "bad" {
			return nil, errors.New("shard failed")
		}
		return "ok", nil
	})
	if results[0].Err != nil || results[1].Err == nil {
		t.Fatalf("unexpected results: %+v", results)
	}
}

func TestIdempotencyLogDedupesAppliedTokens(t *testing.T) {
	log := NewIdempotencyLog()
	token := NewToken()
	if log.Applied(token) {
		t.Fatal("fresh token should not be applied")
	}
	log.MarkApplied(token)
	if !log.Applied(token) {
		t.Fatal("expected token to be marked applied")
	}
	log.Forget(token)
	if log.Applied(token) {
		t.Fatal("expected forget to clear the token")
	}
}

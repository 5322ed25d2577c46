// Package topology implements the distributed-topology external
// collaborator (§6.2): a local, in-process stand-in for the RPC layer that
// would dispatch shard calls across nodes in a real multi-node deployment.
package topology

import (
	"context"
	"sync"
	"time"

	errs "github.com/enterdb/enterdb/internal/errors"
)

// DefaultTimeout is the timeout topo_call applies when the caller does not
// supply one.
const DefaultTimeout = 10 * time.Second

// ShardCall is a unit of work dispatched to one shard, the Go equivalent of
// an MFA (module/function/arguments) tuple in the reference system.
type ShardCall func(ctx context.Context) (any, error)

// RevertFunc undoes a partially-applied operation when a call fails, run
// with a fresh, un-cancelled context so revert work is not itself starved by
// the timeout that triggered it.
type RevertFunc func(ctx context.Context) error

// CallOptions configures a single topo_call.
type CallOptions struct {
	Timeout time.Duration
	Revert  RevertFunc
}

// Topology executes shard calls locally, in-process, honoring a bounded
// timeout and an optional revert callback on failure. A real multi-node
// deployment would replace this with an RPC transport; nothing in C1-C6
// depends on which one is in use.
type Topology struct{}

func New() *Topology {
	return &Topology{}
}

// TopoCall runs call with a bounded timeout, invoking opts.Revert (with a
// fresh context, not the timed-out one) if call fails or times out.
func (t *Topology) TopoCall(ctx context.Context, call ShardCall, opts CallOptions) (any, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		val any
		err error
	}
	done := make(chan result, 1)
	go func() {
		val, err := call(callCtx)
		done <- result{val, err}
	}()

	var res result
	select {
	case res = <-done:
	case <-callCtx.Done():
		res = result{err: errs.Transientf(errs.CodeTopologyTimeout, callCtx.Err(), "topology call exceeded %s", timeout)}
	}

	if res.err != nil && opts.Revert != nil {
		revertCtx, revertCancel := context.WithTimeout(context.Background(), DefaultTimeout)
		defer revertCancel()
		if revertErr := opts.Revert(revertCtx); revertErr != nil {
			return nil, errs.Downstreamf(errs.CodeAborted, res.err, "call failed and revert failed: %v", revertErr)
		}
	}
	return res.val, res.err
}

// ShardResult is one shard's outcome from a MapShardsSeq fan-out.
type ShardResult struct {
	ShardID string
	Value   any
	Err     error
}

// MapShardsSeq runs call against every shard in shardIDs concurrently,
// despite the name inherited from the reference system's sequential
// per-shard dispatch primitive: this concrete implementation parallelizes
// across shards with one goroutine each, since a single node has no
// network round-trip to amortize by batching.
func (t *Topology) MapShardsSeq(ctx context.Context, shardIDs []string, call func(ctx context.Context, shardID string) (any, error)) []ShardResult {
	results := make([]ShardResult, len(shardIDs))
	var wg sync.WaitGroup
	for i, shardID := range shardIDs {
		wg.Add(1)
		go func(i int, shardID string) {
			defer wg.Done()
			val, err := call(ctx, shardID)
			results[i] = ShardResult{ShardID: shardID, Value: val, Err: err}
		}(i, shardID)
	}
	wg.Wait()
	return results
}

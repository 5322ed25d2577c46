package topology

import (
	"sync"

	"github.com/google/uuid"
)

// IdempotencyLog tracks which distributed commit tokens have already been
// applied, so a retried or reverted-then-retried ring commit that carries
// the same token is recognized and no-op'd instead of applied twice. This
// generalizes the reference system's write-ahead-log entry discipline
// (assign an identifier before doing durable work, consult it before
// redoing that work) to a single in-memory dedup table, since a topology
// commit token's lifetime is the pending operation, not the process.
type IdempotencyLog struct {
	mu      sync.Mutex
	applied map[string]bool
}

func NewIdempotencyLog() *IdempotencyLog {
	return &IdempotencyLog{applied: make(map[string]bool)}
}

// NewToken mints a fresh idempotency token for a distributed commit.
func NewToken() string {
	return uuid.New().String()
}

// Applied reports whether token has already been marked applied.
func (l *IdempotencyLog) Applied(token string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.applied[token]
}

// MarkApplied records token as applied. Subsequent deliveries of the same
// token are recognized by Applied and should be no-op'd by the caller.
func (l *IdempotencyLog) MarkApplied(token string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.applied[token] = true
}

// Forget drops token, used after a revert so a later retry with a freshly
// minted token is not confused with the reverted attempt.
func (l *IdempotencyLog) Forget(token string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.applied, token)
}

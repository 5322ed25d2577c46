package backend

import (
	"fmt"
	"sync"
	"time"
)

// PoolConfig configures Pool eviction behavior.
type PoolConfig struct {
	MaxTotalHandles int
	IdleTimeout     time.Duration
}

func DefaultPoolConfig() PoolConfig {
	return PoolConfig{MaxTotalHandles: 256, IdleTimeout: 5 * time.Minute}
}

type handleEntry struct {
	backend  *OrderedBackend
	refCount int
	lastUsed time.Time
}

// Pool ref-counts OrderedBackend handles by path, so C6's per-shard fanout
// workers can share one open store per bucket instead of reopening it for
// every request, the same handle-pooling shape the reference system's query
// executor uses for downloaded partitions.
type Pool struct {
	mu      sync.Mutex
	entries map[string]*handleEntry
	cfg     PoolConfig
	closed  bool
}

func NewPool(cfg PoolConfig) *Pool {
	if cfg.MaxTotalHandles <= 0 {
		cfg.MaxTotalHandles = 256
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 5 * time.Minute
	}
	return &Pool{entries: make(map[string]*handleEntry), cfg: cfg}
}

// Acquire returns an open handle for path, opening it (create-if-missing) on
// first use. Callers must call Release when done.
func (p *Pool) Acquire(path string) (*OrderedBackend, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, fmt.Errorf("backend pool: closed")
	}
	if e, ok := p.entries[path]; ok {
		e.refCount++
		e.lastUsed = time.Now()
		return e.backend, nil
	}

	if len(p.entries) >= p.cfg.MaxTotalHandles {
		if !p.evictIdle() {
			return nil, fmt.Errorf("backend pool: maximum handles reached (%d)", p.cfg.MaxTotalHandles)
		}
	}

	b, err := Open(path, true, false)
	if err != nil {
		return nil, err
	}
	p.entries[path] = &handleEntry{backend: b, refCount: 1, lastUsed: time.Now()}
	return b, nil
}

// Release decrements the reference count for path.
func (p *Pool) Release(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[path]; ok {
		e.refCount--
		e.lastUsed = time.Now()
	}
}

func (p *Pool) evictIdle() bool {
	var oldestPath string
	var oldestTime time.Time
	for path, e := range p.entries {
		if e.refCount == 0 && (oldestPath == "" || e.lastUsed.Before(oldestTime)) {
			oldestPath = path
			oldestTime = e.lastUsed
		}
	}
	if oldestPath == "" {
		return false
	}
	p.entries[oldestPath].backend.Close()
	delete(p.entries, oldestPath)
	return true
}

// Evict force-closes and drops the handle for path, used when a bucket is
// retired and its backend deleted out from under the pool.
func (p *Pool) Evict(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[path]; ok {
		e.backend.Close()
		delete(p.entries, path)
	}
}

// Close closes every pooled handle.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	var lastErr error
	for path, e := range p.entries {
		if err := e.backend.Close(); err != nil {
			lastErr = err
		}
		delete(p.entries, path)
	}
	return lastErr
}

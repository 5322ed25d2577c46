// Package cache provides a generic, size-bounded cache with a
// least-accessed-then-least-recently-used eviction order, adapted from the
// reference system's NVMe tiered cache. table.Manager uses it to cache
// approximate_size results per table, invalidated on the next write or
// delete against that table; CacheHook remains an attachment point for the
// ets_* shard type aliases if a future policy needs to sit in front of a
// shard's ordered backend directly.
package cache

import (
	"sort"
	"sync"
	"time"
)

// CacheHook is the interface a future caching policy would need to satisfy
// to sit in front of a shard's ordered backend. Nothing in C1-C6 calls
// through this today; it exists purely as an attachment point.
type CacheHook interface {
	Get(key string) ([]byte, bool)
	Put(key string, value []byte)
	Evict(key string)
}

type entry struct {
	value       []byte
	sizeBytes   int64
	lastAccess  time.Time
	accessCount int64
	pinned      bool
}

// LRU is a generic size-bounded cache. Eviction, when the cache exceeds
// maxBytes, walks candidates ordered by ascending access count and then by
// oldest last-access, evicting until back under 90% of capacity — the same
// two-key ordering and headroom target the reference system's tiered cache
// used for cached partition files.
type LRU struct {
	mu       sync.Mutex
	maxBytes int64
	size     int64
	entries  map[string]*entry

	hits, misses, evictions int64
}

func NewLRU(maxBytes int64) *LRU {
	return &LRU{maxBytes: maxBytes, entries: make(map[string]*entry)}
}

func (c *LRU) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	c.hits++
	e.lastAccess = time.Now()
	e.accessCount++
	return e.value, true
}

func (c *LRU) Put(key string, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.entries[key]; ok {
		c.size -= old.sizeBytes
	}
	c.entries[key] = &entry{
		value:       value,
		sizeBytes:   int64(len(value)),
		lastAccess:  time.Now(),
		accessCount: 1,
	}
	c.size += int64(len(value))

	if c.size > c.maxBytes {
		c.evictToTarget()
	}
}

// Pin marks key as non-evictable, e.g. while a range read is streaming from it.
func (c *LRU) Pin(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		e.pinned = true
	}
}

func (c *LRU) Unpin(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		e.pinned = false
	}
}

func (c *LRU) Evict(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictOne(key)
}

func (c *LRU) evictOne(key string) {
	e, ok := c.entries[key]
	if !ok || e.pinned {
		return
	}
	c.size -= e.sizeBytes
	delete(c.entries, key)
	c.evictions++
}

type evictCandidate struct {
	key         string
	lastAccess  time.Time
	accessCount int64
}

func (c *LRU) evictToTarget() {
	target := int64(float64(c.maxBytes) * 0.9)
	if c.size <= target {
		return
	}

	candidates := make([]evictCandidate, 0, len(c.entries))
	for k, e := range c.entries {
		if e.pinned {
			continue
		}
		candidates = append(candidates, evictCandidate{key: k, lastAccess: e.lastAccess, accessCount: e.accessCount})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].accessCount != candidates[j].accessCount {
			return candidates[i].accessCount < candidates[j].accessCount
		}
		return candidates[i].lastAccess.Before(candidates[j].lastAccess)
	})

	for _, cand := range candidates {
		if c.size <= target {
			break
		}
		c.evictOne(cand.key)
	}
}

// Size returns the current cache size in bytes.
func (c *LRU) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Metrics returns hit/miss/eviction counters.
func (c *LRU) Metrics() (hits, misses, evictions int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses, c.evictions
}

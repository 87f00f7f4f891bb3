package auth

import (
	"container/list"
	"sync"
	"time"
)

// CredentialCache holds verified claims keyed by token fingerprint.
// An entry is visible only while now < insertedAt+ttl; expired entries
// are treated as absent and lazily removed. A max-size cap evicts the
// least recently used entry. Safe for concurrent use.
type CredentialCache struct {
	mu      sync.Mutex
	maxSize int
	entries map[string]*list.Element
	order   *list.List // front = most recently used
}

type cacheEntry struct {
	fingerprint string
	claims      *Claims
	insertedAt  time.Time
	ttl         time.Duration
}

func NewCredentialCache(maxSize int) *CredentialCache {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &CredentialCache{
		maxSize: maxSize,
		entries: make(map[string]*list.Element),
		order:   list.New(),
	}
}

// Get returns the cached claims for fingerprint if present and unexpired.
func (c *CredentialCache) Get(fingerprint string, now time.Time) (*Claims, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[fingerprint]
	if !ok {
		return nil, false
	}
	entry := elem.Value.(*cacheEntry)
	if now.Sub(entry.insertedAt) >= entry.ttl {
		c.order.Remove(elem)
		delete(c.entries, fingerprint)
		return nil, false
	}
	c.order.MoveToFront(elem)
	return entry.claims, true
}

// Put inserts claims with the given ttl, evicting the LRU entry when
// the cache is full. Non-positive ttl entries are never stored.
func (c *CredentialCache) Put(fingerprint string, claims *Claims, ttl time.Duration, now time.Time) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[fingerprint]; ok {
		elem.Value = &cacheEntry{fingerprint: fingerprint, claims: claims, insertedAt: now, ttl: ttl}
		c.order.MoveToFront(elem)
		return
	}
	for len(c.entries) >= c.maxSize {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).fingerprint)
	}
	elem := c.order.PushFront(&cacheEntry{fingerprint: fingerprint, claims: claims, insertedAt: now, ttl: ttl})
	c.entries[fingerprint] = elem
}

// Evict removes a fingerprint immediately. Used by the revocation
// watcher; eviction is never deferred.
func (c *CredentialCache) Evict(fingerprint string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.entries[fingerprint]; ok {
		c.order.Remove(elem)
		delete(c.entries, fingerprint)
	}
}

// Len returns the current entry count, expired entries included.
func (c *CredentialCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Package ttlcache is a small in-process cache where each entry carries its
// own time to live. Expired entries are removed lazily on read; there is no
// background eviction.
package ttlcache

import (
	"sync"
	"time"
)

type entry[V any] struct {
	value    V
	storedAt time.Time
	ttl      time.Duration
}

// valid reports whether the entry is still fresh at now. A clock that moved
// backwards gives a negative age, which keeps the entry valid.
func (e *entry[V]) valid(now time.Time) bool {
	return now.Sub(e.storedAt) < e.ttl
}

// Options configures a Cache. All fields are optional.
type Options struct {
	// Now replaces time.Now
	Now func() time.Time

	// MaxEntries caps the number of keys. Inserting a new key at capacity
	// evicts the entry stored longest ago. Zero means unbounded.
	MaxEntries int

	// OnHit and OnMiss are called outside the lock, used for metrics
	OnHit  func(key string)
	OnMiss func(key string)
}

// Cache maps string keys to values of type V. Safe for concurrent use.
type Cache[V any] struct {
	mu      sync.Mutex
	entries map[string]*entry[V]

	now        func() time.Time
	maxEntries int
	onHit      func(string)
	onMiss     func(string)
}

func New[V any](o Options) *Cache[V] {
	c := &Cache[V]{
		entries:    make(map[string]*entry[V]),
		now:        o.Now,
		maxEntries: o.MaxEntries,
		onHit:      o.OnHit,
		onMiss:     o.OnMiss,
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// Get returns the value for key if it is present and unexpired. An expired
// entry is deleted and reported as a miss.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if ok && !e.valid(c.now()) {
		delete(c.entries, key)
		ok = false
	}
	var v V
	if ok {
		v = e.value
	}
	c.mu.Unlock()

	if ok {
		if c.onHit != nil {
			c.onHit(key)
		}
	} else if c.onMiss != nil {
		c.onMiss(key)
	}
	return v, ok
}

// Set stores value under key, replacing any previous entry, valid for ttl from now.
func (c *Cache[V]) Set(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		c.evictOldest()
	}
	c.entries[key] = &entry[V]{value: value, storedAt: c.now(), ttl: ttl}
}

// evictOldest drops the entry with the earliest storedAt. Caller holds c.mu.
func (c *Cache[V]) evictOldest() {
	var (
		oldestKey string
		oldest    time.Time
		found     bool
	)
	for k, e := range c.entries {
		if !found || e.storedAt.Before(oldest) {
			oldestKey, oldest, found = k, e.storedAt, true
		}
	}
	if found {
		delete(c.entries, oldestKey)
	}
}

// Delete removes key. Deleting a missing key is a no-op.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Len returns the number of stored entries, including expired ones not yet read.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

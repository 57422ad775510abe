package cache

import (
	"sync"
	"time"
)

// MemoryCache is an in-memory TTL cache with least-recently-used eviction.
// Expired entries are dropped lazily on access and on eviction.
type MemoryCache[V any] struct {
	mu      sync.Mutex
	items   map[string]*item[V]
	maxSize int
	ttl     time.Duration
	now     func() time.Time
	stats   Stats
}

type item[V any] struct {
	value      V
	expiration time.Time
	accessTime time.Time
}

// Stats represents cache statistics
type Stats struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Evictions int64   `json:"evictions"`
	Size      int     `json:"size"`
	MaxSize   int     `json:"max_size"`
	HitRate   float64 `json:"hit_rate"`
}

// NewMemoryCache creates a cache holding at most maxSize entries for ttl each.
func NewMemoryCache[V any](maxSize int, ttl time.Duration) *MemoryCache[V] {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &MemoryCache[V]{
		items:   make(map[string]*item[V]),
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get retrieves a value from cache
func (c *MemoryCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	it, ok := c.items[key]
	if !ok {
		c.stats.Misses++
		return zero, false
	}

	now := c.now()
	if !now.Before(it.expiration) {
		delete(c.items, key)
		c.stats.Misses++
		return zero, false
	}

	it.accessTime = now
	c.stats.Hits++
	return it.value, true
}

// Set stores a value in cache
func (c *MemoryCache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if _, exists := c.items[key]; !exists && len(c.items) >= c.maxSize {
		c.evict(now)
	}
	c.items[key] = &item[V]{
		value:      value,
		expiration: now.Add(c.ttl),
		accessTime: now,
	}
}

// Delete removes a key from cache
func (c *MemoryCache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// Clear removes all items from cache
func (c *MemoryCache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*item[V])
}

// Stats returns a snapshot of the hit and miss counters.
func (c *MemoryCache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.stats
	s.Size = len(c.items)
	s.MaxSize = c.maxSize
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}

// evict drops every expired entry, or the least recently used one when none
// have expired. Callers hold mu.
func (c *MemoryCache[V]) evict(now time.Time) {
	var (
		oldestKey  string
		oldestTime time.Time
		removed    bool
	)
	for key, it := range c.items {
		if !now.Before(it.expiration) {
			delete(c.items, key)
			removed = true
			continue
		}
		if oldestKey == "" || it.accessTime.Before(oldestTime) {
			oldestKey = key
			oldestTime = it.accessTime
		}
	}
	if removed || oldestKey == "" {
		return
	}
	delete(c.items, oldestKey)
	c.stats.Evictions++
}

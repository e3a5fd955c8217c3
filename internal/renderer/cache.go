package renderer

import (
	"sync"
	"sync/atomic"
	"time"
)

// Cache memoizes compiled templates by their exact source with LRU eviction
// and an optional TTL. maxEntries <= 0 means unbounded; ttl <= 0 means
// entries never expire.
type Cache struct {
	entries    map[string]*cacheEntry
	inflight   map[string]*compileCall
	mutex      sync.Mutex
	maxEntries int
	ttl        time.Duration
	// LRU implementation
	head *cacheEntry
	tail *cacheEntry
	// Statistics tracking (atomic for thread safety)
	hits      int64
	misses    int64
	evictions int64
}

type cacheEntry struct {
	key        string
	template   *CompiledTemplate
	createdAt  time.Time
	accessedAt time.Time
	// LRU doubly-linked list pointers
	prev *cacheEntry
	next *cacheEntry
}

// compileCall is a compilation in progress. Goroutines asking for the same
// source wait on done instead of parsing it again.
type compileCall struct {
	done     chan struct{}
	template *CompiledTemplate
	err      error
}

// CacheStats is a snapshot of cache activity.
type CacheStats struct {
	Entries    int   `json:"entries" yaml:"entries"`
	MaxEntries int   `json:"max_entries" yaml:"max_entries"`
	Hits       int64 `json:"hits" yaml:"hits"`
	Misses     int64 `json:"misses" yaml:"misses"`
	Evictions  int64 `json:"evictions" yaml:"evictions"`
	Parses     int64 `json:"parses" yaml:"parses"`
}

// HitRate returns hits / (hits + misses), or 0 before any lookup.
func (s CacheStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// NewCache creates an empty cache.
func NewCache(maxEntries int, ttl time.Duration) *Cache {
	cache := &Cache{
		entries:    make(map[string]*cacheEntry),
		inflight:   make(map[string]*compileCall),
		maxEntries: maxEntries,
		ttl:        ttl,
	}

	// Initialize LRU doubly-linked list with dummy head and tail
	cache.head = &cacheEntry{}
	cache.tail = &cacheEntry{}
	cache.head.next = cache.tail
	cache.tail.prev = cache.head

	return cache
}

// Get returns the cached template for src.
func (c *Cache) Get(src string) (*CompiledTemplate, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.getLocked(src)
}

// Set stores t under src, evicting the least recently used entry if the
// cache is full.
func (c *Cache) Set(src string, t *CompiledTemplate) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.setLocked(src, t)
}

// GetOrCompile returns the cached template for src, or runs compile once and
// caches its result. Concurrent callers for the same src share one compile.
// A compile error is returned to every waiter and nothing is cached.
func (c *Cache) GetOrCompile(src string, compile func(string) (*CompiledTemplate, error)) (*CompiledTemplate, error) {
	c.mutex.Lock()
	if t, ok := c.getLocked(src); ok {
		c.mutex.Unlock()
		return t, nil
	}
	if call, ok := c.inflight[src]; ok {
		c.mutex.Unlock()
		<-call.done
		return call.template, call.err
	}

	call := &compileCall{done: make(chan struct{})}
	c.inflight[src] = call
	c.mutex.Unlock()

	defer close(call.done)
	call.template, call.err = compile(src)

	c.mutex.Lock()
	delete(c.inflight, src)
	if call.err == nil {
		c.setLocked(src, call.template)
	}
	c.mutex.Unlock()

	return call.template, call.err
}

// Invalidate drops src from the cache and reports whether it was present.
func (c *Cache) Invalidate(src string) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	entry, exists := c.entries[src]
	if !exists {
		return false
	}
	c.removeFromList(entry)
	delete(c.entries, src)
	return true
}

// Clear clears all cache entries and resets statistics
func (c *Cache) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.entries = make(map[string]*cacheEntry)

	// Reset LRU list
	c.head.next = c.tail
	c.tail.prev = c.head

	atomic.StoreInt64(&c.hits, 0)
	atomic.StoreInt64(&c.misses, 0)
	atomic.StoreInt64(&c.evictions, 0)
}

// Len returns the number of cached templates.
func (c *Cache) Len() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.entries)
}

// Stats returns cache statistics. Parses is filled in by the engine.
func (c *Cache) Stats() CacheStats {
	return CacheStats{
		Entries:    c.Len(),
		MaxEntries: c.maxEntries,
		Hits:       atomic.LoadInt64(&c.hits),
		Misses:     atomic.LoadInt64(&c.misses),
		Evictions:  atomic.LoadInt64(&c.evictions),
	}
}

func (c *Cache) getLocked(src string) (*CompiledTemplate, bool) {
	entry, exists := c.entries[src]
	if !exists {
		atomic.AddInt64(&c.misses, 1)
		return nil, false
	}

	// Check TTL
	if c.ttl > 0 && time.Since(entry.createdAt) > c.ttl {
		c.removeFromList(entry)
		delete(c.entries, src)
		atomic.AddInt64(&c.misses, 1)
		return nil, false
	}

	// Move to front (mark as recently used)
	c.moveToFront(entry)
	entry.accessedAt = time.Now()
	atomic.AddInt64(&c.hits, 1)
	return entry.template, true
}

func (c *Cache) setLocked(src string, t *CompiledTemplate) {
	if existing, exists := c.entries[src]; exists {
		existing.template = t
		existing.createdAt = time.Now()
		existing.accessedAt = existing.createdAt
		c.moveToFront(existing)
		return
	}

	c.evictIfNeeded()

	now := time.Now()
	entry := &cacheEntry{
		key:        src,
		template:   t,
		createdAt:  now,
		accessedAt: now,
	}
	c.entries[src] = entry
	c.addToFront(entry)
}

// evictIfNeeded makes room for one more entry.
func (c *Cache) evictIfNeeded() {
	if c.maxEntries <= 0 {
		return
	}

	// Efficient LRU eviction - remove from tail (least recently used)
	for len(c.entries) >= c.maxEntries && c.tail.prev != c.head {
		lru := c.tail.prev
		c.removeFromList(lru)
		delete(c.entries, lru.key)
		atomic.AddInt64(&c.evictions, 1)
	}
}

// LRU doubly-linked list operations
func (c *Cache) addToFront(entry *cacheEntry) {
	entry.prev = c.head
	entry.next = c.head.next
	c.head.next.prev = entry
	c.head.next = entry
}

func (c *Cache) removeFromList(entry *cacheEntry) {
	entry.prev.next = entry.next
	entry.next.prev = entry.prev
}

func (c *Cache) moveToFront(entry *cacheEntry) {
	c.removeFromList(entry)
	c.addToFront(entry)
}

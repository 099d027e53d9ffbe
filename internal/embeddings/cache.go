// Package embeddings provides embedding generation with an in-process LRU
// cache, bounded provider concurrency, and retry on transient failures.
package embeddings

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"sync/atomic"
	"time"
)

// CacheKey derives the cache key for a text: "emb_" plus the SHA-256 hex
// digest of the text.
func CacheKey(text string) string {
	h := sha256.Sum256([]byte(text))
	return "emb_" + hex.EncodeToString(h[:])
}

// CacheStats is a point-in-time snapshot of cache behavior. Hits and Misses
// only ever increase.
type CacheStats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Entries   int    `json:"entries"`
	SizeBytes int64  `json:"sizeBytes"`
}

// Cache is an LRU over embedding vectors with a sliding TTL and a byte
// budget. Reads refresh both recency and expiry, so hot entries stay alive
// across the cache window.
type Cache struct {
	mu    sync.Mutex
	ttl   time.Duration
	max   int64
	size  int64
	list  *list.List               // front = most recent
	items map[string]*list.Element // key -> element

	hits   atomic.Uint64
	misses atomic.Uint64

	now func() time.Time // test seam
}

type cacheEntry struct {
	key  string
	vec  []float32
	exp  time.Time
	cost int64
}

// NewCache builds a cache with the given sliding TTL and byte budget.
func NewCache(ttl time.Duration, maxBytes int64) *Cache {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	if maxBytes <= 0 {
		maxBytes = 64 << 20
	}
	return &Cache{
		ttl:   ttl,
		max:   maxBytes,
		list:  list.New(),
		items: make(map[string]*list.Element),
		now:   time.Now,
	}
}

// Get returns the cached vector for key, refreshing its expiry. Expired
// entries are removed on access.
func (c *Cache) Get(key string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	ent := el.Value.(*cacheEntry)
	if !ent.exp.After(c.now()) {
		c.removeLocked(el)
		c.misses.Add(1)
		return nil, false
	}
	ent.exp = c.now().Add(c.ttl)
	c.list.MoveToFront(el)
	c.hits.Add(1)
	return ent.vec, true
}

// Peek returns the cached vector for key without touching the hit/miss
// counters, recency, or expiry. The double-checked lookup after a provider
// permit uses it so one logical miss counts once.
func (c *Cache) Peek(key string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	ent := el.Value.(*cacheEntry)
	if !ent.exp.After(c.now()) {
		return nil, false
	}
	return ent.vec, true
}

// Set stores a copy of the vector under key, evicting least-recently-used
// entries until the byte budget holds.
func (c *Cache) Set(key string, vec []float32) {
	cp := make([]float32, len(vec))
	copy(cp, vec)
	cost := int64(len(key)) + int64(len(cp))*4

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		ent := el.Value.(*cacheEntry)
		c.size += cost - ent.cost
		ent.vec = cp
		ent.cost = cost
		ent.exp = c.now().Add(c.ttl)
		c.list.MoveToFront(el)
	} else {
		el := c.list.PushFront(&cacheEntry{key: key, vec: cp, exp: c.now().Add(c.ttl), cost: cost})
		c.items[key] = el
		c.size += cost
	}

	for c.size > c.max && c.list.Len() > 1 {
		c.removeLocked(c.list.Back())
	}
}

// Stats returns current cache counters.
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	entries := c.list.Len()
	size := c.size
	c.mu.Unlock()
	return CacheStats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Entries:   entries,
		SizeBytes: size,
	}
}

func (c *Cache) removeLocked(el *list.Element) {
	ent := el.Value.(*cacheEntry)
	c.size -= ent.cost
	delete(c.items, ent.key)
	c.list.Remove(el)
}

package embedding

import (
	"container/list"
	"hash/fnv"
	"sync"
)

// cacheKey is a 128-bit digest of the embedded text. Chunks can be several
// kilobytes, so the cache never holds the text itself.
type cacheKey [16]byte

func keyOf(text string) cacheKey {
	h := fnv.New128a()
	_, _ = h.Write([]byte(text))
	var k cacheKey
	h.Sum(k[:0])
	return k
}

type cached struct {
	key    cacheKey
	values []float32
}

// vectorCache is a bounded LRU of provider vectors. Callers get copies, so a
// caller mutating its vector cannot corrupt later hits. Fallback vectors are
// never stored, which lets a recovered provider take over again.
type vectorCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[cacheKey]*list.Element
	order    *list.List

	hits, misses int64
}

// CacheStats reports cache occupancy and hit counts.
type CacheStats struct {
	Entries int   `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
}

// newVectorCache returns a cache holding at most capacity vectors.
// A non-positive capacity disables caching.
func newVectorCache(capacity int) *vectorCache {
	return &vectorCache{
		capacity: capacity,
		entries:  make(map[cacheKey]*list.Element),
		order:    list.New(),
	}
}

func (c *vectorCache) get(text string) ([]float32, bool) {
	if c.capacity <= 0 {
		return nil, false
	}
	k := keyOf(text)

	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[k]
	if !ok {
		c.misses++
		return nil, false
	}
	c.hits++
	c.order.MoveToFront(el)
	return append([]float32(nil), el.Value.(*cached).values...), true
}

func (c *vectorCache) put(text string, values []float32) {
	if c.capacity <= 0 || len(values) == 0 {
		return
	}
	k := keyOf(text)
	stored := append([]float32(nil), values...)

	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[k]; ok {
		el.Value.(*cached).values = stored
		c.order.MoveToFront(el)
		return
	}
	c.entries[k] = c.order.PushFront(&cached{key: k, values: stored})
	for c.order.Len() > c.capacity {
		last := c.order.Back()
		c.order.Remove(last)
		delete(c.entries, last.Value.(*cached).key)
	}
}

func (c *vectorCache) stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{Entries: c.order.Len(), Hits: c.hits, Misses: c.misses}
}

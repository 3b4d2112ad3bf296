package trn

import (
	"container/list"
	"sync"
	"time"

	infracache "github.com/R3E-Network/eventbus/infrastructure/cache"
)

// DefaultCacheSize is the maximum number of memoized parse outcomes before
// the oldest entry is evicted, per §4.1's "max 10 000 entries" bound.
const DefaultCacheSize = 10000

// cacheEntryTTL is effectively "forever" for a memoized Parse outcome: TRN
// strings are immutable, so entries are retired by size (oldest insertion
// evicted on overflow), not by age.
const cacheEntryTTL = 24 * time.Hour

// Cache memoizes Parse outcomes (success or failure) keyed on the raw TRN
// string. It is advisory: a cache miss always falls through to a full
// Parse, and the cache may be cleared at any time without affecting
// correctness. Storage is backed by infrastructure/cache.Cache; since that
// type evicts by TTL rather than by size, Cache layers its own
// insertion-order list on top to enforce the size bound.
type Cache struct {
	mu      sync.Mutex
	maxSize int
	backing *infracache.Cache
	order   *list.List // front = oldest, back = newest; Value is the TRN key
	keys    map[string]*list.Element
}

type cacheEntry struct {
	value  TRN
	err    error
	hasErr bool
}

// NewCache creates a Cache bounded to maxSize entries. A non-positive maxSize
// falls back to DefaultCacheSize.
func NewCache(maxSize int) *Cache {
	if maxSize <= 0 {
		maxSize = DefaultCacheSize
	}
	return &Cache{
		maxSize: maxSize,
		backing: infracache.NewCache(infracache.CacheConfig{
			DefaultTTL:      cacheEntryTTL,
			MaxSize:         maxSize,
			CleanupInterval: time.Hour,
		}),
		order: list.New(),
		keys:  make(map[string]*list.Element),
	}
}

// Parse returns the memoized Parse(s) outcome, computing and storing it on a
// miss.
func (c *Cache) Parse(s string) (TRN, error) {
	c.mu.Lock()
	if v, ok := c.backing.Get(s); ok {
		entry := v.(*cacheEntry)
		c.mu.Unlock()
		if entry.hasErr {
			return TRN{}, entry.err
		}
		return entry.value, nil
	}
	c.mu.Unlock()

	t, err := Parse(s)

	c.mu.Lock()
	defer c.mu.Unlock()
	// Another goroutine may have raced us to insert the same key; either
	// outcome is equivalent so just overwrite.
	if el, ok := c.keys[s]; ok {
		c.order.MoveToBack(el)
		c.backing.Set(s, &cacheEntry{value: t, err: err, hasErr: err != nil}, 0)
		return t, err
	}

	c.backing.Set(s, &cacheEntry{value: t, err: err, hasErr: err != nil}, 0)
	el := c.order.PushBack(s)
	c.keys[s] = el

	if c.order.Len() > c.maxSize {
		oldest := c.order.Front()
		if oldest != nil {
			c.order.Remove(oldest)
			key := oldest.Value.(string)
			delete(c.keys, key)
			c.backing.Invalidate(key)
		}
	}

	return t, err
}

// Len returns the current number of memoized entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Clear empties the cache. Safe to call at any time.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.backing.InvalidateAll()
	c.order.Init()
	c.keys = make(map[string]*list.Element)
}

package tswatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// CacheEntry is a stored fetch result. Source is the key of the request that
// produced the value; an entry only answers requests whose key equals it.
type CacheEntry struct {
	Key       Key
	Value     any
	CreatedAt time.Time
	Source    Key
}

// GetOptions control one Cache.Get. A TTL <= 0 means any stored value is
// already stale.
type GetOptions struct {
	TTL          time.Duration
	ForceRefresh bool
}

// FetchFunc loads the value for a cache miss.
type FetchFunc func(ctx context.Context) (any, error)

type flight struct{ key Key }

type cacheItem struct {
	ent  CacheEntry
	prev *cacheItem
	next *cacheItem
}

// Cache is a read-through cache with a per-request TTL. Concurrent Gets for
// the same key share one fetch. Failed fetches are never stored. When
// maxEntries > 0 the least recently used entry is evicted past that size.
type Cache struct {
	maxEntries int
	now        func() time.Time
	stats      *fetchStats

	mu       sync.Mutex
	group    *singleflight.Group
	inflight map[string]*flight // leader fetches running in group
	gen      uint64
	items    map[string]*cacheItem
	head  *cacheItem
	tail  *cacheItem
}

func NewCache(maxEntries int) *Cache {
	return &Cache{
		maxEntries: maxEntries,
		now:        time.Now,
		stats:      newFetchStats(),
		group:      &singleflight.Group{},
		inflight:   map[string]*flight{},
		items:      map[string]*cacheItem{},
	}
}

// Get returns a fresh cached value for key or calls fetch. Errors from fetch
// are returned as is and leave the cache untouched.
func (c *Cache) Get(ctx context.Context, key Key, fetch FetchFunc, opts GetOptions) (any, error) {
	if key.IsZero() {
		return nil, fmt.Errorf("cache: zero key")
	}
	if !opts.ForceRefresh {
		if v, ok := c.lookup(key, opts.TTL); ok {
			c.stats.hit()
			return v, nil
		}
	}

	c.mu.Lock()
	group := c.group
	gen := c.gen
	c.mu.Unlock()

	k := key.String()
	v, err, _ := group.Do(k, func() (any, error) {
		fl := &flight{key: key}
		c.mu.Lock()
		if c.group == group {
			c.inflight[k] = fl
		}
		c.mu.Unlock()
		defer func() {
			c.mu.Lock()
			if c.inflight[k] == fl {
				delete(c.inflight, k)
			}
			c.mu.Unlock()
		}()

		start := time.Now()
		val, err := fetch(ctx)
		c.stats.observe(time.Since(start), err)
		if err != nil {
			return nil, err
		}
		c.store(key, val, gen)
		return val, nil
	})
	return v, err
}

// GetAs is Get with a typed fetch function.
func GetAs[T any](ctx context.Context, c *Cache, key Key, fetch func(context.Context) (T, error), opts GetOptions) (T, error) {
	v, err := c.Get(ctx, key, func(ctx context.Context) (any, error) {
		return fetch(ctx)
	}, opts)
	if err != nil {
		var zero T
		return zero, err
	}
	out, ok := v.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("cache: %s holds %T", key, v)
	}
	return out, nil
}

// Peek returns the stored entry for key regardless of its age.
func (c *Cache) Peek(key Key) (CacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.items[key.String()]
	if !ok {
		return CacheEntry{}, false
	}
	return it.ent, true
}

// Invalidate drops every entry scoped by prefix and returns how many went.
// Fetches in flight under prefix are forgotten, so later Gets start a new
// fetch instead of joining one that began before the invalidation.
func (c *Cache) Invalidate(prefix Key) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, it := range c.items {
		if it.ent.Key.HasPrefix(prefix) {
			c.remove(it)
			delete(c.items, k)
			n++
		}
	}
	for k, fl := range c.inflight {
		if fl.key.HasPrefix(prefix) {
			c.group.Forget(k)
			delete(c.inflight, k)
		}
	}
	c.gen++
	return n
}

// Clear resets the cache. Fetches in flight when Clear runs do not store
// their results and are not joined by later Gets.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = map[string]*cacheItem{}
	c.head, c.tail = nil, nil
	c.group = &singleflight.Group{}
	c.inflight = map[string]*flight{}
	c.gen++
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Stats reports hit, fetch and error counts since the cache was created.
// Gets that join an in-flight fetch are not counted.
func (c *Cache) Stats() CacheStats {
	out := c.stats.snapshot()
	out.Entries = c.Len()
	return out
}

func (c *Cache) lookup(key Key, ttl time.Duration) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.items[key.String()]
	if !ok {
		return nil, false
	}
	if ttl <= 0 || c.now().Sub(it.ent.CreatedAt) >= ttl || !key.Equal(it.ent.Source) {
		return nil, false
	}
	c.moveToFront(it)
	return it.ent.Value, true
}

func (c *Cache) store(key Key, val any, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}
	ent := CacheEntry{Key: key, Value: val, CreatedAt: c.now(), Source: key}
	if it, ok := c.items[key.String()]; ok {
		it.ent = ent
		c.moveToFront(it)
		return
	}
	it := &cacheItem{ent: ent}
	c.items[key.String()] = it
	c.addToFront(it)
	for c.maxEntries > 0 && len(c.items) > c.maxEntries && c.tail != nil {
		old := c.tail
		c.remove(old)
		delete(c.items, old.ent.Key.String())
	}
}

func (c *Cache) addToFront(it *cacheItem) {
	it.prev = nil
	it.next = c.head
	if c.head != nil {
		c.head.prev = it
	}
	c.head = it
	if c.tail == nil {
		c.tail = it
	}
}

func (c *Cache) remove(it *cacheItem) {
	if it.prev != nil {
		it.prev.next = it.next
	} else {
		c.head = it.next
	}
	if it.next != nil {
		it.next.prev = it.prev
	} else {
		c.tail = it.prev
	}
	it.prev, it.next = nil, nil
}

func (c *Cache) moveToFront(it *cacheItem) {
	if c.head == it {
		return
	}
	c.remove(it)
	c.addToFront(it)
}

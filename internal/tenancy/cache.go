package tenancy

import (
	"container/list"
	"context"
	"sync"
	"time"
)

const (
	// DefaultCacheTTL bounds how long a directory entry may be served stale.
	DefaultCacheTTL = 5 * time.Minute
	// DefaultCacheSize is the default number of entries held in memory.
	DefaultCacheSize = 1024
)

// Cache stores directory entries keyed by normalized tenant code.
type Cache interface {
	Get(ctx context.Context, code string) (*Entry, bool)
	Set(ctx context.Context, code string, e *Entry, ttl time.Duration)
	Delete(ctx context.Context, code string)
	Close() error
}

type memoryItem struct {
	code      string
	entry     Entry
	expiresAt time.Time
}

// MemoryCache is an in-process TTL cache with LRU eviction.
type MemoryCache struct {
	mu       sync.Mutex
	items    map[string]*list.Element
	order    *list.List
	capacity int
	now      func() time.Time
}

// NewMemoryCache creates a memory cache holding at most capacity entries.
func NewMemoryCache(capacity int) *MemoryCache {
	if capacity <= 0 {
		capacity = DefaultCacheSize
	}
	return &MemoryCache{
		items:    make(map[string]*list.Element),
		order:    list.New(),
		capacity: capacity,
		now:      time.Now,
	}
}

func (c *MemoryCache) Get(_ context.Context, code string) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[code]
	if !ok {
		return nil, false
	}
	item := el.Value.(*memoryItem)
	if !c.now().Before(item.expiresAt) {
		c.order.Remove(el)
		delete(c.items, code)
		return nil, false
	}
	c.order.MoveToFront(el)
	e := item.entry
	return &e, true
}

func (c *MemoryCache) Set(_ context.Context, code string, e *Entry, ttl time.Duration) {
	if e == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	item := &memoryItem{code: code, entry: *e, expiresAt: c.now().Add(ttl)}
	if el, ok := c.items[code]; ok {
		el.Value = item
		c.order.MoveToFront(el)
		return
	}
	c.items[code] = c.order.PushFront(item)
	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*memoryItem).code)
	}
}

// LocalEvicter is implemented by caches with a process-local tier.
// EvictLocal drops the entry from that tier only and notifies no peers.
type LocalEvicter interface {
	EvictLocal(ctx context.Context, code string)
}

func (c *MemoryCache) EvictLocal(ctx context.Context, code string) {
	c.Delete(ctx, code)
}

func (c *MemoryCache) Delete(_ context.Context, code string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[code]; ok {
		c.order.Remove(el)
		delete(c.items, code)
	}
}

// Len returns the number of entries currently held, expired or not.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *MemoryCache) Close() error { return nil }

// TieredCache serves from Near and falls back to Far, back-filling Near on a
// Far hit. Near is typically a MemoryCache, Far a shared redis cache.
type TieredCache struct {
	Near Cache
	Far  Cache
	// NearTTL caps how long a Far hit is kept in Near.
	NearTTL time.Duration
}

func (t *TieredCache) Get(ctx context.Context, code string) (*Entry, bool) {
	if e, ok := t.Near.Get(ctx, code); ok {
		return e, true
	}
	e, ok := t.Far.Get(ctx, code)
	if !ok {
		return nil, false
	}
	ttl := t.NearTTL
	if ttl <= 0 {
		ttl = time.Minute
	}
	t.Near.Set(ctx, code, e, ttl)
	return e, true
}

func (t *TieredCache) Set(ctx context.Context, code string, e *Entry, ttl time.Duration) {
	t.Far.Set(ctx, code, e, ttl)
	nearTTL := ttl
	if t.NearTTL > 0 && t.NearTTL < ttl {
		nearTTL = t.NearTTL
	}
	t.Near.Set(ctx, code, e, nearTTL)
}

func (t *TieredCache) Delete(ctx context.Context, code string) {
	t.Near.Delete(ctx, code)
	t.Far.Delete(ctx, code)
}

// EvictLocal drops Near only; Far is shared and was cleared by whoever
// published the invalidation.
func (t *TieredCache) EvictLocal(ctx context.Context, code string) {
	t.Near.Delete(ctx, code)
}

func (t *TieredCache) Close() error {
	nerr := t.Near.Close()
	if ferr := t.Far.Close(); ferr != nil {
		return ferr
	}
	return nerr
}

type noOpCache struct{}

// NewNoOpCache returns a cache that never stores anything.
func NewNoOpCache() Cache { return noOpCache{} }

func (noOpCache) Get(context.Context, string) (*Entry, bool)         { return nil, false }
func (noOpCache) Set(context.Context, string, *Entry, time.Duration) {}
func (noOpCache) Delete(context.Context, string)                     {}
func (noOpCache) Close() error                                       { return nil }

package tenancy

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Entry is the slice of a tenant record the resolver needs.
type Entry struct {
	ID        uuid.UUID  `json:"id"`
	Code      string     `json:"code"`
	Active    bool       `json:"active"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Usable reports whether requests may bind to the tenant at now.
func (e *Entry) Usable(now time.Time) bool {
	if e == nil || !e.Active {
		return false
	}
	return e.ExpiresAt == nil || e.ExpiresAt.After(now)
}

// Directory looks tenants up by normalized code. Implementations return
// ErrUnknownTenant when no tenant has the code.
type Directory interface {
	LookupByCode(ctx context.Context, code string) (*Entry, error)
}

// DirectoryFunc adapts a function to Directory.
type DirectoryFunc func(ctx context.Context, code string) (*Entry, error)

func (f DirectoryFunc) LookupByCode(ctx context.Context, code string) (*Entry, error) {
	return f(ctx, code)
}

// Invalidator drops cached directory entries after tenant administration.
type Invalidator interface {
	Invalidate(ctx context.Context, code string)
}

// CachedDirectory is a read-through cache in front of a Directory. Concurrent
// misses for the same code share one lookup. Unknown codes are not cached.
type CachedDirectory struct {
	source Directory
	cache  Cache
	ttl    time.Duration
	group  singleflight.Group
	gen    atomic.Uint64
	logger zerolog.Logger
}

// NewCachedDirectory wraps source with cache. A non-positive ttl uses DefaultCacheTTL.
func NewCachedDirectory(source Directory, cache Cache, ttl time.Duration, logger zerolog.Logger) *CachedDirectory {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if cache == nil {
		cache = NewNoOpCache()
	}
	return &CachedDirectory{source: source, cache: cache, ttl: ttl, logger: logger}
}

// lookupTimeout bounds a shared directory load once it no longer follows the
// context of the caller that started it.
const lookupTimeout = 5 * time.Second

func (d *CachedDirectory) LookupByCode(ctx context.Context, code string) (*Entry, error) {
	if e, ok := d.cache.Get(ctx, code); ok {
		return e, nil
	}

	ch := d.group.DoChan(code, func() (interface{}, error) {
		// The load is shared by every waiter, so one of them going away
		// must not cancel it for the rest.
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lookupTimeout)
		defer cancel()

		gen := d.gen.Load()
		e, err := d.source.LookupByCode(loadCtx, code)
		if err != nil {
			return nil, err
		}
		// An invalidation that raced with this load wins.
		if d.gen.Load() == gen {
			d.cache.Set(loadCtx, code, e, d.ttl)
		}
		return e, nil
	})
	select {
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*Entry), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Invalidate implements Invalidator. It clears every cache tier, which for a
// shared cache also tells peer processes.
func (d *CachedDirectory) Invalidate(ctx context.Context, code string) {
	d.gen.Add(1)
	d.group.Forget(code)
	d.cache.Delete(ctx, code)
	d.logger.Debug().Str("tenant_code", code).Msg("tenant directory entry invalidated")
}

// InvalidateLocal handles an invalidation published by a peer. Loads in
// flight are discarded like in Invalidate, but only the process-local tier is
// evicted and nothing is published again. Caches without a local tier are
// left alone.
func (d *CachedDirectory) InvalidateLocal(ctx context.Context, code string) {
	d.gen.Add(1)
	d.group.Forget(code)
	if le, ok := d.cache.(LocalEvicter); ok {
		le.EvictLocal(ctx, code)
	}
	d.logger.Debug().Str("tenant_code", code).Msg("tenant directory entry invalidated by peer")
}

// Close releases the underlying cache.
func (d *CachedDirectory) Close() error {
	return d.cache.Close()
}

package access

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"salesgrid.io/internal/obs"
)

const (
	defaultCacheSize = 4096
	defaultCacheTTL  = 5 * time.Second
)

// Invalidator drops cached owner sets after a mutation.
type Invalidator interface {
	Invalidate(viewerIDs ...string)
	Purge()
}

// CachedResolver memoises owner sets for a short TTL. Callers get a copy, so
// mutating a returned set never corrupts the cache.
type CachedResolver struct {
	inner OwnerResolver
	cache *lru.LRU[string, OwnerSet]
}

var (
	_ OwnerResolver = (*CachedResolver)(nil)
	_ Invalidator   = (*CachedResolver)(nil)
)

// NewCachedResolver wraps inner; size <= 0 or ttl <= 0 pick defaults.
func NewCachedResolver(inner OwnerResolver, size int, ttl time.Duration) *CachedResolver {
	if size <= 0 {
		size = defaultCacheSize
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &CachedResolver{
		inner: inner,
		cache: lru.NewLRU[string, OwnerSet](size, nil, ttl),
	}
}

func (c *CachedResolver) AccessibleOwnerIDs(ctx context.Context, viewerID string) OwnerSet {
	if set, ok := c.cache.Get(viewerID); ok {
		obs.ObserveResolverCache(true)
		return set.Clone()
	}
	obs.ObserveResolverCache(false)
	set := c.inner.AccessibleOwnerIDs(ctx, viewerID)
	// Only a viewer-only answer can be a degraded one; keep it out of the cache.
	if set.Len() > 1 {
		c.cache.Add(viewerID, set.Clone())
	}
	return set
}

func (c *CachedResolver) Invalidate(viewerIDs ...string) {
	for _, id := range viewerIDs {
		c.cache.Remove(id)
	}
}

func (c *CachedResolver) Purge() { c.cache.Purge() }

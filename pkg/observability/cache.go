package observability

import (
	"context"

	"github.com/atelier-dev/atelier/pkg/api"
	"github.com/atelier-dev/atelier/pkg/cache"
)

// instrumentedCache decorates a cache backend with the cache event counter.
type instrumentedCache struct {
	inner cache.Cache
}

var _ cache.Cache = (*instrumentedCache)(nil)

// WrapCache returns c with atelier_cache_events_total instrumentation.
// A nil backend stays nil so callers keep their caching-disabled wiring.
func WrapCache(c cache.Cache) cache.Cache {
	if c == nil {
		return nil
	}
	return &instrumentedCache{inner: c}
}

func (c *instrumentedCache) Lookup(ctx context.Context, fingerprint string, key api.SimilarityKey, threshold float64) (*cache.Entry, bool, error) {
	entry, ok, err := c.inner.Lookup(ctx, fingerprint, key, threshold)
	switch {
	case err != nil:
		CacheEvents.WithLabelValues("error").Inc()
	case ok:
		CacheEvents.WithLabelValues("hit").Inc()
	default:
		CacheEvents.WithLabelValues("miss").Inc()
	}
	return entry, ok, err
}

func (c *instrumentedCache) Store(ctx context.Context, e *cache.Entry, maxEntries int) error {
	err := c.inner.Store(ctx, e, maxEntries)
	if err != nil {
		CacheEvents.WithLabelValues("error").Inc()
		return err
	}
	CacheEvents.WithLabelValues("store").Inc()
	return nil
}

func (c *instrumentedCache) HealthCheck(ctx context.Context) error {
	return c.inner.HealthCheck(ctx)
}

func (c *instrumentedCache) Close() error {
	return c.inner.Close()
}

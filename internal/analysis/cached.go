package analysis

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"time"

	"github.com/dgraph-io/ristretto"
	"go.uber.org/zap"
)

// Cached decorates a Provider with a short-lived result cache so that
// storing then immediately re-scoring the same content does not pay for
// a second provider round trip. Errors are never cached.
type Cached struct {
	inner  Provider
	cache  *ristretto.Cache
	ttl    time.Duration
	logger *zap.Logger
}

// NewCached wraps inner with a result cache. A zero ttl uses five
// minutes.
func NewCached(inner Provider, ttl time.Duration, logger *zap.Logger) *Cached {
	if ttl == 0 {
		ttl = 5 * time.Minute
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 50_000,
		MaxCost:     5_000,
		BufferItems: 64,
	})
	if err != nil {
		logger.Warn("analysis cache unavailable", zap.Error(err))
	}
	return &Cached{inner: inner, cache: cache, ttl: ttl, logger: logger}
}

// Analyze returns the cached result for identical content when present.
func (c *Cached) Analyze(ctx context.Context, content, userID string) (*Result, error) {
	key := cacheKey("analyze", userID, content)
	if v, ok := c.get(key); ok {
		if r, ok := v.(*Result); ok {
			return r, nil
		}
	}
	r, err := c.inner.Analyze(ctx, content, userID)
	if err != nil {
		return nil, err
	}
	c.put(key, r)
	return r, nil
}

// Similarity caches per content pair.
func (c *Cached) Similarity(ctx context.Context, a, b string) (*SimilarityResult, error) {
	key := cacheKey("similarity", a, b)
	if v, ok := c.get(key); ok {
		if r, ok := v.(*SimilarityResult); ok {
			return r, nil
		}
	}
	r, err := c.inner.Similarity(ctx, a, b)
	if err != nil {
		return nil, err
	}
	c.put(key, r)
	return r, nil
}

// SearchIntent caches per user and query.
func (c *Cached) SearchIntent(ctx context.Context, query, userID string) (*IntentResult, error) {
	key := cacheKey("intent", userID, query)
	if v, ok := c.get(key); ok {
		if r, ok := v.(*IntentResult); ok {
			return r, nil
		}
	}
	r, err := c.inner.SearchIntent(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	c.put(key, r)
	return r, nil
}

func (c *Cached) get(key string) (any, bool) {
	if c.cache == nil {
		return nil, false
	}
	return c.cache.Get(key)
}

func (c *Cached) put(key string, v any) {
	if c.cache == nil {
		return
	}
	c.cache.SetWithTTL(key, v, 1, c.ttl)
}

func cacheKey(kind string, parts ...string) string {
	h := sha1.New()
	h.Write([]byte(kind))
	for _, p := range parts {
		h.Write([]byte{0})
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

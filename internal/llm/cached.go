package llm

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sentinelops/remedy-core/pkg/cache"
	"github.com/sentinelops/remedy-core/pkg/logger"
)

// DefaultCacheTTL keeps completions for a day; prompts embed timestamps so
// stale hits are structurally impossible.
const DefaultCacheTTL = 24 * time.Hour

// CachedClient wraps a provider with shared-cache read-through. Cache errors
// are logged, never propagated: the provider call is the source of truth.
type CachedClient struct {
	inner  Client
	cache  cache.SharedCache
	ttl    time.Duration
	logger logger.Logger
}

// NewCachedClient wraps inner. A nil cache or non-positive TTL falls back to
// pass-through and the default TTL respectively.
func NewCachedClient(inner Client, c cache.SharedCache, ttl time.Duration, log logger.Logger) *CachedClient {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedClient{inner: inner, cache: c, ttl: ttl, logger: log}
}

func (c *CachedClient) cacheKey(req Request) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%.2f|%s::%s", req.Model, req.Temperature, req.System, req.User)))
	return fmt.Sprintf("llm:completion:%x", h[:16])
}

// Complete returns a cached completion when one exists, otherwise calls the
// provider and stores the result.
func (c *CachedClient) Complete(ctx context.Context, req Request) (*Response, error) {
	if c.cache == nil {
		return c.inner.Complete(ctx, req)
	}

	key := c.cacheKey(req)
	if data, err := c.cache.Get(ctx, key); err == nil {
		var resp Response
		if err := json.Unmarshal(data, &resp); err == nil {
			resp.FromCache = true
			return &resp, nil
		}
		c.logger.Warn("discarding undecodable cached completion", "key", key)
	} else if err != cache.ErrCacheMiss {
		c.logger.Warn("llm cache read failed", "error", err)
	}

	resp, err := c.inner.Complete(ctx, req)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(resp); err == nil {
		if err := c.cache.Set(ctx, key, data, c.ttl); err != nil {
			c.logger.Warn("llm cache write failed", "error", err)
		}
	}
	return resp, nil
}

func (c *CachedClient) HealthCheck(ctx context.Context) error {
	return c.inner.HealthCheck(ctx)
}

// Package ratelimit implements a cross-replica sliding-window rate limiter on
// the shared cache, with an in-process token-bucket fallback.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/sentinelops/remedy-core/internal/config"
	"github.com/sentinelops/remedy-core/internal/monitoring"
	"github.com/sentinelops/remedy-core/pkg/cache"
	"github.com/sentinelops/remedy-core/pkg/logger"
)

// slidingWindowScript atomically evicts expired entries, counts the window,
// and inserts only when under the limit. Denied requests are never inserted;
// inserting them would inflate the window.
//
// KEYS[1] window key
// ARGV[1] now (unix millis)
// ARGV[2] window millis
// ARGV[3] limit
// ARGV[4] unique request id
const slidingWindowScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count < limit then
	redis.call('ZADD', key, now, ARGV[4])
	redis.call('PEXPIRE', key, window)
	return 1
end
return 0
`

// Decision is the outcome of one rate-limit check.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Limiter enforces a named sliding-window limit per client.
type Limiter struct {
	name   string
	limit  int
	window time.Duration
	cache  cache.SharedCache
	logger logger.Logger

	mu       sync.Mutex
	fallback map[string]*rate.Limiter
	degraded bool
}

// New creates a limiter from config.
func New(name string, cfg config.RateLimit, sc cache.SharedCache, log logger.Logger) *Limiter {
	return &Limiter{
		name:     name,
		limit:    cfg.MaxRequests,
		window:   time.Duration(cfg.WindowSeconds) * time.Second,
		cache:    sc,
		logger:   log,
		fallback: make(map[string]*rate.Limiter),
	}
}

// Allow checks and records one request for the client. Cache failure degrades
// to the in-process token bucket.
func (l *Limiter) Allow(ctx context.Context, clientIP string) Decision {
	key := fmt.Sprintf("ratelimit:%s:%s", l.name, clientIP)
	now := time.Now().UnixMilli()

	result, err := l.cache.Eval(ctx, slidingWindowScript,
		[]string{key},
		now, l.window.Milliseconds(), l.limit, uuid.NewString())
	if err != nil {
		return l.allowFallback(clientIP)
	}

	l.recoverIfDegraded()

	allowed, _ := result.(int64)
	if allowed == 1 {
		monitoring.RecordRateLimitDecision(l.name, "allowed")
		return Decision{Allowed: true}
	}
	monitoring.RecordRateLimitDecision(l.name, "denied")
	return Decision{Allowed: false, RetryAfter: l.window}
}

// allowFallback serves from a per-client token bucket sized to the same
// average rate as the shared window.
func (l *Limiter) allowFallback(clientIP string) Decision {
	l.mu.Lock()
	if !l.degraded {
		l.degraded = true
		monitoring.RecordDegradation("rate_limiter")
		l.logger.Warn("shared cache unreachable, rate limiting in-process only",
			"limiter", l.name)
	}
	lim, ok := l.fallback[clientIP]
	if !ok {
		perSecond := rate.Limit(float64(l.limit) / l.window.Seconds())
		lim = rate.NewLimiter(perSecond, l.limit)
		l.fallback[clientIP] = lim
	}
	l.mu.Unlock()

	if lim.Allow() {
		monitoring.RecordRateLimitDecision(l.name, "allowed_fallback")
		return Decision{Allowed: true}
	}
	monitoring.RecordRateLimitDecision(l.name, "denied_fallback")
	return Decision{Allowed: false, RetryAfter: l.window}
}

func (l *Limiter) recoverIfDegraded() {
	l.mu.Lock()
	if l.degraded {
		l.degraded = false
		l.fallback = make(map[string]*rate.Limiter)
		l.logger.Info("shared cache recovered, rate limiting cross-replica again",
			"limiter", l.name)
	}
	l.mu.Unlock()
}

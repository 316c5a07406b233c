package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"

	"github.com/sentinelops/remedy-core/internal/config"
	"github.com/sentinelops/remedy-core/pkg/cache"
	"github.com/sentinelops/remedy-core/pkg/logger"
)

func redisLimiter(t *testing.T, limit, windowSeconds int) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	sc := cache.NewRedisFromClient(client, time.Minute, logger.Nop())
	return New("api", config.RateLimit{MaxRequests: limit, WindowSeconds: windowSeconds}, sc, logger.Nop()), mr
}

// TestAllow_EnforcesLimit: requests beyond the window limit are denied with a
// retry hint.
func TestAllow_EnforcesLimit(t *testing.T) {
	l, _ := redisLimiter(t, 5, 60)

	allowed, denied := 0, 0
	for i := 0; i < 10; i++ {
		d := l.Allow(context.Background(), "10.0.0.1")
		if d.Allowed {
			allowed++
		} else {
			denied++
			if d.RetryAfter <= 0 {
				t.Error("denied decision must carry a retry hint")
			}
		}
	}
	if allowed != 5 || denied != 5 {
		t.Errorf("want 5 allowed and 5 denied, got %d/%d", allowed, denied)
	}
}

// TestAllow_PerClientIsolation: one client exhausting its window does not
// affect another.
func TestAllow_PerClientIsolation(t *testing.T) {
	l, _ := redisLimiter(t, 3, 60)

	for i := 0; i < 3; i++ {
		if d := l.Allow(context.Background(), "10.0.0.1"); !d.Allowed {
			t.Fatalf("request %d for first client should pass", i)
		}
	}
	if d := l.Allow(context.Background(), "10.0.0.1"); d.Allowed {
		t.Error("first client should now be limited")
	}
	if d := l.Allow(context.Background(), "10.0.0.2"); !d.Allowed {
		t.Error("second client must have its own window")
	}
}

// TestAllow_WindowSlides: old entries expire out of the window and capacity
// returns.
func TestAllow_WindowSlides(t *testing.T) {
	l, mr := redisLimiter(t, 2, 10)

	for i := 0; i < 2; i++ {
		if d := l.Allow(context.Background(), "10.0.0.1"); !d.Allowed {
			t.Fatalf("request %d should pass", i)
		}
	}
	if d := l.Allow(context.Background(), "10.0.0.1"); d.Allowed {
		t.Fatal("third request inside window should be denied")
	}

	mr.FastForward(11 * time.Second)

	if d := l.Allow(context.Background(), "10.0.0.1"); !d.Allowed {
		t.Error("capacity should return after the window slides")
	}
}

// TestAllow_DeniedNotCounted: denied requests must not extend the lockout.
func TestAllow_DeniedNotCounted(t *testing.T) {
	l, mr := redisLimiter(t, 2, 10)

	l.Allow(context.Background(), "10.0.0.1")
	l.Allow(context.Background(), "10.0.0.1")
	// Hammer while denied; none of these may land in the window.
	for i := 0; i < 20; i++ {
		l.Allow(context.Background(), "10.0.0.1")
	}

	mr.FastForward(11 * time.Second)
	if d := l.Allow(context.Background(), "10.0.0.1"); !d.Allowed {
		t.Error("denied requests extended the window")
	}
}

// TestAllow_FallbackWithoutCache: with no reachable cache the in-process
// bucket still enforces the limit.
func TestAllow_FallbackWithoutCache(t *testing.T) {
	l := New("api", config.RateLimit{MaxRequests: 5, WindowSeconds: 60}, cache.NewNoop(), logger.Nop())

	allowed, denied := 0, 0
	for i := 0; i < 10; i++ {
		if l.Allow(context.Background(), "10.0.0.1").Allowed {
			allowed++
		} else {
			denied++
		}
	}
	if allowed != 5 || denied != 5 {
		t.Errorf("fallback: want 5 allowed and 5 denied, got %d/%d", allowed, denied)
	}
}

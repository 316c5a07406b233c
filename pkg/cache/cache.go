// Package cache provides the shared Valkey/Redis-backed cache used for
// cross-replica deduplication, rate limiting and LLM response caching. All
// callers must tolerate unavailability by degrading, not failing.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrCacheMiss is returned by Get when the key does not exist.
var ErrCacheMiss = errors.New("cache: key not found")

// ErrUnavailable is returned by the no-op cache and by implementations that
// lost their backend. Callers degrade on it.
var ErrUnavailable = errors.New("cache: unavailable")

// SharedCache is the process-wide cache contract.
type SharedCache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	// SetNX atomically sets the key only if absent. Returns true when set.
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error

	// Eval runs a server-side script atomically.
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error)

	// Sorted-set operations used by sliding windows.
	ZAdd(ctx context.Context, key string, score float64, member string) error
	ZRemRangeByScore(ctx context.Context, key, min, max string) (int64, error)
	ZCard(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// List operations used by the worker queue. BRPop returns ErrCacheMiss
	// when the timeout elapses with no element.
	LPush(ctx context.Context, key string, value interface{}) error
	BRPop(ctx context.Context, timeout time.Duration, key string) ([]byte, error)

	HealthCheck(ctx context.Context) error
	Close() error
}

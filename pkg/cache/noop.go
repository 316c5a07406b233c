package cache

import (
	"context"
	"time"
)

// noopCache stands in when no shared cache is configured or the backend could
// not be reached at startup. Every operation reports ErrUnavailable so
// callers take their degraded path.
type noopCache struct{}

// NewNoop returns a cache that is always unavailable.
func NewNoop() SharedCache { return noopCache{} }

func (noopCache) Get(context.Context, string) ([]byte, error) { return nil, ErrUnavailable }

func (noopCache) Set(context.Context, string, interface{}, time.Duration) error {
	return ErrUnavailable
}

func (noopCache) SetNX(context.Context, string, interface{}, time.Duration) (bool, error) {
	return false, ErrUnavailable
}

func (noopCache) Delete(context.Context, string) error { return ErrUnavailable }

func (noopCache) Eval(context.Context, string, []string, ...interface{}) (interface{}, error) {
	return nil, ErrUnavailable
}

func (noopCache) ZAdd(context.Context, string, float64, string) error { return ErrUnavailable }

func (noopCache) ZRemRangeByScore(context.Context, string, string, string) (int64, error) {
	return 0, ErrUnavailable
}

func (noopCache) ZCard(context.Context, string) (int64, error) { return 0, ErrUnavailable }

func (noopCache) Expire(context.Context, string, time.Duration) error { return ErrUnavailable }

func (noopCache) LPush(context.Context, string, interface{}) error { return ErrUnavailable }

func (noopCache) BRPop(context.Context, time.Duration, string) ([]byte, error) {
	return nil, ErrUnavailable
}

func (noopCache) HealthCheck(context.Context) error { return ErrUnavailable }

func (noopCache) Close() error { return nil }

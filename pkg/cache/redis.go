package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/sentinelops/remedy-core/internal/monitoring"
	"github.com/sentinelops/remedy-core/pkg/logger"
)

// redisCache implements SharedCache against a single Valkey/Redis node.
type redisCache struct {
	client *redis.Client
	logger logger.Logger
	ttl    time.Duration
}

// NewRedis connects to a single-node Valkey/Redis instance and verifies the
// connection with a ping.
func NewRedis(addr, password string, db int, defaultTTL time.Duration, log logger.Logger) (SharedCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to shared cache: %w", err)
	}

	return &redisCache{client: client, logger: log, ttl: defaultTTL}, nil
}

// NewRedisFromClient wraps an existing client. Used by tests with miniredis.
func NewRedisFromClient(client *redis.Client, defaultTTL time.Duration, log logger.Logger) SharedCache {
	return &redisCache{client: client, logger: log, ttl: defaultTTL}
}

func (c *redisCache) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		monitoring.RecordCacheOperation("get", "miss")
		return nil, fmt.Errorf("%w: %s", ErrCacheMiss, key)
	}
	if err != nil {
		monitoring.RecordCacheOperation("get", "error")
		return nil, err
	}
	monitoring.RecordCacheOperation("get", "hit")
	return b, nil
}

func (c *redisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := encode(value)
	if err != nil {
		monitoring.RecordCacheOperation("set", "error")
		return fmt.Errorf("marshal value for key %s: %w", key, err)
	}
	if ttl <= 0 {
		ttl = c.ttl
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		monitoring.RecordCacheOperation("set", "error")
		return err
	}
	monitoring.RecordCacheOperation("set", "success")
	return nil
}

func (c *redisCache) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	data, err := encode(value)
	if err != nil {
		return false, fmt.Errorf("marshal value for key %s: %w", key, err)
	}
	if ttl <= 0 {
		ttl = c.ttl
	}
	set, err := c.client.SetNX(ctx, key, data, ttl).Result()
	if err != nil {
		monitoring.RecordCacheOperation("setnx", "error")
		return false, err
	}
	if set {
		monitoring.RecordCacheOperation("setnx", "success")
	} else {
		monitoring.RecordCacheOperation("setnx", "conflict")
	}
	return set, nil
}

func (c *redisCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		monitoring.RecordCacheOperation("delete", "error")
		return err
	}
	monitoring.RecordCacheOperation("delete", "success")
	return nil
}

func (c *redisCache) Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error) {
	res, err := c.client.Eval(ctx, script, keys, args...).Result()
	if err != nil {
		monitoring.RecordCacheOperation("eval", "error")
		return nil, err
	}
	monitoring.RecordCacheOperation("eval", "success")
	return res, nil
}

func (c *redisCache) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return c.client.ZAdd(ctx, key, &redis.Z{Score: score, Member: member}).Err()
}

func (c *redisCache) ZRemRangeByScore(ctx context.Context, key, min, max string) (int64, error) {
	return c.client.ZRemRangeByScore(ctx, key, min, max).Result()
}

func (c *redisCache) ZCard(ctx context.Context, key string) (int64, error) {
	return c.client.ZCard(ctx, key).Result()
}

func (c *redisCache) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return c.client.Expire(ctx, key, ttl).Err()
}

func (c *redisCache) LPush(ctx context.Context, key string, value interface{}) error {
	data, err := encode(value)
	if err != nil {
		return fmt.Errorf("marshal value for key %s: %w", key, err)
	}
	if err := c.client.LPush(ctx, key, data).Err(); err != nil {
		monitoring.RecordCacheOperation("lpush", "error")
		return err
	}
	monitoring.RecordCacheOperation("lpush", "success")
	return nil
}

func (c *redisCache) BRPop(ctx context.Context, timeout time.Duration, key string) ([]byte, error) {
	vals, err := c.client.BRPop(ctx, timeout, key).Result()
	if err == redis.Nil {
		return nil, fmt.Errorf("%w: %s", ErrCacheMiss, key)
	}
	if err != nil {
		monitoring.RecordCacheOperation("brpop", "error")
		return nil, err
	}
	// BRPop returns [key, value].
	if len(vals) < 2 {
		return nil, fmt.Errorf("%w: %s", ErrCacheMiss, key)
	}
	monitoring.RecordCacheOperation("brpop", "success")
	return []byte(vals[1]), nil
}

func (c *redisCache) HealthCheck(ctx context.Context) error {
	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	return c.client.Ping(ctx).Err()
}

func (c *redisCache) Close() error { return c.client.Close() }

func encode(value interface{}) ([]byte, error) {
	switch x := value.(type) {
	case []byte:
		return x, nil
	case string:
		return []byte(x), nil
	default:
		return json.Marshal(x)
	}
}

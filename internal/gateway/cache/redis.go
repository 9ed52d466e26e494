package cache

import (
	"context"
	"errors"
	"time"

	"github.com/mrmushfiq/ai-gateway/internal/shared/redis"
)

// DefaultRedisPrefix namespaces the gateway keys.
const DefaultRedisPrefix = "cache:exact:"

// Redis stores entries as Redis strings with a key TTL. Redis expires keys
// on its own, so Sweep does nothing.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis returns a Redis backend. An empty prefix uses DefaultRedisPrefix.
func NewRedis(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) Name() string { return "redis" }

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.client.Get(ctx, r.prefix+key)
	if errors.Is(err, redis.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, data []byte, _ time.Time, ttl time.Duration) error {
	return r.client.Set(ctx, r.prefix+key, data, ttl)
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.prefix+key)
}

func (r *Redis) Clear(ctx context.Context) (int, error) {
	return r.client.DeletePrefix(ctx, r.prefix)
}

func (r *Redis) Sweep(context.Context, time.Time) (int, error) { return 0, nil }

func (r *Redis) Len(ctx context.Context) (int, error) {
	return r.client.CountPrefix(ctx, r.prefix)
}

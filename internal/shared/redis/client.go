package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrKeyNotFound is returned by Get for a missing key.
var ErrKeyNotFound = errors.New("key not found")

type Client struct {
	client *redis.Client
}

// New creates a new Redis client
func New(ctx context.Context, redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("Redis ping failed: %w", err)
	}

	return &Client{client: client}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.client.Close()
}

// Ping checks the connection.
func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Get retrieves a value by key
func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

// Set stores a value with TTL. A zero TTL keeps the key forever.
func (c *Client) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

// Del removes keys.
func (c *Client) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

// scanPrefix calls fn with batches of keys starting with prefix.
func (c *Client) scanPrefix(ctx context.Context, prefix string, fn func(keys []string) error) error {
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, prefix+"*", 200).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := fn(keys); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// DeletePrefix removes every key under prefix and returns how many were
// removed.
func (c *Client) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	removed := 0
	err := c.scanPrefix(ctx, prefix, func(keys []string) error {
		n, err := c.client.Del(ctx, keys...).Result()
		removed += int(n)
		return err
	})
	return removed, err
}

// CountPrefix counts the keys under prefix.
func (c *Client) CountPrefix(ctx context.Context, prefix string) (int, error) {
	count := 0
	err := c.scanPrefix(ctx, prefix, func(keys []string) error {
		count += len(keys)
		return nil
	})
	return count, err
}

// CheckRateLimit counts one request for id in a fixed one-minute window.
// It reports whether the limit is exceeded and how many requests remain.
func (c *Client) CheckRateLimit(ctx context.Context, id string, limit int) (bool, int, error) {
	key := fmt.Sprintf("ratelimit:%s", id)

	count, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return false, 0, err
	}
	// first request in this window
	if count == 1 {
		if err := c.client.Expire(ctx, key, time.Minute).Err(); err != nil {
			return false, 0, err
		}
	}

	if count > int64(limit) {
		return true, 0, nil
	}
	return false, limit - int(count), nil
}

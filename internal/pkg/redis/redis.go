package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Nil is returned by Raw() commands for missing keys.
const Nil = redis.Nil

// Client wraps go-redis for the application. Every key is namespaced with
// the client prefix.
type Client struct {
	rdb    *redis.Client
	prefix string
}

// Connect creates a Redis client and verifies connectivity.
func Connect(url, prefix string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	rdb := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb, prefix: prefix}, nil
}

// Raw returns the underlying redis.Client for advanced usage.
func (c *Client) Raw() *redis.Client { return c.rdb }

// Key prefixes k with the client namespace.
func (c *Client) Key(k string) string { return c.prefix + k }

// Set stores a value with optional TTL (0 = no expiry).
func (c *Client) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return c.rdb.Set(ctx, c.Key(key), value, ttl).Err()
}

// Get retrieves a string value. Returns ("", nil) if key does not exist.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	val, err := c.rdb.Get(ctx, c.Key(key)).Result()
	if err == redis.Nil {
		return "", nil
	}
	return val, err
}

// Del deletes one or more keys.
func (c *Client) Del(ctx context.Context, keys ...string) error {
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.Key(k)
	}
	return c.rdb.Del(ctx, full...).Err()
}

// SetNX stores value only when key is absent and reports whether it did.
func (c *Client) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, c.Key(key), value, ttl).Result()
}

// Incr increments key, setting ttl when the key is created.
func (c *Client) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	full := c.Key(key)
	count, err := c.rdb.Incr(ctx, full).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 && ttl > 0 {
		c.rdb.PExpire(ctx, full, ttl)
	}
	return count, nil
}

// Publish sends a message to a Redis pub/sub channel.
func (c *Client) Publish(ctx context.Context, channel string, message interface{}) error {
	return c.rdb.Publish(ctx, c.Key(channel), message).Err()
}

// Subscribe returns a pub/sub subscription for the given channels.
func (c *Client) Subscribe(ctx context.Context, channels ...string) *redis.PubSub {
	full := make([]string, len(channels))
	for i, ch := range channels {
		full[i] = c.Key(ch)
	}
	return c.rdb.Subscribe(ctx, full...)
}

func (c *Client) Close() error { return c.rdb.Close() }

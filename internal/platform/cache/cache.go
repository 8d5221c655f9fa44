// Package cache provides Redis-based caching for read-mostly portal data such
// as hospital dropdown options and dashboard measures.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrMiss is returned by Get when the key is absent or caching is disabled.
var ErrMiss = errors.New("cache miss")

type Cache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	DeletePrefix(ctx context.Context, prefix string) error
	Ping(ctx context.Context) error
}

// Redis stores JSON-encoded values under a shared key prefix.
type Redis struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedis connects using a redis:// URL and verifies the connection.
func NewRedis(ctx context.Context, url, keyPrefix string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return NewRedisFromClient(client, keyPrefix), nil
}

func NewRedisFromClient(client *redis.Client, keyPrefix string) *Redis {
	if keyPrefix == "" {
		keyPrefix = "compass"
	}
	return &Redis{client: client, keyPrefix: keyPrefix}
}

func (c *Redis) Close() error {
	return c.client.Close()
}

func (c *Redis) key(k string) string {
	return c.keyPrefix + ":" + k
}

func (c *Redis) Get(ctx context.Context, key string, dest interface{}) error {
	data, err := c.client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrMiss
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

func (c *Redis) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(key), data, ttl).Err()
}

func (c *Redis) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.key(k)
	}
	return c.client.Del(ctx, full...).Err()
}

// DeletePrefix removes every key that starts with prefix.
func (c *Redis) DeletePrefix(ctx context.Context, prefix string) error {
	iter := c.client.Scan(ctx, 0, c.key(prefix)+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

func (c *Redis) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Nop is used when REDIS_URL is unset. Every Get misses.
type Nop struct{}

func (Nop) Get(context.Context, string, interface{}) error { return ErrMiss }

func (Nop) Set(context.Context, string, interface{}, time.Duration) error { return nil }

func (Nop) Delete(context.Context, ...string) error { return nil }

func (Nop) DeletePrefix(context.Context, string) error { return nil }

func (Nop) Ping(context.Context) error { return nil }

// Remember returns the cached value for key, or calls load and caches its
// result. Cache failures are not fatal: load still runs and its value is
// returned. hit reports whether the value came from the cache.
func Remember[T any](ctx context.Context, c Cache, key string, ttl time.Duration, load func(context.Context) (T, error)) (value T, hit bool, err error) {
	if c == nil {
		c = Nop{}
	}
	if err := c.Get(ctx, key, &value); err == nil {
		return value, true, nil
	}
	value, err = load(ctx)
	if err != nil {
		return value, false, err
	}
	_ = c.Set(ctx, key, value, ttl)
	return value, false, nil
}

// TenantKey namespaces a key by tenant so districts never see each other's data.
func TenantKey(tenantID string, parts ...string) string {
	k := "t:" + tenantID
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

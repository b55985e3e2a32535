// Package cache provides a Redis-backed cache-aside layer.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache provides caching operations using Redis.
type Cache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	stats  stats
}

type stats struct {
	hits    atomic.Uint64
	misses  atomic.Uint64
	sets    atomic.Uint64
	deletes atomic.Uint64
	errors  atomic.Uint64
}

// StatsSnapshot is a point-in-time copy of the cache counters.
type StatsSnapshot struct {
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	Sets    uint64  `json:"sets"`
	Deletes uint64  `json:"deletes"`
	Errors  uint64  `json:"errors"`
	HitRate float64 `json:"hit_rate"`
}

// New creates a new cache instance.
func New(client *redis.Client, prefix string, ttl time.Duration) *Cache {
	return &Cache{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

// Get decodes the cached value for key into dest and reports whether it
// was found.
func (c *Cache) Get(ctx context.Context, key string, dest any) (bool, error) {
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			c.stats.misses.Add(1)
			return false, nil
		}
		c.stats.errors.Add(1)
		return false, fmt.Errorf("cache get error: %w", err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		c.stats.errors.Add(1)
		return false, fmt.Errorf("cache unmarshal error: %w", err)
	}

	c.stats.hits.Add(1)
	return true, nil
}

// Set stores value under key with the default TTL.
func (c *Cache) Set(ctx context.Context, key string, value any) error {
	return c.SetWithTTL(ctx, key, value, c.ttl)
}

// SetWithTTL stores value under key with a custom TTL.
func (c *Cache) SetWithTTL(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		c.stats.errors.Add(1)
		return fmt.Errorf("cache marshal error: %w", err)
	}

	if err := c.client.Set(ctx, c.prefix+key, data, ttl).Err(); err != nil {
		c.stats.errors.Add(1)
		return fmt.Errorf("cache set error: %w", err)
	}

	c.stats.sets.Add(1)
	return nil
}

// Delete removes keys from the cache.
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.prefix + k
	}

	n, err := c.client.Del(ctx, full...).Result()
	if err != nil {
		c.stats.errors.Add(1)
		return fmt.Errorf("cache delete error: %w", err)
	}

	c.stats.deletes.Add(uint64(n))
	return nil
}

// Stats returns the current counters.
func (c *Cache) Stats() StatsSnapshot {
	hits := c.stats.hits.Load()
	misses := c.stats.misses.Load()

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	return StatsSnapshot{
		Hits:    hits,
		Misses:  misses,
		Sets:    c.stats.sets.Load(),
		Deletes: c.stats.deletes.Load(),
		Errors:  c.stats.errors.Load(),
		HitRate: hitRate,
	}
}

// Ping checks if the Redis connection is healthy.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis client connection.
func (c *Cache) Close() error {
	return c.client.Close()
}

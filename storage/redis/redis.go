// Package redis provides a Redis implementation of the
// entitlement.UsageCounter interface. Counters are plain INCR keys scoped
// to a user and calendar month; the TTL keeps stale months from
// accumulating forever.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Counter implements entitlement.UsageCounter using Redis
type Counter struct {
	client redis.UniversalClient
	config Config
}

// Config holds Redis counter configuration
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "billingsync:")
	KeyPrefix string

	// CounterTTL is the TTL set on a month's counter at first increment.
	// Months roll over naturally; the TTL only garbage-collects old keys,
	// so it must comfortably exceed one month (default: 62 days).
	CounterTTL time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		KeyPrefix:  "billingsync:",
		CounterTTL: 62 * 24 * time.Hour,
	}
}

// New creates a new Redis usage counter.
// The client can be *redis.Client, *redis.ClusterClient, or *redis.Ring
func New(client redis.UniversalClient, config Config) (*Counter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "billingsync:"
	}
	if config.CounterTTL == 0 {
		config.CounterTTL = 62 * 24 * time.Hour
	}
	return &Counter{client: client, config: config}, nil
}

// IncrAIInteractions implements entitlement.UsageCounter
func (c *Counter) IncrAIInteractions(ctx context.Context, userID, month string) (int, error) {
	key := c.usageKey(userID, month)
	n, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("incr usage: %w", err)
	}
	if n == 1 {
		// First increment of the month owns the TTL
		if err := c.client.Expire(ctx, key, c.config.CounterTTL).Err(); err != nil {
			return int(n), fmt.Errorf("set usage ttl: %w", err)
		}
	}
	return int(n), nil
}

// CountAIInteractions implements entitlement.UsageCounter
func (c *Counter) CountAIInteractions(ctx context.Context, userID, month string) (int, error) {
	n, err := c.client.Get(ctx, c.usageKey(userID, month)).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get usage: %w", err)
	}
	return n, nil
}

func (c *Counter) usageKey(userID, month string) string {
	return fmt.Sprintf("%sai_usage:%s:%s", c.config.KeyPrefix, userID, month)
}

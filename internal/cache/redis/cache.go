// Package redis provides a Redis-backed result cache for multi-instance
// deployments.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/migrapass/checkgate/internal/gateway"
)

// Config controls the Redis connection and entry retention.
type Config struct {
	URL          string
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Retention    time.Duration
}

// Cache implements gateway.Cache on top of go-redis. Entries live for the
// retention window, not the check TTL, so expired snapshots remain
// available as stale fallbacks.
type Cache struct {
	client    *redis.Client
	retention time.Duration
}

// New creates a Cache from the provided configuration and verifies the
// connection. Returns nil if the URL is empty (Redis not configured).
func New(ctx context.Context, cfg Config) (*Cache, error) {
	if cfg.URL == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if cfg.ReadTimeout > 0 {
		opts.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		opts.WriteTimeout = cfg.WriteTimeout
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	retention := cfg.Retention
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	return &Cache{client: client, retention: retention}, nil
}

// Get fetches and decodes the entry for key.
func (c *Cache) Get(ctx context.Context, key string) (gateway.CacheEntry, bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return gateway.CacheEntry{}, false, nil
	}
	if err != nil {
		return gateway.CacheEntry{}, false, fmt.Errorf("redis get: %w", err)
	}
	var entry gateway.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return gateway.CacheEntry{}, false, fmt.Errorf("decode cache entry: %w", err)
	}
	return entry, true, nil
}

// Set encodes and stores the entry for the retention window.
func (c *Cache) Set(ctx context.Context, key string, entry gateway.CacheEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	if err := c.client.Set(ctx, key, data, c.retention).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete removes the entry for key.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Health checks the Redis connection.
func (c *Cache) Health(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	return c.client.Close()
}

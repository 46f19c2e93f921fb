// Package redis provides the client behind the settings read-through cache.
// The cache is optional: a tenant policy read always works against postgres
// alone, just slower.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"dosegate/internal/platform/config"
)

// Client wraps go-redis so the readiness probe can ping it.
type Client struct {
	*redis.Client
}

// New connects and verifies the connection. An empty URL means the cache is
// not configured; callers get a nil client and skip caching.
func New(cfg config.RedisConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &Client{Client: client}, nil
}

// Health reports whether the cache is reachable. Used by the readiness probe.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return c.Ping(ctx).Err()
}

func (c *Client) Close() error {
	return c.Client.Close()
}

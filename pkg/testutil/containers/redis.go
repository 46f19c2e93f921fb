//go:build integration

package containers

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

// RedisContainer backs the settings-cache integration suites with a throwaway
// redis instance.
type RedisContainer struct {
	Container testcontainers.Container
	URL       string
	Client    *redis.Client
}

// NewRedisContainer starts a redis container and returns a connected client.
// There is no t.Cleanup: the container outlives the suite and Ryuk reaps it.
func NewRedisContainer(t *testing.T) *RedisContainer {
	t.Helper()
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("start redis container: %v", err)
	}

	url, err := container.ConnectionString(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("redis connection string: %v", err)
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("parse redis URL %q: %v", url, err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		_ = container.Terminate(ctx)
		t.Fatalf("ping redis: %v", err)
	}

	return &RedisContainer{Container: container, URL: url, Client: client}
}

// FlushAll clears every key. Suites call it from SetupTest so cached policy
// from one test never leaks into the next.
func (r *RedisContainer) FlushAll(ctx context.Context) error {
	return r.Client.FlushAll(ctx).Err()
}

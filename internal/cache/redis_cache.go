package cache

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// SnapshotCache stores short-lived JSON snapshots of catalog reads so the
// terminal-facing endpoints do not hammer the database between changes.
type SnapshotCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error
}

type RedisSnapshotCache struct {
	client *redis.Client
}

func NewRedisSnapshotCache(addr string, password string, db int) *RedisSnapshotCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisSnapshotCache{client: client}
}

func (c *RedisSnapshotCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisSnapshotCache) Close() error {
	return c.client.Close()
}

func (c *RedisSnapshotCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (c *RedisSnapshotCache) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	if len(payload) == 0 {
		return nil
	}
	return c.client.Set(ctx, key, payload, ttl).Err()
}

// NoopSnapshotCache is used when no Redis address is configured; every read
// misses and writes vanish.
type NoopSnapshotCache struct{}

func (NoopSnapshotCache) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, nil
}

func (NoopSnapshotCache) Set(context.Context, string, []byte, time.Duration) error {
	return nil
}

package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisDigestCache memoizes file content digests. Entries are keyed by the
// caller's (path, size, mtime) composite, so a TTL is only a safety net
// against unbounded growth.
type RedisDigestCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDigestCache creates a digest cache with a 24h retention.
func NewRedisDigestCache(client *redis.Client) *RedisDigestCache {
	return &RedisDigestCache{client: client, ttl: 24 * time.Hour}
}

func digestKey(key string) string { return "dl:digest:" + key }

func (c *RedisDigestCache) Get(ctx context.Context, key string) (string, error) {
	v, err := c.client.Get(ctx, digestKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return v, nil
}

func (c *RedisDigestCache) Set(ctx context.Context, key, digest string) error {
	return c.client.Set(ctx, digestKey(key), digest, c.ttl).Err()
}

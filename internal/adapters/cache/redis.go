package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const dialTimeout = 5 * time.Second

// Connect dials the Redis instance that holds the gateway's shared state:
// live download tokens, cooldown markers and the active-transfer counter.
// The address may be a redis:// or rediss:// URL or a bare host:port; a
// poolSize of zero keeps the client's default sizing. The connection is
// verified with a ping before any store is built on it, since every
// admission decision depends on this instance answering.
func Connect(ctx context.Context, redisURL string, poolSize int) (*redis.Client, error) {
	opt := &redis.Options{Addr: redisURL}
	if strings.Contains(redisURL, "://") {
		parsed, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opt = parsed
	}
	opt.DialTimeout = dialTimeout
	if poolSize > 0 {
		opt.PoolSize = poolSize
	}

	client := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRateLimiter implements the issuance cooldown as a NX key with the
// cooldown window as its TTL. The write and the check are one command, so
// two racing requests from the same session cannot both pass.
type RedisRateLimiter struct {
	client *redis.Client
	window time.Duration
}

// NewRedisRateLimiter creates a cooldown limiter with the given window.
func NewRedisRateLimiter(client *redis.Client, window time.Duration) *RedisRateLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &RedisRateLimiter{client: client, window: window}
}

func cooldownKey(sessionID string) string { return "dl:cooldown:" + sessionID }

func (l *RedisRateLimiter) CheckAndRecord(ctx context.Context, sessionID string) (time.Duration, error) {
	ok, err := l.client.SetNX(ctx, cooldownKey(sessionID), time.Now().Unix(), l.window).Result()
	if err != nil {
		return 0, err
	}
	if ok {
		return 0, nil
	}

	wait, err := l.client.PTTL(ctx, cooldownKey(sessionID)).Result()
	if err != nil {
		return 0, err
	}
	if wait <= 0 {
		// The key expired between the SETNX and the PTTL; take the slot now.
		ok, err = l.client.SetNX(ctx, cooldownKey(sessionID), time.Now().Unix(), l.window).Result()
		if err != nil {
			return 0, err
		}
		if ok {
			return 0, nil
		}
		wait = l.window
	}
	return wait, nil
}

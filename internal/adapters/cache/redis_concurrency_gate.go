package cache

import (
	"context"

	"github.com/redis/go-redis/v9"
)

const activeKey = "dl:active"

// releaseScript decrements the shared counter floored at zero, so an
// external reset cannot drive it negative.
var releaseScript = redis.NewScript(`
local v = tonumber(redis.call('GET', KEYS[1]) or '0')
if v > 0 then
  return redis.call('DECR', KEYS[1])
end
return 0
`)

// RedisConcurrencyGate is the cross-instance transfer ceiling. INCR is
// atomic, so over-admission is impossible: a caller that pushes the counter
// past the ceiling immediately backs its increment out and is refused.
type RedisConcurrencyGate struct {
	client *redis.Client
	max    int64
}

// NewRedisConcurrencyGate creates a gate with the given ceiling.
func NewRedisConcurrencyGate(client *redis.Client, max int) *RedisConcurrencyGate {
	if max <= 0 {
		max = 5
	}
	return &RedisConcurrencyGate{client: client, max: int64(max)}
}

func (g *RedisConcurrencyGate) TryAcquire(ctx context.Context) (bool, error) {
	v, err := g.client.Incr(ctx, activeKey).Result()
	if err != nil {
		return false, err
	}
	if v > g.max {
		if _, err := releaseScript.Run(ctx, g.client, []string{activeKey}).Result(); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (g *RedisConcurrencyGate) Release(ctx context.Context) error {
	_, err := releaseScript.Run(ctx, g.client, []string{activeKey}).Result()
	return err
}

package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/toolvault/download-gateway/internal/domain"
)

// redeemScript validates and consumes the session's token in one atomic
// step, so concurrent redemptions of the same token serialize server-side:
// the first caller gets "ok", the rest see the key gone.
var redeemScript = redis.NewScript(`
local vals = redis.call('HMGET', KEYS[1], 'token', 'tool_id', 'expires_at')
if not vals[1] then
  return 'notfound'
end
if vals[1] ~= ARGV[1] or vals[2] ~= ARGV[2] then
  return 'mismatch'
end
if tonumber(vals[3]) <= tonumber(ARGV[3]) then
  redis.call('DEL', KEYS[1])
  return 'expired'
end
redis.call('DEL', KEYS[1])
return 'ok'
`)

// RedisTokenStore keeps the single live download token per session in a
// Redis hash with a TTL slightly past the token expiry.
type RedisTokenStore struct {
	client *redis.Client
}

// NewRedisTokenStore creates a token store backed by Redis hashes.
func NewRedisTokenStore(client *redis.Client) *RedisTokenStore {
	return &RedisTokenStore{client: client}
}

func tokenKey(sessionID string) string { return "dl:token:" + sessionID }

func (s *RedisTokenStore) Put(ctx context.Context, token domain.DownloadToken) error {
	ttl := time.Until(token.ExpiresAt) + time.Minute
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		key := tokenKey(token.SessionID)
		p.Del(ctx, key)
		p.HSet(ctx, key,
			"token", token.Token,
			"tool_id", token.ToolID,
			"expires_at", token.ExpiresAt.Unix(),
		)
		p.Expire(ctx, key, ttl)
		return nil
	})
	return err
}

func (s *RedisTokenStore) Redeem(ctx context.Context, sessionID, token, toolID string, now time.Time) error {
	res, err := redeemScript.Run(ctx, s.client,
		[]string{tokenKey(sessionID)},
		token, toolID, now.Unix(),
	).Text()
	if err != nil {
		return fmt.Errorf("%w: redeem script: %v", domain.ErrUnavailable, err)
	}
	switch res {
	case "ok":
		return nil
	case "expired":
		return domain.ErrTokenExpired
	case "mismatch":
		return domain.ErrTokenMismatch
	default:
		return domain.ErrTokenNotFound
	}
}

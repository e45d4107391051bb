package integration

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/toolvault/download-gateway/internal/adapters/cache"
	"github.com/toolvault/download-gateway/internal/domain"
)

// redisClient connects to the instance named by REDIS_URL, or skips the
// test when none is configured. These tests exercise the Lua scripts and
// NX-key semantics that the in-memory suites cannot vouch for.
func redisClient(t *testing.T) *redis.Client {
	t.Helper()

	redisURL := readEnv(t, "REDIS_URL")
	client, err := cache.Connect(context.Background(), redisURL, 0)
	if err != nil {
		t.Fatalf("connect redis at %s: %v", redisURL, err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func readEnv(t *testing.T, name string) string {
	t.Helper()
	value := os.Getenv(name)
	if value == "" {
		t.Skipf("%s not set; skipping redis integration test", name)
	}
	return value
}

func TestRedisTokenStoreRedeemOnce(t *testing.T) {
	t.Parallel()

	client := redisClient(t)
	store := cache.NewRedisTokenStore(client)
	ctx := context.Background()

	sessionID := uuid.NewString()
	now := time.Now().UTC()
	token := domain.DownloadToken{
		Token:     uuid.NewString(),
		ToolID:    "win10",
		SessionID: sessionID,
		IssuedAt:  now,
		ExpiresAt: now.Add(5 * time.Minute),
	}
	if err := store.Put(ctx, token); err != nil {
		t.Fatalf("put token: %v", err)
	}

	if err := store.Redeem(ctx, sessionID, token.Token, "win10", now); err != nil {
		t.Fatalf("first redemption failed: %v", err)
	}
	if err := store.Redeem(ctx, sessionID, token.Token, "win10", now); !errors.Is(err, domain.ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound on second redemption, got %v", err)
	}
}

func TestRedisTokenStoreRejectsMismatchWithoutConsuming(t *testing.T) {
	t.Parallel()

	client := redisClient(t)
	store := cache.NewRedisTokenStore(client)
	ctx := context.Background()

	sessionID := uuid.NewString()
	now := time.Now().UTC()
	token := domain.DownloadToken{
		Token:     uuid.NewString(),
		ToolID:    "win10",
		SessionID: sessionID,
		IssuedAt:  now,
		ExpiresAt: now.Add(5 * time.Minute),
	}
	if err := store.Put(ctx, token); err != nil {
		t.Fatalf("put token: %v", err)
	}

	if err := store.Redeem(ctx, sessionID, token.Token, "diskcheck", now); !errors.Is(err, domain.ErrTokenMismatch) {
		t.Fatalf("expected ErrTokenMismatch for wrong tool, got %v", err)
	}
	if err := store.Redeem(ctx, sessionID, "bogus-token", "win10", now); !errors.Is(err, domain.ErrTokenMismatch) {
		t.Fatalf("expected ErrTokenMismatch for wrong token, got %v", err)
	}

	// The mismatches must not have consumed the stored token.
	if err := store.Redeem(ctx, sessionID, token.Token, "win10", now); err != nil {
		t.Fatalf("valid redemption after mismatches failed: %v", err)
	}
}

func TestRedisTokenStoreExpiry(t *testing.T) {
	t.Parallel()

	client := redisClient(t)
	store := cache.NewRedisTokenStore(client)
	ctx := context.Background()

	sessionID := uuid.NewString()
	now := time.Now().UTC()
	token := domain.DownloadToken{
		Token:     uuid.NewString(),
		ToolID:    "win10",
		SessionID: sessionID,
		IssuedAt:  now.Add(-6 * time.Minute),
		ExpiresAt: now.Add(-time.Second),
	}
	if err := store.Put(ctx, token); err != nil {
		t.Fatalf("put token: %v", err)
	}

	if err := store.Redeem(ctx, sessionID, token.Token, "win10", now); !errors.Is(err, domain.ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
	// Expiry consumes the key; the next attempt sees nothing.
	if err := store.Redeem(ctx, sessionID, token.Token, "win10", now); !errors.Is(err, domain.ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound after expired cleanup, got %v", err)
	}
}

func TestRedisConcurrencyGateCeilingAndFloor(t *testing.T) {
	// Not parallel: the gate counter is a single shared key.

	client := redisClient(t)
	gate := cache.NewRedisConcurrencyGate(client, 2)
	ctx := context.Background()

	if err := client.Del(ctx, "dl:active").Err(); err != nil {
		t.Fatalf("reset active counter: %v", err)
	}
	t.Cleanup(func() { _ = client.Del(ctx, "dl:active").Err() })

	// Release on an empty gate must floor at zero, not go negative.
	if err := gate.Release(ctx); err != nil {
		t.Fatalf("release on empty gate: %v", err)
	}

	for i := 0; i < 2; i++ {
		ok, err := gate.TryAcquire(ctx)
		if err != nil || !ok {
			t.Fatalf("acquire %d: ok=%v err=%v", i+1, ok, err)
		}
	}
	if ok, err := gate.TryAcquire(ctx); err != nil || ok {
		t.Fatalf("expected refusal at the ceiling: ok=%v err=%v", ok, err)
	}

	// The refused acquire must have rolled its increment back.
	if v, err := client.Get(ctx, "dl:active").Int64(); err != nil || v != 2 {
		t.Fatalf("expected counter 2 after refusal, got %d (err=%v)", v, err)
	}

	if err := gate.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if ok, err := gate.TryAcquire(ctx); err != nil || !ok {
		t.Fatalf("expected admission after release: ok=%v err=%v", ok, err)
	}
}

func TestRedisRateLimiterCooldown(t *testing.T) {
	t.Parallel()

	client := redisClient(t)
	window := 2 * time.Second
	limiter := cache.NewRedisRateLimiter(client, window)
	ctx := context.Background()

	sessionID := uuid.NewString()
	wait, err := limiter.CheckAndRecord(ctx, sessionID)
	if err != nil || wait != 0 {
		t.Fatalf("first request should pass: wait=%s err=%v", wait, err)
	}

	wait, err = limiter.CheckAndRecord(ctx, sessionID)
	if err != nil {
		t.Fatalf("second request errored: %v", err)
	}
	if wait <= 0 || wait > window {
		t.Fatalf("expected wait in (0, %s], got %s", window, wait)
	}

	time.Sleep(window + 100*time.Millisecond)
	if wait, err = limiter.CheckAndRecord(ctx, sessionID); err != nil || wait != 0 {
		t.Fatalf("request after window should pass: wait=%s err=%v", wait, err)
	}
}

func TestRedisDigestCacheRoundTrip(t *testing.T) {
	t.Parallel()

	client := redisClient(t)
	dc := cache.NewRedisDigestCache(client)
	ctx := context.Background()

	key := uuid.NewString()
	if v, err := dc.Get(ctx, key); err != nil || v != "" {
		t.Fatalf("expected empty miss, got %q (err=%v)", v, err)
	}
	if err := dc.Set(ctx, key, "abc123"); err != nil {
		t.Fatalf("set digest: %v", err)
	}
	if v, err := dc.Get(ctx, key); err != nil || v != "abc123" {
		t.Fatalf("expected cached digest, got %q (err=%v)", v, err)
	}
}

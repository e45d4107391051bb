package ports

import (
	"context"
	"time"

	"github.com/toolvault/download-gateway/internal/domain"
)

// TokenStore holds at most one live download token per session.
// Put overwrites any previous token for the same session.
type TokenStore interface {
	Put(ctx context.Context, token domain.DownloadToken) error
	// Redeem atomically validates and consumes the session's token.
	// First redemption wins; a racing second caller must observe the token
	// as already consumed. Returns nil on success, otherwise
	// domain.ErrTokenNotFound, domain.ErrTokenExpired or domain.ErrTokenMismatch.
	Redeem(ctx context.Context, sessionID, token, toolID string, now time.Time) error
}

// RateLimiter enforces the per-session cooldown between token issuances.
// CheckAndRecord returns zero when the request is allowed (recording the
// issuance as a side effect) or the remaining wait when it is not.
type RateLimiter interface {
	CheckAndRecord(ctx context.Context, sessionID string) (time.Duration, error)
}

// ConcurrencyGate is the global ceiling on simultaneously active transfers.
// Implementations must update the shared counter atomically; read-modify-write
// against a plain file is exactly the race this interface exists to prevent.
type ConcurrencyGate interface {
	TryAcquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// DigestCache memoizes content digests keyed by (path, size, mtime) so
// multi-gigabyte files are not re-hashed on every transfer. Misses return
// an empty digest and no error.
type DigestCache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, digest string) error
}

// AuditSink appends one entry per initiated transfer. Best-effort: callers
// log and count failures but never abort a transfer on a sink error.
type AuditSink interface {
	Record(ctx context.Context, entry domain.AuditEntry) error
}

package memory

import (
	"context"
	"sync"
	"time"

	"github.com/toolvault/download-gateway/internal/domain"
)

// TokenStore is the in-process token store: one live token per session
// behind a single lock. The lock covers the whole redeem path, which is
// what makes rapid double redemptions first-come-first-served.
type TokenStore struct {
	mu     sync.Mutex
	tokens map[string]domain.DownloadToken

	sweepEvery time.Duration
	lastSweep  time.Time
}

// NewTokenStore creates an empty in-memory token store.
func NewTokenStore() *TokenStore {
	return &TokenStore{
		tokens:     make(map[string]domain.DownloadToken),
		sweepEvery: time.Minute,
	}
}

func (s *TokenStore) Put(_ context.Context, token domain.DownloadToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked(token.IssuedAt)
	s.tokens[token.SessionID] = token
	return nil
}

func (s *TokenStore) Redeem(_ context.Context, sessionID, token, toolID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked(now)

	stored, ok := s.tokens[sessionID]
	if !ok {
		return domain.ErrTokenNotFound
	}
	if stored.Token != token || stored.ToolID != toolID {
		return domain.ErrTokenMismatch
	}
	if stored.Expired(now) {
		delete(s.tokens, sessionID)
		return domain.ErrTokenExpired
	}
	delete(s.tokens, sessionID)
	return nil
}

// sweepLocked drops expired tokens opportunistically so abandoned sessions
// do not accumulate. Redis gets this for free from key TTLs.
func (s *TokenStore) sweepLocked(now time.Time) {
	if now.Sub(s.lastSweep) < s.sweepEvery {
		return
	}
	s.lastSweep = now
	for sid, tok := range s.tokens {
		if tok.Expired(now) {
			delete(s.tokens, sid)
		}
	}
}

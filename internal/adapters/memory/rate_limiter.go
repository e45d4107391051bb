package memory

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is the in-process cooldown store. Construction-time injection
// replaces the original's ambient per-session state; the clock is swappable
// for tests.
type RateLimiter struct {
	mu     sync.Mutex
	last   map[string]time.Time
	window time.Duration
	nowFn  func() time.Time
}

// NewRateLimiter creates a cooldown limiter with the given window.
func NewRateLimiter(window time.Duration) *RateLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		last:   make(map[string]time.Time),
		window: window,
		nowFn:  time.Now,
	}
}

// WithClock overrides the limiter's clock. Test hook.
func (l *RateLimiter) WithClock(nowFn func() time.Time) *RateLimiter {
	l.nowFn = nowFn
	return l
}

func (l *RateLimiter) CheckAndRecord(_ context.Context, sessionID string) (time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFn()
	if last, ok := l.last[sessionID]; ok {
		if elapsed := now.Sub(last); elapsed < l.window {
			return l.window - elapsed, nil
		}
	}
	l.last[sessionID] = now
	return 0, nil
}

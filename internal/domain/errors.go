package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when a tool id is unknown or its file is gone.
	// Keeping this sentinel in domain allows adapters to map it consistently to 404.
	ErrNotFound = errors.New("resource not found")
	// ErrTokenNotFound means the session has no live download token.
	ErrTokenNotFound = errors.New("download token not found")
	// ErrTokenExpired means the stored token passed its validity window.
	ErrTokenExpired = errors.New("download token expired")
	// ErrTokenMismatch hides whether the token value or the tool id failed.
	// A token issued for one tool must never redeem another, and a leaked
	// token value is useless without the issuing session.
	ErrTokenMismatch = errors.New("download token mismatch")
	// ErrTooBusy signals the global transfer ceiling is reached.
	ErrTooBusy = errors.New("too many concurrent downloads")
	// ErrRateLimited signals the per-session cooldown is still active.
	ErrRateLimited = errors.New("rate limited")
	// ErrUnreadable is returned when a cataloged file cannot be opened or read.
	ErrUnreadable = errors.New("file unreadable")
	// ErrUnavailable covers backing-store outages (catalog, token store).
	// The gateway degrades to unavailable responses instead of crashing.
	ErrUnavailable  = errors.New("service unavailable")
	ErrInvalidInput = errors.New("invalid input")
)

// RateLimitError carries the remaining cooldown so the front-end can render
// a countdown. It unwraps to ErrRateLimited for uniform error mapping.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited: retry in %ds", e.RetrySeconds())
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// RetrySeconds rounds the wait up to whole seconds, never below one.
func (e *RateLimitError) RetrySeconds() int {
	s := int((e.RetryAfter + time.Second - 1) / time.Second)
	if s < 1 {
		s = 1
	}
	return s
}

package security

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SessionSigner implements HS256 signing for the download session cookie.
// The key is held at adapter level so application code stays crypto-library
// agnostic.
type SessionSigner struct {
	key []byte
}

// NewSessionSigner builds a signer from the configured secret.
func NewSessionSigner(secret string) (*SessionSigner, error) {
	if len(secret) < 32 {
		return nil, errors.New("session secret must be at least 32 bytes")
	}
	return &SessionSigner{key: []byte(secret)}, nil
}

// NewEphemeralSessionSigner creates a random in-memory key for local/dev
// use. Sessions do not survive a restart, which only costs clients a fresh
// cookie and a fresh token.
func NewEphemeralSessionSigner() (*SessionSigner, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return &SessionSigner{key: key}, nil
}

type sessionClaims struct {
	SessionID string `json:"session_id"`
	jwt.RegisteredClaims
}

func (s *SessionSigner) Sign(sessionID uuid.UUID, issuedAt, expiresAt time.Time) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, sessionClaims{
		SessionID: sessionID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	return token.SignedString(s.key)
}

func (s *SessionSigner) Parse(raw string) (uuid.UUID, error) {
	parsed, err := jwt.ParseWithClaims(raw, &sessionClaims{}, func(token *jwt.Token) (any, error) {
		if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing method: %s", token.Method.Alg())
		}
		return s.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithLeeway(30*time.Second))
	if err != nil {
		return uuid.Nil, err
	}
	claims, ok := parsed.Claims.(*sessionClaims)
	if !ok || !parsed.Valid {
		return uuid.Nil, errors.New("invalid session claims")
	}
	return uuid.Parse(claims.SessionID)
}

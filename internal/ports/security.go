package ports

import (
	"time"

	"github.com/google/uuid"
)

// SessionSigner signs and verifies the opaque client session carried by the
// download cookie. The signer is held at adapter level so application code
// stays crypto-library agnostic.
type SessionSigner interface {
	Sign(sessionID uuid.UUID, issuedAt, expiresAt time.Time) (string, error)
	Parse(raw string) (uuid.UUID, error)
}

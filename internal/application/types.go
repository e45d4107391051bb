package application

import (
	"time"
)

type Config struct {
	// ToolsRoot is the directory catalog paths are resolved under.
	ToolsRoot string
	// TokenTTL is the validity window of an issued download token.
	TokenTTL time.Duration
	// ChunkSize is the streaming read size in bytes.
	ChunkSize int
	// SpeedLimitKBps throttles each transfer; zero disables throttling.
	SpeedLimitKBps int
	// DigestAlgorithm selects the X-File-Hash function: "md5" or "blake2b".
	DigestAlgorithm string
}

// TokenGrant is the phase-one response: the capability and its TTL.
type TokenGrant struct {
	Token     string
	ExpiresIn int64
}

// FetchRequest carries the phase-two redemption inputs. IP and user agent
// are captured for the audit trail only; they play no part in validation.
type FetchRequest struct {
	SessionID string
	Token     string
	ToolID    string
	IPAddress string
	UserAgent string
}

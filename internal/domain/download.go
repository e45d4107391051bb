package domain

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"time"
)

// CatalogEntry is a downloadable tool as published by the catalog.
// The gateway treats the catalog as read-only reference data.
type CatalogEntry struct {
	ID          string
	Path        string
	DisplayName string
}

// DownloadToken is the short-lived capability issued in phase one and
// redeemed in phase two. One live token per session; issuing overwrites.
type DownloadToken struct {
	Token     string
	ToolID    string
	SessionID string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Expired reports whether the token is past its window at the given instant.
func (t DownloadToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// AuditEntry is one line of the append-only transfer log.
type AuditEntry struct {
	Timestamp time.Time
	ToolID    string
	FileSize  int64
	IP        string
	UserAgent string
}

// MarshalJSON emits the downloads.log wire format consumed by existing
// reporting tooling: unix-second timestamp, snake_case field names.
func (e AuditEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Timestamp int64  `json:"timestamp"`
		ToolID    string `json:"tool_id"`
		FileSize  int64  `json:"file_size"`
		IP        string `json:"ip"`
		UserAgent string `json:"user_agent"`
	}{
		Timestamp: e.Timestamp.Unix(),
		ToolID:    e.ToolID,
		FileSize:  e.FileSize,
		IP:        e.IP,
		UserAgent: e.UserAgent,
	})
}

// TransferStatus tracks the lifecycle of a durable audit record. The file
// sink logs attempts only; the status column disambiguates completions.
type TransferStatus string

const (
	TransferInitiated TransferStatus = "initiated"
	TransferCompleted TransferStatus = "completed"
	TransferFailed    TransferStatus = "failed"
)

// mimeTypes is the fixed extension table for served binaries.
var mimeTypes = map[string]string{
	".exe": "application/octet-stream",
	".zip": "application/zip",
	".rar": "application/x-rar-compressed",
	".7z":  "application/x-7z-compressed",
	".iso": "application/x-iso9660-image",
}

// MIMEType resolves the content type for a filename, defaulting to a
// generic binary type for unknown extensions.
func MIMEType(filename string) string {
	if mt, ok := mimeTypes[strings.ToLower(filepath.Ext(filename))]; ok {
		return mt
	}
	return "application/octet-stream"
}

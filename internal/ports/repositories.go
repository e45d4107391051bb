package ports

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/toolvault/download-gateway/internal/domain"
)

// AuditRecordParams captures the durable audit row written when a transfer
// is admitted. The row starts as "initiated" and is finalized after the
// streaming loop ends, which is how completions are told apart from
// attempts that died mid-stream.
type AuditRecordParams struct {
	ToolID      string
	FileSize    int64
	IPAddress   string
	UserAgent   string
	SessionID   string
	Digest      string
	InitiatedAt time.Time
}

// AuditRepository persists transfer records alongside an outbox event in one
// transaction so downstream consumers never see a record without its event.
type AuditRepository interface {
	CreateWithOutboxTx(ctx context.Context, params AuditRecordParams, event OutboxEvent) (uuid.UUID, error)
	Finalize(ctx context.Context, transferID uuid.UUID, status domain.TransferStatus, bytesSent int64, finishedAt time.Time) error
}

// OutboxEvent is the write-side event payload prior to storage.
// It is adapter-neutral to keep application code independent of broker specifics.
type OutboxEvent struct {
	EventID      uuid.UUID
	EventType    string
	PartitionKey string
	Payload      []byte
	OccurredAt   time.Time
}

// OutboxRecord represents durable outbox state, including retry/error metadata.
type OutboxRecord struct {
	OutboxID     uuid.UUID
	EventType    string
	PartitionKey string
	Payload      []byte
	RetryCount   int
	LastError    *string
	CreatedAt    time.Time
	PublishedAt  *time.Time
}

// OutboxRepository manages claim-based delivery of unpublished events.
// Claims carry a TTL so a crashed worker's batch becomes visible again.
type OutboxRepository interface {
	ClaimUnpublished(ctx context.Context, limit int, claimToken string, claimUntil time.Time) ([]OutboxRecord, error)
	MarkPublished(ctx context.Context, outboxID uuid.UUID, claimToken string, publishedAt time.Time) error
	MarkFailed(ctx context.Context, outboxID uuid.UUID, claimToken string, reason string, failedAt time.Time) error
	MarkDeadLettered(ctx context.Context, outboxID uuid.UUID, claimToken string, reason string, deadAt time.Time) error
}

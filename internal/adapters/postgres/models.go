package postgres

import (
	"time"

	"github.com/google/uuid"
)

type transferModel struct {
	TransferID  uuid.UUID  `gorm:"column:transfer_id;type:uuid;primaryKey"`
	ToolID      string     `gorm:"column:tool_id"`
	FileSize    int64      `gorm:"column:file_size"`
	IPAddress   *string    `gorm:"column:ip_address"`
	UserAgent   string     `gorm:"column:user_agent"`
	SessionID   string     `gorm:"column:session_id"`
	Digest      string     `gorm:"column:digest"`
	Status      string     `gorm:"column:status"`
	BytesSent   int64      `gorm:"column:bytes_sent"`
	InitiatedAt time.Time  `gorm:"column:initiated_at"`
	FinishedAt  *time.Time `gorm:"column:finished_at"`
}

func (transferModel) TableName() string { return "transfers" }

type transferOutboxModel struct {
	OutboxID     uuid.UUID  `gorm:"column:outbox_id;type:uuid;primaryKey"`
	EventType    string     `gorm:"column:event_type"`
	PartitionKey string     `gorm:"column:partition_key"`
	Payload      string     `gorm:"column:payload;type:jsonb"`
	CreatedAt    time.Time  `gorm:"column:created_at"`
	PublishedAt  *time.Time `gorm:"column:published_at"`
	RetryCount   int        `gorm:"column:retry_count"`
	LastError    *string    `gorm:"column:last_error"`
	LastErrorAt  *time.Time `gorm:"column:last_error_at"`
	ClaimToken   *string    `gorm:"column:claim_token"`
	ClaimUntil   *time.Time `gorm:"column:claim_until"`
	DeadAt       *time.Time `gorm:"column:dead_lettered_at"`
}

func (transferOutboxModel) TableName() string { return "transfer_outbox" }

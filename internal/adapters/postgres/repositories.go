package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/toolvault/download-gateway/internal/domain"
	"github.com/toolvault/download-gateway/internal/ports"
)

// Repositories bundles the durable audit stores behind one connection pool.
type Repositories struct {
	Audit  ports.AuditRepository
	Outbox ports.OutboxRepository
}

// NewRepositories wires gateway repositories over a shared GORM handle.
func NewRepositories(db *gorm.DB) Repositories {
	return Repositories{
		Audit:  &auditRepository{db: db},
		Outbox: &outboxRepository{db: db},
	}
}

type auditRepository struct {
	db *gorm.DB
}

// CreateWithOutboxTx writes the transfer row and its outbox event in one
// transaction so consumers never see a record without its event.
func (r *auditRepository) CreateWithOutboxTx(ctx context.Context, params ports.AuditRecordParams, event ports.OutboxEvent) (uuid.UUID, error) {
	transferID := uuid.New()
	rec := transferModel{
		TransferID:  transferID,
		ToolID:      params.ToolID,
		FileSize:    params.FileSize,
		UserAgent:   params.UserAgent,
		SessionID:   params.SessionID,
		Digest:      params.Digest,
		Status:      string(domain.TransferInitiated),
		InitiatedAt: params.InitiatedAt,
	}
	if params.IPAddress != "" {
		rec.IPAddress = &params.IPAddress
	}
	outbox := transferOutboxModel{
		OutboxID:     event.EventID,
		EventType:    event.EventType,
		PartitionKey: event.PartitionKey,
		Payload:      string(event.Payload),
		CreatedAt:    event.OccurredAt,
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&rec).Error; err != nil {
			return fmt.Errorf("insert transfer: %w", err)
		}
		if err := tx.Create(&outbox).Error; err != nil {
			return fmt.Errorf("insert outbox event: %w", err)
		}
		return nil
	})
	if err != nil {
		return uuid.Nil, err
	}
	return transferID, nil
}

func (r *auditRepository) Finalize(ctx context.Context, transferID uuid.UUID, status domain.TransferStatus, bytesSent int64, finishedAt time.Time) error {
	return r.db.WithContext(ctx).
		Model(&transferModel{}).
		Where("transfer_id = ?", transferID).
		Where("status = ?", string(domain.TransferInitiated)).
		Updates(map[string]any{
			"status":      string(status),
			"bytes_sent":  bytesSent,
			"finished_at": finishedAt,
		}).Error
}

type outboxRepository struct {
	db *gorm.DB
}

func (r *outboxRepository) ClaimUnpublished(ctx context.Context, limit int, claimToken string, claimUntil time.Time) ([]ports.OutboxRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	if claimToken == "" {
		return nil, fmt.Errorf("claim token is required")
	}

	now := time.Now().UTC()
	var rows []transferOutboxModel
	if err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		subquery := tx.Model(&transferOutboxModel{}).
			Select("outbox_id").
			Where("published_at IS NULL").
			Where("dead_lettered_at IS NULL").
			Where("claim_until IS NULL OR claim_until < ?", now).
			Order("created_at ASC").
			Limit(limit).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})

		if err := tx.Model(&transferOutboxModel{}).
			Where("outbox_id IN (?)", subquery).
			Updates(map[string]any{
				"claim_token": claimToken,
				"claim_until": claimUntil,
			}).Error; err != nil {
			return err
		}

		return tx.Where("claim_token = ?", claimToken).
			Where("published_at IS NULL").
			Where("dead_lettered_at IS NULL").
			Order("created_at ASC").
			Find(&rows).Error
	}); err != nil {
		return nil, err
	}

	result := make([]ports.OutboxRecord, 0, len(rows))
	for _, row := range rows {
		result = append(result, ports.OutboxRecord{
			OutboxID:     row.OutboxID,
			EventType:    row.EventType,
			PartitionKey: row.PartitionKey,
			Payload:      []byte(row.Payload),
			RetryCount:   row.RetryCount,
			LastError:    row.LastError,
			CreatedAt:    row.CreatedAt,
			PublishedAt:  row.PublishedAt,
		})
	}
	return result, nil
}

func (r *outboxRepository) MarkPublished(ctx context.Context, outboxID uuid.UUID, claimToken string, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&transferOutboxModel{}).
		Where("outbox_id = ?", outboxID).
		Where("claim_token = ?", claimToken).
		Updates(map[string]any{
			"published_at": at,
			"claim_token":  nil,
			"claim_until":  nil,
		}).Error
}

func (r *outboxRepository) MarkFailed(ctx context.Context, outboxID uuid.UUID, claimToken string, reason string, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&transferOutboxModel{}).
		Where("outbox_id = ?", outboxID).
		Where("claim_token = ?", claimToken).
		Updates(map[string]any{
			"retry_count":   gorm.Expr("retry_count + 1"),
			"last_error":    reason,
			"last_error_at": at,
			"claim_token":   nil,
			"claim_until":   nil,
		}).Error
}

func (r *outboxRepository) MarkDeadLettered(ctx context.Context, outboxID uuid.UUID, claimToken string, reason string, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&transferOutboxModel{}).
		Where("outbox_id = ?", outboxID).
		Where("claim_token = ?", claimToken).
		Updates(map[string]any{
			"retry_count":      gorm.Expr("retry_count + 1"),
			"last_error":       reason,
			"last_error_at":    at,
			"dead_lettered_at": at,
			"claim_token":      nil,
			"claim_until":      nil,
		}).Error
}

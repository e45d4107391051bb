package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/toolvault/download-gateway/internal/ports"
)

// Per-record relay outcomes, tallied for the batch summary log line.
const (
	relayPublished = iota
	relayRetried
	relayDeadLettered
)

// WorkerOptions tunes the relay loop. Zero values take defaults sized for
// the gateway's transfer volume.
type WorkerOptions struct {
	PollInterval time.Duration
	BatchSize    int
	ClaimTTL     time.Duration
	MaxRetries   int
}

// OutboxWorker drains transfer events (download.initiated and friends) from
// the outbox table and hands them to the publisher. Delivery stays off the
// request path, so a slow or flapping consumer can never stall a running
// download.
type OutboxWorker struct {
	logger    *slog.Logger
	outbox    ports.OutboxRepository
	publisher ports.EventPublisher
	metrics   ports.Metrics
	opts      WorkerOptions
}

// NewOutboxWorker constructs the transfer-event relay loop.
func NewOutboxWorker(logger *slog.Logger, outbox ports.OutboxRepository, publisher ports.EventPublisher, metrics ports.Metrics, opts WorkerOptions) *OutboxWorker {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.ClaimTTL <= 0 {
		opts.ClaimTTL = 30 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 5
	}
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	return &OutboxWorker{
		logger:    logger,
		outbox:    outbox,
		publisher: publisher,
		metrics:   metrics,
		opts:      opts,
	}
}

// Run polls the outbox until context cancellation.
func (w *OutboxWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	for {
		if err := w.drainBatch(ctx); err != nil {
			w.logger.ErrorContext(ctx, "outbox drain failed",
				"module", "events.outbox_worker",
				"layer", "adapter",
				"operation", "drain_batch",
				"outcome", "failure",
				"error", err,
			)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// drainBatch claims one batch under a fresh claim token and relays each
// record. The claim TTL bounds how long a crashed worker can hold a batch
// hostage before another instance picks it up.
func (w *OutboxWorker) drainBatch(ctx context.Context) error {
	claim := uuid.NewString()
	records, err := w.outbox.ClaimUnpublished(ctx, w.opts.BatchSize, claim, time.Now().UTC().Add(w.opts.ClaimTTL))
	if err != nil {
		return fmt.Errorf("claim outbox batch: %w", err)
	}
	if len(records) == 0 {
		return nil
	}

	var published, retried, dead int
	for _, rec := range records {
		switch w.relay(ctx, rec, claim) {
		case relayPublished:
			published++
		case relayRetried:
			retried++
		case relayDeadLettered:
			dead++
		}
	}

	w.logger.InfoContext(ctx, "transfer events relayed",
		"module", "events.outbox_worker",
		"layer", "adapter",
		"operation", "drain_batch",
		"outcome", "success",
		"claimed", len(records),
		"published", published,
		"retried", retried,
		"dead_lettered", dead,
	)
	return nil
}

// relay publishes one claimed record and settles its row. The partition key
// is the tool id stamped on the event when the transfer was admitted.
func (w *OutboxWorker) relay(ctx context.Context, rec ports.OutboxRecord, claim string) int {
	now := time.Now().UTC()

	if rec.RetryCount >= w.opts.MaxRetries {
		_ = w.outbox.MarkDeadLettered(ctx, rec.OutboxID, claim, "retry budget exhausted", now)
		w.metrics.OutboxDeadLettered()
		return relayDeadLettered
	}

	err := w.publisher.Publish(ctx, rec.EventType, rec.Payload)
	if err == nil {
		_ = w.outbox.MarkPublished(ctx, rec.OutboxID, claim, now)
		w.metrics.OutboxPublished()
		return relayPublished
	}

	attempt := rec.RetryCount + 1
	fields := []any{
		"module", "events.outbox_worker",
		"layer", "adapter",
		"operation", "relay_transfer_event",
		"outcome", "failure",
		"outbox_id", rec.OutboxID,
		"event_type", rec.EventType,
		"tool_id", rec.PartitionKey,
		"attempt", attempt,
		"error", err,
	}
	if attempt >= w.opts.MaxRetries {
		w.logger.ErrorContext(ctx, "transfer event dead-lettered", fields...)
		_ = w.outbox.MarkDeadLettered(ctx, rec.OutboxID, claim, err.Error(), now)
		w.metrics.OutboxDeadLettered()
		return relayDeadLettered
	}

	w.logger.WarnContext(ctx, "transfer event publish failed", fields...)
	_ = w.outbox.MarkFailed(ctx, rec.OutboxID, claim, err.Error(), now)
	return relayRetried
}

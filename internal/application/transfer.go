package application

import (
	"context"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/toolvault/download-gateway/internal/domain"
)

// Transfer is an admitted download: the concurrency slot is held and the
// file is open. Exactly one of Stream or Abort must run to completion; both
// funnel into finish, which releases the slot exactly once.
type Transfer struct {
	Tool        domain.CatalogEntry
	Filename    string
	Size        int64
	Digest      string
	ContentType string

	svc         *Service
	file        *os.File
	transferID  uuid.UUID
	chunkSize   int
	bytesPerSec int
	finishOnce  sync.Once
}

// Stream copies the file to w in fixed-size chunks, flushing after each
// write so large downloads make progress through buffering proxies. A write
// failure means the client went away; the loop stops and the slot is
// released, but the HTTP status can no longer change.
func (t *Transfer) Stream(ctx context.Context, w io.Writer) error {
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, t.chunkSize)

	var sent int64
	start := time.Now()
	var streamErr error

loop:
	for {
		select {
		case <-ctx.Done():
			streamErr = ctx.Err()
			break loop
		default:
		}

		n, readErr := t.file.Read(buf)
		if n > 0 {
			written, writeErr := w.Write(buf[:n])
			sent += int64(written)
			if writeErr != nil {
				streamErr = writeErr
				break loop
			}
			if flusher != nil {
				flusher.Flush()
			}
			t.throttle(sent, start)
		}
		if readErr == io.EOF {
			break loop
		}
		if readErr != nil {
			streamErr = readErr
			break loop
		}
	}

	status := domain.TransferCompleted
	if streamErr != nil {
		status = domain.TransferFailed
	}
	t.finish(ctx, status, sent, streamErr)
	return streamErr
}

// Abort releases the transfer without streaming. Safe to call after Stream;
// the first finish wins.
func (t *Transfer) Abort(ctx context.Context) {
	t.finish(ctx, domain.TransferFailed, 0, nil)
}

// throttle paces the loop so the cumulative rate stays at or below the
// configured bandwidth limit.
func (t *Transfer) throttle(sent int64, start time.Time) {
	if t.bytesPerSec <= 0 {
		return
	}
	expected := time.Duration(float64(sent) / float64(t.bytesPerSec) * float64(time.Second))
	if elapsed := time.Since(start); elapsed < expected {
		time.Sleep(expected - elapsed)
	}
}

func (t *Transfer) finish(ctx context.Context, status domain.TransferStatus, sent int64, streamErr error) {
	t.finishOnce.Do(func() {
		// The request context is already canceled when the client
		// disconnects; the slot and the audit row must still be settled.
		ctx := context.WithoutCancel(ctx)

		_ = t.file.Close()

		if err := t.svc.gate.Release(ctx); err != nil {
			t.svc.logger.ErrorContext(ctx, "slot release failed",
				"operation", "transfer_finish", "outcome", "failure",
				"tool_id", t.Tool.ID, "error", err)
		}

		if t.svc.auditRepo != nil && t.transferID != uuid.Nil {
			if err := t.svc.auditRepo.Finalize(ctx, t.transferID, status, sent, t.svc.nowFn()); err != nil {
				t.svc.metrics.AuditWriteFailed()
				t.svc.logger.ErrorContext(ctx, "audit finalize failed",
					"operation", "transfer_finish", "outcome", "failure",
					"tool_id", t.Tool.ID, "error", err)
			}
		}

		t.svc.metrics.TransferFinished(string(status), sent)

		fields := []any{
			"operation", "transfer_finish",
			"tool_id", t.Tool.ID,
			"status", string(status),
			"bytes_sent", sent,
			"file_size", t.Size,
		}
		if streamErr != nil {
			fields = append(fields, "error", streamErr.Error())
			t.svc.logger.WarnContext(ctx, "transfer ended early", append(fields, "outcome", "failure")...)
			return
		}
		t.svc.logger.InfoContext(ctx, "transfer finished", append(fields, "outcome", "success")...)
	})
}

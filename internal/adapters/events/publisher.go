package events

import (
	"context"
	"log/slog"
)

// LoggingPublisher emits outbox events to the structured log stream. The
// site's only event consumer today is log shipping; a broker publisher can
// replace this behind the same port.
type LoggingPublisher struct {
	logger *slog.Logger
}

func NewLoggingPublisher(logger *slog.Logger) *LoggingPublisher {
	return &LoggingPublisher{logger: logger}
}

func (p *LoggingPublisher) Publish(ctx context.Context, eventType string, payload []byte) error {
	p.logger.InfoContext(ctx, "published event", "event_type", eventType, "payload", string(payload))
	return nil
}

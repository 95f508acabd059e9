package loggingadapter

import (
	"context"
	"log/slog"

	"folio/contexts/event-delivery/outbox-relay/ports"
)

// Publisher logs events instead of sending them. It stands in when no bus is
// configured.
type Publisher struct {
	Logger *slog.Logger
}

func (p Publisher) Publish(_ context.Context, message ports.OutboundMessage) error {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("outbox event published to log",
		"event", "outbox_logging_publish",
		"module", "event-delivery/outbox-relay",
		"layer", "adapter",
		"topic", message.Topic,
		"key", message.Key,
		"event_id", message.Event.EventID,
		"event_type", message.Event.EventType,
		"payload_bytes", len(message.Event.Payload),
	)
	return nil
}

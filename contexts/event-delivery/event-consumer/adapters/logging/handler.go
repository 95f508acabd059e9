package loggingadapter

import (
	"context"
	"encoding/json"
	"log/slog"

	"folio/contexts/event-delivery/event-consumer/domain/entities"
	eventsv1 "folio/contracts/events/v1"
)

// ActivityHandler records every event it receives as a structured log line.
// Payloads that are present but not JSON are rejected.
type ActivityHandler struct {
	Logger *slog.Logger
}

func (h ActivityHandler) Handle(_ context.Context, event eventsv1.Envelope) entities.HandlerResult {
	if len(event.Payload) > 0 && !json.Valid(event.Payload) {
		return entities.BusinessRejected("payload is not valid JSON")
	}
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("event consumed",
		"event", "consumer_activity_recorded",
		"module", "event-delivery/event-consumer",
		"layer", "adapter",
		"event_id", event.EventID,
		"event_type", event.EventType,
		"producer", event.Producer,
		"trace_id", event.TraceID,
		"occurred_at", event.OccurredAt,
	)
	return entities.Ok()
}

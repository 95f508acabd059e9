package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	application "folio/contexts/event-delivery/outbox-relay/application"
	"folio/contexts/event-delivery/outbox-relay/domain/entities"
	domainerrors "folio/contexts/event-delivery/outbox-relay/domain/errors"
	"folio/contexts/event-delivery/outbox-relay/ports"
	eventsv1 "folio/contracts/events/v1"
)

type EnqueueEventCommand struct {
	AggregateType  string
	AggregateID    string
	EventName      string
	SchemaVersion  int
	Payload        json.RawMessage
	IdempotencyKey string
}

// EnqueueEventUseCase writes one PENDING outbox row through the writer it is
// handed. Callers pass a writer bound to their open transaction so the row
// commits or rolls back with the business change.
type EnqueueEventUseCase struct {
	IDGenerator ports.IDGenerator
	Clock       ports.Clock
	Tracer      ports.Tracer
	Logger      *slog.Logger
}

func (u EnqueueEventUseCase) Execute(ctx context.Context, writer ports.OutboxWriter, cmd EnqueueEventCommand) (entities.OutboxEvent, error) {
	logger := application.ResolveLogger(u.Logger)
	if writer == nil {
		return entities.OutboxEvent{}, fmt.Errorf("%w: writer is required", domainerrors.ErrInvalidOutboxEvent)
	}
	eventType, err := eventsv1.NewEventType(cmd.EventName, cmd.SchemaVersion)
	if err != nil {
		return entities.OutboxEvent{}, fmt.Errorf("%w: %v", domainerrors.ErrInvalidOutboxEvent, err)
	}
	if len(cmd.Payload) == 0 || !json.Valid(cmd.Payload) {
		return entities.OutboxEvent{}, fmt.Errorf("%w: payload must be valid json", domainerrors.ErrInvalidOutboxEvent)
	}

	eventID, err := u.IDGenerator.NewID(ctx)
	if err != nil {
		return entities.OutboxEvent{}, err
	}

	event := entities.OutboxEvent{
		EventID:        eventID,
		AggregateType:  strings.TrimSpace(cmd.AggregateType),
		AggregateID:    strings.TrimSpace(cmd.AggregateID),
		EventType:      eventType.String(),
		Payload:        append([]byte(nil), cmd.Payload...),
		IdempotencyKey: strings.TrimSpace(cmd.IdempotencyKey),
		Status:         entities.OutboxStatusPending,
		CreatedAt:      u.now(),
	}
	if u.Tracer != nil {
		event.TraceID = u.Tracer.TraceID(ctx)
	}
	if !event.Validate() {
		return entities.OutboxEvent{}, domainerrors.ErrInvalidOutboxEvent
	}

	if err := writer.Save(ctx, event); err != nil {
		logger.Error("outbox enqueue failed",
			"event", "outbox_enqueue_failed",
			"module", "event-delivery/outbox-relay",
			"layer", "application",
			"event_type", event.EventType,
			"aggregate_id", event.AggregateID,
			"error", err.Error(),
		)
		return entities.OutboxEvent{}, err
	}

	logger.Debug("outbox event enqueued",
		"event", "outbox_event_enqueued",
		"module", "event-delivery/outbox-relay",
		"layer", "application",
		"event_id", event.EventID,
		"event_type", event.EventType,
		"aggregate_id", event.AggregateID,
	)
	return event, nil
}

func (u EnqueueEventUseCase) now() time.Time {
	if u.Clock == nil {
		return time.Now().UTC()
	}
	return u.Clock.Now().UTC()
}

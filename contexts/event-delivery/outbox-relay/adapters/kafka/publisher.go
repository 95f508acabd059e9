package kafkaadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	domainerrors "folio/contexts/event-delivery/outbox-relay/domain/errors"
	"folio/contexts/event-delivery/outbox-relay/ports"
	eventsv1 "folio/contracts/events/v1"
	"folio/internal/platform/messaging"
)

// Header names carried on every published record.
const (
	HeaderEventID     = "event_id"
	HeaderEventType   = "event_type"
	HeaderTraceID     = "trace_id"
	HeaderAggregateID = "aggregate_id"
)

// Publisher wraps outbox rows in the wire envelope and writes them to the bus.
type Publisher struct {
	writer   messaging.Writer
	producer string
	logger   *slog.Logger
}

func NewPublisher(writer messaging.Writer, producer string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{writer: writer, producer: producer, logger: logger}
}

func (p *Publisher) Publish(ctx context.Context, message ports.OutboundMessage) error {
	event := message.Event
	value, err := eventsv1.Marshal(eventsv1.Envelope{
		EventID:        event.EventID,
		EventType:      event.EventType,
		OccurredAt:     event.CreatedAt,
		Producer:       p.producer,
		TraceID:        event.TraceID,
		IdempotencyKey: event.IdempotencyKey,
		Payload:        json.RawMessage(event.Payload),
	})
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", domainerrors.ErrPublishFailed, event.EventID, err)
	}

	headers := map[string]string{
		HeaderEventID:     event.EventID,
		HeaderEventType:   event.EventType,
		HeaderAggregateID: event.AggregateID,
	}
	if event.TraceID != "" {
		headers[HeaderTraceID] = event.TraceID
	}

	if err := p.writer.Write(ctx, messaging.Message{
		Topic:   message.Topic,
		Key:     []byte(message.Key),
		Value:   value,
		Headers: headers,
		Time:    event.CreatedAt,
	}); err != nil {
		p.logger.Error("kafka publish failed",
			"event", "outbox_kafka_publish_failed",
			"module", "event-delivery/outbox-relay",
			"layer", "adapter",
			"topic", message.Topic,
			"event_id", event.EventID,
			"error", err.Error(),
		)
		return fmt.Errorf("%w: topic %s: %v", domainerrors.ErrPublishFailed, message.Topic, err)
	}
	return nil
}

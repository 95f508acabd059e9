package ports

import (
	"context"
	"time"

	"folio/contexts/event-delivery/event-consumer/domain/entities"
	eventsv1 "folio/contracts/events/v1"
)

// EventHandler applies one event's business effect.
type EventHandler interface {
	Handle(ctx context.Context, event eventsv1.Envelope) entities.HandlerResult
}

type HandlerFunc func(ctx context.Context, event eventsv1.Envelope) entities.HandlerResult

func (f HandlerFunc) Handle(ctx context.Context, event eventsv1.Envelope) entities.HandlerResult {
	return f(ctx, event)
}

// IdempotencyGuard scopes event ids to a consumer name. Begin must be a
// single atomic create-if-absent.
type IdempotencyGuard interface {
	Begin(ctx context.Context, consumer string, eventID string) (entities.Admission, error)
	Complete(ctx context.Context, consumer string, eventID string) error
	Release(ctx context.Context, consumer string, eventID string) error
}

// DeadLetterSink persists an abandoned delivery. A nil error means the
// failure is durably stored and the offset may be committed.
type DeadLetterSink interface {
	Capture(ctx context.Context, failure entities.Failure) error
}

// MessageSource is a committed-offset stream of deliveries.
type MessageSource interface {
	Fetch(ctx context.Context) (entities.Delivery, error)
	Commit(ctx context.Context, delivery entities.Delivery) error
}

type ConsumerMetrics interface {
	ObserveDisposition(consumer string, eventType string, disposition entities.Disposition)
	ObserveAttempt(consumer string, eventType string, outcome entities.Outcome)
	ObserveHandlerDuration(consumer string, eventType string, duration time.Duration)
}

type Clock interface {
	Now() time.Time
}

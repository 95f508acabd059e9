package ports

import (
	"context"
	"time"

	"folio/contexts/event-delivery/outbox-relay/domain/entities"
	"folio/contexts/event-delivery/outbox-relay/domain/services"
)

// OutboxWriter appends rows inside the caller's business transaction.
type OutboxWriter interface {
	Save(ctx context.Context, event entities.OutboxEvent) error
}

// OutboxStore is the relay's view of the outbox table.
//
// FindEligibleForUpdate returns PENDING rows that are due and not held by a
// live claim, oldest first, and stamps them with claim before returning so
// concurrent relays skip them. Each Mark* write succeeds only while the row
// is still PENDING and held by owner; otherwise it returns ErrClaimLost.
type OutboxStore interface {
	OutboxWriter
	FindEligibleForUpdate(ctx context.Context, limit int, now time.Time, claim entities.Claim) ([]entities.OutboxEvent, error)
	MarkSent(ctx context.Context, eventID string, owner string, sentAt time.Time) error
	MarkRetry(ctx context.Context, eventID string, owner string, retryCount int, nextRetryAt time.Time, lastError string) error
	MarkFailed(ctx context.Context, eventID string, owner string, retryCount int, lastError string) error
}

// OutboxRetention moves SENT rows older than the cutoff out of the hot table.
type OutboxRetention interface {
	ArchiveSent(ctx context.Context, sentBefore time.Time, limit int) (int, error)
}

type RouteResolver interface {
	Resolve(event entities.OutboxEvent) (services.Route, error)
}

type OutboundMessage struct {
	Topic string
	Key   string
	Event entities.OutboxEvent
}

// Publisher hands one message to the bus. A nil error means the bus
// acknowledged it.
type Publisher interface {
	Publish(ctx context.Context, message OutboundMessage) error
}

type RelayMetrics interface {
	ObserveClaimed(count int)
	ObserveSent(eventType string)
	ObserveRetry(eventType string)
	ObserveFailed(eventType string, reason string)
	ObserveLag(lag time.Duration)
	ObserveCycle(duration time.Duration, err error)
}

// Tracer opens spans around relay work. End receives the span's error.
type Tracer interface {
	Start(ctx context.Context, name string, attributes map[string]string) (context.Context, func(err error))
	TraceID(ctx context.Context) string
}

type Clock interface {
	Now() time.Time
}

type IDGenerator interface {
	NewID(ctx context.Context) (string, error)
}

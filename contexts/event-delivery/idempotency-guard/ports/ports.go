package ports

import (
	"context"
	"time"

	"folio/contexts/event-delivery/idempotency-guard/domain/entities"
)

// RecordStore persists guard records with a time-to-live. SaveIfAbsent must
// be atomic: of several concurrent callers for one key exactly one gets true.
type RecordStore interface {
	Find(ctx context.Context, key entities.Key) (entities.Record, bool, error)
	SaveIfAbsent(ctx context.Context, record entities.Record, ttl time.Duration) (bool, error)
	Save(ctx context.Context, record entities.Record, ttl time.Duration) error
	Delete(ctx context.Context, key entities.Key) error
}

type Clock interface {
	Now() time.Time
}

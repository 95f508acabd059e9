package ports

import (
	"context"
	"math"
	"time"

	"folio/contexts/event-delivery/dead-letter/domain/entities"
)

// MessageStore persists captured messages. Insert fails with
// ErrDuplicateSourceKey when the source key is already stored. Update
// replaces the record only while its stored status equals expected and
// otherwise fails with ErrConcurrentUpdate.
type MessageStore interface {
	Insert(ctx context.Context, message entities.DlqMessage) error
	Update(ctx context.Context, message entities.DlqMessage, expected entities.DlqStatus) error
	FindByID(ctx context.Context, id string) (entities.DlqMessage, error)
	FindBySourceKey(ctx context.Context, sourceKey string) (entities.DlqMessage, bool, error)
	Search(ctx context.Context, filter SearchFilter) (SearchPage, error)
}

type SearchFilter struct {
	Status          entities.DlqStatus
	OriginalChannel string
	Page            int
	Size            int
}

// Offset is the number of matches before Page. It reports false when Page
// is negative, Size is not positive, or Page*Size overflows an int.
func (f SearchFilter) Offset() (int, bool) {
	if f.Page < 0 || f.Size <= 0 || f.Page > math.MaxInt/f.Size {
		return 0, false
	}
	return f.Page * f.Size, true
}

type SearchPage struct {
	Items []entities.DlqMessage
	Total int64
	Page  int
	Size  int
}

// Resubmitter pushes a stored message back through live consumption. A nil
// error means the consumer handled it or had already handled it.
type Resubmitter interface {
	Resubmit(ctx context.Context, message entities.DlqMessage) error
}

type Clock interface {
	Now() time.Time
}

type IDGenerator interface {
	NewID(ctx context.Context) (string, error)
}

package entities

import (
	"strings"
	"time"

	domainerrors "folio/contexts/event-delivery/idempotency-guard/domain/errors"
)

type RecordStatus string

const (
	RecordStatusInProgress RecordStatus = "IN_PROGRESS"
	RecordStatusCompleted  RecordStatus = "COMPLETED"
)

func (s RecordStatus) Valid() bool {
	return s == RecordStatusInProgress || s == RecordStatusCompleted
}

// Decision is the outcome of trying to begin work on an event.
type Decision string

const (
	DecisionStarted          Decision = "STARTED"
	DecisionInProgress       Decision = "IN_PROGRESS"
	DecisionAlreadyCompleted Decision = "ALREADY_COMPLETED"
)

// ShouldProcess reports whether the caller owns the event now.
func (d Decision) ShouldProcess() bool {
	return d == DecisionStarted
}

// Key scopes an event id to one consumer, so two consumers of the same event
// are tracked independently.
type Key struct {
	Consumer string
	EventID  string
}

func NewKey(consumer string, eventID string) (Key, error) {
	consumer = strings.TrimSpace(consumer)
	eventID = strings.TrimSpace(eventID)
	if consumer == "" {
		return Key{}, domainerrors.ErrConsumerRequired
	}
	if eventID == "" {
		return Key{}, domainerrors.ErrEventIDRequired
	}
	return Key{Consumer: consumer, EventID: eventID}, nil
}

// StorageKey renders the key as prefix:consumer:eventId.
func (k Key) StorageKey(prefix string) string {
	if prefix == "" {
		return k.Consumer + ":" + k.EventID
	}
	return prefix + ":" + k.Consumer + ":" + k.EventID
}

type Record struct {
	Key       Key
	Status    RecordStatus
	Result    []byte
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Complete returns the record moved to COMPLETED. Only IN_PROGRESS records
// may complete.
func (r Record) Complete(result []byte, now time.Time) (Record, error) {
	if r.Status != RecordStatusInProgress {
		return Record{}, domainerrors.ErrInvalidRecordStatus
	}
	r.Status = RecordStatusCompleted
	r.Result = append([]byte(nil), result...)
	r.UpdatedAt = now
	return r, nil
}

package entities

import (
	"strings"
	"time"

	eventsv1 "folio/contracts/events/v1"
)

type OutboxStatus string

const (
	OutboxStatusPending OutboxStatus = "PENDING"
	OutboxStatusSent    OutboxStatus = "SENT"
	OutboxStatusFailed  OutboxStatus = "FAILED"
)

func (s OutboxStatus) Valid() bool {
	switch s {
	case OutboxStatusPending, OutboxStatusSent, OutboxStatusFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether the relay will never touch the row again.
func (s OutboxStatus) Terminal() bool {
	return s == OutboxStatusSent || s == OutboxStatusFailed
}

// CanTransitionTo allows PENDING to stay PENDING (retry), or move to SENT or
// FAILED. Terminal statuses never change.
func (s OutboxStatus) CanTransitionTo(next OutboxStatus) bool {
	if s != OutboxStatusPending {
		return false
	}
	return next.Valid()
}

// OutboxEvent is one row of the transactional outbox.
type OutboxEvent struct {
	EventID        string
	AggregateType  string
	AggregateID    string
	EventType      string
	Payload        []byte
	TraceID        string
	IdempotencyKey string
	Status         OutboxStatus
	RetryCount     int
	NextRetryAt    *time.Time
	LastError      string
	LockedBy       string
	LockedUntil    *time.Time
	CreatedAt      time.Time
	SentAt         *time.Time
}

func (e OutboxEvent) Validate() bool {
	if strings.TrimSpace(e.EventID) == "" ||
		strings.TrimSpace(e.AggregateType) == "" ||
		strings.TrimSpace(e.AggregateID) == "" ||
		len(e.Payload) == 0 ||
		e.CreatedAt.IsZero() {
		return false
	}
	if _, err := eventsv1.ParseEventType(e.EventType); err != nil {
		return false
	}
	if !e.Status.Valid() || e.RetryCount < 0 {
		return false
	}
	if e.Status == OutboxStatusSent && e.SentAt == nil {
		return false
	}
	return true
}

// EventName is the event type without its schema version suffix.
func (e OutboxEvent) EventName() string {
	return eventsv1.NormalizeName(e.EventType)
}

// IsEligible reports whether a relay may claim the row at now.
func (e OutboxEvent) IsEligible(now time.Time) bool {
	if e.Status != OutboxStatusPending {
		return false
	}
	if e.NextRetryAt != nil && e.NextRetryAt.After(now) {
		return false
	}
	if e.LockedUntil != nil && e.LockedUntil.After(now) {
		return false
	}
	return true
}

// Claim marks a row as held by one relay until the lease expires.
type Claim struct {
	Owner string
	Until time.Time
}

func (c Claim) Valid() bool {
	return strings.TrimSpace(c.Owner) != "" && !c.Until.IsZero()
}

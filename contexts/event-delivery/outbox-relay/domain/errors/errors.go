package errors

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidOutboxEvent   = errors.New("invalid outbox event")
	ErrInvalidRetryPolicy   = errors.New("invalid retry policy")
	ErrInvalidRelayConfig   = errors.New("invalid relay config")
	ErrUnmappableEventType  = errors.New("event type has no route")
	ErrPublishFailed        = errors.New("publish failed")
	ErrOutboxEventNotFound  = errors.New("outbox event not found")
	ErrDuplicateOutboxEvent = errors.New("outbox event already exists")
	ErrInvalidTransition    = errors.New("invalid outbox status transition")
	ErrClaimLost            = errors.New("outbox claim no longer held")
)

// MappingError reports an event type the resolver cannot route.
type MappingError struct {
	EventID       string
	AggregateType string
	EventType     string
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("%s: event %s aggregate %q type %q", ErrUnmappableEventType.Error(), e.EventID, e.AggregateType, e.EventType)
}

func (e *MappingError) Unwrap() error {
	return ErrUnmappableEventType
}

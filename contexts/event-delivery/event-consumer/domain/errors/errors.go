package errors

import "errors"

var (
	ErrInvalidConsumerConfig = errors.New("invalid consumer config")
	ErrHandlerRequired       = errors.New("event handler is required")
	ErrDuplicateHandler      = errors.New("event handler already registered")
	ErrNoHandler             = errors.New("no handler registered for event type")
	ErrUndecodableMessage    = errors.New("message is not a valid event envelope")
	ErrEventInFlight         = errors.New("event is being processed by another worker")
	ErrBusinessRejected      = errors.New("event rejected by handler")
	ErrTransientFailure      = errors.New("transient handler failure")
	ErrHandlerPanicked       = errors.New("event handler panicked")
)

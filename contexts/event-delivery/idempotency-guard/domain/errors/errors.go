package errors

import "errors"

var (
	ErrConsumerRequired    = errors.New("consumer name is required")
	ErrEventIDRequired     = errors.New("event id is required")
	ErrInvalidGuardConfig  = errors.New("invalid idempotency guard config")
	ErrRecordNotFound      = errors.New("idempotency record not found")
	ErrInvalidRecordStatus = errors.New("invalid idempotency record status")
)

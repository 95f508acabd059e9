package errors

import "errors"

var (
	ErrDlqMessageNotFound     = errors.New("dlq message not found")
	ErrInvalidDlqMessage      = errors.New("invalid dlq message")
	ErrReprocessNotAllowed    = errors.New("dlq message cannot be reprocessed in its current status")
	ErrReprocessActorRequired = errors.New("reprocess actor is required")
	ErrCaptureFailed          = errors.New("dlq capture failed")
	ErrDuplicateSourceKey     = errors.New("dlq message with this source key already exists")
	ErrConcurrentUpdate       = errors.New("dlq message was modified concurrently")
	ErrInvalidSearchFilter    = errors.New("invalid dlq search filter")
)

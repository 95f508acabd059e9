package entities

import (
	"strconv"
	"time"
)

// Delivery is one raw message read from a bus channel.
type Delivery struct {
	Channel   string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Timestamp time.Time
}

func (d Delivery) Position() string {
	return d.Channel + ":" + strconv.Itoa(d.Partition) + ":" + strconv.FormatInt(d.Offset, 10)
}

// Outcome classifies what a handler did with an event.
type Outcome string

const (
	OutcomeOk               Outcome = "OK"
	OutcomeBusinessRejected Outcome = "BUSINESS_REJECTED"
	OutcomeTransientFailure Outcome = "TRANSIENT_FAILURE"
)

// HandlerResult is returned by every event handler instead of an error.
// Reason is set for rejections, Cause for transient failures.
type HandlerResult struct {
	Outcome Outcome
	Reason  string
	Cause   error
}

func Ok() HandlerResult {
	return HandlerResult{Outcome: OutcomeOk}
}

func BusinessRejected(reason string) HandlerResult {
	return HandlerResult{Outcome: OutcomeBusinessRejected, Reason: reason}
}

func TransientFailure(cause error) HandlerResult {
	return HandlerResult{Outcome: OutcomeTransientFailure, Cause: cause}
}

// Disposition records what the dispatcher did with a delivery. Every
// disposition means the offset may be committed.
type Disposition string

const (
	DispositionProcessed    Disposition = "PROCESSED"
	DispositionDuplicate    Disposition = "DUPLICATE"
	DispositionInFlight     Disposition = "IN_FLIGHT"
	DispositionRejected     Disposition = "REJECTED"
	DispositionDeadLettered Disposition = "DEAD_LETTERED"
)

// Admission is the idempotency guard's answer for one event.
type Admission string

const (
	AdmissionStarted          Admission = "STARTED"
	AdmissionInProgress       Admission = "IN_PROGRESS"
	AdmissionAlreadyCompleted Admission = "ALREADY_COMPLETED"
)

// Failure describes a delivery the consumer gave up on.
type Failure struct {
	Delivery  Delivery
	Cause     error
	ErrorType string
	Stack     string
}

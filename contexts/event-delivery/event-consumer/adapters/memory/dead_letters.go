package memory

import (
	"context"
	"sync"

	"folio/contexts/event-delivery/event-consumer/domain/entities"
)

// DeadLetters records captured failures in memory. Err, when set, is
// returned from every capture.
type DeadLetters struct {
	mu       sync.Mutex
	failures []entities.Failure
	Err      error
}

func (d *DeadLetters) Capture(_ context.Context, failure entities.Failure) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Err != nil {
		return d.Err
	}
	d.failures = append(d.failures, failure)
	return nil
}

func (d *DeadLetters) Failures() []entities.Failure {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]entities.Failure(nil), d.failures...)
}

func (d *DeadLetters) SetErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Err = err
}

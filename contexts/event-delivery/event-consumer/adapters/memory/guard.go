package memory

import (
	"context"
	"sync"

	"folio/contexts/event-delivery/event-consumer/domain/entities"
)

// Guard is an in-process idempotency guard without expiry.
type Guard struct {
	mu      sync.Mutex
	records map[string]bool
}

func NewGuard() *Guard {
	return &Guard{records: make(map[string]bool)}
}

func (g *Guard) Begin(_ context.Context, consumer string, eventID string) (entities.Admission, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	key := consumer + ":" + eventID
	completed, exists := g.records[key]
	switch {
	case !exists:
		g.records[key] = false
		return entities.AdmissionStarted, nil
	case completed:
		return entities.AdmissionAlreadyCompleted, nil
	default:
		return entities.AdmissionInProgress, nil
	}
}

func (g *Guard) Complete(_ context.Context, consumer string, eventID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.records[consumer+":"+eventID] = true
	return nil
}

func (g *Guard) Release(_ context.Context, consumer string, eventID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.records, consumer+":"+eventID)
	return nil
}

// Completed reports whether the event was marked complete.
func (g *Guard) Completed(consumer string, eventID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.records[consumer+":"+eventID]
}

// Held reports whether any record exists for the event.
func (g *Guard) Held(consumer string, eventID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.records[consumer+":"+eventID]
	return ok
}

package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"folio/contexts/event-delivery/outbox-relay/domain/entities"
	domainerrors "folio/contexts/event-delivery/outbox-relay/domain/errors"
)

// Store is an in-process outbox table for tests and local runs.
type Store struct {
	mu       sync.Mutex
	events   map[string]entities.OutboxEvent
	archived map[string]entities.OutboxEvent
	seq      map[string]int
	next     int
}

func NewStore() *Store {
	return &Store{
		events:   make(map[string]entities.OutboxEvent),
		archived: make(map[string]entities.OutboxEvent),
		seq:      make(map[string]int),
	}
}

func (s *Store) Save(_ context.Context, event entities.OutboxEvent) error {
	if !event.Validate() {
		return domainerrors.ErrInvalidOutboxEvent
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.events[event.EventID]; exists {
		return domainerrors.ErrDuplicateOutboxEvent
	}
	s.events[event.EventID] = cloneEvent(event)
	s.seq[event.EventID] = s.next
	s.next++
	return nil
}

func (s *Store) FindEligibleForUpdate(_ context.Context, limit int, now time.Time, claim entities.Claim) ([]entities.OutboxEvent, error) {
	if limit <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	eligible := make([]entities.OutboxEvent, 0, limit)
	for _, event := range s.events {
		if event.IsEligible(now) {
			eligible = append(eligible, event)
		}
	}
	sort.Slice(eligible, func(i, j int) bool {
		if !eligible[i].CreatedAt.Equal(eligible[j].CreatedAt) {
			return eligible[i].CreatedAt.Before(eligible[j].CreatedAt)
		}
		return s.seq[eligible[i].EventID] < s.seq[eligible[j].EventID]
	})
	if len(eligible) > limit {
		eligible = eligible[:limit]
	}

	until := claim.Until
	for i := range eligible {
		eligible[i].LockedBy = claim.Owner
		eligible[i].LockedUntil = &until
		s.events[eligible[i].EventID] = eligible[i]
		eligible[i] = cloneEvent(eligible[i])
	}
	return eligible, nil
}

func (s *Store) MarkSent(_ context.Context, eventID string, owner string, sentAt time.Time) error {
	return s.update(eventID, owner, entities.OutboxStatusSent, func(event *entities.OutboxEvent) {
		stamp := sentAt.UTC()
		event.SentAt = &stamp
	})
}

func (s *Store) MarkRetry(_ context.Context, eventID string, owner string, retryCount int, nextRetryAt time.Time, lastError string) error {
	return s.update(eventID, owner, entities.OutboxStatusPending, func(event *entities.OutboxEvent) {
		next := nextRetryAt.UTC()
		event.RetryCount = retryCount
		event.NextRetryAt = &next
		event.LastError = lastError
	})
}

func (s *Store) MarkFailed(_ context.Context, eventID string, owner string, retryCount int, lastError string) error {
	return s.update(eventID, owner, entities.OutboxStatusFailed, func(event *entities.OutboxEvent) {
		event.RetryCount = retryCount
		event.LastError = lastError
	})
}

func (s *Store) ArchiveSent(_ context.Context, sentBefore time.Time, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	moved := 0
	for id, event := range s.events {
		if limit > 0 && moved >= limit {
			break
		}
		if event.Status != entities.OutboxStatusSent || event.SentAt == nil || !event.SentAt.Before(sentBefore) {
			continue
		}
		s.archived[id] = event
		delete(s.events, id)
		moved++
	}
	return moved, nil
}

// Get returns a copy of one live row.
func (s *Store) Get(eventID string) (entities.OutboxEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	event, ok := s.events[eventID]
	return cloneEvent(event), ok
}

// Archived returns a copy of one archived row.
func (s *Store) Archived(eventID string) (entities.OutboxEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	event, ok := s.archived[eventID]
	return cloneEvent(event), ok
}

func (s *Store) update(eventID string, owner string, next entities.OutboxStatus, apply func(*entities.OutboxEvent)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	event, ok := s.events[eventID]
	if !ok {
		return domainerrors.ErrOutboxEventNotFound
	}
	if !event.Status.CanTransitionTo(next) || event.LockedBy != owner {
		return domainerrors.ErrClaimLost
	}
	apply(&event)
	event.Status = next
	event.LockedBy = ""
	event.LockedUntil = nil
	s.events[eventID] = event
	return nil
}

func cloneEvent(event entities.OutboxEvent) entities.OutboxEvent {
	event.Payload = append([]byte(nil), event.Payload...)
	event.NextRetryAt = cloneTime(event.NextRetryAt)
	event.LockedUntil = cloneTime(event.LockedUntil)
	event.SentAt = cloneTime(event.SentAt)
	return event
}

func cloneTime(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}

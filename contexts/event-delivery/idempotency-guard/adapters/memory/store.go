package memory

import (
	"context"
	"sync"
	"time"

	"folio/contexts/event-delivery/idempotency-guard/domain/entities"
	"folio/contexts/event-delivery/idempotency-guard/ports"
)

type entry struct {
	record    entities.Record
	expiresAt time.Time
}

// Store keeps guard records in process memory. Expiry is evaluated against
// the injected clock so tests can move time.
type Store struct {
	mu      sync.Mutex
	clock   ports.Clock
	records map[entities.Key]entry
}

func NewStore(clock ports.Clock) *Store {
	return &Store{clock: clock, records: make(map[entities.Key]entry)}
}

func (s *Store) Find(_ context.Context, key entities.Key) (entities.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.live(key)
	if !ok {
		return entities.Record{}, false, nil
	}
	return cloneRecord(current.record), true, nil
}

func (s *Store) SaveIfAbsent(_ context.Context, record entities.Record, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.live(record.Key); ok {
		return false, nil
	}
	s.records[record.Key] = entry{record: cloneRecord(record), expiresAt: s.now().Add(ttl)}
	return true, nil
}

func (s *Store) Save(_ context.Context, record entities.Record, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.Key] = entry{record: cloneRecord(record), expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *Store) Delete(_ context.Context, key entities.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	return nil
}

func (s *Store) live(key entities.Key) (entry, bool) {
	current, ok := s.records[key]
	if !ok {
		return entry{}, false
	}
	if !s.now().Before(current.expiresAt) {
		delete(s.records, key)
		return entry{}, false
	}
	return current, true
}

func (s *Store) now() time.Time {
	if s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock.Now().UTC()
}

func cloneRecord(record entities.Record) entities.Record {
	record.Result = append([]byte(nil), record.Result...)
	return record
}

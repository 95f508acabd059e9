package memory

import (
	"context"
	"sort"
	"sync"

	"folio/contexts/event-delivery/dead-letter/domain/entities"
	domainerrors "folio/contexts/event-delivery/dead-letter/domain/errors"
	"folio/contexts/event-delivery/dead-letter/ports"
)

// Store is an in-process DLQ store for tests and local runs.
type Store struct {
	mu       sync.RWMutex
	messages map[string]entities.DlqMessage
	bySource map[string]string
}

func NewStore() *Store {
	return &Store{
		messages: make(map[string]entities.DlqMessage),
		bySource: make(map[string]string),
	}
}

func (s *Store) Insert(_ context.Context, message entities.DlqMessage) error {
	if err := message.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.bySource[message.SourceKey]; exists {
		return domainerrors.ErrDuplicateSourceKey
	}
	s.messages[message.ID] = cloneMessage(message)
	s.bySource[message.SourceKey] = message.ID
	return nil
}

func (s *Store) Update(_ context.Context, message entities.DlqMessage, expected entities.DlqStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.messages[message.ID]
	if !ok {
		return domainerrors.ErrDlqMessageNotFound
	}
	if current.Status != expected {
		return domainerrors.ErrConcurrentUpdate
	}
	s.messages[message.ID] = cloneMessage(message)
	return nil
}

func (s *Store) FindByID(_ context.Context, id string) (entities.DlqMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	message, ok := s.messages[id]
	if !ok {
		return entities.DlqMessage{}, domainerrors.ErrDlqMessageNotFound
	}
	return cloneMessage(message), nil
}

func (s *Store) FindBySourceKey(_ context.Context, sourceKey string) (entities.DlqMessage, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.bySource[sourceKey]
	if !ok {
		return entities.DlqMessage{}, false, nil
	}
	return cloneMessage(s.messages[id]), true, nil
}

func (s *Store) Search(_ context.Context, filter ports.SearchFilter) (ports.SearchPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]entities.DlqMessage, 0)
	for _, message := range s.messages {
		if filter.Status != "" && message.Status != filter.Status {
			continue
		}
		if filter.OriginalChannel != "" && message.OriginalChannel != filter.OriginalChannel {
			continue
		}
		matched = append(matched, message)
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].StoredAt.Equal(matched[j].StoredAt) {
			return matched[i].StoredAt.After(matched[j].StoredAt)
		}
		return matched[i].ID > matched[j].ID
	})

	page := ports.SearchPage{Total: int64(len(matched)), Page: filter.Page, Size: filter.Size}
	start, ok := filter.Offset()
	if !ok || start >= len(matched) {
		page.Items = []entities.DlqMessage{}
		return page, nil
	}
	end := len(matched)
	if filter.Size < end-start {
		end = start + filter.Size
	}
	for _, message := range matched[start:end] {
		page.Items = append(page.Items, cloneMessage(message))
	}
	return page, nil
}

func cloneMessage(message entities.DlqMessage) entities.DlqMessage {
	message.Payload = append([]byte(nil), message.Payload...)
	if message.Headers != nil {
		headers := make(map[string]string, len(message.Headers))
		for key, value := range message.Headers {
			headers[key] = value
		}
		message.Headers = headers
	}
	if message.LastReprocessedAt != nil {
		at := *message.LastReprocessedAt
		message.LastReprocessedAt = &at
	}
	return message
}

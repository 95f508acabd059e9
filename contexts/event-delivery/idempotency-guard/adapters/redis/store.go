package redisadapter

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"folio/contexts/event-delivery/idempotency-guard/domain/entities"

	"github.com/redis/go-redis/v9"
)

const DefaultKeyPrefix = "idem"

// Store keeps guard records as JSON strings with native key expiry.
// SaveIfAbsent maps to SET NX, which is atomic across all guard instances
// sharing the server.
type Store struct {
	client redis.UniversalClient
	prefix string
}

func NewStore(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &Store{client: client, prefix: prefix}
}

type recordDocument struct {
	Consumer  string    `json:"consumer"`
	EventID   string    `json:"eventId"`
	Status    string    `json:"status"`
	Result    []byte    `json:"result,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (s *Store) Find(ctx context.Context, key entities.Key) (entities.Record, bool, error) {
	raw, err := s.client.Get(ctx, key.StorageKey(s.prefix)).Bytes()
	if errors.Is(err, redis.Nil) {
		return entities.Record{}, false, nil
	}
	if err != nil {
		return entities.Record{}, false, err
	}
	var doc recordDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return entities.Record{}, false, err
	}
	return entities.Record{
		Key:       entities.Key{Consumer: doc.Consumer, EventID: doc.EventID},
		Status:    entities.RecordStatus(doc.Status),
		Result:    doc.Result,
		CreatedAt: doc.CreatedAt.UTC(),
		UpdatedAt: doc.UpdatedAt.UTC(),
	}, true, nil
}

func (s *Store) SaveIfAbsent(ctx context.Context, record entities.Record, ttl time.Duration) (bool, error) {
	payload, err := encode(record)
	if err != nil {
		return false, err
	}
	return s.client.SetNX(ctx, record.Key.StorageKey(s.prefix), payload, ttl).Result()
}

func (s *Store) Save(ctx context.Context, record entities.Record, ttl time.Duration) error {
	payload, err := encode(record)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, record.Key.StorageKey(s.prefix), payload, ttl).Err()
}

func (s *Store) Delete(ctx context.Context, key entities.Key) error {
	return s.client.Del(ctx, key.StorageKey(s.prefix)).Err()
}

func encode(record entities.Record) ([]byte, error) {
	return json.Marshal(recordDocument{
		Consumer:  record.Key.Consumer,
		EventID:   record.Key.EventID,
		Status:    string(record.Status),
		Result:    record.Result,
		CreatedAt: record.CreatedAt.UTC(),
		UpdatedAt: record.UpdatedAt.UTC(),
	})
}

package commands

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"folio/contexts/event-delivery/outbox-relay/adapters/memory"
	"folio/contexts/event-delivery/outbox-relay/domain/entities"
	domainerrors "folio/contexts/event-delivery/outbox-relay/domain/errors"
)

type stubClock struct{ now time.Time }

func (c stubClock) Now() time.Time { return c.now }

type sequenceIDs struct{ next int }

func (g *sequenceIDs) NewID(context.Context) (string, error) {
	g.next++
	return "evt-" + string(rune('0'+g.next)), nil
}

type stubTracer struct{}

func (stubTracer) Start(ctx context.Context, _ string, _ map[string]string) (context.Context, func(error)) {
	return ctx, func(error) {}
}

func (stubTracer) TraceID(context.Context) string { return "4bf92f3577b34da6a3ce929d0e0e4736" }

type failingWriter struct{}

func (failingWriter) Save(context.Context, entities.OutboxEvent) error {
	return errors.New("tx aborted")
}

func TestEnqueueEventWritesPendingRow(t *testing.T) {
	now := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	store := memory.NewStore()
	useCase := EnqueueEventUseCase{IDGenerator: &sequenceIDs{}, Clock: stubClock{now: now}, Tracer: stubTracer{}}

	event, err := useCase.Execute(context.Background(), store, EnqueueEventCommand{
		AggregateType:  "asset",
		AggregateID:    "asset-42",
		EventName:      "asset_stored",
		SchemaVersion:  1,
		Payload:        json.RawMessage(`{"assetId":"asset-42"}`),
		IdempotencyKey: "upload-42",
	})
	require.NoError(t, err)
	assert.Equal(t, "evt-1", event.EventID)
	assert.Equal(t, "ASSET_STORED.v1", event.EventType)
	assert.Equal(t, entities.OutboxStatusPending, event.Status)
	assert.Equal(t, now, event.CreatedAt)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", event.TraceID)

	stored, ok := store.Get("evt-1")
	require.True(t, ok)
	assert.Equal(t, "upload-42", stored.IdempotencyKey)
	assert.JSONEq(t, `{"assetId":"asset-42"}`, string(stored.Payload))
}

func TestEnqueueEventRejectsInvalidInput(t *testing.T) {
	useCase := EnqueueEventUseCase{IDGenerator: &sequenceIDs{}, Clock: stubClock{now: time.Now()}}
	base := EnqueueEventCommand{
		AggregateType: "asset",
		AggregateID:   "asset-1",
		EventName:     "ASSET_STORED",
		SchemaVersion: 1,
		Payload:       json.RawMessage(`{}`),
	}

	cases := map[string]func(*EnqueueEventCommand){
		"zero version":    func(c *EnqueueEventCommand) { c.SchemaVersion = 0 },
		"blank name":      func(c *EnqueueEventCommand) { c.EventName = "" },
		"invalid json":    func(c *EnqueueEventCommand) { c.Payload = json.RawMessage(`{`) },
		"blank aggregate": func(c *EnqueueEventCommand) { c.AggregateID = " " },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cmd := base
			mutate(&cmd)
			_, err := useCase.Execute(context.Background(), memory.NewStore(), cmd)
			require.ErrorIs(t, err, domainerrors.ErrInvalidOutboxEvent)
		})
	}
}

func TestEnqueueEventPropagatesWriterError(t *testing.T) {
	useCase := EnqueueEventUseCase{IDGenerator: &sequenceIDs{}}
	_, err := useCase.Execute(context.Background(), failingWriter{}, EnqueueEventCommand{
		AggregateType: "episode",
		AggregateID:   "ep-1",
		EventName:     "EPISODE_PUBLISHED",
		SchemaVersion: 2,
		Payload:       json.RawMessage(`{"episodeId":"ep-1"}`),
	})
	require.EqualError(t, err, "tx aborted")
}

package workers

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"folio/contexts/event-delivery/event-consumer/adapters/memory"
	"folio/contexts/event-delivery/event-consumer/domain/entities"
	domainerrors "folio/contexts/event-delivery/event-consumer/domain/errors"
	"folio/contexts/event-delivery/event-consumer/ports"
	eventsv1 "folio/contracts/events/v1"
)

const consumerName = "search-indexer"

type fixture struct {
	registry    *Registry
	guard       *memory.Guard
	deadLetters *memory.DeadLetters
	sleeps      []time.Duration
	dispatcher  *Dispatcher
}

func newFixture(t *testing.T, maxAttempts int) *fixture {
	t.Helper()
	f := &fixture{
		registry:    NewRegistry(),
		guard:       memory.NewGuard(),
		deadLetters: &memory.DeadLetters{},
	}
	cfg := DefaultDispatcherConfig(consumerName)
	cfg.MaxAttempts = maxAttempts
	dispatcher, err := NewDispatcher(cfg, DispatcherDependencies{
		Registry:    f.registry,
		Guard:       f.guard,
		DeadLetters: f.deadLetters,
		Sleep: func(_ context.Context, d time.Duration) error {
			f.sleeps = append(f.sleeps, d)
			return nil
		},
	})
	require.NoError(t, err)
	f.dispatcher = dispatcher
	return f
}

func envelopeDelivery(t *testing.T, eventID string, eventType string, offset int64) entities.Delivery {
	t.Helper()
	raw, err := eventsv1.Marshal(eventsv1.Envelope{
		EventID:    eventID,
		EventType:  eventType,
		OccurredAt: time.Date(2026, 7, 1, 8, 0, 0, 0, time.UTC),
		Producer:   "folio-api",
		Payload:    []byte(`{"workId":"w-1"}`),
	})
	require.NoError(t, err)
	return entities.Delivery{Channel: "content.index.events", Offset: offset, Key: []byte("w-1"), Value: raw}
}

func TestDispatchProcessesAndCompletes(t *testing.T) {
	f := newFixture(t, 3)
	var calls atomic.Int32
	require.NoError(t, f.registry.Register("INDEX_WORK_UPDATED", ports.HandlerFunc(func(_ context.Context, event eventsv1.Envelope) entities.HandlerResult {
		calls.Add(1)
		assert.Equal(t, "evt-1", event.EventID)
		return entities.Ok()
	})))

	disposition, err := f.dispatcher.Dispatch(context.Background(), envelopeDelivery(t, "evt-1", "INDEX_WORK_UPDATED.v1", 0))
	require.NoError(t, err)
	assert.Equal(t, entities.DispositionProcessed, disposition)
	assert.True(t, f.guard.Completed(consumerName, "evt-1"))

	disposition, err = f.dispatcher.Dispatch(context.Background(), envelopeDelivery(t, "evt-1", "INDEX_WORK_UPDATED.v1", 1))
	require.NoError(t, err)
	assert.Equal(t, entities.DispositionDuplicate, disposition)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDispatchHoldsInFlightEventUntilHolderReleases(t *testing.T) {
	f := newFixture(t, 3)
	var calls atomic.Int32
	require.NoError(t, f.registry.Register("INDEX_WORK_UPDATED", ports.HandlerFunc(func(context.Context, eventsv1.Envelope) entities.HandlerResult {
		calls.Add(1)
		return entities.Ok()
	})))
	admission, err := f.guard.Begin(context.Background(), consumerName, "evt-2")
	require.NoError(t, err)
	require.Equal(t, entities.AdmissionStarted, admission)
	delivery := envelopeDelivery(t, "evt-2", "INDEX_WORK_UPDATED.v1", 0)

	disposition, err := f.dispatcher.Dispatch(context.Background(), delivery)
	require.ErrorIs(t, err, domainerrors.ErrEventInFlight)
	assert.Equal(t, entities.DispositionInFlight, disposition)
	assert.Equal(t, int32(0), calls.Load())

	// The previous holder's record expires.
	require.NoError(t, f.guard.Release(context.Background(), consumerName, "evt-2"))

	disposition, err = f.dispatcher.Dispatch(context.Background(), delivery)
	require.NoError(t, err)
	assert.Equal(t, entities.DispositionProcessed, disposition)
	assert.Equal(t, int32(1), calls.Load())
	assert.True(t, f.guard.Completed(consumerName, "evt-2"))
}

func TestDispatchBusinessRejectionReleasesAndAcks(t *testing.T) {
	f := newFixture(t, 3)
	require.NoError(t, f.registry.Register("INDEX_WORK_UPDATED", ports.HandlerFunc(func(context.Context, eventsv1.Envelope) entities.HandlerResult {
		return entities.BusinessRejected("work was deleted")
	})))

	disposition, err := f.dispatcher.Dispatch(context.Background(), envelopeDelivery(t, "evt-3", "INDEX_WORK_UPDATED.v1", 0))
	require.NoError(t, err)
	assert.Equal(t, entities.DispositionRejected, disposition)
	assert.False(t, f.guard.Held(consumerName, "evt-3"))
	assert.Empty(t, f.deadLetters.Failures())
}

func TestDispatchRetriesTransientFailureThenSucceeds(t *testing.T) {
	f := newFixture(t, 3)
	var calls atomic.Int32
	require.NoError(t, f.registry.Register("INDEX_WORK_UPDATED", ports.HandlerFunc(func(context.Context, eventsv1.Envelope) entities.HandlerResult {
		if calls.Add(1) < 3 {
			return entities.TransientFailure(errors.New("search cluster busy"))
		}
		return entities.Ok()
	})))

	disposition, err := f.dispatcher.Dispatch(context.Background(), envelopeDelivery(t, "evt-4", "INDEX_WORK_UPDATED.v1", 0))
	require.NoError(t, err)
	assert.Equal(t, entities.DispositionProcessed, disposition)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, []time.Duration{200 * time.Millisecond, 400 * time.Millisecond}, f.sleeps)
	assert.Empty(t, f.deadLetters.Failures())
}

func TestDispatchDeadLettersExhaustedTransientFailure(t *testing.T) {
	f := newFixture(t, 2)
	cause := errors.New("search cluster down")
	require.NoError(t, f.registry.Register("INDEX_WORK_UPDATED", ports.HandlerFunc(func(context.Context, eventsv1.Envelope) entities.HandlerResult {
		return entities.TransientFailure(cause)
	})))
	delivery := envelopeDelivery(t, "evt-5", "INDEX_WORK_UPDATED.v1", 7)

	disposition, err := f.dispatcher.Dispatch(context.Background(), delivery)
	require.NoError(t, err)
	assert.Equal(t, entities.DispositionDeadLettered, disposition)
	assert.False(t, f.guard.Held(consumerName, "evt-5"))

	failures := f.deadLetters.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, delivery.Position(), failures[0].Delivery.Position())
	assert.Equal(t, "TransientFailure", failures[0].ErrorType)
	assert.ErrorIs(t, failures[0].Cause, cause)
}

func TestDispatchDeadLettersUndecodableAndUnhandled(t *testing.T) {
	f := newFixture(t, 3)

	disposition, err := f.dispatcher.Dispatch(context.Background(), entities.Delivery{Channel: "content.asset.events", Value: []byte("{not json")})
	require.NoError(t, err)
	assert.Equal(t, entities.DispositionDeadLettered, disposition)

	disposition, err = f.dispatcher.Dispatch(context.Background(), envelopeDelivery(t, "evt-6", "REVIEW_OPENED.v1", 1))
	require.NoError(t, err)
	assert.Equal(t, entities.DispositionDeadLettered, disposition)

	failures := f.deadLetters.Failures()
	require.Len(t, failures, 2)
	assert.Equal(t, "UndecodableMessage", failures[0].ErrorType)
	assert.ErrorIs(t, failures[0].Cause, domainerrors.ErrUndecodableMessage)
	assert.Equal(t, "NoHandler", failures[1].ErrorType)
	assert.ErrorIs(t, failures[1].Cause, domainerrors.ErrNoHandler)
	assert.False(t, f.guard.Held(consumerName, "evt-6"))
}

func TestDispatchRecoversHandlerPanic(t *testing.T) {
	f := newFixture(t, 1)
	require.NoError(t, f.registry.Register("INDEX_WORK_UPDATED", ports.HandlerFunc(func(context.Context, eventsv1.Envelope) entities.HandlerResult {
		panic("nil index client")
	})))

	disposition, err := f.dispatcher.Dispatch(context.Background(), envelopeDelivery(t, "evt-7", "INDEX_WORK_UPDATED.v1", 0))
	require.NoError(t, err)
	assert.Equal(t, entities.DispositionDeadLettered, disposition)

	failures := f.deadLetters.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, "HandlerPanic", failures[0].ErrorType)
	assert.ErrorIs(t, failures[0].Cause, domainerrors.ErrHandlerPanicked)
	assert.Contains(t, failures[0].Stack, "goroutine")
}

func TestDispatchPropagatesCaptureFailure(t *testing.T) {
	f := newFixture(t, 1)
	f.deadLetters.SetErr(errors.New("mongo unavailable"))

	_, err := f.dispatcher.Dispatch(context.Background(), entities.Delivery{Channel: "content.asset.events", Value: []byte("garbage")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mongo unavailable")
}

func TestDispatchReleasesGuardWhenCancelledDuringBackoff(t *testing.T) {
	f := newFixture(t, 3)
	ctx, cancel := context.WithCancel(context.Background())
	dispatcher, err := NewDispatcher(DefaultDispatcherConfig(consumerName), DispatcherDependencies{
		Registry:    f.registry,
		Guard:       f.guard,
		DeadLetters: f.deadLetters,
		Sleep: func(ctx context.Context, _ time.Duration) error {
			cancel()
			return ctx.Err()
		},
	})
	require.NoError(t, err)
	require.NoError(t, f.registry.Register("INDEX_WORK_UPDATED", ports.HandlerFunc(func(context.Context, eventsv1.Envelope) entities.HandlerResult {
		return entities.TransientFailure(errors.New("busy"))
	})))

	_, err = dispatcher.Dispatch(ctx, envelopeDelivery(t, "evt-8", "INDEX_WORK_UPDATED.v1", 0))
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, f.guard.Held(consumerName, "evt-8"))
	assert.Empty(t, f.deadLetters.Failures())
}

func TestReprocessUsesGuardAndNeverCaptures(t *testing.T) {
	f := newFixture(t, 1)
	outcomes := []entities.HandlerResult{
		entities.TransientFailure(errors.New("still failing")),
		entities.Ok(),
	}
	var calls atomic.Int32
	require.NoError(t, f.registry.Register("INDEX_WORK_UPDATED", ports.HandlerFunc(func(context.Context, eventsv1.Envelope) entities.HandlerResult {
		return outcomes[calls.Add(1)-1]
	})))
	delivery := envelopeDelivery(t, "evt-9", "INDEX_WORK_UPDATED.v1", 0)

	err := f.dispatcher.Reprocess(context.Background(), delivery)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "still failing")
	assert.Empty(t, f.deadLetters.Failures())

	require.NoError(t, f.dispatcher.Reprocess(context.Background(), delivery))
	require.NoError(t, f.dispatcher.Reprocess(context.Background(), delivery))
	assert.Equal(t, int32(2), calls.Load())
}

func TestReprocessReportsRejectionAndInFlight(t *testing.T) {
	f := newFixture(t, 1)
	require.NoError(t, f.registry.Register("INDEX_WORK_UPDATED", ports.HandlerFunc(func(context.Context, eventsv1.Envelope) entities.HandlerResult {
		return entities.BusinessRejected("work was deleted")
	})))

	err := f.dispatcher.Reprocess(context.Background(), envelopeDelivery(t, "evt-10", "INDEX_WORK_UPDATED.v1", 0))
	require.ErrorIs(t, err, domainerrors.ErrBusinessRejected)

	_, err = f.guard.Begin(context.Background(), consumerName, "evt-11")
	require.NoError(t, err)
	err = f.dispatcher.Reprocess(context.Background(), envelopeDelivery(t, "evt-11", "INDEX_WORK_UPDATED.v1", 0))
	require.ErrorIs(t, err, domainerrors.ErrEventInFlight)
}

func TestDispatcherConfigBackoffAndValidation(t *testing.T) {
	cfg := DispatcherConfig{Consumer: "c", MaxAttempts: 5, InitialBackoff: 100 * time.Millisecond, MaxBackoff: 300 * time.Millisecond}
	require.NoError(t, cfg.Validate())
	for attempt, want := range map[int]time.Duration{
		0: 0,
		1: 100 * time.Millisecond,
		2: 200 * time.Millisecond,
		3: 300 * time.Millisecond,
		9: 300 * time.Millisecond,
	} {
		assert.Equal(t, want, cfg.Backoff(attempt), fmt.Sprintf("attempt %d", attempt))
	}

	invalid := []DispatcherConfig{
		{Consumer: "", MaxAttempts: 1},
		{Consumer: "c", MaxAttempts: 0},
		{Consumer: "c", MaxAttempts: 1, InitialBackoff: time.Second, MaxBackoff: time.Millisecond},
	}
	for _, cfg := range invalid {
		require.ErrorIs(t, cfg.Validate(), domainerrors.ErrInvalidConsumerConfig)
	}
}

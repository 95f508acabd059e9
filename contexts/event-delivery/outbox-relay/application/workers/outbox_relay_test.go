package workers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"folio/contexts/event-delivery/outbox-relay/adapters/memory"
	"folio/contexts/event-delivery/outbox-relay/domain/entities"
	domainerrors "folio/contexts/event-delivery/outbox-relay/domain/errors"
	"folio/contexts/event-delivery/outbox-relay/domain/services"
	"folio/contexts/event-delivery/outbox-relay/ports"
)

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingPublisher struct {
	mu       sync.Mutex
	messages []ports.OutboundMessage
	failWith func(ports.OutboundMessage) error
}

func (p *recordingPublisher) Publish(_ context.Context, message ports.OutboundMessage) error {
	if p.failWith != nil {
		if err := p.failWith(message); err != nil {
			return err
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, message)
	return nil
}

func (p *recordingPublisher) published() []ports.OutboundMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ports.OutboundMessage(nil), p.messages...)
}

func testPolicy() services.RetryPolicy {
	return services.RetryPolicy{
		MaxRetries:   2,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     250 * time.Millisecond,
		Multiplier:   2,
	}
}

func seedEvent(t *testing.T, store *memory.Store, id string, eventType string, createdAt time.Time) {
	t.Helper()
	require.NoError(t, store.Save(context.Background(), entities.OutboxEvent{
		EventID:       id,
		AggregateType: "asset",
		AggregateID:   "agg-" + id,
		EventType:     eventType,
		Payload:       []byte(`{"id":"` + id + `"}`),
		Status:        entities.OutboxStatusPending,
		CreatedAt:     createdAt,
	}))
}

func newRelay(t *testing.T, store *memory.Store, publisher ports.Publisher, clock ports.Clock, owner string, policy services.RetryPolicy) *OutboxRelay {
	t.Helper()
	relay, err := NewOutboxRelay(RelayConfig{
		Owner:     owner,
		BatchSize: 10,
		LockLease: 30 * time.Second,
		Retry:     policy,
	}, RelayDependencies{
		Outbox:    store,
		Publisher: publisher,
		Clock:     clock,
		Jitter:    func() float64 { return 0.5 },
	})
	require.NoError(t, err)
	return relay
}

func TestRelayPublishesPendingEventsInOrder(t *testing.T) {
	clock := &fixedClock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	store := memory.NewStore()
	seedEvent(t, store, "e2", "EPISODE_PUBLISHED.v1", clock.now.Add(-time.Minute))
	seedEvent(t, store, "e1", "ASSET_STORED.v1", clock.now.Add(-2*time.Minute))
	publisher := &recordingPublisher{}

	report, err := newRelay(t, store, publisher, clock, "relay-a", testPolicy()).RelayPendingEvents(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RelayReport{Claimed: 2, Sent: 2}, report)

	messages := publisher.published()
	require.Len(t, messages, 2)
	assert.Equal(t, "e1", messages[0].Event.EventID)
	assert.Equal(t, "content.asset.events", messages[0].Topic)
	assert.Equal(t, "agg-e1", messages[0].Key)
	assert.Equal(t, "content.workflow.events", messages[1].Topic)

	for _, id := range []string{"e1", "e2"} {
		event, ok := store.Get(id)
		require.True(t, ok)
		assert.Equal(t, entities.OutboxStatusSent, event.Status)
		require.NotNil(t, event.SentAt)
		assert.Empty(t, event.LockedBy)
	}

	report, err = newRelay(t, store, publisher, clock, "relay-a", testPolicy()).RelayPendingEvents(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Claimed, "sent rows are never republished")
}

func TestRelaySchedulesRetryWithBackoffThenFails(t *testing.T) {
	clock := &fixedClock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	store := memory.NewStore()
	seedEvent(t, store, "e1", "ASSET_STORED.v1", clock.now)
	publisher := &recordingPublisher{failWith: func(ports.OutboundMessage) error {
		return errors.New("broker unavailable")
	}}
	relay := newRelay(t, store, publisher, clock, "relay-a", testPolicy())

	expectedDelays := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}
	for attempt, delay := range expectedDelays {
		report, err := relay.RelayPendingEvents(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, report.Retried)

		event, _ := store.Get("e1")
		assert.Equal(t, entities.OutboxStatusPending, event.Status)
		assert.Equal(t, attempt+1, event.RetryCount)
		assert.Equal(t, "broker unavailable", event.LastError)
		require.NotNil(t, event.NextRetryAt)
		assert.Equal(t, clock.Now().Add(delay), *event.NextRetryAt)

		report, err = relay.RelayPendingEvents(context.Background())
		require.NoError(t, err)
		assert.Zero(t, report.Claimed, "row is not due before next_retry_at")
		clock.Advance(delay)
	}

	report, err := relay.RelayPendingEvents(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)

	event, _ := store.Get("e1")
	assert.Equal(t, entities.OutboxStatusFailed, event.Status)
	assert.Equal(t, 3, event.RetryCount)

	clock.Advance(time.Hour)
	report, err = relay.RelayPendingEvents(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Claimed, "failed rows are terminal")
}

func TestRelayZeroRetriesFailsOnFirstError(t *testing.T) {
	clock := &fixedClock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	store := memory.NewStore()
	seedEvent(t, store, "e1", "ASSET_STORED.v1", clock.now)
	policy := testPolicy()
	policy.MaxRetries = 0
	publisher := &recordingPublisher{failWith: func(ports.OutboundMessage) error { return errors.New("nope") }}

	report, err := newRelay(t, store, publisher, clock, "relay-a", policy).RelayPendingEvents(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)

	event, _ := store.Get("e1")
	assert.Equal(t, entities.OutboxStatusFailed, event.Status)
	assert.Equal(t, 1, event.RetryCount)
}

func TestRelayMarksUnmappedEventFailedAndContinues(t *testing.T) {
	clock := &fixedClock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	store := memory.NewStore()
	seedEvent(t, store, "bad", "UNKNOWN_THING.v1", clock.now.Add(-time.Minute))
	seedEvent(t, store, "good", "INDEX_WORK_UPDATED.v1", clock.now)
	publisher := &recordingPublisher{}

	report, err := newRelay(t, store, publisher, clock, "relay-a", testPolicy()).RelayPendingEvents(context.Background())
	require.ErrorIs(t, err, domainerrors.ErrUnmappableEventType)
	assert.Equal(t, RelayReport{Claimed: 2, Sent: 1, Failed: 1, Unmapped: 1}, report)

	bad, _ := store.Get("bad")
	assert.Equal(t, entities.OutboxStatusFailed, bad.Status)
	assert.Contains(t, bad.LastError, "UNKNOWN_THING.v1")
	good, _ := store.Get("good")
	assert.Equal(t, entities.OutboxStatusSent, good.Status)
	require.Len(t, publisher.published(), 1)
	assert.Equal(t, "content.index.events", publisher.published()[0].Topic)
}

func TestRelayIsolatesPublisherPanics(t *testing.T) {
	clock := &fixedClock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	store := memory.NewStore()
	seedEvent(t, store, "boom", "ASSET_STORED.v1", clock.now.Add(-time.Minute))
	seedEvent(t, store, "fine", "ASSET_STORED.v1", clock.now)
	publisher := &recordingPublisher{failWith: func(message ports.OutboundMessage) error {
		if message.Event.EventID == "boom" {
			panic("serializer exploded")
		}
		return nil
	}}

	report, err := newRelay(t, store, publisher, clock, "relay-a", testPolicy()).RelayPendingEvents(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Sent)
	assert.Equal(t, 1, report.Retried)

	boom, _ := store.Get("boom")
	assert.Contains(t, boom.LastError, "serializer exploded")
}

func TestRelayStopsOnCancelledContextLeavingRowsPending(t *testing.T) {
	clock := &fixedClock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	store := memory.NewStore()
	seedEvent(t, store, "e1", "ASSET_STORED.v1", clock.now.Add(-time.Minute))
	seedEvent(t, store, "e2", "ASSET_STORED.v1", clock.now)

	ctx, cancel := context.WithCancel(context.Background())
	publisher := &recordingPublisher{failWith: func(ports.OutboundMessage) error {
		cancel()
		return nil
	}}

	report, err := newRelay(t, store, publisher, clock, "relay-a", testPolicy()).RelayPendingEvents(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, report.Sent)

	untouched, _ := store.Get("e2")
	assert.Equal(t, entities.OutboxStatusPending, untouched.Status)
	assert.Zero(t, untouched.RetryCount)

	clock.Advance(31 * time.Second)
	report, err = newRelay(t, store, &recordingPublisher{}, clock, "relay-b", testPolicy()).RelayPendingEvents(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Sent, "row is reclaimed once the lease lapses")
}

func TestConcurrentRelaysPublishEachEventOnce(t *testing.T) {
	clock := &fixedClock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	store := memory.NewStore()
	const total = 60
	for i := 0; i < total; i++ {
		seedEvent(t, store, fmt.Sprintf("e%02d", i), "ASSET_STORED.v1", clock.now.Add(time.Duration(i)*time.Millisecond))
	}
	publisher := &recordingPublisher{}
	relays := []*OutboxRelay{
		newRelay(t, store, publisher, clock, "relay-a", testPolicy()),
		newRelay(t, store, publisher, clock, "relay-b", testPolicy()),
	}

	var wg sync.WaitGroup
	for _, relay := range relays {
		wg.Add(1)
		go func(relay *OutboxRelay) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				_, err := relay.RelayPendingEvents(context.Background())
				assert.NoError(t, err)
			}
		}(relay)
	}
	wg.Wait()

	seen := map[string]int{}
	for _, message := range publisher.published() {
		seen[message.Event.EventID]++
	}
	assert.Len(t, seen, total)
	for id, count := range seen {
		assert.Equal(t, 1, count, id)
	}
}

func TestNewOutboxRelayRejectsInvalidConfig(t *testing.T) {
	deps := RelayDependencies{Outbox: memory.NewStore(), Publisher: &recordingPublisher{}}

	_, err := NewOutboxRelay(RelayConfig{Owner: "", Retry: testPolicy()}, deps)
	require.ErrorIs(t, err, domainerrors.ErrInvalidRelayConfig)

	_, err = NewOutboxRelay(RelayConfig{Owner: "r", BatchSize: -1, Retry: testPolicy()}, deps)
	require.ErrorIs(t, err, domainerrors.ErrInvalidRelayConfig)

	_, err = NewOutboxRelay(RelayConfig{Owner: "r", BatchSize: 0, Retry: testPolicy()}, deps)
	require.ErrorIs(t, err, domainerrors.ErrInvalidRelayConfig)

	bad := testPolicy()
	bad.MaxRetries = -1
	_, err = NewOutboxRelay(RelayConfig{Owner: "r", BatchSize: 10, Retry: bad}, deps)
	require.ErrorIs(t, err, domainerrors.ErrInvalidRetryPolicy)

	_, err = NewOutboxRelay(RelayConfig{Owner: "r", BatchSize: 10, Retry: testPolicy()}, RelayDependencies{})
	require.ErrorIs(t, err, domainerrors.ErrInvalidRelayConfig)
}

func TestRelayLogsSentEventsAtInfo(t *testing.T) {
	clock := &fixedClock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	store := memory.NewStore()
	seedEvent(t, store, "e1", "ASSET_STORED.v1", clock.now.Add(-time.Minute))
	var buf bytes.Buffer
	relay, err := NewOutboxRelay(RelayConfig{
		Owner:     "relay-a",
		BatchSize: 10,
		Retry:     testPolicy(),
	}, RelayDependencies{
		Outbox:    store,
		Publisher: &recordingPublisher{},
		Clock:     clock,
		Logger:    slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})),
	})
	require.NoError(t, err)

	_, err = relay.RelayPendingEvents(context.Background())
	require.NoError(t, err)

	var sent []map[string]any
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(line, &entry))
		if entry["event"] == "outbox_event_sent" {
			sent = append(sent, entry)
		}
	}
	require.Len(t, sent, 1)
	assert.Equal(t, "INFO", sent[0]["level"])
	assert.Equal(t, "e1", sent[0]["event_id"])
	assert.Equal(t, "ASSET_STORED.v1", sent[0]["event_type"])
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	message := strings.Repeat("a", maxLastErrorLen-1) + "é" + "tail"
	got := truncate(message)
	assert.True(t, utf8.ValidString(got))
	assert.Len(t, got, maxLastErrorLen-1)

	short := "publish failed: broker unreachable"
	assert.Equal(t, short, truncate(short))
	assert.Len(t, truncate(strings.Repeat("x", maxLastErrorLen+10)), maxLastErrorLen)
}

package commands

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"folio/contexts/event-delivery/dead-letter/adapters/memory"
	"folio/contexts/event-delivery/dead-letter/domain/entities"
	domainerrors "folio/contexts/event-delivery/dead-letter/domain/errors"
)

type resubmitFunc func(ctx context.Context, message entities.DlqMessage) error

func (f resubmitFunc) Resubmit(ctx context.Context, message entities.DlqMessage) error {
	return f(ctx, message)
}

func seedCaptured(t *testing.T, store *memory.Store) entities.DlqMessage {
	t.Helper()
	result, err := captureUseCase(store).Execute(context.Background(), sampleCapture())
	require.NoError(t, err)
	return result.Message
}

func TestReprocessSuccessMarksReprocessed(t *testing.T) {
	store := memory.NewStore()
	captured := seedCaptured(t, store)

	var seen entities.DlqMessage
	useCase := ReprocessMessageUseCase{
		Store: store,
		Resubmitter: resubmitFunc(func(_ context.Context, message entities.DlqMessage) error {
			seen = message
			return nil
		}),
		Clock: fixedClock{now: time.Date(2026, 7, 2, 10, 0, 0, 0, time.UTC)},
	}

	message, err := useCase.Execute(context.Background(), ReprocessMessageCommand{ID: captured.ID, Actor: "ops@folio", Reason: "index backend restored"})
	require.NoError(t, err)

	assert.Equal(t, entities.DlqStatusReprocessing, seen.Status)
	assert.Equal(t, captured.Payload, seen.Payload)
	assert.Equal(t, entities.DlqStatusReprocessed, message.Status)
	assert.Equal(t, 1, message.ReprocessCount)
	assert.Equal(t, "ops@folio", message.LastReprocessedBy)
	assert.Equal(t, "index backend restored", message.LastReprocessReason)
	require.NotNil(t, message.LastReprocessedAt)
	assert.True(t, message.LastReprocessedAt.Equal(time.Date(2026, 7, 2, 10, 0, 0, 0, time.UTC)))

	stored, err := store.FindByID(context.Background(), captured.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.DlqStatusReprocessed, stored.Status)
}

func TestReprocessFailureLeavesMessageRetryable(t *testing.T) {
	store := memory.NewStore()
	captured := seedCaptured(t, store)

	attempts := 0
	useCase := ReprocessMessageUseCase{
		Store: store,
		Resubmitter: resubmitFunc(func(context.Context, entities.DlqMessage) error {
			attempts++
			if attempts == 1 {
				return errors.New("handler still failing")
			}
			return nil
		}),
	}

	message, err := useCase.Execute(context.Background(), ReprocessMessageCommand{ID: captured.ID, Actor: "ops"})
	require.NoError(t, err)
	assert.Equal(t, entities.DlqStatusFailed, message.Status)
	assert.Equal(t, "handler still failing", message.LastReprocessError)

	message, err = useCase.Execute(context.Background(), ReprocessMessageCommand{ID: captured.ID, Actor: "ops"})
	require.NoError(t, err)
	assert.Equal(t, entities.DlqStatusReprocessed, message.Status)
	assert.Equal(t, 2, message.ReprocessCount)
	assert.Empty(t, message.LastReprocessError)
}

func TestReprocessRejectsReprocessedMessage(t *testing.T) {
	store := memory.NewStore()
	captured := seedCaptured(t, store)
	useCase := ReprocessMessageUseCase{
		Store:       store,
		Resubmitter: resubmitFunc(func(context.Context, entities.DlqMessage) error { return nil }),
	}

	_, err := useCase.Execute(context.Background(), ReprocessMessageCommand{ID: captured.ID, Actor: "ops"})
	require.NoError(t, err)

	_, err = useCase.Execute(context.Background(), ReprocessMessageCommand{ID: captured.ID, Actor: "ops"})
	require.ErrorIs(t, err, domainerrors.ErrReprocessNotAllowed)
}

func TestReprocessRequiresActorAndKnownID(t *testing.T) {
	store := memory.NewStore()
	useCase := ReprocessMessageUseCase{
		Store:       store,
		Resubmitter: resubmitFunc(func(context.Context, entities.DlqMessage) error { return nil }),
	}

	_, err := useCase.Execute(context.Background(), ReprocessMessageCommand{ID: "x", Actor: "  "})
	require.ErrorIs(t, err, domainerrors.ErrReprocessActorRequired)

	_, err = useCase.Execute(context.Background(), ReprocessMessageCommand{ID: "missing", Actor: "ops"})
	require.ErrorIs(t, err, domainerrors.ErrDlqMessageNotFound)
}

func TestConcurrentReprocessResubmitsOnce(t *testing.T) {
	store := memory.NewStore()
	captured := seedCaptured(t, store)

	release := make(chan struct{})
	var mu sync.Mutex
	calls := 0
	useCase := ReprocessMessageUseCase{
		Store: store,
		Resubmitter: resubmitFunc(func(context.Context, entities.DlqMessage) error {
			mu.Lock()
			calls++
			mu.Unlock()
			<-release
			return nil
		}),
	}

	const workers = 4
	errs := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := useCase.Execute(context.Background(), ReprocessMessageCommand{ID: captured.ID, Actor: "ops"})
			errs <- err
		}()
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 1
	}, time.Second, 5*time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t,
			errors.Is(err, domainerrors.ErrConcurrentUpdate) || errors.Is(err, domainerrors.ErrReprocessNotAllowed),
			"unexpected error: %v", err)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, calls)
}

// outcomeStore fails outcome writes (every Update after the first) while
// failures remains, and honours context cancellation the way a network
// store does.
type outcomeStore struct {
	*memory.Store
	mu       sync.Mutex
	updates  int
	failures int
}

func (s *outcomeStore) Update(ctx context.Context, message entities.DlqMessage, expected entities.DlqStatus) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.updates++
	fail := s.updates > 1 && s.failures > 0
	if fail {
		s.failures--
	}
	s.mu.Unlock()
	if fail {
		return errors.New("connection reset by peer")
	}
	return s.Store.Update(ctx, message, expected)
}

func TestReprocessRecordsOutcomeAfterTransientStoreError(t *testing.T) {
	store := &outcomeStore{Store: memory.NewStore(), failures: 1}
	captured := seedCaptured(t, store.Store)
	useCase := ReprocessMessageUseCase{
		Store:       store,
		Resubmitter: resubmitFunc(func(context.Context, entities.DlqMessage) error { return nil }),
	}

	message, err := useCase.Execute(context.Background(), ReprocessMessageCommand{ID: captured.ID, Actor: "ops"})
	require.NoError(t, err)
	assert.Equal(t, entities.DlqStatusReprocessed, message.Status)

	stored, err := store.FindByID(context.Background(), captured.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.DlqStatusReprocessed, stored.Status)
}

func TestReprocessRecordsOutcomeWhenRequestIsCancelled(t *testing.T) {
	store := &outcomeStore{Store: memory.NewStore()}
	captured := seedCaptured(t, store.Store)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	useCase := ReprocessMessageUseCase{
		Store: store,
		Resubmitter: resubmitFunc(func(context.Context, entities.DlqMessage) error {
			cancel()
			return nil
		}),
	}

	_, err := useCase.Execute(ctx, ReprocessMessageCommand{ID: captured.ID, Actor: "ops"})
	require.NoError(t, err)

	stored, err := store.FindByID(context.Background(), captured.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.DlqStatusReprocessed, stored.Status)
}

func TestReprocessRecordsResubmitterPanicAsFailure(t *testing.T) {
	store := memory.NewStore()
	captured := seedCaptured(t, store)
	useCase := ReprocessMessageUseCase{
		Store: store,
		Resubmitter: resubmitFunc(func(context.Context, entities.DlqMessage) error {
			panic("nil handler")
		}),
	}

	message, err := useCase.Execute(context.Background(), ReprocessMessageCommand{ID: captured.ID, Actor: "ops"})
	require.NoError(t, err)
	assert.Equal(t, entities.DlqStatusFailed, message.Status)
	assert.Contains(t, message.LastReprocessError, "nil handler")

	stored, err := store.FindByID(context.Background(), captured.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.DlqStatusFailed, stored.Status)
}

func TestReprocessReclaimsStaleAttempt(t *testing.T) {
	store := &outcomeStore{Store: memory.NewStore(), failures: 100}
	captured := seedCaptured(t, store.Store)
	started := time.Date(2026, 7, 2, 10, 0, 0, 0, time.UTC)
	useCase := ReprocessMessageUseCase{
		Store:       store,
		Resubmitter: resubmitFunc(func(context.Context, entities.DlqMessage) error { return nil }),
		Clock:       fixedClock{now: started},
		StaleAfter:  10 * time.Minute,
	}

	_, err := useCase.Execute(context.Background(), ReprocessMessageCommand{ID: captured.ID, Actor: "ops"})
	require.Error(t, err)
	stuck, err := store.FindByID(context.Background(), captured.ID)
	require.NoError(t, err)
	require.Equal(t, entities.DlqStatusReprocessing, stuck.Status)

	// The store recovers; a fresh attempt inside the window is still refused.
	store.failures = 0
	useCase.Clock = fixedClock{now: started.Add(5 * time.Minute)}
	_, err = useCase.Execute(context.Background(), ReprocessMessageCommand{ID: captured.ID, Actor: "ops"})
	require.ErrorIs(t, err, domainerrors.ErrReprocessNotAllowed)

	useCase.Clock = fixedClock{now: started.Add(10 * time.Minute)}
	message, err := useCase.Execute(context.Background(), ReprocessMessageCommand{ID: captured.ID, Actor: "oncall"})
	require.NoError(t, err)
	assert.Equal(t, entities.DlqStatusReprocessed, message.Status)
	assert.Equal(t, 2, message.ReprocessCount)
	assert.Equal(t, "oncall", message.LastReprocessedBy)
}

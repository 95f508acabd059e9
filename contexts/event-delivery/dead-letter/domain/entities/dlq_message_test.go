package entities

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainerrors "folio/contexts/event-delivery/dead-letter/domain/errors"
)

type timeoutError struct{}

func (timeoutError) Error() string { return "search backend timeout" }

func pendingMessage(now time.Time) DlqMessage {
	return DlqMessage{
		ID:                "dlq-1",
		SourceKey:         SourceKey("content.index.events", 2, 41),
		DlqChannel:        DlqChannelFor("content.index.events"),
		OriginalChannel:   "content.index.events",
		OriginalPartition: 2,
		OriginalOffset:    41,
		Status:            DlqStatusPending,
		StoredAt:          now,
	}
}

func TestSourceKeyAndChannel(t *testing.T) {
	assert.Equal(t, "content.asset.events:0:17", SourceKey("content.asset.events", 0, 17))
	assert.Equal(t, "content.asset.events.dlq", DlqChannelFor("content.asset.events"))
}

func TestDlqStatusTransitions(t *testing.T) {
	assert.True(t, DlqStatusPending.CanTransitionTo(DlqStatusReprocessing))
	assert.True(t, DlqStatusFailed.CanTransitionTo(DlqStatusReprocessing))
	assert.True(t, DlqStatusReprocessing.CanTransitionTo(DlqStatusReprocessed))
	assert.True(t, DlqStatusReprocessing.CanTransitionTo(DlqStatusFailed))
	assert.False(t, DlqStatusReprocessed.CanTransitionTo(DlqStatusReprocessing))
	assert.False(t, DlqStatusPending.CanTransitionTo(DlqStatusReprocessed))
	assert.False(t, DlqStatusReprocessing.CanTransitionTo(DlqStatusReprocessing))
}

func TestReprocessLifecycle(t *testing.T) {
	now := time.Date(2026, 7, 1, 8, 0, 0, 0, time.UTC)
	message := pendingMessage(now)
	require.NoError(t, message.Validate())

	require.ErrorIs(t, message.BeginReprocess(" ", "fixed mapping", now), domainerrors.ErrReprocessActorRequired)
	require.NoError(t, message.BeginReprocess("ops@folio", "fixed mapping", now))
	assert.Equal(t, DlqStatusReprocessing, message.Status)
	assert.Equal(t, 1, message.ReprocessCount)
	require.ErrorIs(t, message.BeginReprocess("ops@folio", "again", now), domainerrors.ErrReprocessNotAllowed)

	require.NoError(t, message.FailReprocess(errors.New("still broken"), now.Add(time.Minute)))
	assert.Equal(t, DlqStatusFailed, message.Status)
	assert.Equal(t, "still broken", message.LastReprocessError)

	require.NoError(t, message.BeginReprocess("ops@folio", "retry after deploy", now.Add(time.Hour)))
	assert.Equal(t, 2, message.ReprocessCount)
	require.NoError(t, message.CompleteReprocess(now.Add(time.Hour)))
	assert.Equal(t, DlqStatusReprocessed, message.Status)
	assert.Empty(t, message.LastReprocessError)
	assert.Equal(t, "retry after deploy", message.LastReprocessReason)

	require.ErrorIs(t, message.BeginReprocess("ops@folio", "no", now), domainerrors.ErrReprocessNotAllowed)
}

func TestReprocessStale(t *testing.T) {
	now := time.Date(2026, 7, 1, 8, 0, 0, 0, time.UTC)
	message := pendingMessage(now)
	assert.False(t, message.ReprocessStale(now.Add(time.Hour), time.Minute))

	require.NoError(t, message.BeginReprocess("ops@folio", "", now))
	assert.False(t, message.ReprocessStale(now.Add(59*time.Second), time.Minute))
	assert.True(t, message.ReprocessStale(now.Add(time.Minute), time.Minute))
	assert.False(t, message.ReprocessStale(now.Add(time.Hour), 0))
}

func TestValidateRejectsMismatchedSourceKey(t *testing.T) {
	message := pendingMessage(time.Now())
	message.OriginalOffset = 42
	require.ErrorIs(t, message.Validate(), domainerrors.ErrInvalidDlqMessage)
}

func TestNewErrorInfoClassifiesAndTruncates(t *testing.T) {
	wrapped := fmt.Errorf("index work: %w", timeoutError{})
	info := NewErrorInfo(wrapped, "", strings.Repeat("s", MaxStackBytes+500))
	assert.Equal(t, "entities.timeoutError", info.Type)
	assert.Equal(t, "index work: search backend timeout", info.Message)
	assert.Len(t, info.Stack, MaxStackBytes)

	long := NewErrorInfo(errors.New(strings.Repeat("é", MaxMessageBytes)), "Decode", "")
	assert.Equal(t, "Decode", long.Type)
	assert.LessOrEqual(t, len(long.Message), MaxMessageBytes)
	assert.True(t, utf8.ValidString(long.Message))

	assert.Equal(t, "unknown", NewErrorInfo(nil, "", "").Type)
}

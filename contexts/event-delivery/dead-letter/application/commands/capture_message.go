package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	application "folio/contexts/event-delivery/dead-letter/application"
	"folio/contexts/event-delivery/dead-letter/domain/entities"
	domainerrors "folio/contexts/event-delivery/dead-letter/domain/errors"
	"folio/contexts/event-delivery/dead-letter/ports"
	eventsv1 "folio/contracts/events/v1"
)

type CaptureMessageCommand struct {
	Channel   string
	Partition int
	Offset    int64
	Timestamp time.Time
	Key       []byte
	Payload   []byte
	Headers   map[string]string
	Cause     error
	ErrorType string
	Stack     string
}

type CaptureMessageResult struct {
	Message entities.DlqMessage
	Created bool
}

// CaptureMessageUseCase stores a failed delivery once per source key.
// Every store failure is returned wrapped in ErrCaptureFailed so the caller
// withholds the offset commit.
type CaptureMessageUseCase struct {
	Store       ports.MessageStore
	IDGenerator ports.IDGenerator
	Clock       ports.Clock
	Logger      *slog.Logger
}

func (u CaptureMessageUseCase) Execute(ctx context.Context, cmd CaptureMessageCommand) (CaptureMessageResult, error) {
	logger := application.ResolveLogger(u.Logger)
	channel := strings.TrimSpace(cmd.Channel)
	if channel == "" {
		return CaptureMessageResult{}, fmt.Errorf("%w: %w: channel is required", domainerrors.ErrCaptureFailed, domainerrors.ErrInvalidDlqMessage)
	}
	sourceKey := entities.SourceKey(channel, cmd.Partition, cmd.Offset)

	existing, found, err := u.Store.FindBySourceKey(ctx, sourceKey)
	if err != nil {
		return CaptureMessageResult{}, u.captureFailed(logger, sourceKey, err)
	}
	if found {
		logger.Info("dlq capture deduplicated",
			"event", "dlq_capture_deduplicated",
			"module", "event-delivery/dead-letter",
			"layer", "application",
			"dlq_id", existing.ID,
			"source_key", sourceKey,
		)
		return CaptureMessageResult{Message: existing}, nil
	}

	id, err := u.IDGenerator.NewID(ctx)
	if err != nil {
		return CaptureMessageResult{}, u.captureFailed(logger, sourceKey, err)
	}
	now := u.now()
	message := entities.DlqMessage{
		ID:                id,
		SourceKey:         sourceKey,
		DlqChannel:        entities.DlqChannelFor(channel),
		OriginalChannel:   channel,
		OriginalPartition: cmd.Partition,
		OriginalOffset:    cmd.Offset,
		OriginalTimestamp: cmd.Timestamp.UTC(),
		MessageKey:        string(cmd.Key),
		Payload:           append([]byte(nil), cmd.Payload...),
		Headers:           copyHeaders(cmd.Headers),
		Event:             extractMetadata(cmd.Payload, cmd.Headers),
		Error:             entities.NewErrorInfo(cmd.Cause, cmd.ErrorType, cmd.Stack),
		Status:            entities.DlqStatusPending,
		StoredAt:          now,
		UpdatedAt:         now,
	}
	if err := message.Validate(); err != nil {
		return CaptureMessageResult{}, u.captureFailed(logger, sourceKey, err)
	}

	if err := u.Store.Insert(ctx, message); err != nil {
		if errors.Is(err, domainerrors.ErrDuplicateSourceKey) {
			winner, found, findErr := u.Store.FindBySourceKey(ctx, sourceKey)
			if findErr == nil && found {
				return CaptureMessageResult{Message: winner}, nil
			}
			if findErr != nil {
				err = findErr
			}
		}
		return CaptureMessageResult{}, u.captureFailed(logger, sourceKey, err)
	}

	logger.Warn("message captured to dlq",
		"event", "dlq_message_captured",
		"module", "event-delivery/dead-letter",
		"layer", "application",
		"dlq_id", message.ID,
		"source_key", sourceKey,
		"event_id", message.Event.EventID,
		"event_type", message.Event.EventType,
		"error_type", message.Error.Type,
		"error", message.Error.Message,
	)
	return CaptureMessageResult{Message: message, Created: true}, nil
}

func (u CaptureMessageUseCase) captureFailed(logger *slog.Logger, sourceKey string, err error) error {
	logger.Error("dlq capture failed",
		"event", "dlq_capture_failed",
		"module", "event-delivery/dead-letter",
		"layer", "application",
		"source_key", sourceKey,
		"error", err.Error(),
	)
	return fmt.Errorf("%w: %s: %w", domainerrors.ErrCaptureFailed, sourceKey, err)
}

func (u CaptureMessageUseCase) now() time.Time {
	if u.Clock == nil {
		return time.Now().UTC()
	}
	return u.Clock.Now().UTC()
}

// extractMetadata reads whatever envelope fields are present without
// requiring the payload to be a valid envelope, then falls back to headers.
func extractMetadata(payload []byte, headers map[string]string) entities.EventMetadata {
	var envelope eventsv1.Envelope
	_ = json.Unmarshal(payload, &envelope)
	metadata := entities.EventMetadata{
		EventID:        envelope.EventID,
		EventType:      envelope.EventType,
		Producer:       envelope.Producer,
		TraceID:        envelope.TraceID,
		IdempotencyKey: envelope.IdempotencyKey,
	}
	if metadata.EventID == "" {
		metadata.EventID = headers["event_id"]
	}
	if metadata.EventType == "" {
		metadata.EventType = headers["event_type"]
	}
	if metadata.TraceID == "" {
		metadata.TraceID = headers["trace_id"]
	}
	return metadata
}

func copyHeaders(headers map[string]string) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	out := make(map[string]string, len(headers))
	for key, value := range headers {
		out[key] = value
	}
	return out
}

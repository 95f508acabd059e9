package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	application "folio/contexts/event-delivery/dead-letter/application"
	"folio/contexts/event-delivery/dead-letter/domain/entities"
	domainerrors "folio/contexts/event-delivery/dead-letter/domain/errors"
	"folio/contexts/event-delivery/dead-letter/ports"
)

type ReprocessMessageCommand struct {
	ID     string
	Actor  string
	Reason string
}

const (
	recordAttempts = 3
	recordTimeout  = 5 * time.Second
)

var errReprocessAbandoned = errors.New("previous reprocess attempt abandoned")

// ReprocessMessageUseCase resubmits a PENDING or FAILED message and records
// the outcome. A failed resubmission is not an error: the message is stored
// as FAILED with the cause and stays eligible for another attempt.
//
// A message left REPROCESSING for StaleAfter (its outcome was never
// recorded) may be reclaimed by a new attempt. Zero disables reclaiming.
type ReprocessMessageUseCase struct {
	Store       ports.MessageStore
	Resubmitter ports.Resubmitter
	Clock       ports.Clock
	StaleAfter  time.Duration
	Logger      *slog.Logger
}

func (u ReprocessMessageUseCase) Execute(ctx context.Context, cmd ReprocessMessageCommand) (entities.DlqMessage, error) {
	logger := application.ResolveLogger(u.Logger)
	if strings.TrimSpace(cmd.Actor) == "" {
		return entities.DlqMessage{}, domainerrors.ErrReprocessActorRequired
	}

	stored, err := u.Store.FindByID(ctx, strings.TrimSpace(cmd.ID))
	if err != nil {
		return entities.DlqMessage{}, err
	}

	message := stored
	if stored.ReprocessStale(u.now(), u.StaleAfter) {
		logger.Warn("dlq reprocess reclaimed",
			"event", "dlq_reprocess_reclaimed",
			"module", "event-delivery/dead-letter",
			"layer", "application",
			"dlq_id", stored.ID,
			"previous_actor", stored.LastReprocessedBy,
			"previous_started_at", stored.LastReprocessedAt,
		)
		if err := message.FailReprocess(errReprocessAbandoned, u.now()); err != nil {
			return entities.DlqMessage{}, err
		}
	}
	if err := message.BeginReprocess(cmd.Actor, cmd.Reason, u.now()); err != nil {
		return entities.DlqMessage{}, err
	}
	if err := u.Store.Update(ctx, message, stored.Status); err != nil {
		return entities.DlqMessage{}, err
	}

	logger.Info("dlq reprocess started",
		"event", "dlq_reprocess_started",
		"module", "event-delivery/dead-letter",
		"layer", "application",
		"dlq_id", message.ID,
		"actor", message.LastReprocessedBy,
		"reason", message.LastReprocessReason,
		"reprocess_count", message.ReprocessCount,
	)

	resubmitErr := u.resubmit(ctx, message)
	if resubmitErr == nil {
		err = message.CompleteReprocess(u.now())
	} else {
		err = message.FailReprocess(resubmitErr, u.now())
	}
	if err != nil {
		return entities.DlqMessage{}, err
	}
	if err := u.record(ctx, message); err != nil {
		logger.Error("dlq reprocess outcome not recorded",
			"event", "dlq_reprocess_record_failed",
			"module", "event-delivery/dead-letter",
			"layer", "application",
			"dlq_id", message.ID,
			"error", err.Error(),
		)
		return entities.DlqMessage{}, err
	}

	if resubmitErr != nil {
		logger.Warn("dlq reprocess failed",
			"event", "dlq_reprocess_failed",
			"module", "event-delivery/dead-letter",
			"layer", "application",
			"dlq_id", message.ID,
			"error", message.LastReprocessError,
		)
	} else {
		logger.Info("dlq reprocess succeeded",
			"event", "dlq_reprocess_succeeded",
			"module", "event-delivery/dead-letter",
			"layer", "application",
			"dlq_id", message.ID,
		)
	}
	return message, nil
}

// resubmit turns a resubmitter panic into a failed attempt.
func (u ReprocessMessageUseCase) resubmit(ctx context.Context, message entities.DlqMessage) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("resubmit panic: %v", recovered)
		}
	}()
	return u.Resubmitter.Resubmit(ctx, message)
}

// record stores the outcome even when the request was cancelled while the
// resubmission ran, so the message does not stay REPROCESSING.
func (u ReprocessMessageUseCase) record(ctx context.Context, message entities.DlqMessage) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	var err error
	for attempt := 0; attempt < recordAttempts; attempt++ {
		err = u.Store.Update(ctx, message, entities.DlqStatusReprocessing)
		if err == nil || errors.Is(err, domainerrors.ErrConcurrentUpdate) || errors.Is(err, domainerrors.ErrDlqMessageNotFound) {
			return err
		}
		if ctx.Err() != nil {
			break
		}
	}
	return err
}

func (u ReprocessMessageUseCase) now() time.Time {
	if u.Clock == nil {
		return time.Now().UTC()
	}
	return u.Clock.Now().UTC()
}

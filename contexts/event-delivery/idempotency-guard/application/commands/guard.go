package commands

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	application "folio/contexts/event-delivery/idempotency-guard/application"
	"folio/contexts/event-delivery/idempotency-guard/domain/entities"
	domainerrors "folio/contexts/event-delivery/idempotency-guard/domain/errors"
	"folio/contexts/event-delivery/idempotency-guard/ports"
)

// beginAttempts bounds the create-or-read loop when a record disappears
// between a failed create and the follow-up read.
const beginAttempts = 3

type GuardConfig struct {
	ProcessingTTL time.Duration
	CompletedTTL  time.Duration
}

func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		ProcessingTTL: 5 * time.Minute,
		CompletedTTL:  7 * 24 * time.Hour,
	}
}

func (c GuardConfig) Validate() error {
	if c.ProcessingTTL <= 0 || c.CompletedTTL <= 0 {
		return fmt.Errorf("%w: ttls must be > 0", domainerrors.ErrInvalidGuardConfig)
	}
	return nil
}

// Guard decides whether a consumer may process an event. An IN_PROGRESS
// record expires after ProcessingTTL so a crashed worker does not block the
// event forever; a COMPLETED record lives for CompletedTTL.
type Guard struct {
	store  ports.RecordStore
	clock  ports.Clock
	cfg    GuardConfig
	logger *slog.Logger
}

func NewGuard(cfg GuardConfig, store ports.RecordStore, clock ports.Clock, logger *slog.Logger) (*Guard, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", domainerrors.ErrInvalidGuardConfig)
	}
	return &Guard{store: store, clock: clock, cfg: cfg, logger: application.ResolveLogger(logger)}, nil
}

// TryBegin atomically creates an IN_PROGRESS record when none exists.
func (g *Guard) TryBegin(ctx context.Context, consumer string, eventID string) (entities.Decision, error) {
	key, err := entities.NewKey(consumer, eventID)
	if err != nil {
		return "", err
	}

	for attempt := 0; attempt < beginAttempts; attempt++ {
		now := g.now()
		created, err := g.store.SaveIfAbsent(ctx, entities.Record{
			Key:       key,
			Status:    entities.RecordStatusInProgress,
			CreatedAt: now,
			UpdatedAt: now,
		}, g.cfg.ProcessingTTL)
		if err != nil {
			g.logFailure("idempotency begin failed", "idempotency_begin_failed", key, err)
			return "", err
		}
		if created {
			return entities.DecisionStarted, nil
		}

		existing, found, err := g.store.Find(ctx, key)
		if err != nil {
			g.logFailure("idempotency lookup failed", "idempotency_lookup_failed", key, err)
			return "", err
		}
		if !found {
			continue
		}
		if existing.Status == entities.RecordStatusCompleted {
			g.logger.Debug("duplicate event skipped",
				"event", "idempotency_duplicate_completed",
				"module", "event-delivery/idempotency-guard",
				"layer", "application",
				"consumer", key.Consumer,
				"event_id", key.EventID,
			)
			return entities.DecisionAlreadyCompleted, nil
		}
		return entities.DecisionInProgress, nil
	}
	return entities.DecisionInProgress, nil
}

func (g *Guard) MarkCompleted(ctx context.Context, consumer string, eventID string) error {
	return g.CompleteWithResult(ctx, consumer, eventID, nil)
}

// CompleteWithResult marks the event COMPLETED and stores an optional cached
// result for later lookups.
func (g *Guard) CompleteWithResult(ctx context.Context, consumer string, eventID string, result []byte) error {
	key, err := entities.NewKey(consumer, eventID)
	if err != nil {
		return err
	}
	now := g.now()
	record := entities.Record{Key: key, Status: entities.RecordStatusInProgress, CreatedAt: now}
	existing, found, err := g.store.Find(ctx, key)
	if err != nil {
		return err
	}
	if found {
		if existing.Status == entities.RecordStatusCompleted {
			return nil
		}
		record = existing
	}

	completed, err := record.Complete(result, now)
	if err != nil {
		return err
	}
	if err := g.store.Save(ctx, completed, g.cfg.CompletedTTL); err != nil {
		g.logFailure("idempotency complete failed", "idempotency_complete_failed", key, err)
		return err
	}
	return nil
}

// MarkFailed removes the record so a later delivery can try again.
func (g *Guard) MarkFailed(ctx context.Context, consumer string, eventID string) error {
	key, err := entities.NewKey(consumer, eventID)
	if err != nil {
		return err
	}
	if err := g.store.Delete(ctx, key); err != nil {
		g.logFailure("idempotency release failed", "idempotency_release_failed", key, err)
		return err
	}
	return nil
}

// Lookup returns the current record, including any cached result.
func (g *Guard) Lookup(ctx context.Context, consumer string, eventID string) (entities.Record, bool, error) {
	key, err := entities.NewKey(consumer, eventID)
	if err != nil {
		return entities.Record{}, false, err
	}
	return g.store.Find(ctx, key)
}

func (g *Guard) now() time.Time {
	if g.clock == nil {
		return time.Now().UTC()
	}
	return g.clock.Now().UTC()
}

func (g *Guard) logFailure(message string, event string, key entities.Key, err error) {
	g.logger.Error(message,
		"event", event,
		"module", "event-delivery/idempotency-guard",
		"layer", "application",
		"consumer", key.Consumer,
		"event_id", key.EventID,
		"error", err.Error(),
	)
}

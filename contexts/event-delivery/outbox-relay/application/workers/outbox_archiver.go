package workers

import (
	"context"
	"log/slog"
	"time"

	application "folio/contexts/event-delivery/outbox-relay/application"
	"folio/contexts/event-delivery/outbox-relay/ports"
)

// OutboxArchiver moves SENT rows older than RetainFor into the archive table.
type OutboxArchiver struct {
	Outbox    ports.OutboxRetention
	Clock     ports.Clock
	RetainFor time.Duration
	BatchSize int
	Logger    *slog.Logger
}

func (a OutboxArchiver) RunOnce(ctx context.Context) error {
	logger := application.ResolveLogger(a.Logger)
	if a.RetainFor <= 0 {
		return nil
	}
	limit := a.BatchSize
	if limit <= 0 {
		limit = 1000
	}

	now := time.Now().UTC()
	if a.Clock != nil {
		now = a.Clock.Now().UTC()
	}
	moved, err := a.Outbox.ArchiveSent(ctx, now.Add(-a.RetainFor), limit)
	if err != nil {
		logger.Error("outbox archive failed",
			"event", "outbox_archive_failed",
			"module", "event-delivery/outbox-relay",
			"layer", "worker",
			"error", err.Error(),
		)
		return err
	}
	if moved > 0 {
		logger.Info("outbox rows archived",
			"event", "outbox_archive_completed",
			"module", "event-delivery/outbox-relay",
			"layer", "worker",
			"archived_count", moved,
		)
	}
	return nil
}

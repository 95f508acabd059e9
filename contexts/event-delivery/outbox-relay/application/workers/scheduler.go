package workers

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	application "folio/contexts/event-delivery/outbox-relay/application"
)

// Job is one unit of periodic work.
type Job interface {
	RunOnce(ctx context.Context) error
}

// Scheduler runs a Job after InitialDelay and then every Interval until the
// context ends. A tick that arrives while the previous cycle is still running
// is skipped. Cycle errors are logged and never stop the loop.
type Scheduler struct {
	Name         string
	Job          Job
	Enabled      bool
	InitialDelay time.Duration
	Interval     time.Duration
	CycleTimeout time.Duration
	Logger       *slog.Logger

	running atomic.Bool
	cycles  atomic.Int64
	skipped atomic.Int64
}

func (s *Scheduler) Run(ctx context.Context) error {
	logger := application.ResolveLogger(s.Logger)
	if !s.Enabled || s.Job == nil {
		logger.Info("scheduler disabled",
			"event", "outbox_scheduler_disabled",
			"module", "event-delivery/outbox-relay",
			"layer", "worker",
			"job", s.Name,
		)
		return nil
	}
	interval := s.Interval
	if interval <= 0 {
		interval = time.Second
	}

	if s.InitialDelay > 0 {
		timer := time.NewTimer(s.InitialDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}

	logger.Info("scheduler started",
		"event", "outbox_scheduler_started",
		"module", "event-delivery/outbox-relay",
		"layer", "worker",
		"job", s.Name,
		"interval", interval.String(),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		s.Tick(ctx)
		select {
		case <-ctx.Done():
			logger.Info("scheduler stopped",
				"event", "outbox_scheduler_stopped",
				"module", "event-delivery/outbox-relay",
				"layer", "worker",
				"job", s.Name,
			)
			return nil
		case <-ticker.C:
		}
	}
}

// Tick runs a single cycle unless one is already in flight. It reports
// whether the cycle ran.
func (s *Scheduler) Tick(ctx context.Context) bool {
	if !s.running.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		return false
	}
	defer s.running.Store(false)
	s.cycles.Add(1)

	cycleCtx := ctx
	if s.CycleTimeout > 0 {
		var cancel context.CancelFunc
		cycleCtx, cancel = context.WithTimeout(ctx, s.CycleTimeout)
		defer cancel()
	}

	if err := s.Job.RunOnce(cycleCtx); err != nil && !errors.Is(err, context.Canceled) {
		application.ResolveLogger(s.Logger).Error("scheduled cycle failed",
			"event", "outbox_scheduler_cycle_failed",
			"module", "event-delivery/outbox-relay",
			"layer", "worker",
			"job", s.Name,
			"error", err.Error(),
		)
	}
	return true
}

// Stats returns the number of cycles run and ticks skipped.
func (s *Scheduler) Stats() (cycles int64, skipped int64) {
	return s.cycles.Load(), s.skipped.Load()
}

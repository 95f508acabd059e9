package outboxrelay

import (
	"log/slog"
	"time"

	"folio/contexts/event-delivery/outbox-relay/application/commands"
	"folio/contexts/event-delivery/outbox-relay/application/workers"
	"folio/contexts/event-delivery/outbox-relay/domain/services"
	"folio/contexts/event-delivery/outbox-relay/ports"
)

// Module is the composition surface for the outbox relay.
type Module struct {
	Relay            *workers.OutboxRelay
	RelayScheduler   *workers.Scheduler
	ArchiveScheduler *workers.Scheduler
	Enqueue          commands.EnqueueEventUseCase
	Resolver         services.TopicResolver
}

type Settings struct {
	Enabled         bool
	Owner           string
	BatchSize       int
	PollInterval    time.Duration
	InitialDelay    time.Duration
	LockLease       time.Duration
	CycleTimeout    time.Duration
	Retry           services.RetryPolicy
	Topics          map[services.RouteFamily]string
	ArchiveAfter    time.Duration
	ArchiveInterval time.Duration
}

type Dependencies struct {
	Outbox      ports.OutboxStore
	Retention   ports.OutboxRetention
	Publisher   ports.Publisher
	Clock       ports.Clock
	IDGenerator ports.IDGenerator
	Metrics     ports.RelayMetrics
	Tracer      ports.Tracer
	Settings    Settings
	Logger      *slog.Logger
}

// NewModule validates settings and wires the relay, its schedulers and the
// enqueue command.
func NewModule(deps Dependencies) (Module, error) {
	resolver, err := services.NewTopicResolver(deps.Settings.Topics)
	if err != nil {
		return Module{}, err
	}

	relay, err := workers.NewOutboxRelay(workers.RelayConfig{
		Owner:     deps.Settings.Owner,
		BatchSize: deps.Settings.BatchSize,
		LockLease: deps.Settings.LockLease,
		Retry:     deps.Settings.Retry,
	}, workers.RelayDependencies{
		Outbox:    deps.Outbox,
		Publisher: deps.Publisher,
		Resolver:  resolver,
		Clock:     deps.Clock,
		Metrics:   deps.Metrics,
		Tracer:    deps.Tracer,
		Logger:    deps.Logger,
	})
	if err != nil {
		return Module{}, err
	}

	module := Module{
		Relay: relay,
		RelayScheduler: &workers.Scheduler{
			Name:         "outbox-relay",
			Job:          relay,
			Enabled:      deps.Settings.Enabled,
			InitialDelay: deps.Settings.InitialDelay,
			Interval:     deps.Settings.PollInterval,
			CycleTimeout: deps.Settings.CycleTimeout,
			Logger:       deps.Logger,
		},
		Enqueue: commands.EnqueueEventUseCase{
			IDGenerator: deps.IDGenerator,
			Clock:       deps.Clock,
			Tracer:      deps.Tracer,
			Logger:      deps.Logger,
		},
		Resolver: resolver,
	}

	if deps.Retention != nil && deps.Settings.ArchiveAfter > 0 {
		interval := deps.Settings.ArchiveInterval
		if interval <= 0 {
			interval = time.Hour
		}
		module.ArchiveScheduler = &workers.Scheduler{
			Name: "outbox-archiver",
			Job: workers.OutboxArchiver{
				Outbox:    deps.Retention,
				Clock:     deps.Clock,
				RetainFor: deps.Settings.ArchiveAfter,
				Logger:    deps.Logger,
			},
			Enabled:      deps.Settings.Enabled,
			InitialDelay: deps.Settings.InitialDelay,
			Interval:     interval,
			CycleTimeout: deps.Settings.CycleTimeout,
			Logger:       deps.Logger,
		}
	}
	return module, nil
}

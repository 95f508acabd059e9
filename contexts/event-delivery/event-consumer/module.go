package eventconsumer

import (
	"log/slog"
	"time"

	"folio/contexts/event-delivery/event-consumer/application/workers"
	"folio/contexts/event-delivery/event-consumer/ports"
)

// Module is the composition surface for one named consumer.
type Module struct {
	Registry   *workers.Registry
	Dispatcher *workers.Dispatcher
	Loop       *workers.ConsumerLoop
}

type Dependencies struct {
	Consumer       string
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Handlers       map[string]ports.EventHandler
	Source         ports.MessageSource
	Guard          ports.IdempotencyGuard
	DeadLetters    ports.DeadLetterSink
	Metrics        ports.ConsumerMetrics
	RetryDelay     time.Duration
	Logger         *slog.Logger
}

func NewModule(deps Dependencies) (Module, error) {
	registry := workers.NewRegistry()
	for name, handler := range deps.Handlers {
		if err := registry.Register(name, handler); err != nil {
			return Module{}, err
		}
	}

	cfg := workers.DefaultDispatcherConfig(deps.Consumer)
	if deps.MaxAttempts > 0 {
		cfg.MaxAttempts = deps.MaxAttempts
	}
	if deps.InitialBackoff > 0 {
		cfg.InitialBackoff = deps.InitialBackoff
	}
	if deps.MaxBackoff > 0 {
		cfg.MaxBackoff = deps.MaxBackoff
	}
	dispatcher, err := workers.NewDispatcher(cfg, workers.DispatcherDependencies{
		Registry:    registry,
		Guard:       deps.Guard,
		DeadLetters: deps.DeadLetters,
		Metrics:     deps.Metrics,
		Logger:      deps.Logger,
	})
	if err != nil {
		return Module{}, err
	}

	module := Module{Registry: registry, Dispatcher: dispatcher}
	if deps.Source != nil {
		module.Loop = &workers.ConsumerLoop{
			Source:     deps.Source,
			Dispatcher: dispatcher,
			RetryDelay: deps.RetryDelay,
			Logger:     deps.Logger,
		}
	}
	return module, nil
}

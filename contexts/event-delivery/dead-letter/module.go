package deadletter

import (
	"errors"
	"log/slog"
	"time"

	httpadapter "folio/contexts/event-delivery/dead-letter/adapters/http"
	"folio/contexts/event-delivery/dead-letter/adapters/memory"
	"folio/contexts/event-delivery/dead-letter/application/commands"
	"folio/contexts/event-delivery/dead-letter/application/queries"
	"folio/contexts/event-delivery/dead-letter/ports"
)

type Module struct {
	Handler   httpadapter.Handler
	Capture   commands.CaptureMessageUseCase
	Reprocess commands.ReprocessMessageUseCase
	Store     ports.MessageStore
}

type Dependencies struct {
	Store       ports.MessageStore
	Resubmitter ports.Resubmitter
	Clock       ports.Clock
	IDGenerator ports.IDGenerator
	// ReprocessStaleAfter lets an operator reclaim a message whose
	// reprocess outcome was never recorded. Zero disables it.
	ReprocessStaleAfter time.Duration
	Logger              *slog.Logger
}

func NewModule(deps Dependencies) (Module, error) {
	if deps.Store == nil {
		return Module{}, errors.New("dead-letter: message store is required")
	}
	if deps.IDGenerator == nil {
		return Module{}, errors.New("dead-letter: id generator is required")
	}
	if deps.Resubmitter == nil {
		return Module{}, errors.New("dead-letter: resubmitter is required")
	}

	capture := commands.CaptureMessageUseCase{
		Store:       deps.Store,
		IDGenerator: deps.IDGenerator,
		Clock:       deps.Clock,
		Logger:      deps.Logger,
	}
	reprocess := commands.ReprocessMessageUseCase{
		Store:       deps.Store,
		Resubmitter: deps.Resubmitter,
		Clock:       deps.Clock,
		StaleAfter:  deps.ReprocessStaleAfter,
		Logger:      deps.Logger,
	}
	return Module{
		Handler: httpadapter.Handler{
			Search:    queries.SearchMessagesUseCase{Store: deps.Store, Logger: deps.Logger},
			Get:       queries.GetMessageUseCase{Store: deps.Store, Logger: deps.Logger},
			Reprocess: reprocess,
			Logger:    deps.Logger,
		},
		Capture:   capture,
		Reprocess: reprocess,
		Store:     deps.Store,
	}, nil
}

// NewInMemoryModule backs the module with an in-process store.
func NewInMemoryModule(resubmitter ports.Resubmitter, idGenerator ports.IDGenerator, logger *slog.Logger) (Module, error) {
	return NewModule(Dependencies{
		Store:       memory.NewStore(),
		Resubmitter: resubmitter,
		IDGenerator: idGenerator,
		Logger:      logger,
	})
}

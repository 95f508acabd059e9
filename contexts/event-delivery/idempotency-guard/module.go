package idempotencyguard

import (
	"log/slog"

	"folio/contexts/event-delivery/idempotency-guard/application/commands"
	"folio/contexts/event-delivery/idempotency-guard/ports"
)

// Module is the composition surface for the idempotency guard.
type Module struct {
	Guard *commands.Guard
}

type Dependencies struct {
	Store  ports.RecordStore
	Clock  ports.Clock
	Config commands.GuardConfig
	Logger *slog.Logger
}

func NewModule(deps Dependencies) (Module, error) {
	guard, err := commands.NewGuard(deps.Config, deps.Store, deps.Clock, deps.Logger)
	if err != nil {
		return Module{}, err
	}
	return Module{Guard: guard}, nil
}

package workers

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	domainerrors "folio/contexts/event-delivery/event-consumer/domain/errors"
	"folio/contexts/event-delivery/event-consumer/ports"
	eventsv1 "folio/contracts/events/v1"
)

// Registry maps normalized event names to handlers. A handler receives every
// schema version of its event and branches on the version itself.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]ports.EventHandler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]ports.EventHandler)}
}

func (r *Registry) Register(eventName string, handler ports.EventHandler) error {
	name := eventsv1.NormalizeName(eventName)
	if name == "" {
		return fmt.Errorf("%w: event name is required", domainerrors.ErrInvalidConsumerConfig)
	}
	if handler == nil {
		return fmt.Errorf("%w: %s", domainerrors.ErrHandlerRequired, name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[name]; exists {
		return fmt.Errorf("%w: %s", domainerrors.ErrDuplicateHandler, name)
	}
	r.handlers[name] = handler
	return nil
}

func (r *Registry) Lookup(eventType string) (ports.EventHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handler, ok := r.handlers[eventsv1.NormalizeName(eventType)]
	return handler, ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) String() string {
	return strings.Join(r.Names(), ",")
}

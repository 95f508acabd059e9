package workers

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	application "folio/contexts/event-delivery/event-consumer/application"
	"folio/contexts/event-delivery/event-consumer/domain/entities"
	domainerrors "folio/contexts/event-delivery/event-consumer/domain/errors"
	"folio/contexts/event-delivery/event-consumer/ports"
	eventsv1 "folio/contracts/events/v1"
)

const (
	errorTypeUndecodable = "UndecodableMessage"
	errorTypeNoHandler   = "NoHandler"
	errorTypeTransient   = "TransientFailure"
	errorTypePanic       = "HandlerPanic"
)

type DispatcherConfig struct {
	Consumer       string
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func DefaultDispatcherConfig(consumer string) DispatcherConfig {
	return DispatcherConfig{
		Consumer:       consumer,
		MaxAttempts:    3,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
	}
}

func (c DispatcherConfig) Validate() error {
	switch {
	case strings.TrimSpace(c.Consumer) == "":
		return fmt.Errorf("%w: consumer name is required", domainerrors.ErrInvalidConsumerConfig)
	case c.MaxAttempts < 1:
		return fmt.Errorf("%w: max attempts must be >= 1", domainerrors.ErrInvalidConsumerConfig)
	case c.InitialBackoff < 0:
		return fmt.Errorf("%w: initial backoff must be >= 0", domainerrors.ErrInvalidConsumerConfig)
	case c.MaxBackoff < c.InitialBackoff:
		return fmt.Errorf("%w: max backoff must be >= initial backoff", domainerrors.ErrInvalidConsumerConfig)
	}
	return nil
}

// Backoff returns the wait before attempt n+1: initial*2^(n-1) capped at max.
func (c DispatcherConfig) Backoff(attempt int) time.Duration {
	if attempt < 1 || c.InitialBackoff <= 0 {
		return 0
	}
	delay := c.InitialBackoff
	for i := 1; i < attempt; i++ {
		if delay >= c.MaxBackoff/2 {
			return c.MaxBackoff
		}
		delay *= 2
	}
	if delay > c.MaxBackoff {
		return c.MaxBackoff
	}
	return delay
}

type DispatcherDependencies struct {
	Registry    *Registry
	Guard       ports.IdempotencyGuard
	DeadLetters ports.DeadLetterSink
	Metrics     ports.ConsumerMetrics
	Sleep       func(ctx context.Context, d time.Duration) error // nil uses a timer
	Logger      *slog.Logger
}

// Dispatcher runs one consumer's handlers behind the idempotency guard.
type Dispatcher struct {
	cfg         DispatcherConfig
	registry    *Registry
	guard       ports.IdempotencyGuard
	deadLetters ports.DeadLetterSink
	metrics     ports.ConsumerMetrics
	sleep       func(ctx context.Context, d time.Duration) error
	logger      *slog.Logger
}

func NewDispatcher(cfg DispatcherConfig, deps DispatcherDependencies) (*Dispatcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Registry == nil || deps.Guard == nil || deps.DeadLetters == nil {
		return nil, fmt.Errorf("%w: registry, guard and dead letter sink are required", domainerrors.ErrInvalidConsumerConfig)
	}
	dispatcher := &Dispatcher{
		cfg:         cfg,
		registry:    deps.Registry,
		guard:       deps.Guard,
		deadLetters: deps.DeadLetters,
		metrics:     deps.Metrics,
		sleep:       deps.Sleep,
		logger:      application.ResolveLogger(deps.Logger),
	}
	if dispatcher.metrics == nil {
		dispatcher.metrics = noopMetrics{}
	}
	if dispatcher.sleep == nil {
		dispatcher.sleep = sleepContext
	}
	return dispatcher, nil
}

func (d *Dispatcher) Consumer() string {
	return d.cfg.Consumer
}

type outcome struct {
	disposition entities.Disposition
	eventType   string
	reason      string
	failure     *entities.Failure
}

// Dispatch handles a live delivery. A nil error means the offset may be
// committed; a non-nil error means the delivery must be retried. An event
// another worker holds IN_PROGRESS is not settled: the holder may have died
// before committing, and this delivery is the only copy left once its
// record expires.
func (d *Dispatcher) Dispatch(ctx context.Context, delivery entities.Delivery) (entities.Disposition, error) {
	result, err := d.process(ctx, delivery)
	if err != nil {
		return "", err
	}
	if result.disposition == entities.DispositionInFlight {
		d.metrics.ObserveDisposition(d.cfg.Consumer, result.eventType, result.disposition)
		return entities.DispositionInFlight, fmt.Errorf("%w: %s", domainerrors.ErrEventInFlight, delivery.Position())
	}
	if result.failure != nil {
		if err := d.deadLetters.Capture(ctx, *result.failure); err != nil {
			d.logger.Error("dead letter capture failed",
				"event", "consumer_dlq_capture_failed",
				"module", "event-delivery/event-consumer",
				"layer", "worker",
				"consumer", d.cfg.Consumer,
				"position", delivery.Position(),
				"error", err.Error(),
			)
			return "", err
		}
		result.disposition = entities.DispositionDeadLettered
	}
	d.metrics.ObserveDisposition(d.cfg.Consumer, result.eventType, result.disposition)
	return result.disposition, nil
}

// Reprocess replays a stored delivery through the same guarded path. It
// never captures: a nil error means the event was handled now or earlier.
func (d *Dispatcher) Reprocess(ctx context.Context, delivery entities.Delivery) error {
	result, err := d.process(ctx, delivery)
	if err != nil {
		return err
	}
	if result.failure != nil {
		return fmt.Errorf("%s: %w", result.failure.ErrorType, result.failure.Cause)
	}
	switch result.disposition {
	case entities.DispositionInFlight:
		return domainerrors.ErrEventInFlight
	case entities.DispositionRejected:
		return fmt.Errorf("%w: %s", domainerrors.ErrBusinessRejected, result.reason)
	}
	d.metrics.ObserveDisposition(d.cfg.Consumer, result.eventType, result.disposition)
	return nil
}

func (d *Dispatcher) process(ctx context.Context, delivery entities.Delivery) (outcome, error) {
	event, err := eventsv1.Unmarshal(delivery.Value)
	if err != nil {
		return outcome{failure: &entities.Failure{
			Delivery:  delivery,
			Cause:     fmt.Errorf("%w: %w", domainerrors.ErrUndecodableMessage, err),
			ErrorType: errorTypeUndecodable,
		}}, nil
	}
	eventType := eventsv1.NormalizeName(event.EventType)

	handler, ok := d.registry.Lookup(event.EventType)
	if !ok {
		return outcome{eventType: eventType, failure: &entities.Failure{
			Delivery:  delivery,
			Cause:     fmt.Errorf("%w: %s", domainerrors.ErrNoHandler, event.EventType),
			ErrorType: errorTypeNoHandler,
		}}, nil
	}

	admission, err := d.guard.Begin(ctx, d.cfg.Consumer, event.EventID)
	if err != nil {
		return outcome{}, fmt.Errorf("idempotency begin %s: %w", event.EventID, err)
	}
	switch admission {
	case entities.AdmissionAlreadyCompleted:
		d.logSkip(event, "consumer_duplicate_skipped")
		return outcome{disposition: entities.DispositionDuplicate, eventType: eventType}, nil
	case entities.AdmissionInProgress:
		d.logSkip(event, "consumer_in_flight_skipped")
		return outcome{disposition: entities.DispositionInFlight, eventType: eventType}, nil
	}

	for attempt := 1; ; attempt++ {
		started := time.Now()
		result, stack := d.invoke(ctx, handler, event)
		d.metrics.ObserveHandlerDuration(d.cfg.Consumer, eventType, time.Since(started))
		d.metrics.ObserveAttempt(d.cfg.Consumer, eventType, result.Outcome)

		switch result.Outcome {
		case entities.OutcomeOk:
			if err := d.guard.Complete(ctx, d.cfg.Consumer, event.EventID); err != nil {
				d.logger.Error("idempotency completion not recorded",
					"event", "consumer_complete_failed",
					"module", "event-delivery/event-consumer",
					"layer", "worker",
					"consumer", d.cfg.Consumer,
					"event_id", event.EventID,
					"error", err.Error(),
				)
			}
			return outcome{disposition: entities.DispositionProcessed, eventType: eventType}, nil
		case entities.OutcomeBusinessRejected:
			d.release(ctx, event.EventID)
			d.logger.Warn("event rejected by handler",
				"event", "consumer_event_rejected",
				"module", "event-delivery/event-consumer",
				"layer", "worker",
				"consumer", d.cfg.Consumer,
				"event_id", event.EventID,
				"event_type", event.EventType,
				"reason", result.Reason,
			)
			return outcome{disposition: entities.DispositionRejected, eventType: eventType, reason: result.Reason}, nil
		}

		cause := result.Cause
		if result.Outcome != entities.OutcomeTransientFailure {
			cause = fmt.Errorf("unknown handler outcome %q", result.Outcome)
		}
		if cause == nil {
			cause = domainerrors.ErrTransientFailure
		}
		errorType := errorTypeTransient
		if stack != "" {
			errorType = errorTypePanic
		}

		if attempt >= d.cfg.MaxAttempts {
			d.release(ctx, event.EventID)
			d.logger.Error("event handling abandoned",
				"event", "consumer_attempts_exhausted",
				"module", "event-delivery/event-consumer",
				"layer", "worker",
				"consumer", d.cfg.Consumer,
				"event_id", event.EventID,
				"event_type", event.EventType,
				"attempts", attempt,
				"error", cause.Error(),
			)
			return outcome{eventType: eventType, failure: &entities.Failure{
				Delivery:  delivery,
				Cause:     cause,
				ErrorType: errorType,
				Stack:     stack,
			}}, nil
		}

		delay := d.cfg.Backoff(attempt)
		d.logger.Warn("event handling failed, retrying",
			"event", "consumer_attempt_failed",
			"module", "event-delivery/event-consumer",
			"layer", "worker",
			"consumer", d.cfg.Consumer,
			"event_id", event.EventID,
			"attempt", attempt,
			"retry_in", delay.String(),
			"error", cause.Error(),
		)
		if err := d.sleep(ctx, delay); err != nil {
			d.release(context.WithoutCancel(ctx), event.EventID)
			return outcome{}, err
		}
	}
}

func (d *Dispatcher) invoke(ctx context.Context, handler ports.EventHandler, event eventsv1.Envelope) (result entities.HandlerResult, stack string) {
	defer func() {
		if recovered := recover(); recovered != nil {
			result = entities.TransientFailure(fmt.Errorf("%w: %v", domainerrors.ErrHandlerPanicked, recovered))
			stack = string(debug.Stack())
		}
	}()
	return handler.Handle(ctx, event), ""
}

func (d *Dispatcher) release(ctx context.Context, eventID string) {
	if err := d.guard.Release(ctx, d.cfg.Consumer, eventID); err != nil {
		d.logger.Error("idempotency release failed",
			"event", "consumer_release_failed",
			"module", "event-delivery/event-consumer",
			"layer", "worker",
			"consumer", d.cfg.Consumer,
			"event_id", eventID,
			"error", err.Error(),
		)
	}
}

func (d *Dispatcher) logSkip(event eventsv1.Envelope, name string) {
	d.logger.Debug("event skipped by idempotency guard",
		"event", name,
		"module", "event-delivery/event-consumer",
		"layer", "worker",
		"consumer", d.cfg.Consumer,
		"event_id", event.EventID,
		"event_type", event.EventType,
	)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type noopMetrics struct{}

func (noopMetrics) ObserveDisposition(string, string, entities.Disposition) {}
func (noopMetrics) ObserveAttempt(string, string, entities.Outcome)         {}
func (noopMetrics) ObserveHandlerDuration(string, string, time.Duration)    {}

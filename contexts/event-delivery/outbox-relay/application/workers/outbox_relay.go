package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"
	"unicode/utf8"

	application "folio/contexts/event-delivery/outbox-relay/application"
	"folio/contexts/event-delivery/outbox-relay/domain/entities"
	domainerrors "folio/contexts/event-delivery/outbox-relay/domain/errors"
	"folio/contexts/event-delivery/outbox-relay/domain/services"
	"folio/contexts/event-delivery/outbox-relay/ports"
)

const (
	defaultLockLease = 30 * time.Second
	maxLastErrorLen  = 2000
)

type RelayConfig struct {
	Owner     string
	BatchSize int
	LockLease time.Duration
	Retry     services.RetryPolicy
}

func (c RelayConfig) Validate() error {
	if strings.TrimSpace(c.Owner) == "" {
		return fmt.Errorf("%w: owner is required", domainerrors.ErrInvalidRelayConfig)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("%w: batch size must be > 0", domainerrors.ErrInvalidRelayConfig)
	}
	if c.LockLease <= 0 {
		return fmt.Errorf("%w: lock lease must be > 0", domainerrors.ErrInvalidRelayConfig)
	}
	return c.Retry.Validate()
}

type RelayDependencies struct {
	Outbox    ports.OutboxStore
	Publisher ports.Publisher
	Resolver  ports.RouteResolver
	Clock     ports.Clock
	Metrics   ports.RelayMetrics
	Tracer    ports.Tracer
	Jitter    func() float64 // samples in [0,1); defaults to math/rand
	Logger    *slog.Logger
}

// RelayReport summarizes one cycle.
type RelayReport struct {
	Claimed  int
	Sent     int
	Retried  int
	Failed   int
	Unmapped int
}

// OutboxRelay publishes claimed outbox rows and records each outcome.
// Several relays may run against the same store; the claim keeps them from
// publishing the same row in overlapping cycles.
type OutboxRelay struct {
	cfg       RelayConfig
	outbox    ports.OutboxStore
	publisher ports.Publisher
	resolver  ports.RouteResolver
	clock     ports.Clock
	metrics   ports.RelayMetrics
	tracer    ports.Tracer
	jitter    func() float64
	logger    *slog.Logger
}

func NewOutboxRelay(cfg RelayConfig, deps RelayDependencies) (*OutboxRelay, error) {
	if cfg.LockLease == 0 {
		cfg.LockLease = defaultLockLease
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Outbox == nil || deps.Publisher == nil {
		return nil, fmt.Errorf("%w: outbox store and publisher are required", domainerrors.ErrInvalidRelayConfig)
	}
	relay := &OutboxRelay{
		cfg:       cfg,
		outbox:    deps.Outbox,
		publisher: deps.Publisher,
		resolver:  deps.Resolver,
		clock:     deps.Clock,
		metrics:   deps.Metrics,
		tracer:    deps.Tracer,
		jitter:    deps.Jitter,
		logger:    application.ResolveLogger(deps.Logger),
	}
	if relay.resolver == nil {
		relay.resolver = services.TopicResolver{}
	}
	if relay.metrics == nil {
		relay.metrics = noopMetrics{}
	}
	if relay.tracer == nil {
		relay.tracer = noopTracer{}
	}
	if relay.jitter == nil {
		relay.jitter = rand.Float64
	}
	return relay, nil
}

func (r *OutboxRelay) RunOnce(ctx context.Context) error {
	_, err := r.RelayPendingEvents(ctx)
	return err
}

// RelayPendingEvents runs one cycle. Unroutable rows are marked FAILED and
// reported together in the returned error after the rest of the batch has
// been processed. Publish failures are absorbed into retry bookkeeping.
func (r *OutboxRelay) RelayPendingEvents(ctx context.Context) (report RelayReport, err error) {
	started := r.now()
	ctx, end := r.tracer.Start(ctx, "outbox.relay_cycle", map[string]string{"relay.owner": r.cfg.Owner})
	defer func() {
		end(err)
		r.metrics.ObserveCycle(r.now().Sub(started), err)
	}()

	claim := entities.Claim{Owner: r.cfg.Owner, Until: started.Add(r.cfg.LockLease)}
	claimed, err := r.outbox.FindEligibleForUpdate(ctx, r.cfg.BatchSize, started, claim)
	if err != nil {
		r.logger.Error("outbox claim failed",
			"event", "outbox_relay_claim_failed",
			"module", "event-delivery/outbox-relay",
			"layer", "worker",
			"owner", r.cfg.Owner,
			"error", err.Error(),
		)
		return report, err
	}
	report.Claimed = len(claimed)
	r.metrics.ObserveClaimed(len(claimed))
	if len(claimed) == 0 {
		return report, nil
	}
	r.metrics.ObserveLag(started.Sub(claimed[0].CreatedAt))

	var mappingErrs []error
	for _, event := range claimed {
		if ctxErr := ctx.Err(); ctxErr != nil {
			r.logger.Warn("outbox relay cycle interrupted",
				"event", "outbox_relay_cycle_interrupted",
				"module", "event-delivery/outbox-relay",
				"layer", "worker",
				"owner", r.cfg.Owner,
				"processed", report.Sent+report.Retried+report.Failed,
				"claimed", report.Claimed,
			)
			return report, ctxErr
		}

		outcome, relayErr := r.relayOne(ctx, event)
		switch outcome {
		case outcomeSent:
			report.Sent++
		case outcomeRetry:
			report.Retried++
		case outcomeFailed:
			report.Failed++
		case outcomeUnmapped:
			report.Failed++
			report.Unmapped++
			mappingErrs = append(mappingErrs, relayErr)
		}
	}

	r.logger.Info("outbox relay cycle completed",
		"event", "outbox_relay_cycle_completed",
		"module", "event-delivery/outbox-relay",
		"layer", "worker",
		"owner", r.cfg.Owner,
		"claimed", report.Claimed,
		"sent", report.Sent,
		"retried", report.Retried,
		"failed", report.Failed,
	)
	return report, errors.Join(mappingErrs...)
}

type relayOutcome int

const (
	outcomeSkipped relayOutcome = iota
	outcomeSent
	outcomeRetry
	outcomeFailed
	outcomeUnmapped
)

func (r *OutboxRelay) relayOne(ctx context.Context, event entities.OutboxEvent) (outcome relayOutcome, err error) {
	ctx, end := r.tracer.Start(ctx, "outbox.publish", map[string]string{
		"outbox.event_id":   event.EventID,
		"outbox.event_type": event.EventType,
	})
	defer func() { end(err) }()

	route, err := r.resolver.Resolve(event)
	if err != nil {
		r.logger.Error("outbox event type has no route",
			"event", "outbox_relay_unmapped_event",
			"module", "event-delivery/outbox-relay",
			"layer", "worker",
			"event_id", event.EventID,
			"event_type", event.EventType,
			"error", err.Error(),
		)
		r.metrics.ObserveFailed(event.EventType, "unmapped")
		if markErr := r.outbox.MarkFailed(ctx, event.EventID, r.cfg.Owner, event.RetryCount, truncate(err.Error())); markErr != nil {
			r.logMarkFailure(event, "failed", markErr)
		}
		return outcomeUnmapped, err
	}

	publishErr := r.publish(ctx, ports.OutboundMessage{Topic: route.Topic, Key: route.Key, Event: event})
	if publishErr == nil {
		if markErr := r.outbox.MarkSent(ctx, event.EventID, r.cfg.Owner, r.now()); markErr != nil {
			// The bus already has the message; the row is republished once
			// the claim lapses.
			r.logMarkFailure(event, "sent", markErr)
			return outcomeSkipped, nil
		}
		r.metrics.ObserveSent(event.EventType)
		r.logger.Info("outbox event sent",
			"event", "outbox_event_sent",
			"module", "event-delivery/outbox-relay",
			"layer", "worker",
			"event_id", event.EventID,
			"event_type", event.EventType,
			"topic", route.Topic,
		)
		return outcomeSent, nil
	}

	retryCount := event.RetryCount + 1
	lastError := truncate(publishErr.Error())
	if r.cfg.Retry.Exhausted(retryCount) {
		r.logger.Error("outbox event exhausted retries",
			"event", "outbox_relay_event_failed",
			"module", "event-delivery/outbox-relay",
			"layer", "worker",
			"event_id", event.EventID,
			"event_type", event.EventType,
			"retry_count", retryCount,
			"error", lastError,
		)
		r.metrics.ObserveFailed(event.EventType, "retries_exhausted")
		if markErr := r.outbox.MarkFailed(ctx, event.EventID, r.cfg.Owner, retryCount, lastError); markErr != nil {
			r.logMarkFailure(event, "failed", markErr)
			return outcomeSkipped, publishErr
		}
		return outcomeFailed, publishErr
	}

	nextRetryAt := r.cfg.Retry.NextRetryAt(r.now(), retryCount, r.jitter())
	r.logger.Warn("outbox publish failed, retry scheduled",
		"event", "outbox_relay_retry_scheduled",
		"module", "event-delivery/outbox-relay",
		"layer", "worker",
		"event_id", event.EventID,
		"event_type", event.EventType,
		"retry_count", retryCount,
		"next_retry_at", nextRetryAt,
		"error", lastError,
	)
	r.metrics.ObserveRetry(event.EventType)
	if markErr := r.outbox.MarkRetry(ctx, event.EventID, r.cfg.Owner, retryCount, nextRetryAt, lastError); markErr != nil {
		r.logMarkFailure(event, "retry", markErr)
		return outcomeSkipped, publishErr
	}
	return outcomeRetry, publishErr
}

// publish turns a publisher panic into a publish failure so one bad row
// cannot abort the batch.
func (r *OutboxRelay) publish(ctx context.Context, message ports.OutboundMessage) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("%w: publisher panic: %v", domainerrors.ErrPublishFailed, recovered)
		}
	}()
	err = r.publisher.Publish(ctx, message)
	if err != nil && strings.TrimSpace(err.Error()) == "" {
		err = fmt.Errorf("%w: %T", domainerrors.ErrPublishFailed, err)
	}
	return err
}

func (r *OutboxRelay) logMarkFailure(event entities.OutboxEvent, target string, err error) {
	r.logger.Error("outbox status write failed",
		"event", "outbox_relay_mark_failed",
		"module", "event-delivery/outbox-relay",
		"layer", "worker",
		"event_id", event.EventID,
		"target_status", target,
		"error", err.Error(),
	)
}

func (r *OutboxRelay) now() time.Time {
	if r.clock == nil {
		return time.Now().UTC()
	}
	return r.clock.Now().UTC()
}

// truncate keeps last_error within the column limit without splitting a
// multi-byte rune.
func truncate(message string) string {
	if len(message) <= maxLastErrorLen {
		return message
	}
	cut := maxLastErrorLen
	for cut > 0 && !utf8.RuneStart(message[cut]) {
		cut--
	}
	return message[:cut]
}

type noopMetrics struct{}

func (noopMetrics) ObserveClaimed(int)                {}
func (noopMetrics) ObserveSent(string)                {}
func (noopMetrics) ObserveRetry(string)               {}
func (noopMetrics) ObserveFailed(string, string)      {}
func (noopMetrics) ObserveLag(time.Duration)          {}
func (noopMetrics) ObserveCycle(time.Duration, error) {}

type noopTracer struct{}

func (noopTracer) Start(ctx context.Context, _ string, _ map[string]string) (context.Context, func(error)) {
	return ctx, func(error) {}
}

func (noopTracer) TraceID(context.Context) string { return "" }

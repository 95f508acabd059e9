package workers

import (
	"context"
	"errors"
	"log/slog"
	"time"

	application "folio/contexts/event-delivery/event-consumer/application"
	"folio/contexts/event-delivery/event-consumer/domain/entities"
	"folio/contexts/event-delivery/event-consumer/ports"
)

const defaultRetryDelay = time.Second

type dispatcher interface {
	Consumer() string
	Dispatch(ctx context.Context, delivery entities.Delivery) (entities.Disposition, error)
}

// ConsumerLoop pulls deliveries one at a time and commits each offset only
// after the dispatcher settled it. A dispatch error blocks the partition and
// the same delivery is retried until it settles or the context ends.
type ConsumerLoop struct {
	Source     ports.MessageSource
	Dispatcher dispatcher
	RetryDelay time.Duration
	Logger     *slog.Logger
}

func (l *ConsumerLoop) Run(ctx context.Context) error {
	logger := application.ResolveLogger(l.Logger)
	logger.Info("consumer loop started",
		"event", "consumer_loop_started",
		"module", "event-delivery/event-consumer",
		"layer", "worker",
		"consumer", l.Dispatcher.Consumer(),
	)
	defer logger.Info("consumer loop stopped",
		"event", "consumer_loop_stopped",
		"module", "event-delivery/event-consumer",
		"layer", "worker",
		"consumer", l.Dispatcher.Consumer(),
	)

	for {
		delivery, err := l.Source.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Error("consumer fetch failed",
				"event", "consumer_fetch_failed",
				"module", "event-delivery/event-consumer",
				"layer", "worker",
				"consumer", l.Dispatcher.Consumer(),
				"error", err.Error(),
			)
			if !l.wait(ctx) {
				return nil
			}
			continue
		}

		if !l.settle(ctx, logger, delivery) {
			return nil
		}
	}
}

func (l *ConsumerLoop) settle(ctx context.Context, logger *slog.Logger, delivery entities.Delivery) bool {
	for {
		disposition, err := l.Dispatcher.Dispatch(ctx, delivery)
		if err == nil {
			logger.Debug("delivery settled",
				"event", "consumer_delivery_settled",
				"module", "event-delivery/event-consumer",
				"layer", "worker",
				"consumer", l.Dispatcher.Consumer(),
				"position", delivery.Position(),
				"disposition", string(disposition),
			)
			break
		}
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return false
		}
		logger.Warn("delivery not settled, retrying",
			"event", "consumer_dispatch_failed",
			"module", "event-delivery/event-consumer",
			"layer", "worker",
			"consumer", l.Dispatcher.Consumer(),
			"position", delivery.Position(),
			"error", err.Error(),
		)
		if !l.wait(ctx) {
			return false
		}
	}

	for {
		err := l.Source.Commit(ctx, delivery)
		if err == nil {
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		logger.Error("offset commit failed",
			"event", "consumer_commit_failed",
			"module", "event-delivery/event-consumer",
			"layer", "worker",
			"consumer", l.Dispatcher.Consumer(),
			"position", delivery.Position(),
			"error", err.Error(),
		)
		if !l.wait(ctx) {
			return false
		}
	}
}

func (l *ConsumerLoop) wait(ctx context.Context) bool {
	delay := l.RetryDelay
	if delay <= 0 {
		delay = defaultRetryDelay
	}
	return sleepContext(ctx, delay) == nil
}

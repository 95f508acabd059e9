package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	deadletter "folio/contexts/event-delivery/dead-letter"
	dlqmemory "folio/contexts/event-delivery/dead-letter/adapters/memory"
	dlqmongo "folio/contexts/event-delivery/dead-letter/adapters/mongo"
	dlqports "folio/contexts/event-delivery/dead-letter/ports"
	eventconsumer "folio/contexts/event-delivery/event-consumer"
	consumerkafka "folio/contexts/event-delivery/event-consumer/adapters/kafka"
	consumerlogging "folio/contexts/event-delivery/event-consumer/adapters/logging"
	consumerprometheus "folio/contexts/event-delivery/event-consumer/adapters/prometheus"
	consumerports "folio/contexts/event-delivery/event-consumer/ports"
	idempotencyguard "folio/contexts/event-delivery/idempotency-guard"
	idemmemory "folio/contexts/event-delivery/idempotency-guard/adapters/memory"
	idemredis "folio/contexts/event-delivery/idempotency-guard/adapters/redis"
	idemcommands "folio/contexts/event-delivery/idempotency-guard/application/commands"
	idemports "folio/contexts/event-delivery/idempotency-guard/ports"
	outboxrelay "folio/contexts/event-delivery/outbox-relay"
	outboxkafka "folio/contexts/event-delivery/outbox-relay/adapters/kafka"
	outboxlogging "folio/contexts/event-delivery/outbox-relay/adapters/logging"
	outboxmemory "folio/contexts/event-delivery/outbox-relay/adapters/memory"
	outboxotel "folio/contexts/event-delivery/outbox-relay/adapters/otel"
	outboxpostgres "folio/contexts/event-delivery/outbox-relay/adapters/postgres"
	outboxprometheus "folio/contexts/event-delivery/outbox-relay/adapters/prometheus"
	"folio/contexts/event-delivery/outbox-relay/domain/services"
	outboxports "folio/contexts/event-delivery/outbox-relay/ports"
	eventsv1 "folio/contracts/events/v1"
	"folio/internal/platform/config"
	"folio/internal/platform/httpserver"
	"folio/internal/platform/messaging"
)

// Package bootstrap is the composition root.
// Keep construction/wiring here so module code stays framework-agnostic.

const consumerRetryDelay = time.Second

type APIApp struct {
	server    *httpserver.Server
	resources *resources
	logger    *slog.Logger
}

type WorkerApp struct {
	outbox    outboxrelay.Module
	consumer  eventconsumer.Module
	server    *httpserver.Server
	resources *resources
	logger    *slog.Logger
}

// deliveryStack is the consumer side shared by both processes. The
// dispatcher and the dead-letter module reference each other through the
// guard and resubmitter bridges.
type deliveryStack struct {
	deadLetter deadletter.Module
	consumer   eventconsumer.Module
}

// BuildAPI wires the operator API. Reprocess requests replay messages
// through an in-process dispatcher sharing the worker's guard and store.
func BuildAPI(ctx context.Context, logger *slog.Logger) (*APIApp, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger = resolveLogger(logger)

	res, err := openResources(ctx, cfg, logger, resourceOptions{})
	if err != nil {
		return nil, err
	}
	stack, err := buildDeliveryStack(ctx, res, nil)
	if err != nil {
		return nil, res.abort(err)
	}

	server := httpserver.New(stack.deadLetter, res.registry, res.healthChecks(), logger, normalizeAddr(cfg.HTTPPort))
	return &APIApp{
		server:    server,
		resources: res,
		logger:    logger,
	}, nil
}

// BuildWorker wires the outbox relay, the archiver and, when topics are
// configured, the consumer loop.
func BuildWorker(ctx context.Context, logger *slog.Logger) (*WorkerApp, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger = resolveLogger(logger)

	res, err := openResources(ctx, cfg, logger, resourceOptions{postgres: true})
	if err != nil {
		return nil, err
	}

	writer, reader, err := openBus(res)
	if err != nil {
		return nil, res.abort(err)
	}

	outbox, err := buildOutbox(ctx, res, writer)
	if err != nil {
		return nil, res.abort(err)
	}

	var source consumerports.MessageSource
	if reader != nil {
		source = consumerkafka.NewSource(reader)
	}
	stack, err := buildDeliveryStack(ctx, res, source)
	if err != nil {
		return nil, res.abort(err)
	}

	return &WorkerApp{
		outbox:    outbox,
		consumer:  stack.consumer,
		server:    httpserver.NewOperational(res.registry, res.healthChecks(), logger, normalizeAddr(cfg.HTTPPort)),
		resources: res,
		logger:    logger,
	}, nil
}

// openBus picks Kafka when brokers are configured. Without brokers a worker
// that consumes runs on the in-memory bus, and one that only relays gets no
// writer and publishes to the log.
func openBus(res *resources) (messaging.Writer, messaging.Reader, error) {
	cfg := res.cfg
	consume := cfg.Consumer.Enabled && len(cfg.Consumer.Topics) > 0

	if cfg.UsesKafka() {
		producer, err := messaging.NewProducer(messaging.ProducerConfig{
			Brokers:  cfg.KafkaBrokers,
			ClientID: cfg.ServiceName,
		}, res.logger)
		if err != nil {
			return nil, nil, err
		}
		res.addCloser(func(context.Context) error { return producer.Close() })
		if !consume {
			return producer, nil, nil
		}

		consumer, err := messaging.NewConsumer(messaging.ConsumerConfig{
			Brokers: cfg.KafkaBrokers,
			Topics:  cfg.Consumer.Topics,
			GroupID: cfg.KafkaConsumerGroup,
		})
		if err != nil {
			return nil, nil, err
		}
		res.addCloser(func(context.Context) error { return consumer.Close() })
		return producer, consumer, nil
	}

	if !consume {
		return nil, nil, nil
	}
	bus := messaging.NewMemoryBus(res.logger)
	reader := bus.Subscribe(cfg.Consumer.Topics...)
	res.addCloser(func(context.Context) error { return reader.Close() })
	return bus, reader, nil
}

func buildOutbox(ctx context.Context, res *resources, writer messaging.Writer) (outboxrelay.Module, error) {
	cfg := res.cfg

	var (
		store     outboxports.OutboxStore
		retention outboxports.OutboxRetention
	)
	if res.postgres != nil {
		repo := outboxpostgres.NewRepository(res.postgres.DB, res.logger)
		if err := repo.Migrate(ctx); err != nil {
			return outboxrelay.Module{}, fmt.Errorf("outbox migrate: %w", err)
		}
		store, retention = repo, repo
	} else {
		res.logger.Warn("POSTGRES_DSN not set, outbox runs on the in-memory store",
			"event", "bootstrap_outbox_memory_store",
			"module", "internal/app/bootstrap",
			"layer", "platform",
		)
		memory := outboxmemory.NewStore()
		store, retention = memory, memory
	}

	var publisher outboxports.Publisher = outboxlogging.Publisher{Logger: res.logger}
	if writer != nil {
		publisher = outboxkafka.NewPublisher(writer, cfg.ServiceName, res.logger)
	}

	topics := make(map[services.RouteFamily]string, len(cfg.TopicOverrides))
	for family, topic := range cfg.TopicOverrides {
		topics[services.RouteFamily(family)] = topic
	}

	return outboxrelay.NewModule(outboxrelay.Dependencies{
		Outbox:      store,
		Retention:   retention,
		Publisher:   publisher,
		Clock:       outboxpostgres.SystemClock{},
		IDGenerator: outboxpostgres.UUIDGenerator{},
		Metrics:     outboxprometheus.NewRelayMetrics(res.registry),
		Tracer:      outboxotel.NewTracer(res.tracing),
		Settings: outboxrelay.Settings{
			Enabled:      cfg.Relay.Enabled,
			Owner:        relayOwner(cfg.ServiceName),
			BatchSize:    cfg.Relay.BatchSize,
			PollInterval: cfg.Relay.PollInterval,
			InitialDelay: cfg.Relay.InitialDelay,
			LockLease:    cfg.Relay.LockLease,
			CycleTimeout: cfg.Relay.CycleTimeout,
			Retry: services.RetryPolicy{
				MaxRetries:   cfg.Retry.MaxRetries,
				InitialDelay: cfg.Retry.InitialDelay,
				MaxDelay:     cfg.Retry.MaxDelay,
				Multiplier:   cfg.Retry.Multiplier,
				JitterRatio:  cfg.Retry.JitterRatio,
			},
			Topics:          topics,
			ArchiveAfter:    cfg.Relay.ArchiveAfter,
			ArchiveInterval: cfg.Relay.ArchiveInterval,
		},
		Logger: res.logger,
	})
}

func buildDeliveryStack(ctx context.Context, res *resources, source consumerports.MessageSource) (deliveryStack, error) {
	cfg := res.cfg
	clock := outboxpostgres.SystemClock{}

	var guardStore idemports.RecordStore = idemmemory.NewStore(clock)
	if res.redis != nil {
		guardStore = idemredis.NewStore(res.redis, cfg.Idempotency.KeyPrefix)
	}
	guard, err := idempotencyguard.NewModule(idempotencyguard.Dependencies{
		Store: guardStore,
		Clock: clock,
		Config: idemcommands.GuardConfig{
			ProcessingTTL: cfg.Idempotency.ProcessingTTL,
			CompletedTTL:  cfg.Idempotency.CompletedTTL,
		},
		Logger: res.logger,
	})
	if err != nil {
		return deliveryStack{}, err
	}

	var dlqStore dlqports.MessageStore = dlqmemory.NewStore()
	if res.mongo != nil {
		repo := dlqmongo.NewRepository(res.mongo.Database, res.logger)
		if err := repo.EnsureIndexes(ctx); err != nil {
			return deliveryStack{}, fmt.Errorf("dlq indexes: %w", err)
		}
		dlqStore = repo
	}
	resubmitter := &dispatcherResubmitter{}
	deadLetters, err := deadletter.NewModule(deadletter.Dependencies{
		Store:       dlqStore,
		Resubmitter: resubmitter,
		Clock:       clock,
		IDGenerator: outboxpostgres.UUIDGenerator{},

		ReprocessStaleAfter: cfg.DeadLetter.ReprocessStaleAfter,
		Logger:              res.logger,
	})
	if err != nil {
		return deliveryStack{}, err
	}

	consumer, err := eventconsumer.NewModule(eventconsumer.Dependencies{
		Consumer:    cfg.KafkaConsumerGroup,
		MaxAttempts: cfg.Consumer.MaxAttempts,
		Handlers:    activityHandlers(cfg.Consumer.EventTypes, res.logger),
		Source:      source,
		Guard:       guardBridge{guard: guard.Guard},
		DeadLetters: deadLetterSink{capture: deadLetters.Capture},
		Metrics:     consumerprometheus.NewConsumerMetrics(res.registry),
		RetryDelay:  consumerRetryDelay,
		Logger:      res.logger,
	})
	if err != nil {
		return deliveryStack{}, err
	}
	resubmitter.attach(consumer.Dispatcher)

	return deliveryStack{deadLetter: deadLetters, consumer: consumer}, nil
}

// activityHandlers registers the activity log handler once per distinct
// event name.
func activityHandlers(eventTypes []string, logger *slog.Logger) map[string]consumerports.EventHandler {
	handler := consumerlogging.ActivityHandler{Logger: logger}
	handlers := make(map[string]consumerports.EventHandler, len(eventTypes))
	for _, eventType := range eventTypes {
		name := eventsv1.NormalizeName(eventType)
		if name == "" {
			continue
		}
		handlers[name] = handler
	}
	return handlers
}

func (a *APIApp) Run(ctx context.Context) error {
	a.logger.Info("api app started",
		"event", "bootstrap_api_started",
		"module", "internal/app/bootstrap",
		"layer", "platform",
	)
	return a.server.Run(ctx)
}

func (a *APIApp) Close() error {
	return a.resources.close()
}

// Run blocks until ctx ends or one component fails, which stops the rest.
func (w *WorkerApp) Run(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error { return w.outbox.RelayScheduler.Run(groupCtx) })
	if w.outbox.ArchiveScheduler != nil {
		group.Go(func() error { return w.outbox.ArchiveScheduler.Run(groupCtx) })
	}
	if w.consumer.Loop != nil {
		group.Go(func() error { return w.consumer.Loop.Run(groupCtx) })
	}
	group.Go(func() error { return w.server.Run(groupCtx) })

	w.logger.Info("worker app started",
		"event", "bootstrap_worker_started",
		"module", "internal/app/bootstrap",
		"layer", "platform",
		"consumer_loop", w.consumer.Loop != nil,
		"archiver", w.outbox.ArchiveScheduler != nil,
	)
	return group.Wait()
}

func (w *WorkerApp) Close() error {
	return w.resources.close()
}

// relayOwner names this worker in outbox claims.
func relayOwner(service string) string {
	host, err := os.Hostname()
	if err != nil || strings.TrimSpace(host) == "" {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%s-%d", service, host, os.Getpid())
}

func resolveLogger(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}

func normalizeAddr(port string) string {
	value := strings.TrimSpace(port)
	if value == "" {
		return ":8080"
	}
	if strings.HasPrefix(value, ":") {
		return value
	}
	return ":" + value
}

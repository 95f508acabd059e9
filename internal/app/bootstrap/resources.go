package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"folio/internal/platform/cache"
	"folio/internal/platform/config"
	"folio/internal/platform/db"
	"folio/internal/platform/docstore"
	"folio/internal/platform/httpserver"
	"folio/internal/platform/observability"
)

const closeTimeout = 10 * time.Second

// resources are the process-wide connections. Each backend is optional;
// the builders fall back to in-memory adapters when one is not configured.
type resources struct {
	cfg      config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	tracing  *sdktrace.TracerProvider
	postgres *db.Postgres
	redis    *redis.Client
	mongo    *docstore.Mongo
	closers  []func(ctx context.Context) error
}

type resourceOptions struct {
	postgres bool
}

func openResources(ctx context.Context, cfg config.Config, logger *slog.Logger, opts resourceOptions) (*resources, error) {
	res := &resources{
		cfg:      cfg,
		logger:   logger,
		registry: observability.NewRegistry(),
	}

	provider, err := observability.NewTracerProvider(cfg.ServiceName)
	if err != nil {
		return nil, err
	}
	res.tracing = provider
	res.addCloser(func(ctx context.Context) error { return observability.Shutdown(ctx, provider) })

	if opts.postgres && strings.TrimSpace(cfg.PostgresDSN) != "" {
		pg, err := db.Connect(ctx, db.PostgresConfig{DSN: cfg.PostgresDSN})
		if err != nil {
			return nil, res.abort(fmt.Errorf("postgres: %w", err))
		}
		res.postgres = pg
		res.addCloser(func(context.Context) error { return pg.Close() })
	}

	if strings.TrimSpace(cfg.RedisAddr) != "" {
		client, err := cache.Connect(ctx, cache.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, res.abort(fmt.Errorf("redis: %w", err))
		}
		res.redis = client
		res.addCloser(func(context.Context) error { return client.Close() })
	}

	if strings.TrimSpace(cfg.MongoURI) != "" {
		store, err := docstore.Connect(ctx, docstore.MongoConfig{URI: cfg.MongoURI, Database: cfg.MongoDatabase})
		if err != nil {
			return nil, res.abort(fmt.Errorf("mongo: %w", err))
		}
		res.mongo = store
		res.addCloser(store.Close)
	}

	logger.Info("resources opened",
		"event", "bootstrap_resources_opened",
		"module", "internal/app/bootstrap",
		"layer", "platform",
		"postgres", res.postgres != nil,
		"redis", res.redis != nil,
		"mongo", res.mongo != nil,
		"kafka", cfg.UsesKafka(),
	)
	return res, nil
}

func (r *resources) addCloser(fn func(ctx context.Context) error) {
	r.closers = append(r.closers, fn)
}

// abort closes whatever was opened before a failed step and returns cause.
func (r *resources) abort(cause error) error {
	if err := r.close(); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

// close releases resources in reverse opening order.
func (r *resources) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()

	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}

func (r *resources) healthChecks() map[string]httpserver.HealthCheck {
	checks := map[string]httpserver.HealthCheck{}
	if r.postgres != nil {
		checks["postgres"] = r.postgres.Ping
	}
	if r.redis != nil {
		client := r.redis
		checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
	}
	if r.mongo != nil {
		client := r.mongo.Client
		checks["mongo"] = func(ctx context.Context) error { return client.Ping(ctx, nil) }
	}
	return checks
}

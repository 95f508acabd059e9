package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"folio/internal/app/bootstrap"
	"folio/internal/platform/observability"
)

// Worker process entrypoint.
// Data flow:
// 1) Load config.
// 2) Build app wiring.
// 3) Run the outbox relay, the archiver and the consumer loop until
// SIGINT/SIGTERM.
func main() {
	logger := observability.NewLogger(serviceName(), "worker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.BuildWorker(ctx, logger)
	if err != nil {
		logger.Error("bootstrap worker failed", "event", "worker_bootstrap_failed", "error", err.Error())
		os.Exit(1)
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Error("worker shutdown close failed", "event", "worker_close_failed", "error", err.Error())
		}
	}()

	if err := app.Run(ctx); err != nil {
		logger.Error("worker stopped with error", "event", "worker_run_failed", "error", err.Error())
		stop()
		_ = app.Close()
		os.Exit(1)
	}
}

func serviceName() string {
	if name := os.Getenv("SERVICE_NAME"); name != "" {
		return name
	}
	return "folio"
}

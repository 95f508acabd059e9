package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"folio/internal/app/bootstrap"
	"folio/internal/platform/observability"
)

// API process entrypoint.
// Data flow:
// 1) Load config.
// 2) Build app wiring (dead-letter store, guard, in-process dispatcher).
// 3) Serve the operator API until SIGINT/SIGTERM.
func main() {
	logger := observability.NewLogger(serviceName(), "api")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.BuildAPI(ctx, logger)
	if err != nil {
		logger.Error("bootstrap api failed", "event", "api_bootstrap_failed", "error", err.Error())
		os.Exit(1)
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Error("api shutdown close failed", "event", "api_close_failed", "error", err.Error())
		}
	}()

	if err := app.Run(ctx); err != nil {
		logger.Error("api stopped with error", "event", "api_run_failed", "error", err.Error())
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

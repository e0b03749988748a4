package main

import (
	"context"
	"os"

	"despesas/internal/cli"
	"despesas/internal/log"
	"despesas/internal/services"
	"despesas/internal/worker"
)

const origin = "recurring-worker"

func main() {
	cfg, logger := cli.Bootstrap(log.ComponentWorker)
	logger.Info("Starting recurring-worker")

	ctx, cancel := cli.SignalContext(logger)
	defer cancel()

	be := cli.OpenBackend(ctx, logger, cfg, origin)

	// Materialized charges are announced so API processes drop their
	// cached analytics. Without a broker they notice on cache expiry.
	var notifier services.Notifier
	if be.Events != nil {
		notifier = be.Events
	} else {
		logger.Warn("AMQP disabled, API caches will refresh on expiry only")
	}
	materializer := services.NewMaterializer(be.Store, notifier, cfg.RetryPolicy())

	scheduler := worker.NewScheduler(materializer, worker.SchedulerConfig{
		Interval:      cfg.RecurringInterval,
		CatchUpMonths: 1,
	})
	logger.Info("Recurring charge processor configured",
		"interval", cfg.RecurringInterval,
		"backend", cfg.DataBackend)

	if err := scheduler.Start(ctx); err != nil {
		logger.Error("Failed to start scheduler", log.FieldError, err)
		_ = be.Cleanup()
		os.Exit(1)
	}

	<-ctx.Done()

	logger.Info("Shutting down recurring-worker")
	err := cli.Shutdown(cli.ShutdownTimeout,
		scheduler.Stop,
		func(context.Context) error { return be.Cleanup() },
	)
	if err != nil {
		logger.Error("Shutdown finished with errors", log.FieldError, err)
		os.Exit(1)
	}

	if at, count, lastErr := scheduler.LastRun(); !at.IsZero() {
		logger.Info("Recurring-worker shutdown complete",
			"last_run", at,
			"last_materialized", count,
			"last_error", lastErr)
	}
}

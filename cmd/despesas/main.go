package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"despesas/internal/cache"
	"despesas/internal/cli"
	"despesas/internal/curation"
	apphttp "despesas/internal/http"
	"despesas/internal/log"
	"despesas/internal/middleware/ratelimit"
	"despesas/internal/services"
	"despesas/internal/worker"
)

const origin = "api"

func main() {
	cfg, logger := cli.Bootstrap(log.ComponentApp)
	logger.Info("Starting despesas API")

	ctx, cancel := cli.SignalContext(logger)
	defer cancel()

	be := cli.OpenBackend(ctx, logger, cfg, origin)

	source, err := curation.NewSource(cfg.CurationRoot, cfg.CurationDefaultFile)
	if err != nil {
		logger.Error("Failed to open curation root", log.FieldError, err, "root", cfg.CurationRoot)
		os.Exit(1)
	}

	retry := cfg.RetryPolicy()
	analytics := services.NewCachedAnalytics(services.NewAnalytics(be.Store, time.Now), cfg.CacheSize, cfg.CacheTTL)

	// Local writes drop cached analytics right away and are published for
	// the other processes.
	notifiers := services.Notifiers{analytics}
	if be.Events != nil {
		notifiers = append(notifiers, be.Events)
	}

	ledgerService := services.NewLedgerService(be.Store, notifiers, retry, time.Now)
	materializer := services.NewMaterializer(be.Store, notifiers, retry)
	reconciler := services.NewReconciler(source, be.Store, notifiers, retry)

	events := worker.NewEventWorker(analytics, 0)

	caches := cache.NewManager()
	for _, c := range analytics.Caches() {
		caches.Register(c)
	}
	caches.Register(events.Seen())
	caches.StartCleanup(time.Minute)

	consumerDone := make(chan struct{})
	if be.Events != nil {
		go func() {
			defer close(consumerDone)
			if err := be.Events.Consume(ctx, events.HandleEvent); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Event consumer stopped", log.FieldError, err)
			}
		}()
	} else {
		close(consumerDone)
		logger.Info("AMQP disabled, analytics follow local writes only")
	}

	rateLimit := ratelimit.DefaultConfig()
	rateLimit.RequestsPerWindow = cfg.RateLimitPerMinute
	rateLimit.Window = time.Minute

	srv := apphttp.NewServer(":"+cfg.Port, apphttp.Dependencies{
		Ledger:          ledgerService,
		Analytics:       analytics,
		Materializer:    materializer,
		Curation:        reconciler,
		Store:           be.Store,
		Logger:          logger.WithComponent(log.ComponentHTTP),
		RateLimit:       rateLimit,
		BlockSuspicious: cfg.BlockSuspicious,
	})

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Listening",
			"port", cfg.Port,
			"backend", cfg.DataBackend,
			"curation_root", source.Root())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	exitCode := 0
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
			exitCode = 1
		}
		cancel()
	}

	logger.Info("Shutting down despesas API")
	err = cli.Shutdown(cli.ShutdownTimeout,
		srv.Shutdown,
		func(ctx context.Context) error {
			select {
			case <-consumerDone:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
		func(context.Context) error {
			caches.Stop()
			return nil
		},
		func(context.Context) error { return be.Cleanup() },
	)
	if err != nil {
		logger.Error("Shutdown finished with errors", log.FieldError, err)
		exitCode = 1
	} else {
		logger.Info("Server stopped gracefully")
	}
	os.Exit(exitCode)
}

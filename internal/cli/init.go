// Package cli holds the startup and shutdown steps shared by cmd/despesas
// and cmd/recurring-worker.
package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"despesas/internal/backend"
	"despesas/internal/config"
	"despesas/internal/log"

	"github.com/joho/godotenv"
)

// ShutdownTimeout bounds the whole shutdown sequence.
const ShutdownTimeout = 30 * time.Second

// Bootstrap loads the .env file for local development, then the
// configuration, and installs the process logger for component. An invalid
// configuration exits the process.
func Bootstrap(component string) (*config.Config, *log.Logger) {
	// Missing .env is normal outside development.
	_ = godotenv.Load()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Setup(component, cfg.Level()).Error("Configuration validation failed", log.FieldError, err)
		os.Exit(1)
	}
	return cfg, log.Setup(component, cfg.Level())
}

// OpenBackend opens the configured store and event bus, exiting the process
// when the store cannot be opened.
func OpenBackend(ctx context.Context, logger *log.Logger, cfg *config.Config, origin string) *backend.BackendResult {
	bcfg, err := backend.FromAppConfig(cfg, origin)
	if err != nil {
		logger.Error("Invalid backend configuration", log.FieldError, err)
		os.Exit(1)
	}
	result, err := backend.NewFactory(logger.WithComponent(log.ComponentBackend).Logger).CreateBackend(ctx, bcfg)
	if err != nil {
		logger.Error("Failed to initialize backend", log.FieldError, err, "backend", cfg.DataBackend)
		os.Exit(1)
	}
	return result
}

// SignalContext is cancelled on SIGINT or SIGTERM.
func SignalContext(logger *log.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			logger.Info("Shutdown signal received", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// Shutdown runs steps in order within timeout. Every step runs even when an
// earlier one fails; the failures are joined.
func Shutdown(timeout time.Duration, steps ...func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	for _, step := range steps {
		if step == nil {
			continue
		}
		if err := step(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

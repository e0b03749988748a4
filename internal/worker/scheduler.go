// Package worker runs the background jobs: periodic materialization of
// subscriptions and installments, and consumption of ledger events from
// other processes.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"despesas/internal/core"
	"despesas/internal/services"
)

// Materializer is what the scheduler drives.
type Materializer interface {
	ProcessDue(ctx context.Context, now time.Time) (int, error)
	RunRange(ctx context.Context, from, to core.Month, opts services.MaterializeOptions) ([]services.MaterializeReport, error)
}

// SchedulerConfig holds configuration for the materialization scheduler
type SchedulerConfig struct {
	// Interval is how often the current month is materialized (default: 1h)
	Interval time.Duration

	// CatchUpMonths is how many past months are materialized once on start,
	// covering month boundaries missed while the worker was down (default: 1)
	CatchUpMonths int
}

func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Interval:      time.Hour,
		CatchUpMonths: 1,
	}
}

// Scheduler materializes due charges on a ticker.
type Scheduler struct {
	runner Materializer
	config SchedulerConfig
	now    func() time.Time

	mu        sync.Mutex
	running   bool
	stopCh    chan struct{}
	doneCh    chan struct{}
	lastRun   time.Time
	lastCount int
	lastErr   error
}

func NewScheduler(runner Materializer, config SchedulerConfig) *Scheduler {
	if config.Interval <= 0 {
		config.Interval = DefaultSchedulerConfig().Interval
	}
	if config.CatchUpMonths < 0 {
		config.CatchUpMonths = 0
	}
	return &Scheduler{runner: runner, config: config, now: time.Now}
}

// Start runs the catch-up pass and begins the loop. Returns an error if
// already running.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler is already running")
	}
	s.running = true
	stop, done := make(chan struct{}), make(chan struct{})
	s.stopCh, s.doneCh = stop, done
	s.mu.Unlock()

	s.catchUp(ctx)
	go s.runLoop(ctx, stop, done)

	slog.InfoContext(ctx, "Materialization scheduler started",
		"interval", s.config.Interval,
		"catch_up_months", s.config.CatchUpMonths)
	return nil
}

// Stop gracefully stops the scheduler and waits for the running pass.
// After a timeout the scheduler still counts as running and Stop may be
// called again to keep waiting.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	stop, done := s.stopCh, s.doneCh
	s.stopCh = nil
	s.mu.Unlock()

	if stop != nil {
		close(stop)
	}

	select {
	case <-done:
		slog.InfoContext(ctx, "Materialization scheduler stopped gracefully")
	case <-ctx.Done():
		slog.WarnContext(ctx, "Materialization scheduler stop timed out")
		return ctx.Err()
	}

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	return nil
}

func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// LastRun reports when the last periodic pass finished, how many rows it
// inserted and its error.
func (s *Scheduler) LastRun() (time.Time, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun, s.lastCount, s.lastErr
}

func (s *Scheduler) catchUp(ctx context.Context) {
	if s.config.CatchUpMonths == 0 {
		return
	}
	current := core.MonthOf(s.now())
	reports, err := s.runner.RunRange(ctx, current.Add(-s.config.CatchUpMonths), current.Add(-1), services.MaterializeOptions{})
	if err != nil {
		slog.ErrorContext(ctx, "Catch-up materialization failed", "error", err)
		return
	}
	total := 0
	for _, r := range reports {
		total += r.Materialized
	}
	slog.InfoContext(ctx, "Catch-up materialization complete", "months", len(reports), "materialized", total)
}

func (s *Scheduler) runLoop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.tick(ctx)

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	now := s.now()
	count, err := s.runner.ProcessDue(ctx, now)

	s.mu.Lock()
	s.lastRun, s.lastCount, s.lastErr = now, count, err
	s.mu.Unlock()

	if err != nil {
		slog.ErrorContext(ctx, "Periodic materialization failed", "error", err)
		return
	}
	slog.InfoContext(ctx, "Periodic materialization complete",
		"month", core.MonthOf(now).String(),
		"materialized", count,
		"next_check", now.Add(s.config.Interval).Format("15:04:05"))
}

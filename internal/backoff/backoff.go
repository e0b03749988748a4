// Package backoff retries operations that fail with transient errors.
package backoff

import (
	"context"
	"log/slog"
	"time"
)

// Policy bounds a retry loop. Delays grow as Base*2^attempt up to Max.
type Policy struct {
	Attempts int
	Base     time.Duration
	Max      time.Duration
}

// Default is used when no policy is configured.
func Default() Policy {
	return Policy{Attempts: 3, Base: 50 * time.Millisecond, Max: 2 * time.Second}
}

// Delay returns the wait before retry number attempt (0-based).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := p.Base
	for i := 0; i < attempt; i++ {
		d *= 2
		if p.Max > 0 && d >= p.Max {
			return p.Max
		}
	}
	if p.Max > 0 && d > p.Max {
		return p.Max
	}
	return d
}

// Retry calls fn until it succeeds, returns an error retryable rejects, the
// attempts run out or ctx is done. The last error is returned.
func Retry(ctx context.Context, p Policy, retryable func(error) bool, fn func(context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if !retryable(err) || attempt == attempts-1 {
			return err
		}

		delay := p.Delay(attempt)
		slog.WarnContext(ctx, "Retrying after transient failure",
			"attempt", attempt+1,
			"max_attempts", attempts,
			"delay", delay,
			"error", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

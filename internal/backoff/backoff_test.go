package backoff

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

var errBusy = errors.New("database is locked")

func isBusy(err error) bool { return errors.Is(err, errBusy) }

func TestPolicyDelay(t *testing.T) {
	p := Policy{Attempts: 5, Base: time.Second, Max: 30 * time.Second}
	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second}, // capped
		{40, 30 * time.Second},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("attempt_%d", tt.attempt), func(t *testing.T) {
			if got := p.Delay(tt.attempt); got != tt.expected {
				t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.expected)
			}
		})
	}
}

func TestRetry(t *testing.T) {
	p := Policy{Attempts: 3, Base: time.Millisecond, Max: 2 * time.Millisecond}

	t.Run("succeeds after transient failures", func(t *testing.T) {
		calls := 0
		err := Retry(context.Background(), p, isBusy, func(context.Context) error {
			calls++
			if calls < 3 {
				return errBusy
			}
			return nil
		})
		if err != nil || calls != 3 {
			t.Fatalf("err=%v calls=%d", err, calls)
		}
	})

	t.Run("gives up after attempts", func(t *testing.T) {
		calls := 0
		err := Retry(context.Background(), p, isBusy, func(context.Context) error {
			calls++
			return errBusy
		})
		if !errors.Is(err, errBusy) || calls != 3 {
			t.Fatalf("err=%v calls=%d", err, calls)
		}
	})

	t.Run("permanent error is not retried", func(t *testing.T) {
		calls := 0
		perm := errors.New("constraint failed")
		err := Retry(context.Background(), p, isBusy, func(context.Context) error {
			calls++
			return perm
		})
		if !errors.Is(err, perm) || calls != 1 {
			t.Fatalf("err=%v calls=%d", err, calls)
		}
	})

	t.Run("context cancellation stops waiting", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		slow := Policy{Attempts: 3, Base: time.Hour}
		err := Retry(ctx, slow, isBusy, func(context.Context) error {
			cancel()
			return errBusy
		})
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	})
}

package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"despesas/internal/core"

	"github.com/google/uuid"
)

// Notifier is told about every successful ledger write.
type Notifier interface {
	Notify(ctx context.Context, ev core.LedgerEvent) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, ev core.LedgerEvent) error

func (f NotifierFunc) Notify(ctx context.Context, ev core.LedgerEvent) error { return f(ctx, ev) }

// Notifiers fans an event out to every member; all are called even if one fails.
type Notifiers []Notifier

func (ns Notifiers) Notify(ctx context.Context, ev core.LedgerEvent) error {
	var errs []error
	for _, n := range ns {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func newEvent(kind core.EventKind, month core.Month, entityID int64, count int) core.LedgerEvent {
	ev := core.LedgerEvent{
		ID:       uuid.NewString(),
		Kind:     kind,
		EntityID: entityID,
		Count:    count,
		At:       time.Now().UTC(),
	}
	if !month.IsZero() {
		ev.Month = month.String()
	}
	return ev
}

// publish delivers ev without failing the write that produced it.
func publish(ctx context.Context, n Notifier, ev core.LedgerEvent) {
	if n == nil {
		return
	}
	if err := n.Notify(ctx, ev); err != nil {
		slog.ErrorContext(ctx, "Failed to publish ledger event",
			"kind", ev.Kind,
			"event_id", ev.ID,
			"error", err)
	}
}

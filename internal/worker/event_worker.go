package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"despesas/internal/amqp"
	"despesas/internal/cache"
	"despesas/internal/log"
	"despesas/internal/services"
)

// seenTTL bounds how long a delivered event ID is remembered for
// redelivery suppression.
const seenTTL = 10 * time.Minute

// EventWorker applies ledger events published by other processes to this
// process, typically to drop stale analytics.
type EventWorker struct {
	target services.Notifier
	seen   *cache.LRUCache[struct{}]

	handled    atomic.Int64
	duplicates atomic.Int64
}

func NewEventWorker(target services.Notifier, seenSize int) *EventWorker {
	if seenSize <= 0 {
		seenSize = 1024
	}
	return &EventWorker{
		target: target,
		seen:   cache.NewLRUCache[struct{}](seenSize, seenTTL),
	}
}

// Seen exposes the redelivery cache so expired IDs can be cleaned.
func (w *EventWorker) Seen() cache.Cleaner { return w.seen }

// HandleEvent processes a single ledger event from AMQP
func (w *EventWorker) HandleEvent(ctx context.Context, msg *amqp.EventMessage) error {
	if msg == nil {
		return fmt.Errorf("nil event message")
	}
	ev := msg.Event

	if ev.ID != "" {
		if _, ok := w.seen.Get(ev.ID); ok {
			w.duplicates.Add(1)
			slog.DebugContext(ctx, "Skipping already handled event", "event_id", ev.ID, "kind", ev.Kind)
			return nil
		}
	}

	events := log.NewStructuredLogger(log.FromContext(ctx).With("origin", msg.Origin))
	events.LogEvent(ctx, "Processing ledger event", ev)

	if w.target != nil {
		if err := w.target.Notify(ctx, ev); err != nil {
			events.LogError(ctx, "Failed to apply ledger event", err, log.OpUpdate, log.NewFields().WithEvent(ev))
			return fmt.Errorf("apply event %s: %w", ev.ID, err)
		}
	}

	if ev.ID != "" {
		w.seen.Set(ev.ID, struct{}{})
	}
	w.handled.Add(1)
	return nil
}

// Stats returns how many events were applied and how many were skipped as
// redeliveries.
func (w *EventWorker) Stats() (handled, duplicates int64) {
	return w.handled.Load(), w.duplicates.Load()
}

package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"despesas/internal/backoff"
	"despesas/internal/core"
	"despesas/internal/storage/memory"
)

var noRetry = backoff.Policy{Attempts: 1}

func fixedClock(y int, m time.Month, d int) Clock {
	return func() time.Time { return time.Date(y, m, d, 12, 0, 0, 0, time.UTC) }
}

func month(t *testing.T, s string) core.Month {
	t.Helper()
	m, err := core.ParseMonth(s)
	if err != nil {
		t.Fatalf("parse month %q: %v", s, err)
	}
	return m
}

// recorder collects published events.
type recorder struct {
	mu     sync.Mutex
	events []core.LedgerEvent
}

func (r *recorder) Notify(_ context.Context, ev core.LedgerEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) kinds() []core.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]core.EventKind, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Kind
	}
	return out
}

func mustExpense(t *testing.T, s *memory.Store, date core.Date, cents int64, category string) int64 {
	t.Helper()
	id, err := s.CreateTransaction(context.Background(), core.Transaction{
		Nature: core.Expense, Source: core.OneOff{}, Date: date,
		Amount: core.Money{Cents: cents}, Category: category, Description: "test",
	})
	if err != nil {
		t.Fatalf("create expense: %v", err)
	}
	return id
}

func mustIncome(t *testing.T, s *memory.Store, date core.Date, cents int64) {
	t.Helper()
	_, err := s.CreateTransaction(context.Background(), core.Transaction{
		Nature: core.Income, Source: core.OneOff{}, Date: date,
		Amount: core.Money{Cents: cents}, Category: "Salário", Description: "salary",
	})
	if err != nil {
		t.Fatalf("create income: %v", err)
	}
}

package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"despesas/internal/backoff"
	"despesas/internal/core"
	"despesas/internal/ledger"
)

// MaterializeOptions tune a materialization run.
type MaterializeOptions struct {
	// DryRun reports what would be inserted without writing.
	DryRun bool
}

// MaterializeReport summarizes one month of materialization.
type MaterializeReport struct {
	Month          core.Month
	Eligible       int
	Materialized   int
	AlreadyCharged int
	// Skipped counts definitions whose charge for the month is invalid.
	// They are logged and do not block the other charges.
	Skipped int
	DryRun  bool
}

// Materializer turns subscriptions and installments into transactions,
// at most once per source and month.
type Materializer struct {
	store    ledger.Store
	notifier Notifier
	retry    backoff.Policy
}

// NewMaterializer creates a materializer. notifier may be nil.
func NewMaterializer(store ledger.Store, notifier Notifier, retry backoff.Policy) *Materializer {
	return &Materializer{store: store, notifier: notifier, retry: retry}
}

// Candidates lists every valid charge due in month, subscriptions first.
func (m *Materializer) Candidates(ctx context.Context, month core.Month) ([]core.Transaction, error) {
	due, _, err := m.candidates(ctx, month)
	return due, err
}

func (m *Materializer) candidates(ctx context.Context, month core.Month) (due []core.Transaction, skipped int, err error) {
	subs, err := m.store.ListSubscriptions(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("list subscriptions: %w", err)
	}
	insts, err := m.store.ListInstallments(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("list installments: %w", err)
	}

	keep := func(tx core.Transaction, kind string, id int64) {
		if err := tx.Validate(); err != nil {
			skipped++
			slog.WarnContext(ctx, "Skipping invalid charge",
				"month", month.String(), kind+"_id", id, "error", err)
			return
		}
		due = append(due, tx)
	}
	for _, sub := range subs {
		tx, ok, err := ExpandSubscription(sub, month)
		if err != nil {
			skipped++
			slog.WarnContext(ctx, "Skipping subscription", "month", month.String(), "subscription_id", sub.ID, "error", err)
			continue
		}
		if ok {
			keep(tx, "subscription", sub.ID)
		}
	}
	for _, inst := range insts {
		if tx, ok := ExpandInstallment(inst, month); ok {
			keep(tx, "installment", inst.ID)
		}
	}
	return due, skipped, nil
}

// RunSubscriptions materializes everything due in month. Running it again
// for the same month inserts nothing and reports the rows as already charged.
func (m *Materializer) RunSubscriptions(ctx context.Context, month core.Month, opts MaterializeOptions) (MaterializeReport, error) {
	if m.store == nil {
		return MaterializeReport{}, fmt.Errorf("materializer not properly initialized")
	}

	var report MaterializeReport
	err := backoff.Retry(ctx, m.retry, core.IsTransient, func(ctx context.Context) error {
		var err error
		report, err = m.run(ctx, month, opts)
		return err
	})
	if err != nil {
		return MaterializeReport{}, fmt.Errorf("materialize %s: %w", month, err)
	}

	slog.InfoContext(ctx, "Materialization complete",
		"month", month.String(),
		"eligible", report.Eligible,
		"materialized", report.Materialized,
		"already_charged", report.AlreadyCharged,
		"skipped", report.Skipped,
		"dry_run", report.DryRun)

	if !opts.DryRun && report.Materialized > 0 {
		publish(ctx, m.notifier, newEvent(core.EventSubscriptionsMaterialized, month, 0, report.Materialized))
	}
	return report, nil
}

func (m *Materializer) run(ctx context.Context, month core.Month, opts MaterializeOptions) (MaterializeReport, error) {
	report := MaterializeReport{Month: month, DryRun: opts.DryRun}

	candidates, skipped, err := m.candidates(ctx, month)
	if err != nil {
		return report, err
	}
	report.Skipped = skipped
	report.Eligible = len(candidates)
	if len(candidates) == 0 {
		return report, nil
	}

	if opts.DryRun {
		for _, c := range candidates {
			key, _ := c.Key()
			exists, err := m.store.HasDerived(ctx, key)
			if err != nil {
				return report, err
			}
			if exists {
				report.AlreadyCharged++
			} else {
				report.Materialized++
			}
		}
		return report, nil
	}

	inserted, err := m.store.InsertDerived(ctx, candidates)
	if err != nil {
		return report, err
	}
	for i, ok := range inserted {
		if ok {
			report.Materialized++
			continue
		}
		report.AlreadyCharged++
		key, _ := candidates[i].Key()
		slog.DebugContext(ctx, "Charge already materialized", "source_key", key.String())
	}
	return report, nil
}

// MaxRunMonths bounds how many months a single RunRange call walks.
const MaxRunMonths = 120

// RunRange materializes every month from..to inclusive, oldest first.
func (m *Materializer) RunRange(ctx context.Context, from, to core.Month, opts MaterializeOptions) ([]MaterializeReport, error) {
	if to.Before(from) {
		return nil, core.Validationf("range end %s is before start %s", to, from)
	}
	if span := to.Sub(from) + 1; span > MaxRunMonths {
		return nil, core.Validationf("range %s..%s spans %d months, at most %d allowed", from, to, span, MaxRunMonths)
	}
	reports := make([]MaterializeReport, 0, to.Sub(from)+1)
	for month := from; !month.After(to); month = month.Add(1) {
		r, err := m.RunSubscriptions(ctx, month, opts)
		if err != nil {
			return reports, err
		}
		reports = append(reports, r)
	}
	return reports, nil
}

// ProcessDue materializes the month containing now. It is what the
// recurring worker runs on every tick.
func (m *Materializer) ProcessDue(ctx context.Context, now time.Time) (int, error) {
	report, err := m.RunSubscriptions(ctx, core.MonthOf(now), MaterializeOptions{})
	if err != nil {
		return 0, err
	}
	return report.Materialized, nil
}

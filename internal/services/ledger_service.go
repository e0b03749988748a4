package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"despesas/internal/backoff"
	"despesas/internal/core"
	"despesas/internal/ledger"
	"despesas/internal/log"
)

// Clock returns the current time. Tests inject a fixed one.
type Clock func() time.Time

// EntryInput is what a user types for a one-off expense or income.
type EntryInput struct {
	Date        core.Date
	Amount      core.Money
	Category    string
	Description string
}

// InstallmentOptions tune AddInstallment.
type InstallmentOptions struct {
	// MaterializeSchedule writes every installment row immediately instead
	// of waiting for the month to be materialized.
	MaterializeSchedule bool
}

// LedgerService orchestrates direct ledger writes: one-off entries,
// subscription and installment definitions, budgets and categories.
type LedgerService struct {
	store    ledger.Store
	notifier Notifier
	retry    backoff.Policy
	now      Clock
}

func NewLedgerService(store ledger.Store, notifier Notifier, retry backoff.Policy, now Clock) *LedgerService {
	if now == nil {
		now = time.Now
	}
	return &LedgerService{store: store, notifier: notifier, retry: retry, now: now}
}

func (s *LedgerService) do(ctx context.Context, fn func(context.Context) error) error {
	return backoff.Retry(ctx, s.retry, core.IsTransient, fn)
}

func (in EntryInput) transaction(nature core.Nature) core.Transaction {
	return core.Transaction{
		Nature:      nature,
		Source:      core.OneOff{},
		Date:        in.Date,
		Amount:      in.Amount,
		Category:    strings.TrimSpace(in.Category),
		Description: strings.TrimSpace(in.Description),
	}
}

// AddExpense records a one-off expense.
func (s *LedgerService) AddExpense(ctx context.Context, in EntryInput) (int64, error) {
	return s.addEntry(ctx, in.transaction(core.Expense))
}

// AddIncome records an income. Incomes are always one-off.
func (s *LedgerService) AddIncome(ctx context.Context, in EntryInput) (int64, error) {
	return s.addEntry(ctx, in.transaction(core.Income))
}

func (s *LedgerService) addEntry(ctx context.Context, tx core.Transaction) (int64, error) {
	if err := tx.Validate(); err != nil {
		return 0, err
	}
	var id int64
	err := s.do(ctx, func(ctx context.Context) error {
		var err error
		id, err = s.store.CreateTransaction(ctx, tx)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("save %s: %w", tx.Nature, err)
	}
	tx.ID = id
	log.NewStructuredLogger(log.FromContext(ctx)).LogTransaction(ctx, log.OpCreate, tx)
	publish(ctx, s.notifier, newEvent(core.EventTransactionCreated, tx.Period(), id, 1))
	return id, nil
}

// guardMutation rejects edits to rows that are derived or not expenses.
func guardMutation(op string, tx core.Transaction) error {
	switch src := tx.Source.(type) {
	case core.OneOff:
		if tx.Nature != core.Expense {
			return core.Conflict(op, "transaction", tx.ID, fmt.Errorf("%w: incomes are append-only", core.ErrImmutableSource))
		}
		return nil
	case core.SubscriptionCharge:
		return core.Conflict(op, "transaction", tx.ID,
			fmt.Errorf("%w: row belongs to subscription %d", core.ErrImmutableSource, src.SubscriptionID))
	case core.InstallmentCharge:
		return core.Conflict(op, "transaction", tx.ID,
			fmt.Errorf("%w: row is installment %d/%d of purchase %d", core.ErrImmutableSource, src.Number, src.Total, src.InstallmentID))
	default:
		panic(fmt.Sprintf("services: unknown source %T", src))
	}
}

// UpdateExpense edits a one-off expense.
func (s *LedgerService) UpdateExpense(ctx context.Context, id int64, in EntryInput) error {
	updated := in.transaction(core.Expense)
	updated.ID = id
	if err := updated.Validate(); err != nil {
		return err
	}
	var old core.Transaction
	err := s.do(ctx, func(ctx context.Context) error {
		var err error
		if old, err = s.store.GetTransaction(ctx, id); err != nil {
			return err
		}
		if err := guardMutation("update", old); err != nil {
			return err
		}
		return s.store.UpdateTransaction(ctx, updated)
	})
	if err != nil {
		return err
	}
	publish(ctx, s.notifier, newEvent(core.EventTransactionUpdated, updated.Period(), id, 1))
	if old.Period() != updated.Period() {
		publish(ctx, s.notifier, newEvent(core.EventTransactionUpdated, old.Period(), id, 1))
	}
	return nil
}

// DeleteExpense removes a one-off expense.
func (s *LedgerService) DeleteExpense(ctx context.Context, id int64) error {
	var old core.Transaction
	err := s.do(ctx, func(ctx context.Context) error {
		var err error
		if old, err = s.store.GetTransaction(ctx, id); err != nil {
			return err
		}
		if err := guardMutation("delete", old); err != nil {
			return err
		}
		return s.store.DeleteTransaction(ctx, id)
	})
	if err != nil {
		return err
	}
	slog.InfoContext(ctx, "Expense deleted", "id", id, "date", old.Date.String())
	publish(ctx, s.notifier, newEvent(core.EventTransactionDeleted, old.Period(), id, 1))
	return nil
}

// AddSubscription creates an active subscription. An empty start date means
// today and an empty frequency means monthly.
func (s *LedgerService) AddSubscription(ctx context.Context, sub core.Subscription) (int64, error) {
	if sub.StartDate.IsEmpty() {
		sub.StartDate = core.DateOf(s.now())
	}
	if sub.Frequency == "" {
		sub.Frequency = core.Monthly
	}
	sub.Active = true
	sub.Name = strings.TrimSpace(sub.Name)
	sub.Category = strings.TrimSpace(sub.Category)
	if err := sub.Validate(); err != nil {
		return 0, err
	}
	var id int64
	err := s.do(ctx, func(ctx context.Context) error {
		var err error
		id, err = s.store.CreateSubscription(ctx, sub)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("save subscription: %w", err)
	}
	publish(ctx, s.notifier, newEvent(core.EventSubscriptionChanged, core.Month{}, id, 1))
	return id, nil
}

// UpdateSubscription replaces a subscription definition. Charges already
// materialized are left as they are.
func (s *LedgerService) UpdateSubscription(ctx context.Context, sub core.Subscription) error {
	sub.Name = strings.TrimSpace(sub.Name)
	sub.Category = strings.TrimSpace(sub.Category)
	if err := sub.Validate(); err != nil {
		return err
	}
	if err := s.do(ctx, func(ctx context.Context) error { return s.store.UpdateSubscription(ctx, sub) }); err != nil {
		return err
	}
	publish(ctx, s.notifier, newEvent(core.EventSubscriptionChanged, core.Month{}, sub.ID, 1))
	return nil
}

// DeleteSubscription removes a subscription that was never charged.
func (s *LedgerService) DeleteSubscription(ctx context.Context, id int64) error {
	if err := s.do(ctx, func(ctx context.Context) error { return s.store.DeleteSubscription(ctx, id) }); err != nil {
		return err
	}
	publish(ctx, s.notifier, newEvent(core.EventSubscriptionChanged, core.Month{}, id, 1))
	return nil
}

// AddInstallment registers an installment purchase. With MaterializeSchedule
// every share is written at once; otherwise shares appear as their months
// are materialized.
func (s *LedgerService) AddInstallment(ctx context.Context, inst core.Installment, opts InstallmentOptions) (int64, error) {
	inst.Description = strings.TrimSpace(inst.Description)
	inst.Category = strings.TrimSpace(inst.Category)
	if err := inst.Validate(); err != nil {
		return 0, err
	}
	var id int64
	err := s.do(ctx, func(ctx context.Context) error {
		var err error
		id, err = s.store.CreateInstallment(ctx, inst)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("save installment: %w", err)
	}
	inst.ID = id

	if opts.MaterializeSchedule {
		rows := make([]core.Transaction, 0, inst.Count)
		start := inst.StartDate.Period()
		for k := 0; k < inst.Count; k++ {
			if tx, due := ExpandInstallment(inst, start.Add(k)); due {
				rows = append(rows, tx)
			}
		}
		err := s.do(ctx, func(ctx context.Context) error {
			_, err := s.store.InsertDerived(ctx, rows)
			return err
		})
		if err != nil {
			return id, fmt.Errorf("materialize installment %d: %w", id, err)
		}
	}

	slog.InfoContext(ctx, "Installment purchase registered",
		"id", id,
		"count", inst.Count,
		"total_cents", inst.Total.Cents,
		"scheduled", opts.MaterializeSchedule)
	publish(ctx, s.notifier, newEvent(core.EventInstallmentCreated, inst.StartDate.Period(), id, inst.Count))
	return id, nil
}

// SetBudget creates a budget; a second budget for the same scope conflicts.
func (s *LedgerService) SetBudget(ctx context.Context, b core.Budget) error {
	b.Category = strings.TrimSpace(b.Category)
	if err := b.Validate(); err != nil {
		return err
	}
	if err := s.do(ctx, func(ctx context.Context) error { return s.store.CreateBudget(ctx, b) }); err != nil {
		return err
	}
	publish(ctx, s.notifier, newEvent(core.EventBudgetChanged, b.Scope, 0, 1))
	return nil
}

func (s *LedgerService) UpdateBudget(ctx context.Context, b core.Budget) error {
	b.Category = strings.TrimSpace(b.Category)
	if err := b.Validate(); err != nil {
		return err
	}
	if err := s.do(ctx, func(ctx context.Context) error { return s.store.UpdateBudget(ctx, b) }); err != nil {
		return err
	}
	publish(ctx, s.notifier, newEvent(core.EventBudgetChanged, b.Scope, 0, 1))
	return nil
}

func (s *LedgerService) DeleteBudget(ctx context.Context, category string, scope core.Month) error {
	category = strings.TrimSpace(category)
	if err := s.do(ctx, func(ctx context.Context) error { return s.store.DeleteBudget(ctx, category, scope) }); err != nil {
		return err
	}
	publish(ctx, s.notifier, newEvent(core.EventBudgetChanged, scope, 0, 1))
	return nil
}

// DeleteCategory removes a category nothing refers to.
func (s *LedgerService) DeleteCategory(ctx context.Context, name string) error {
	if err := s.do(ctx, func(ctx context.Context) error { return s.store.DeleteCategory(ctx, name) }); err != nil {
		return err
	}
	publish(ctx, s.notifier, newEvent(core.EventCategoryDeleted, core.Month{}, 0, 1))
	return nil
}

// Close releases the store.
func (s *LedgerService) Close() error {
	if s.store == nil {
		return nil
	}
	if err := s.store.Close(); err != nil {
		return fmt.Errorf("close ledger service: %w", err)
	}
	return nil
}

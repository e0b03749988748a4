// Package ledger declares the storage ports the engine depends on.
package ledger

import (
	"context"

	"despesas/internal/core"
)

// TransactionFilter narrows ListTransactions. Zero fields do not filter.
// Results are always ordered by date desc, then id desc.
type TransactionFilter struct {
	Nature   core.Nature
	From     core.Date // inclusive
	To       core.Date // inclusive
	Category string
	Limit    int
}

// InMonth returns a filter covering the whole of m.
func InMonth(m core.Month, nature core.Nature) TransactionFilter {
	return TransactionFilter{Nature: nature, From: m.First(), To: m.Last()}
}

// Ports for the entity store.
type (
	CategoryStore interface {
		// EnsureCategory creates the category if it does not exist yet.
		EnsureCategory(ctx context.Context, name string) error
		ListCategories(ctx context.Context) ([]core.Category, error)
		// DeleteCategory fails with ErrConflict while anything references it.
		DeleteCategory(ctx context.Context, name string) error
	}

	BudgetStore interface {
		// CreateBudget fails with ErrConflict if (category, scope) already has a budget.
		CreateBudget(ctx context.Context, b core.Budget) error
		UpdateBudget(ctx context.Context, b core.Budget) error
		DeleteBudget(ctx context.Context, category string, scope core.Month) error
		ListBudgets(ctx context.Context) ([]core.Budget, error)
	}

	SubscriptionStore interface {
		CreateSubscription(ctx context.Context, s core.Subscription) (int64, error)
		GetSubscription(ctx context.Context, id int64) (core.Subscription, error)
		UpdateSubscription(ctx context.Context, s core.Subscription) error
		// DeleteSubscription fails with ErrConflict once charges were materialized.
		DeleteSubscription(ctx context.Context, id int64) error
		ListSubscriptions(ctx context.Context) ([]core.Subscription, error)
	}

	InstallmentStore interface {
		CreateInstallment(ctx context.Context, i core.Installment) (int64, error)
		GetInstallment(ctx context.Context, id int64) (core.Installment, error)
		ListInstallments(ctx context.Context) ([]core.Installment, error)
	}

	TransactionStore interface {
		CreateTransaction(ctx context.Context, t core.Transaction) (int64, error)
		GetTransaction(ctx context.Context, id int64) (core.Transaction, error)
		UpdateTransaction(ctx context.Context, t core.Transaction) error
		DeleteTransaction(ctx context.Context, id int64) error
		ListTransactions(ctx context.Context, f TransactionFilter) ([]core.Transaction, error)

		// InsertDerived stores materialized rows atomically. The result holds,
		// per row, whether it was inserted (false: its source key already existed).
		InsertDerived(ctx context.Context, txs []core.Transaction) ([]bool, error)
		HasDerived(ctx context.Context, key core.SourceKey) (bool, error)
		// HasOneOffExpense reports whether a one-off expense with the dedup key exists.
		HasOneOffExpense(ctx context.Context, dedupKey string) (bool, error)
		// LatestTransactionDate returns the most recent transaction date, if any.
		LatestTransactionDate(ctx context.Context) (core.Date, bool, error)
	}

	// Store is everything the engine needs from persistence.
	Store interface {
		CategoryStore
		BudgetStore
		SubscriptionStore
		InstallmentStore
		TransactionStore
		// Revision changes after every committed write, including writes made
		// by other processes sharing the store.
		Revision(ctx context.Context) (int64, error)
		Ping(ctx context.Context) error
		Close() error
	}
)

package services

import (
	"context"
	"fmt"
	"iter"
	"sort"
	"time"

	"despesas/internal/core"
	"despesas/internal/ledger"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultExpenseLimit = 200
	DefaultTrendMonths  = 6
)

// Analytics aggregates the ledger. It never writes.
type Analytics struct {
	store ledger.Store
	now   Clock
}

func NewAnalytics(store ledger.Store, now Clock) *Analytics {
	if now == nil {
		now = time.Now
	}
	return &Analytics{store: store, now: now}
}

type monthTotals struct {
	income, expenses core.Money
	byCategory       map[string]core.Money
}

func (a *Analytics) totals(ctx context.Context, month core.Month) (monthTotals, error) {
	txs, err := a.store.ListTransactions(ctx, ledger.InMonth(month, ""))
	if err != nil {
		return monthTotals{}, fmt.Errorf("list %s: %w", month, err)
	}
	t := monthTotals{byCategory: map[string]core.Money{}}
	for _, tx := range txs {
		switch tx.Nature {
		case core.Income:
			t.income = t.income.Add(tx.Amount)
		case core.Expense:
			t.expenses = t.expenses.Add(tx.Amount)
			t.byCategory[tx.Category] = t.byCategory[tx.Category].Add(tx.Amount)
		}
	}
	return t, nil
}

// SavingsRate is net/income as a percentage with one decimal, or 0 when
// there is no income.
func SavingsRate(income, expenses core.Money) float64 {
	return core.Percent(income.Sub(expenses), income)
}

func sortedCategories(m map[string]core.Money) []core.CategoryAmount {
	out := make([]core.CategoryAmount, 0, len(m))
	for name, amount := range m {
		out = append(out, core.CategoryAmount{Name: name, Amount: amount})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Amount != out[j].Amount {
			return out[i].Amount.Cents > out[j].Amount.Cents
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Summary returns income, expenses, net and savings rate for month,
// expenses by category and the previous month's totals.
func (a *Analytics) Summary(ctx context.Context, month core.Month) (core.MonthSummary, error) {
	var cur, prev monthTotals
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		cur, err = a.totals(gctx, month)
		return err
	})
	g.Go(func() (err error) {
		prev, err = a.totals(gctx, month.Add(-1))
		return err
	})
	if err := g.Wait(); err != nil {
		return core.MonthSummary{}, err
	}

	return core.MonthSummary{
		Month:        month,
		Income:       cur.income,
		Expenses:     cur.expenses,
		Net:          cur.income.Sub(cur.expenses),
		SavingsRate:  SavingsRate(cur.income, cur.expenses),
		ByCategory:   sortedCategories(cur.byCategory),
		PrevMonth:    month.Add(-1),
		PrevIncome:   prev.income,
		PrevExpenses: prev.expenses,
	}, nil
}

// resolveBudgets picks, per category, the budget scoped to month or else the
// global one.
func resolveBudgets(budgets []core.Budget, month core.Month) map[string]core.Budget {
	out := map[string]core.Budget{}
	for _, b := range budgets {
		switch {
		case b.Scope == month:
			out[b.Category] = b
		case b.Global():
			if _, ok := out[b.Category]; !ok {
				out[b.Category] = b
			}
		}
	}
	return out
}

// Budgets compares every budgeted category with its spending in month,
// highest usage first.
func (a *Analytics) Budgets(ctx context.Context, month core.Month) ([]core.BudgetStatus, error) {
	budgets, err := a.store.ListBudgets(ctx)
	if err != nil {
		return nil, fmt.Errorf("list budgets: %w", err)
	}
	t, err := a.totals(ctx, month)
	if err != nil {
		return nil, err
	}

	resolved := resolveBudgets(budgets, month)
	out := make([]core.BudgetStatus, 0, len(resolved))
	for category, b := range resolved {
		spent := t.byCategory[category]
		out = append(out, core.BudgetStatus{
			Category:  category,
			Budgeted:  b.Amount,
			Spent:     spent,
			Remaining: b.Amount.Sub(spent),
			Pct:       core.Percent(spent, b.Amount),
			Over:      spent.Cents > b.Amount.Cents,
			Global:    b.Global(),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Pct != out[j].Pct {
			return out[i].Pct > out[j].Pct
		}
		return out[i].Category < out[j].Category
	})
	return out, nil
}

// Trends yields n months ending at anchor, oldest first. Each month is read
// when the consumer asks for it; ranging again starts over.
func (a *Analytics) Trends(ctx context.Context, anchor core.Month, n int) iter.Seq2[core.TrendPoint, error] {
	return func(yield func(core.TrendPoint, error) bool) {
		for i := n - 1; i >= 0; i-- {
			month := anchor.Add(-i)
			t, err := a.totals(ctx, month)
			if err != nil {
				yield(core.TrendPoint{Month: month}, err)
				return
			}
			p := core.TrendPoint{
				Month:    month,
				Income:   t.income,
				Expenses: t.expenses,
				Net:      t.income.Sub(t.expenses),
			}
			if !yield(p, nil) {
				return
			}
		}
	}
}

// CollectTrends drains Trends into a slice.
func CollectTrends(seq iter.Seq2[core.TrendPoint, error]) ([]core.TrendPoint, error) {
	var out []core.TrendPoint
	for p, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// DefaultMonth is the current month if it has activity, else the latest month
// with any transaction, else the current month.
func (a *Analytics) DefaultMonth(ctx context.Context) (core.Month, error) {
	today := core.MonthOf(a.now())
	txs, err := a.store.ListTransactions(ctx, ledger.TransactionFilter{From: today.First(), To: today.Last(), Limit: 1})
	if err != nil {
		return core.Month{}, fmt.Errorf("default month: %w", err)
	}
	if len(txs) > 0 {
		return today, nil
	}
	latest, ok, err := a.store.LatestTransactionDate(ctx)
	if err != nil {
		return core.Month{}, fmt.Errorf("default month: %w", err)
	}
	if !ok {
		return today, nil
	}
	return latest.Period(), nil
}

// Expenses lists expenses of month, newest first.
func (a *Analytics) Expenses(ctx context.Context, month core.Month, limit int) ([]core.Transaction, error) {
	if limit <= 0 {
		limit = DefaultExpenseLimit
	}
	f := ledger.InMonth(month, core.Expense)
	f.Limit = limit
	return a.store.ListTransactions(ctx, f)
}

// Incomes lists incomes of month, newest first.
func (a *Analytics) Incomes(ctx context.Context, month core.Month) ([]core.Transaction, error) {
	return a.store.ListTransactions(ctx, ledger.InMonth(month, core.Income))
}

// Subscriptions lists active subscriptions first, then by amount.
func (a *Analytics) Subscriptions(ctx context.Context) ([]core.Subscription, error) {
	subs, err := a.store.ListSubscriptions(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(subs, func(i, j int) bool {
		if subs[i].Active != subs[j].Active {
			return subs[i].Active
		}
		if subs[i].Amount != subs[j].Amount {
			return subs[i].Amount.Cents > subs[j].Amount.Cents
		}
		return subs[i].ID < subs[j].ID
	})
	return subs, nil
}

// Categories returns every category name, sorted.
func (a *Analytics) Categories(ctx context.Context) ([]string, error) {
	cats, err := a.store.ListCategories(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(cats))
	for i, c := range cats {
		names[i] = c.Name
	}
	sort.Strings(names)
	return names, nil
}

// BudgetCategories returns the categories that have any budget, sorted.
func (a *Analytics) BudgetCategories(ctx context.Context) ([]string, error) {
	budgets, err := a.store.ListBudgets(ctx)
	if err != nil {
		return nil, err
	}
	seen := map[string]struct{}{}
	var names []string
	for _, b := range budgets {
		if _, ok := seen[b.Category]; ok {
			continue
		}
		seen[b.Category] = struct{}{}
		names = append(names, b.Category)
	}
	sort.Strings(names)
	return names, nil
}

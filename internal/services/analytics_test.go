package services

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"despesas/internal/core"
	"despesas/internal/ledger"
	"despesas/internal/storage/memory"
)

func TestSavingsRate(t *testing.T) {
	tests := []struct {
		income, expenses int64
		want             float64
	}{
		{12418, 1100, 91.1},
		{100000, 25000, 75.0},
		{0, 5000, 0},
		{1000, 3000, -200.0},
	}
	for _, tt := range tests {
		if got := SavingsRate(core.Money{Cents: tt.income}, core.Money{Cents: tt.expenses}); got != tt.want {
			t.Errorf("SavingsRate(%d, %d) = %v, want %v", tt.income, tt.expenses, got, tt.want)
		}
	}
}

func TestAnalytics_Summary(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	mustIncome(t, store, core.NewDate(2026, 3, 5), 12418)
	mustExpense(t, store, core.NewDate(2026, 3, 6), 700, "Mercado")
	mustExpense(t, store, core.NewDate(2026, 3, 9), 400, "Casa")
	mustExpense(t, store, core.NewDate(2026, 2, 20), 999, "Casa")
	mustIncome(t, store, core.NewDate(2026, 2, 5), 5000)

	a := NewAnalytics(store, fixedClock(2026, 3, 14))
	s, err := a.Summary(ctx, month(t, "2026-03"))
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if s.Income.Cents != 12418 || s.Expenses.Cents != 1100 || s.Net.Cents != 11318 {
		t.Fatalf("totals = %d/%d/%d", s.Income.Cents, s.Expenses.Cents, s.Net.Cents)
	}
	if s.SavingsRate != 91.1 {
		t.Errorf("savings rate = %v, want 91.1", s.SavingsRate)
	}
	if len(s.ByCategory) != 2 || s.ByCategory[0].Name != "Mercado" {
		t.Errorf("by category = %+v", s.ByCategory)
	}
	if s.PrevMonth.String() != "2026-02" || s.PrevIncome.Cents != 5000 || s.PrevExpenses.Cents != 999 {
		t.Errorf("previous month = %s %d/%d", s.PrevMonth, s.PrevIncome.Cents, s.PrevExpenses.Cents)
	}
}

func TestAnalytics_SummaryWithoutIncome(t *testing.T) {
	store := memory.New()
	mustExpense(t, store, core.NewDate(2026, 3, 6), 700, "Mercado")
	s, err := NewAnalytics(store, nil).Summary(context.Background(), month(t, "2026-03"))
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if s.SavingsRate != 0 || s.Net.Cents != -700 {
		t.Fatalf("rate = %v net = %d", s.SavingsRate, s.Net.Cents)
	}
}

func TestAnalytics_Budgets(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	mar := month(t, "2026-03")
	for _, b := range []core.Budget{
		{Category: "Mercado", Amount: core.Money{Cents: 1300}},
		{Category: "Casa", Amount: core.Money{Cents: 100}},
		{Category: "Casa", Scope: mar, Amount: core.Money{Cents: 300}},
		{Category: "Viagem", Amount: core.Money{}},
	} {
		if err := store.CreateBudget(ctx, b); err != nil {
			t.Fatalf("CreateBudget: %v", err)
		}
	}
	mustExpense(t, store, core.NewDate(2026, 3, 6), 1100, "Mercado")
	mustExpense(t, store, core.NewDate(2026, 3, 7), 450, "Casa")

	statuses, err := NewAnalytics(store, nil).Budgets(ctx, mar)
	if err != nil {
		t.Fatalf("Budgets: %v", err)
	}
	if len(statuses) != 3 {
		t.Fatalf("got %d statuses, want 3", len(statuses))
	}
	byCat := map[string]core.BudgetStatus{}
	for _, st := range statuses {
		byCat[st.Category] = st
	}

	m := byCat["Mercado"]
	if m.Remaining.Cents != 200 || m.Pct != 84.6 || m.Over || !m.Global {
		t.Errorf("Mercado = %+v", m)
	}
	c := byCat["Casa"]
	if c.Budgeted.Cents != 300 || !c.Over || c.Global || c.Remaining.Cents != -150 {
		t.Errorf("Casa should use the monthly budget: %+v", c)
	}
	v := byCat["Viagem"]
	if v.Pct != 0 || v.Over {
		t.Errorf("zero budget = %+v", v)
	}
	if statuses[0].Category != "Casa" {
		t.Errorf("highest usage first, got %s", statuses[0].Category)
	}
}

func TestAnalytics_TrendsRestartable(t *testing.T) {
	store := memory.New()
	mustIncome(t, store, core.NewDate(2026, 1, 5), 1000)
	mustExpense(t, store, core.NewDate(2026, 3, 6), 300, "Mercado")
	a := NewAnalytics(store, nil)

	seq := a.Trends(context.Background(), month(t, "2026-03"), 3)
	first, err := CollectTrends(seq)
	if err != nil {
		t.Fatalf("CollectTrends: %v", err)
	}
	second, _ := CollectTrends(seq)
	if len(first) != 3 || len(second) != 3 {
		t.Fatalf("lengths %d and %d, want 3", len(first), len(second))
	}
	if first[0].Month.String() != "2026-01" || first[0].Income.Cents != 1000 {
		t.Errorf("oldest point = %+v", first[0])
	}
	if first[2].Net.Cents != -300 {
		t.Errorf("latest net = %d", first[2].Net.Cents)
	}

	n := 0
	for range seq {
		n++
		break
	}
	if n != 1 {
		t.Fatal("early break not honored")
	}
}

func TestAnalytics_DefaultMonth(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	a := NewAnalytics(store, fixedClock(2026, 3, 14))

	if m, _ := a.DefaultMonth(ctx); m.String() != "2026-03" {
		t.Fatalf("empty ledger default = %s", m)
	}
	mustExpense(t, store, core.NewDate(2025, 11, 2), 100, "Casa")
	if m, _ := a.DefaultMonth(ctx); m.String() != "2025-11" {
		t.Fatalf("latest activity default = %s", m)
	}
	mustExpense(t, store, core.NewDate(2026, 3, 1), 100, "Casa")
	if m, _ := a.DefaultMonth(ctx); m.String() != "2026-03" {
		t.Fatalf("current month default = %s", m)
	}
}

func TestAnalytics_ExpensesLimitAndOrder(t *testing.T) {
	store := memory.New()
	for d := 1; d <= 5; d++ {
		mustExpense(t, store, core.NewDate(2026, 3, d), int64(d*100), "Casa")
	}
	rows, err := NewAnalytics(store, nil).Expenses(context.Background(), month(t, "2026-03"), 3)
	if err != nil {
		t.Fatalf("Expenses: %v", err)
	}
	if len(rows) != 3 || rows[0].Date.Day() != 5 || rows[2].Date.Day() != 3 {
		t.Fatalf("unexpected rows %+v", rows)
	}
}

func TestAnalytics_Insights(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	mar := month(t, "2026-03")
	for _, m := range []time.Month{12, 1, 2} {
		y := 2026
		if m == 12 {
			y = 2025
		}
		mustExpense(t, store, core.NewDate(y, int(m), 10), 1000, "Mercado")
	}
	mustIncome(t, store, core.NewDate(2026, 3, 1), 10000)
	mustExpense(t, store, core.NewDate(2026, 3, 10), 2000, "Mercado")
	mustExpense(t, store, core.NewDate(2026, 3, 11), 7000, "Casa")
	if err := store.CreateBudget(ctx, core.Budget{Category: "Casa", Amount: core.Money{Cents: 5000}}); err != nil {
		t.Fatalf("CreateBudget: %v", err)
	}
	if _, err := store.CreateSubscription(ctx, core.Subscription{
		Name: "Domain", Amount: core.Money{Cents: 2400}, Category: "Serviços",
		Frequency: core.Yearly, StartDate: core.NewDate(2025, 6, 1), Active: true,
	}); err != nil {
		t.Fatalf("CreateSubscription: %v", err)
	}

	ins, err := NewAnalytics(store, nil).Insights(ctx, mar, DefaultTargetSavingsRate)
	if err != nil {
		t.Fatalf("Insights: %v", err)
	}
	if ins.TargetNet.Cents != 2000 || ins.GapToTarget.Cents != 1000 {
		t.Errorf("target = %d gap = %d", ins.TargetNet.Cents, ins.GapToTarget.Cents)
	}
	if len(ins.OverBudget) != 1 || ins.OverBudget[0].Category != "Casa" {
		t.Errorf("over budget = %+v", ins.OverBudget)
	}
	if ins.SubscriptionTotal.Cents != 200 || len(ins.TopSubscriptions) != 1 {
		t.Errorf("subscriptions = %d %+v", ins.SubscriptionTotal.Cents, ins.TopSubscriptions)
	}
	if len(ins.Spikes) != 1 || ins.Spikes[0].Category != "Mercado" || ins.Spikes[0].IncreasePct != 100 {
		t.Errorf("spikes = %+v", ins.Spikes)
	}
}

func TestMonthlyEquivalent(t *testing.T) {
	yearly := core.Subscription{Frequency: core.Yearly, Amount: core.Money{Cents: 2400}}
	if got := MonthlyEquivalent(yearly).Cents; got != 200 {
		t.Fatalf("yearly 2400 = %d/month, want 200", got)
	}
	monthly := core.Subscription{Frequency: core.Monthly, Amount: core.Money{Cents: 3990}}
	if got := MonthlyEquivalent(monthly).Cents; got != 3990 {
		t.Fatalf("monthly = %d", got)
	}
}

// countingStore counts transaction scans to observe cache hits.
type countingStore struct {
	*memory.Store
	scans atomic.Int64
}

func (s *countingStore) ListTransactions(ctx context.Context, f ledger.TransactionFilter) ([]core.Transaction, error) {
	s.scans.Add(1)
	return s.Store.ListTransactions(ctx, f)
}

func TestCachedAnalytics_Invalidation(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	store := &countingStore{Store: mem}
	mar := month(t, "2026-03")
	mustIncome(t, mem, core.NewDate(2026, 3, 1), 10000)
	c := NewCachedAnalytics(NewAnalytics(store, fixedClock(2026, 3, 14)), 16, time.Minute)

	if _, err := c.Summary(ctx, mar); err != nil {
		t.Fatalf("Summary: %v", err)
	}
	scans := store.scans.Load()
	if _, err := c.Summary(ctx, mar); err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if store.scans.Load() != scans {
		t.Fatal("repeated summary should be served from cache")
	}

	// A write that nobody announces, as done by a worker without a broker.
	mustExpense(t, mem, core.NewDate(2026, 3, 2), 2500, "Casa")
	fresh, err := c.Summary(ctx, mar)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if fresh.Expenses.Cents != 2500 || fresh.SavingsRate != 75 {
		t.Fatalf("after unannounced write = %+v", fresh)
	}

	scans = store.scans.Load()
	if err := c.Notify(ctx, core.LedgerEvent{Kind: core.EventTransactionCreated, Month: "2026-03"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if _, err := c.Summary(ctx, mar); err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if store.scans.Load() == scans {
		t.Fatal("Notify should drop cached summaries")
	}
}

func TestCachedAnalytics_ConcurrentReads(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	mustExpense(t, store, core.NewDate(2026, 3, 2), 2500, "Casa")
	c := NewCachedAnalytics(NewAnalytics(store, nil), 16, time.Minute)
	mar := month(t, "2026-03")

	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		go func() {
			s, err := c.Budgets(ctx, mar)
			if err == nil && len(s) != 0 {
				err = context.DeadlineExceeded
			}
			errs <- err
		}()
	}
	for i := 0; i < 16; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("Budgets: %v", err)
		}
	}
}

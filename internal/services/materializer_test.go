package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"despesas/internal/core"
	"despesas/internal/ledger"
	"despesas/internal/storage/memory"
)

func seedSchedules(t *testing.T, store *memory.Store) (subID, yearlyID, instID int64) {
	t.Helper()
	ctx := context.Background()
	var err error
	subID, err = store.CreateSubscription(ctx, core.Subscription{
		Name: "Streaming", Amount: core.Money{Cents: 3990}, Category: "Lazer",
		Frequency: core.Monthly, StartDate: core.NewDate(2026, 1, 10), Active: true,
	})
	if err != nil {
		t.Fatalf("create subscription: %v", err)
	}
	yearlyID, err = store.CreateSubscription(ctx, core.Subscription{
		Name: "Domain", Amount: core.Money{Cents: 2400}, Category: "Serviços",
		Frequency: core.Yearly, StartDate: core.NewDate(2025, 2, 3), Active: true,
	})
	if err != nil {
		t.Fatalf("create yearly subscription: %v", err)
	}
	instID, err = store.CreateInstallment(ctx, core.Installment{
		Description: "Notebook", Category: "Eletrônicos",
		Total: core.Money{Cents: 240000}, Count: 12, StartDate: core.NewDate(2026, 1, 15),
	})
	if err != nil {
		t.Fatalf("create installment: %v", err)
	}
	return subID, yearlyID, instID
}

func TestMaterializer_RunTwiceIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seedSchedules(t, store)
	rec := &recorder{}
	m := NewMaterializer(store, rec, noRetry)
	jan := month(t, "2026-01")

	first, err := m.RunSubscriptions(ctx, jan, MaterializeOptions{})
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if first.Eligible != 2 || first.Materialized != 2 || first.AlreadyCharged != 0 {
		t.Fatalf("first run report = %+v", first)
	}

	second, err := m.RunSubscriptions(ctx, jan, MaterializeOptions{})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.Materialized != 0 || second.AlreadyCharged != 2 {
		t.Fatalf("second run report = %+v", second)
	}

	txs, _ := store.ListTransactions(ctx, ledger.InMonth(jan, core.Expense))
	if len(txs) != 2 {
		t.Fatalf("expected 2 rows in january, got %d", len(txs))
	}
	if kinds := rec.kinds(); len(kinds) != 1 || kinds[0] != core.EventSubscriptionsMaterialized {
		t.Fatalf("events = %v, want a single materialized event", kinds)
	}
}

func TestMaterializer_YearlyOnlyInAnniversaryMonth(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	_, yearlyID, _ := seedSchedules(t, store)
	m := NewMaterializer(store, nil, noRetry)

	feb, err := m.RunSubscriptions(ctx, month(t, "2026-02"), MaterializeOptions{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if feb.Materialized != 3 {
		t.Fatalf("february materialized %d, want 3", feb.Materialized)
	}
	has, err := store.HasDerived(ctx, core.SourceKey{Type: core.EntrySubscription, ID: yearlyID, Period: month(t, "2026-02")})
	if err != nil || !has {
		t.Fatalf("yearly charge missing for february: %v %v", has, err)
	}

	mar, err := m.RunSubscriptions(ctx, month(t, "2026-03"), MaterializeOptions{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if mar.Eligible != 2 {
		t.Fatalf("march eligible %d, want 2", mar.Eligible)
	}
}

func TestMaterializer_DryRunWritesNothing(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seedSchedules(t, store)
	rec := &recorder{}
	m := NewMaterializer(store, rec, noRetry)
	jan := month(t, "2026-01")

	report, err := m.RunSubscriptions(ctx, jan, MaterializeOptions{DryRun: true})
	if err != nil {
		t.Fatalf("dry run: %v", err)
	}
	if !report.DryRun || report.Materialized != 2 {
		t.Fatalf("report = %+v", report)
	}
	txs, _ := store.ListTransactions(ctx, ledger.TransactionFilter{})
	if len(txs) != 0 {
		t.Fatalf("dry run wrote %d rows", len(txs))
	}
	if len(rec.kinds()) != 0 {
		t.Fatal("dry run must not publish events")
	}

	if _, err := m.RunSubscriptions(ctx, jan, MaterializeOptions{}); err != nil {
		t.Fatalf("run: %v", err)
	}
	again, _ := m.RunSubscriptions(ctx, jan, MaterializeOptions{DryRun: true})
	if again.Materialized != 0 || again.AlreadyCharged != 2 {
		t.Fatalf("dry run after real run = %+v", again)
	}
}

func TestMaterializer_RunRange(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seedSchedules(t, store)
	m := NewMaterializer(store, nil, noRetry)

	reports, err := m.RunRange(ctx, month(t, "2026-01"), month(t, "2026-03"), MaterializeOptions{})
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if len(reports) != 3 {
		t.Fatalf("got %d reports, want 3", len(reports))
	}
	total := 0
	for _, r := range reports {
		total += r.Materialized
	}
	// 3 streaming + 3 notebook shares + 1 yearly domain in february
	if total != 7 {
		t.Fatalf("materialized %d rows, want 7", total)
	}

	if _, err := m.RunRange(ctx, month(t, "2026-03"), month(t, "2026-01"), MaterializeOptions{}); err == nil {
		t.Fatal("expected error for a backwards range")
	}
	if _, err := m.RunRange(ctx, month(t, "2000-01"), month(t, "9999-12"), MaterializeOptions{}); !errors.Is(err, core.ErrValidation) {
		t.Fatalf("unbounded range: err = %v, want validation error", err)
	}
	last := month(t, "2026-01").Add(MaxRunMonths - 1)
	if _, err := m.RunRange(ctx, month(t, "2026-01"), last, MaterializeOptions{DryRun: true}); err != nil {
		t.Fatalf("range of exactly %d months: %v", MaxRunMonths, err)
	}
}

func TestMaterializer_ProcessDue(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seedSchedules(t, store)
	m := NewMaterializer(store, nil, noRetry)
	now := time.Date(2026, 1, 20, 8, 0, 0, 0, time.UTC)

	n, err := m.ProcessDue(ctx, now)
	if err != nil || n != 2 {
		t.Fatalf("ProcessDue = %d, %v; want 2", n, err)
	}
	if n, _ = m.ProcessDue(ctx, now); n != 0 {
		t.Fatalf("second ProcessDue = %d, want 0", n)
	}
}

func TestMaterializer_ConcurrentRuns(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seedSchedules(t, store)
	m := NewMaterializer(store, nil, noRetry)
	jan := month(t, "2026-01")

	done := make(chan int, 8)
	for i := 0; i < 8; i++ {
		go func() {
			r, err := m.RunSubscriptions(ctx, jan, MaterializeOptions{})
			if err != nil {
				t.Errorf("run: %v", err)
			}
			done <- r.Materialized
		}()
	}
	total := 0
	for i := 0; i < 8; i++ {
		total += <-done
	}
	if total != 2 {
		t.Fatalf("concurrent runs materialized %d rows, want 2", total)
	}
}

// legacyStore serves an installment stored before share validation existed.
type legacyStore struct {
	*memory.Store
	legacy core.Installment
}

func (s legacyStore) ListInstallments(ctx context.Context) ([]core.Installment, error) {
	insts, err := s.Store.ListInstallments(ctx)
	return append(insts, s.legacy), err
}

func TestMaterializer_InvalidChargeDoesNotBlockMonth(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	seedSchedules(t, mem)
	store := legacyStore{Store: mem, legacy: core.Installment{
		ID: 99, Description: "Chiclete", Category: "Mercado",
		Total: core.Money{Cents: 1}, Count: 3, StartDate: core.NewDate(2026, 1, 5),
	}}
	m := NewMaterializer(store, nil, noRetry)

	report, err := m.RunSubscriptions(ctx, month(t, "2026-01"), MaterializeOptions{})
	if err != nil {
		t.Fatalf("RunSubscriptions: %v", err)
	}
	if report.Materialized != 2 || report.Skipped != 1 {
		t.Fatalf("report = %+v, want 2 materialized and 1 skipped", report)
	}
}

func TestLedgerService_RejectsZeroShareInstallment(t *testing.T) {
	svc := NewLedgerService(memory.New(), nil, noRetry, fixedClock(2026, 3, 1))
	_, err := svc.AddInstallment(context.Background(), core.Installment{
		Description: "Chiclete", Category: "Mercado",
		Total: core.Money{Cents: 1}, Count: 3, StartDate: core.NewDate(2026, 3, 1),
	}, InstallmentOptions{})
	if !errors.Is(err, core.ErrValidation) {
		t.Fatalf("AddInstallment error = %v, want validation error", err)
	}
}

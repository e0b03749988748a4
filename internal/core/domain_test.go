package core

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestDateValidate(t *testing.T) {
	cases := []struct {
		d  Date
		ok bool
	}{
		{NewDate(2025, 1, 1), true},
		{NewDate(2025, 12, 31), true},
		{Date{Time: time.Time{}}, false}, // zero time
	}
	for i, tc := range cases {
		err := tc.d.Validate()
		if tc.ok && err != nil {
			t.Fatalf("case %d expected ok, got %v", i, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("case %d expected error", i)
		}
	}
}

func TestMoneyValidate(t *testing.T) {
	if err := (Money{Cents: 1}).Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	if err := (Money{Cents: 0}).Validate(); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for zero, got %v", err)
	}
}

func TestTransactionValidate(t *testing.T) {
	good := Transaction{
		Nature:      Expense,
		Source:      OneOff{},
		Date:        NewDate(2026, 1, 1),
		Amount:      Money{Cents: 100},
		Category:    "Mercado",
		Description: "ok",
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	bads := map[string]func(*Transaction){
		"zero date":      func(tx *Transaction) { tx.Date = Date{} },
		"zero amount":    func(tx *Transaction) { tx.Amount = Money{} },
		"no category":    func(tx *Transaction) { tx.Category = "  " },
		"no source":      func(tx *Transaction) { tx.Source = nil },
		"bad nature":     func(tx *Transaction) { tx.Nature = "transfer" },
		"long text":      func(tx *Transaction) { tx.Description = strings.Repeat("a", 201) },
		"derived income": func(tx *Transaction) { tx.Nature = Income; tx.Source = SubscriptionCharge{SubscriptionID: 1} },
	}
	for name, mutate := range bads {
		tx := good
		mutate(&tx)
		if err := tx.Validate(); !errors.Is(err, ErrValidation) {
			t.Errorf("%s: expected validation error, got %v", name, err)
		}
	}
}

func TestSubscriptionValidate(t *testing.T) {
	good := Subscription{
		Name:      "Streaming",
		Amount:    Money{Cents: 3990},
		Category:  "Lazer",
		Frequency: Monthly,
		StartDate: NewDate(2026, 1, 10),
		Active:    true,
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	unknown := good
	unknown.Frequency = "weekly"
	if err := unknown.Validate(); !errors.Is(err, ErrUnknownFrequency) {
		t.Fatalf("expected unknown frequency, got %v", err)
	}

	backwards := good
	backwards.EndDate = NewDate(2025, 12, 31)
	if err := backwards.Validate(); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for end before start, got %v", err)
	}

	sameDay := good
	sameDay.EndDate = good.StartDate
	if err := sameDay.Validate(); err != nil {
		t.Fatalf("end == start should be valid, got %v", err)
	}
}

func TestInstallmentValidate(t *testing.T) {
	base := Installment{
		Description: "Notebook",
		Category:    "Eletrônicos",
		Total:       Money{Cents: 240000},
		Count:       12,
		StartDate:   NewDate(2026, 2, 15),
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	if got := base.FinalMonth().String(); got != "2027-01" {
		t.Fatalf("final month = %s, want 2027-01", got)
	}

	odd := base
	odd.Total = Money{Cents: 10000}
	odd.Count = 3
	if odd.Share(1).Cents != 3333 || odd.Share(3).Cents != 3334 {
		t.Fatalf("shares = %d, %d", odd.Share(1).Cents, odd.Share(3).Cents)
	}

	cases := map[string]func(*Installment){
		"zero count":     func(i *Installment) { i.Count = 0 },
		"zero total":     func(i *Installment) { i.Total = Money{} },
		"no description": func(i *Installment) { i.Description = "" },
		// 11 cents over 7 rounds each share to 2, leaving -1 for the last
		"non positive final share": func(i *Installment) { i.Total = Money{Cents: 11}; i.Count = 7 },
		// 1 cent over 3 leaves the first two shares at zero
		"zero leading shares": func(i *Installment) { i.Total = Money{Cents: 1}; i.Count = 3 },
		"count over limit":    func(i *Installment) { i.Count = MaxInstallments + 1 },
		"huge count":          func(i *Installment) { i.Count = 1_000_000_000 },
	}
	for name, mutate := range cases {
		inst := base
		mutate(&inst)
		if err := inst.Validate(); !errors.Is(err, ErrValidation) {
			t.Errorf("%s: expected validation error, got %v", name, err)
		}
	}
}

func TestBudgetValidate(t *testing.T) {
	if err := (Budget{Category: "Casa", Amount: Money{}}).Validate(); err != nil {
		t.Fatalf("zero budget should be valid, got %v", err)
	}
	if err := (Budget{Category: "Casa", Amount: Money{Cents: -1}}).Validate(); err == nil {
		t.Fatal("expected error for negative budget")
	}
	if err := (Budget{Amount: Money{Cents: 1}}).Validate(); !errors.Is(err, ErrEmptyCategory) {
		t.Fatalf("expected empty category, got %v", err)
	}
}

func TestDedupKeyNormalizes(t *testing.T) {
	d := NewDate(2026, 3, 5)
	a := DedupKey(d, Money{Cents: 4590}, "Mercado", "  Pão   de Açúcar ")
	b := DedupKey(d, Money{Cents: 4590}, "mercado", "pão de açúcar")
	if a != b {
		t.Fatalf("keys differ: %q vs %q", a, b)
	}
	if c := DedupKey(d, Money{Cents: 4591}, "mercado", "pão de açúcar"); c == a {
		t.Fatal("different amount must give a different key")
	}

	derived := Transaction{Nature: Expense, Source: SubscriptionCharge{SubscriptionID: 1}, Date: d, Amount: Money{Cents: 1}}
	if derived.DedupKey() != "" {
		t.Fatal("derived rows have no dedup key")
	}
}

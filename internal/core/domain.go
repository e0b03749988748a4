package core

import (
	"strings"
	"time"
)

const (
	Monthly Frequency = "monthly"
	Yearly  Frequency = "yearly"
)

const (
	Expense Nature = "expense"
	Income  Nature = "income"
)

// DefaultCategory is used for imported rows that carry no category.
const DefaultCategory = "Sem Categoria"

const maxDescriptionLen = 200

// MaxInstallments bounds the number of shares of an installment purchase
// (50 years of monthly payments).
const MaxInstallments = 600

type (
	Frequency string

	// Nature tells whether a transaction is money going out or coming in.
	Nature string

	Category struct {
		Name string
	}

	// Budget plans an amount for a category. A zero Scope is the global
	// default; a set Scope overrides it for that month only.
	Budget struct {
		Category string
		Scope    Month
		Amount   Money
	}

	Subscription struct {
		ID        int64
		Name      string
		Amount    Money
		Category  string
		Frequency Frequency
		StartDate Date
		EndDate   Date // optional
		Active    bool
	}

	Installment struct {
		ID          int64
		Description string
		Category    string
		Total       Money
		Count       int
		StartDate   Date
	}

	Transaction struct {
		ID          int64
		Nature      Nature
		Source      Source
		Date        Date
		Amount      Money
		Category    string
		Description string
		CreatedAt   time.Time
	}

	// CurationRow is one row of an external statement feed together with the
	// keep/category decision taken on it. Source fields are kept raw.
	CurationRow struct {
		RowID       int
		Date        string
		Title       string
		Description string
		Amount      string
		SchemaType  string
		SourceFile  string
		Keep        bool
		Category    string
	}
)

func (f Frequency) Valid() bool {
	switch f {
	case Monthly, Yearly:
		return true
	}
	return false
}

func (n Nature) Valid() bool {
	return n == Expense || n == Income
}

// Global reports whether the budget applies to every month.
func (b Budget) Global() bool { return b.Scope.IsZero() }

func (b Budget) Validate() error {
	if strings.TrimSpace(b.Category) == "" {
		return ErrEmptyCategory
	}
	if b.Amount.Cents < 0 {
		return Validationf("budget amount must not be negative")
	}
	return nil
}

func (s Subscription) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return Validationf("empty subscription name")
	}
	if err := s.Amount.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(s.Category) == "" {
		return ErrEmptyCategory
	}
	if !s.Frequency.Valid() {
		return ErrUnknownFrequency
	}
	if err := s.StartDate.Validate(); err != nil {
		return Validationf("invalid start date: %v", err)
	}
	if !s.EndDate.IsEmpty() && s.EndDate.Before(s.StartDate) {
		return Validationf("end date %s is before start date %s", s.EndDate, s.StartDate)
	}
	return nil
}

func (i Installment) Validate() error {
	if err := validateDescription(i.Description); err != nil {
		return err
	}
	if strings.TrimSpace(i.Category) == "" {
		return ErrEmptyCategory
	}
	if err := i.Total.Validate(); err != nil {
		return err
	}
	if i.Count < 1 || i.Count > MaxInstallments {
		return Validationf("installment count must be between 1 and %d, got %d", MaxInstallments, i.Count)
	}
	if err := i.StartDate.Validate(); err != nil {
		return Validationf("invalid start date: %v", err)
	}
	share, final := SplitShares(i.Total, i.Count)
	if share.Cents <= 0 || final.Cents <= 0 {
		return Validationf("total %s cannot be split into %d positive installments", i.Total, i.Count)
	}
	return nil
}

// Shares returns the regular installment amount and the final one.
func (i Installment) Shares() (share, final Money) {
	return SplitShares(i.Total, i.Count)
}

// Share is the amount of installment number (1-based).
func (i Installment) Share(number int) Money {
	share, final := i.Shares()
	if number == i.Count {
		return final
	}
	return share
}

// FinalMonth is the month of the last installment.
func (i Installment) FinalMonth() Month {
	return i.StartDate.Period().Add(i.Count - 1)
}

func (t Transaction) Validate() error {
	if !t.Nature.Valid() {
		return Validationf("unknown nature %q", t.Nature)
	}
	if t.Source == nil {
		return Validationf("transaction without source")
	}
	if t.Nature == Income {
		if _, ok := t.Source.(OneOff); !ok {
			return Validationf("income must be one-off")
		}
	}
	if err := t.Date.Validate(); err != nil {
		return err
	}
	if err := t.Amount.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(t.Category) == "" {
		return ErrEmptyCategory
	}
	if len(t.Description) > maxDescriptionLen {
		return Validationf("description too long (max %d characters)", maxDescriptionLen)
	}
	return nil
}

// Period is the month the transaction is booked in.
func (t Transaction) Period() Month { return t.Date.Period() }

// Mutable reports whether the transaction may be edited or deleted directly.
func (t Transaction) Mutable() bool { return Mutable(t.Source, t.Nature) }

// Key returns the source key of a derived transaction.
func (t Transaction) Key() (SourceKey, bool) { return KeyOf(t.Source, t.Date) }

func validateDescription(s string) error {
	if strings.TrimSpace(s) == "" {
		return ErrEmptyDescription
	}
	if len(s) > maxDescriptionLen {
		return Validationf("description too long (max %d characters)", maxDescriptionLen)
	}
	return nil
}

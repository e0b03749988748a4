package core

import (
	"fmt"
	"strconv"
)

// EntryType is the persisted tag of a transaction source.
type EntryType string

const (
	EntryOneOff       EntryType = "one_off"
	EntrySubscription EntryType = "subscription"
	EntryInstallment  EntryType = "installment"
)

// Source says where a transaction came from. It is a closed set:
// OneOff, SubscriptionCharge and InstallmentCharge.
type Source interface {
	Type() EntryType
	isSource()
}

// OneOff is a transaction entered directly by the user.
type OneOff struct{}

// SubscriptionCharge is a transaction materialized from a subscription.
type SubscriptionCharge struct {
	SubscriptionID int64
	Period         Month
}

// InstallmentCharge is a transaction materialized from an installment purchase.
type InstallmentCharge struct {
	InstallmentID int64
	Number        int
	Total         int
}

func (OneOff) Type() EntryType             { return EntryOneOff }
func (SubscriptionCharge) Type() EntryType { return EntrySubscription }
func (InstallmentCharge) Type() EntryType  { return EntryInstallment }

func (OneOff) isSource()             {}
func (SubscriptionCharge) isSource() {}
func (InstallmentCharge) isSource()  {}

// SourceKey identifies a derived row: at most one transaction may exist per key.
type SourceKey struct {
	Type   EntryType
	ID     int64
	Period Month
}

func (k SourceKey) String() string {
	return fmt.Sprintf("%s:%d:%s", k.Type, k.ID, k.Period)
}

// Label is the human readable name of the source kind.
func Label(s Source) string {
	switch s := s.(type) {
	case OneOff:
		return "One-off"
	case SubscriptionCharge:
		return "Subscription"
	case InstallmentCharge:
		return "Installment " + strconv.Itoa(s.Number) + "/" + strconv.Itoa(s.Total)
	default:
		panic(fmt.Sprintf("core: unknown source %T", s))
	}
}

// Badge is the short tag shown next to a transaction.
func Badge(s Source) string {
	switch s := s.(type) {
	case OneOff:
		return ""
	case SubscriptionCharge:
		return "SUB"
	case InstallmentCharge:
		return fmt.Sprintf("%d/%d", s.Number, s.Total)
	default:
		panic(fmt.Sprintf("core: unknown source %T", s))
	}
}

// Mutable reports whether a transaction with this source and nature may be
// edited or deleted directly. Derived rows change only through their definition.
func Mutable(s Source, n Nature) bool {
	switch s.(type) {
	case OneOff:
		return n == Expense
	case SubscriptionCharge, InstallmentCharge:
		return false
	default:
		panic(fmt.Sprintf("core: unknown source %T", s))
	}
}

// KeyOf returns the uniqueness key of a derived transaction dated on date.
// One-off transactions have no key.
func KeyOf(s Source, date Date) (SourceKey, bool) {
	switch s := s.(type) {
	case OneOff:
		return SourceKey{}, false
	case SubscriptionCharge:
		return SourceKey{Type: EntrySubscription, ID: s.SubscriptionID, Period: s.Period}, true
	case InstallmentCharge:
		return SourceKey{Type: EntryInstallment, ID: s.InstallmentID, Period: date.Period()}, true
	default:
		panic(fmt.Sprintf("core: unknown source %T", s))
	}
}

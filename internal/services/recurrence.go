// Package services provides business logic and orchestration services.
//
// This file expands subscriptions and installment purchases into the
// transaction that is due in a given month. Each subscription frequency has
// its own RecurrenceRule; rules are looked up in a registry.
package services

import (
	"fmt"

	"despesas/internal/core"
)

// RecurrenceRule decides whether a subscription is charged in a month.
type RecurrenceRule interface {
	// Due reports whether month is a billing month for a subscription
	// that started on start. The active window is checked separately.
	Due(start core.Date, month core.Month) bool
}

// MonthlyRule bills every month.
type MonthlyRule struct{}

func (MonthlyRule) Due(core.Date, core.Month) bool { return true }

// YearlyRule bills once a year, in the month the subscription started.
type YearlyRule struct{}

func (YearlyRule) Due(start core.Date, month core.Month) bool {
	return int(month.Month) == start.Month()
}

var recurrenceRules = map[core.Frequency]RecurrenceRule{
	core.Monthly: MonthlyRule{},
	core.Yearly:  YearlyRule{},
}

// GetRecurrenceRule returns the rule for a frequency.
func GetRecurrenceRule(frequency core.Frequency) (RecurrenceRule, error) {
	rule, ok := recurrenceRules[frequency]
	if !ok {
		return nil, fmt.Errorf("%w: %q", core.ErrUnknownFrequency, frequency)
	}
	return rule, nil
}

// RegisterRecurrenceRule adds or replaces the rule for a frequency.
func RegisterRecurrenceRule(frequency core.Frequency, rule RecurrenceRule) {
	recurrenceRules[frequency] = rule
}

// inWindow reports whether month lies between the start and end months of sub.
func inWindow(sub core.Subscription, month core.Month) bool {
	if month.Before(sub.StartDate.Period()) {
		return false
	}
	return sub.EndDate.IsEmpty() || !month.After(sub.EndDate.Period())
}

// ChargeDate is the anniversary day of start in month, clamped to the month
// length and then into [start, end].
func ChargeDate(sub core.Subscription, month core.Month) core.Date {
	d := month.Day(sub.StartDate.Day())
	if d.Before(sub.StartDate) {
		d = sub.StartDate
	}
	if !sub.EndDate.IsEmpty() && d.After(sub.EndDate) {
		d = sub.EndDate
	}
	return d
}

// ExpandSubscription returns the charge sub produces in month, if any.
func ExpandSubscription(sub core.Subscription, month core.Month) (core.Transaction, bool, error) {
	rule, err := GetRecurrenceRule(sub.Frequency)
	if err != nil {
		return core.Transaction{}, false, err
	}
	if !sub.Active || !inWindow(sub, month) || !rule.Due(sub.StartDate, month) {
		return core.Transaction{}, false, nil
	}
	return core.Transaction{
		Nature:      core.Expense,
		Source:      core.SubscriptionCharge{SubscriptionID: sub.ID, Period: month},
		Date:        ChargeDate(sub, month),
		Amount:      sub.Amount,
		Category:    sub.Category,
		Description: "Subscription: " + sub.Name,
	}, true, nil
}

// ExpandInstallment returns the share of inst that falls in month, if any.
// Shares are total/count rounded half-up to cents; the last one takes the
// remainder so all shares sum to the total.
func ExpandInstallment(inst core.Installment, month core.Month) (core.Transaction, bool) {
	k := month.Sub(inst.StartDate.Period())
	if inst.Count < 1 || k < 0 || k >= inst.Count {
		return core.Transaction{}, false
	}
	return core.Transaction{
		Nature:      core.Expense,
		Source:      core.InstallmentCharge{InstallmentID: inst.ID, Number: k + 1, Total: inst.Count},
		Date:        inst.StartDate.AddMonths(k),
		Amount:      inst.Share(k + 1),
		Category:    inst.Category,
		Description: inst.Description,
	}, true
}

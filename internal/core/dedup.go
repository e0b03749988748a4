package core

import "strings"

// NormalizeText lower-cases s and collapses runs of whitespace into one space.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// DedupKey identifies a one-off expense by what the user sees in the ledger:
// date, amount, category and description, compared case and whitespace
// insensitively.
func DedupKey(date Date, amount Money, category, description string) string {
	return date.String() + "|" + amount.String() + "|" + NormalizeText(category) + "|" + NormalizeText(description)
}

// DedupKey returns the key of a one-off expense, or "" for any other transaction.
func (t Transaction) DedupKey() string {
	if _, ok := t.Source.(OneOff); !ok || t.Nature != Expense {
		return ""
	}
	return DedupKey(t.Date, t.Amount, t.Category, t.Description)
}

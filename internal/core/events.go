package core

import "time"

// EventKind names a change to the ledger.
type EventKind string

const (
	EventTransactionCreated        EventKind = "transaction.created"
	EventTransactionUpdated        EventKind = "transaction.updated"
	EventTransactionDeleted        EventKind = "transaction.deleted"
	EventSubscriptionsMaterialized EventKind = "subscriptions.materialized"
	EventCurationImported          EventKind = "curation.imported"
	EventBudgetChanged             EventKind = "budget.changed"
	EventSubscriptionChanged       EventKind = "subscription.changed"
	EventInstallmentCreated        EventKind = "installment.created"
	EventCategoryDeleted           EventKind = "category.deleted"
)

// LedgerEvent is emitted after every successful write.
type LedgerEvent struct {
	ID       string    `json:"id"`
	Kind     EventKind `json:"kind"`
	Month    string    `json:"month,omitempty"`
	EntityID int64     `json:"entity_id,omitempty"`
	Count    int       `json:"count,omitempty"`
	At       time.Time `json:"at"`
}

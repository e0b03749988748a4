package amqp

import (
	"encoding/json"
	"time"

	"despesas/internal/core"
)

// EventMessage carries a ledger event between processes. Consumers only need
// the kind and month to decide what to refresh; the ledger itself is read
// from the store.
type EventMessage struct {
	Event     core.LedgerEvent `json:"event"`
	Origin    string           `json:"origin,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// NewEventMessage wraps ev for publishing.
func NewEventMessage(ev core.LedgerEvent, origin string) *EventMessage {
	return &EventMessage{
		Event:     ev,
		Origin:    origin,
		Timestamp: time.Now(),
	}
}

// RoutingKey is ledger.<kind>, so consumers can bind to a subset of events.
func (m *EventMessage) RoutingKey() string {
	return "ledger." + string(m.Event.Kind)
}

func (m *EventMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func EventMessageFromJSON(data []byte) (*EventMessage, error) {
	var msg EventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

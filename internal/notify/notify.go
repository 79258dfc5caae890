package notify

import "time"

// EventKind identifies what changed. Consumers subscribe to the feed
// and filter on kind.
type EventKind string

const (
	EventOrderBookChanged EventKind = "orderbook.changed"
	EventTradeExecuted    EventKind = "trade.executed"
	EventBalanceChanged   EventKind = "balance.changed"
	EventOrderChanged     EventKind = "order.changed"
)

// Event is a post-commit notification. Payload is already safe to
// serialize; no live entity pointers are published.
type Event struct {
	Kind      EventKind   `json:"kind"`
	PairID    string      `json:"pair_id,omitempty"`
	UserID    string      `json:"user_id,omitempty"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Sink delivers events to interested parties. Publish is fire-and-forget:
// it must not block the settlement path and its failure never rolls back
// a committed trade.
type Sink interface {
	Publish(event Event)
}

// NopSink discards all events. Used in tests and as a default.
type NopSink struct{}

func (NopSink) Publish(Event) {}

package domain

import "time"

// EventKind enumerates the lifecycle events the core emits. Delivery is
// fire-and-forget: the trading core never blocks on a subscriber.
type EventKind string

const (
	EventSignalGenerated      EventKind = "SIGNAL_GENERATED"
	EventTradeRejected        EventKind = "TRADE_REJECTED"
	EventTradeOpened          EventKind = "TRADE_OPENED"
	EventTradeClosed          EventKind = "TRADE_CLOSED"
	EventBotStateChanged      EventKind = "BOT_STATE_CHANGED"
	EventReconciliationAction EventKind = "RECONCILIATION_ACTION"
)

// Event is a single lifecycle notification.
type Event struct {
	Kind    EventKind
	Symbol  string
	Reason  string  // rejection reason or close reason, when applicable
	PnL     float64 // realized profit for TRADE_CLOSED
	Message string
	At      time.Time
}

// EventPublisher is the non-blocking hand-off from the trading core to the
// notification fan-out.
type EventPublisher interface {
	Publish(evt Event)
}

// NopPublisher discards every event. Useful in tests and for components
// constructed without a bus.
type NopPublisher struct{}

func (NopPublisher) Publish(Event) {}

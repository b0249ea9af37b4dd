package domain

import "time"

// TradeStatus is the lifecycle state of a TradeRecord.
type TradeStatus string

const (
	TradeStatusPending    TradeStatus = "pending" // slot acquired, order not yet accepted
	TradeStatusOpen       TradeStatus = "open"
	TradeStatusMonitoring TradeStatus = "monitoring"
	TradeStatusClosed     TradeStatus = "closed"
)

// CloseReason is the terminal reason recorded when a trade closes. All close
// reasons are absorbing: a closed record never changes again.
type CloseReason string

const (
	CloseReasonTakeProfit        CloseReason = "TAKE_PROFIT"
	CloseReasonStopLoss          CloseReason = "STOP_LOSS"
	CloseReasonBrokerClosed      CloseReason = "BROKER_CLOSED"
	CloseReasonManual            CloseReason = "MANUAL"
	CloseReasonError             CloseReason = "ERROR"
	CloseReasonReconciledMissing CloseReason = "RECONCILED_MISSING"
)

// TradeRecord tracks one trade from slot acquisition to closure. It is owned
// exclusively by the trade engine while open and handed to the persistence
// collaborator on closure.
type TradeRecord struct {
	ID         string      `json:"id"`
	Symbol     string      `json:"symbol"`
	ContractID string      `json:"contract_id"`
	Direction  Direction   `json:"direction"`
	Stake      float64     `json:"stake"`
	EntryPrice float64     `json:"entry_price"`
	TakeProfit float64     `json:"take_profit"`
	StopLoss   float64     `json:"stop_loss"`
	ExitPrice  *float64    `json:"exit_price,omitempty"`
	Profit     *float64    `json:"profit,omitempty"`
	Status     TradeStatus `json:"status"`
	Reason     CloseReason `json:"reason,omitempty"`
	OpenedAt   time.Time   `json:"opened_at"`
	ClosedAt   *time.Time  `json:"closed_at,omitempty"`
}

// IsOpen reports whether the record still represents live exposure.
func (t *TradeRecord) IsOpen() bool {
	return t.Status == TradeStatusOpen || t.Status == TradeStatusMonitoring
}

// MarkClosed transitions the record to its terminal state. It is a no-op on a
// record that is already closed.
func (t *TradeRecord) MarkClosed(reason CloseReason, exitPrice, profit float64, at time.Time) {
	if t.Status == TradeStatusClosed {
		return
	}
	t.Status = TradeStatusClosed
	t.Reason = reason
	t.ExitPrice = &exitPrice
	t.Profit = &profit
	t.ClosedAt = &at
}

// MarkClosedUnknown closes the record without exit price or profit, for
// outcomes the broker can no longer report (e.g. a position that vanished
// between restarts).
func (t *TradeRecord) MarkClosedUnknown(reason CloseReason, at time.Time) {
	if t.Status == TradeStatusClosed {
		return
	}
	t.Status = TradeStatusClosed
	t.Reason = reason
	t.ClosedAt = &at
}

// RealizedProfit returns the closed profit, or zero for a record that has not
// closed yet.
func (t *TradeRecord) RealizedProfit() float64 {
	if t.Profit == nil {
		return 0
	}
	return *t.Profit
}

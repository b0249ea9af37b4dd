package domain

import (
	"context"
	"time"
)

// OrderRequest describes one multiplier contract purchase. TakeProfit and
// StopLoss are price levels; ReferencePrice is the spot the levels were
// derived from, used to translate them into broker-side limit amounts.
type OrderRequest struct {
	Symbol         string
	Direction      Direction
	Stake          float64
	ReferencePrice float64
	TakeProfit     float64
	StopLoss       float64
}

// OrderResult is the broker's acknowledgement of an accepted order.
type OrderResult struct {
	ContractID string
	EntryPrice float64
	BuyPrice   float64
	LongCode   string
}

// ContractState is the broker's view of a live or settled contract.
type ContractState struct {
	ContractID   string
	EntryPrice   float64
	CurrentPrice float64
	Profit       float64
	IsClosed     bool
	ClosePrice   float64
	Status       string // broker status string: "open", "won", "lost", "sold"
}

// BrokerPosition is one live contract reported by the broker portfolio query,
// used only at startup reconciliation.
type BrokerPosition struct {
	ContractID string
	Symbol     string
	Direction  Direction
	Stake      float64
	EntryPrice float64
	OpenedAt   time.Time
}

// Broker is the trading API surface the engine depends on. Every call carries
// a context deadline; the implementation owns transport retries.
type Broker interface {
	SubmitOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	ContractStatus(ctx context.Context, contractID string) (ContractState, error)
	SellContract(ctx context.Context, contractID string) (ContractState, error)
	ListOpenPositions(ctx context.Context) ([]BrokerPosition, error)
}

// MarketData supplies multi-timeframe candles per symbol. Implementations
// retry transient failures internally and fail only once their retry budget
// is exhausted.
type MarketData interface {
	FetchAllTimeframes(ctx context.Context, symbol string) (CandleSet, error)
}

// Package strategy contains the signal generators that turn multi-timeframe
// candle data into trade signals.
package strategy

import (
	"context"

	"github.com/Denny-smart/R-25V1/internal/domain"
)

// Strategy defines the contract for signal generators. Evaluate returns nil
// with a nil error when the market offers no entry (hold).
type Strategy interface {
	Name() string
	Evaluate(ctx context.Context, symbol string, candles domain.CandleSet) (*domain.Signal, error)
}

// Config holds strategy tuning parameters.
type Config struct {
	// TrendCandles is the lookback used for structure checks (higher lows,
	// lower highs) and for the longer-timeframe trend comparison.
	TrendCandles int

	// MinCandles is the minimum series length required per timeframe before
	// the strategy evaluates at all.
	MinCandles int

	// ConfirmCandles is how many consecutive same-direction candles confirm
	// an entry.
	ConfirmCandles int

	// TakeProfitPercent and StopLossPercent size the exit levels as a
	// percentage distance from the entry price.
	TakeProfitPercent float64
	StopLossPercent   float64
}

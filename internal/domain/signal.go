package domain

import (
	"fmt"
	"time"
)

// Direction is the side of a trade signal.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// Signal is a directional trade recommendation produced by the signal engine
// for a single scan cycle. Signals are never mutated; a signal that is not
// acted on within its cycle is discarded.
type Signal struct {
	Symbol      string
	Direction   Direction
	EntryPrice  float64
	TakeProfit  float64
	StopLoss    float64
	Rationale   string // structural tag, e.g. "trend_continuation"
	GeneratedAt time.Time
}

// Validate checks the price targets are internally consistent for the signal
// direction.
func (s Signal) Validate() error {
	if s.Symbol == "" {
		return fmt.Errorf("signal: symbol must not be empty")
	}
	if s.EntryPrice <= 0 {
		return fmt.Errorf("signal: entry price must be positive, got %f", s.EntryPrice)
	}
	switch s.Direction {
	case DirectionLong:
		if s.TakeProfit <= s.EntryPrice {
			return fmt.Errorf("signal: long take-profit %f must exceed entry %f", s.TakeProfit, s.EntryPrice)
		}
		if s.StopLoss >= s.EntryPrice {
			return fmt.Errorf("signal: long stop-loss %f must be below entry %f", s.StopLoss, s.EntryPrice)
		}
	case DirectionShort:
		if s.TakeProfit >= s.EntryPrice {
			return fmt.Errorf("signal: short take-profit %f must be below entry %f", s.TakeProfit, s.EntryPrice)
		}
		if s.StopLoss <= s.EntryPrice {
			return fmt.Errorf("signal: short stop-loss %f must exceed entry %f", s.StopLoss, s.EntryPrice)
		}
	default:
		return fmt.Errorf("signal: unknown direction %q", s.Direction)
	}
	return nil
}

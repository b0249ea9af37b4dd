package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/Denny-smart/R-25V1/internal/domain"
)

const (
	// maxWickRatio rejects entry candles dominated by wicks; a long wick is
	// a rejection of the move, not a continuation of it.
	maxWickRatio = 0.65

	// minBodyRatio rejects indecision candles with almost no body.
	minBodyRatio = 0.25

	// stabilityLookback is how many recent candles the choppiness check
	// inspects.
	stabilityLookback = 5

	// maxDirectionChanges is the choppiness cutoff within the stability
	// lookback.
	maxDirectionChanges = 2
)

// TrendFollow is a multi-timeframe trend continuation strategy. It enters in
// the direction of the short-timeframe trend only when the entry candle shows
// conviction, recent price action is not choppy, the last candles agree on
// direction, the market structure supports the move (higher lows for longs,
// lower highs for shorts), and the longer timeframe confirms the trend.
type TrendFollow struct {
	cfg Config
	now func() time.Time
}

// NewTrendFollow creates the trend continuation strategy.
func NewTrendFollow(cfg Config) *TrendFollow {
	return &TrendFollow{cfg: cfg, now: time.Now}
}

func (s *TrendFollow) Name() string { return "trend_follow" }

// Evaluate applies the entry rules to one symbol's candle set. A nil signal
// means hold.
func (s *TrendFollow) Evaluate(_ context.Context, symbol string, candles domain.CandleSet) (*domain.Signal, error) {
	if !candles.Has(s.cfg.MinCandles, domain.Timeframe1m, domain.Timeframe5m) {
		return nil, nil
	}

	fast := candles[domain.Timeframe1m]
	slow := candles[domain.Timeframe5m]
	entry := fast[len(fast)-1]

	if !hasConviction(entry) {
		return nil, nil
	}
	if choppy(fast) {
		return nil, nil
	}

	longOK := s.trendUp(fast, slow)
	shortOK := s.trendDown(fast, slow)
	if longOK == shortOK {
		// No edge, or both directions claim one. Hold.
		return nil, nil
	}

	direction := domain.DirectionLong
	if shortOK {
		direction = domain.DirectionShort
	}

	sig := &domain.Signal{
		Symbol:      symbol,
		Direction:   direction,
		EntryPrice:  entry.Close,
		Rationale:   fmt.Sprintf("trend_follow: %d-candle %s continuation with %s confirmation", s.cfg.ConfirmCandles, direction, domain.Timeframe5m),
		GeneratedAt: s.now().UTC(),
	}
	s.setTargets(sig)

	if err := sig.Validate(); err != nil {
		return nil, fmt.Errorf("strategy: trend_follow signal for %s: %w", symbol, err)
	}
	return sig, nil
}

// setTargets derives the exit price levels from the configured percentage
// distances.
func (s *TrendFollow) setTargets(sig *domain.Signal) {
	tp := sig.EntryPrice * s.cfg.TakeProfitPercent / 100
	sl := sig.EntryPrice * s.cfg.StopLossPercent / 100
	if sig.Direction == domain.DirectionLong {
		sig.TakeProfit = sig.EntryPrice + tp
		sig.StopLoss = sig.EntryPrice - sl
		return
	}
	sig.TakeProfit = sig.EntryPrice - tp
	sig.StopLoss = sig.EntryPrice + sl
}

// trendUp reports whether every long entry condition holds: consecutive
// bullish candles, higher lows across the structure lookback, and a rising
// longer timeframe.
func (s *TrendFollow) trendUp(fast, slow []domain.Candle) bool {
	return consecutive(fast, s.cfg.ConfirmCandles, func(c domain.Candle) bool { return c.Close > c.Open }) &&
		higherLows(tail(fast, s.cfg.TrendCandles)) &&
		rising(tail(slow, s.cfg.TrendCandles))
}

func (s *TrendFollow) trendDown(fast, slow []domain.Candle) bool {
	return consecutive(fast, s.cfg.ConfirmCandles, func(c domain.Candle) bool { return c.Close < c.Open }) &&
		lowerHighs(tail(fast, s.cfg.TrendCandles)) &&
		falling(tail(slow, s.cfg.TrendCandles))
}

// hasConviction checks the entry candle's body/wick proportions.
func hasConviction(c domain.Candle) bool {
	rng := c.High - c.Low
	body := c.Close - c.Open
	if body < 0 {
		body = -body
	}
	if rng == 0 || body == 0 {
		return false
	}
	if body/rng < minBodyRatio {
		return false
	}
	if (rng-body)/rng > maxWickRatio {
		return false
	}
	// A long wick against the candle's direction signals rejection.
	if c.Close > c.Open && c.High-c.Close > body*1.5 {
		return false
	}
	if c.Close < c.Open && c.Close-c.Low > body*1.5 {
		return false
	}
	return true
}

// choppy reports whether recent closes whip back and forth or one candle's
// range dwarfs its neighbours.
func choppy(candles []domain.Candle) bool {
	recent := tail(candles, stabilityLookback)
	if len(recent) < stabilityLookback {
		return true
	}

	changes := 0
	for i := 1; i < len(recent)-1; i++ {
		prev := recent[i].Close - recent[i-1].Close
		next := recent[i+1].Close - recent[i].Close
		if prev*next < 0 {
			changes++
		}
	}
	if changes > maxDirectionChanges {
		return true
	}

	var sum, max float64
	for _, c := range recent {
		r := c.High - c.Low
		sum += r
		if r > max {
			max = r
		}
	}
	avg := sum / float64(len(recent))
	return avg > 0 && max > avg*3
}

func consecutive(candles []domain.Candle, n int, match func(domain.Candle) bool) bool {
	if len(candles) < n {
		return false
	}
	for _, c := range candles[len(candles)-n:] {
		if !match(c) {
			return false
		}
	}
	return true
}

func higherLows(candles []domain.Candle) bool {
	if len(candles) < 2 {
		return false
	}
	for i := 1; i < len(candles); i++ {
		if candles[i].Low < candles[i-1].Low {
			return false
		}
	}
	return true
}

func lowerHighs(candles []domain.Candle) bool {
	if len(candles) < 2 {
		return false
	}
	for i := 1; i < len(candles); i++ {
		if candles[i].High > candles[i-1].High {
			return false
		}
	}
	return true
}

func rising(candles []domain.Candle) bool {
	if len(candles) < 2 {
		return false
	}
	return candles[len(candles)-1].Close > candles[0].Close
}

func falling(candles []domain.Candle) bool {
	if len(candles) < 2 {
		return false
	}
	return candles[len(candles)-1].Close < candles[0].Close
}

func tail(candles []domain.Candle, n int) []domain.Candle {
	if len(candles) <= n {
		return candles
	}
	return candles[len(candles)-n:]
}

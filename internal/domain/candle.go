package domain

import "time"

// Timeframe identifies a candle aggregation interval, e.g. "1m" or "5m".
type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
)

// Timeframes lists every timeframe the scanner evaluates, shortest first.
var Timeframes = []Timeframe{Timeframe1m, Timeframe5m, Timeframe15m}

// Granularity returns the timeframe length. Unknown timeframes return zero.
func (tf Timeframe) Granularity() time.Duration {
	switch tf {
	case Timeframe1m:
		return time.Minute
	case Timeframe5m:
		return 5 * time.Minute
	case Timeframe15m:
		return 15 * time.Minute
	default:
		return 0
	}
}

// Candle is a single OHLC bar for a symbol.
type Candle struct {
	Epoch time.Time
	Open  float64
	High  float64
	Low   float64
	Close float64
}

// CandleSet holds the multi-timeframe candle series for one symbol, keyed by
// timeframe, each series ordered oldest first.
type CandleSet map[Timeframe][]Candle

// Has reports whether the set carries at least min candles for every given
// timeframe.
func (cs CandleSet) Has(min int, tfs ...Timeframe) bool {
	for _, tf := range tfs {
		if len(cs[tf]) < min {
			return false
		}
	}
	return true
}

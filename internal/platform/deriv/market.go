package deriv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Denny-smart/R-25V1/internal/domain"
)

// candleCount is how many candles are requested per timeframe. Enough for
// any strategy lookback with headroom.
const candleCount = 60

// FetchAllTimeframes pulls candle history for every supported timeframe of a
// symbol. Transient failures (including a mid-fetch reconnect) are retried
// with a small backoff; if any timeframe still cannot be fetched the whole
// call fails so the scan cycle skips on partial data.
func (c *Client) FetchAllTimeframes(ctx context.Context, symbol string) (domain.CandleSet, error) {
	set := make(domain.CandleSet, len(domain.Timeframes))
	for _, tf := range domain.Timeframes {
		candles, err := c.fetchCandles(ctx, symbol, tf)
		if err != nil {
			return nil, fmt.Errorf("deriv: fetch %s %s candles: %w", symbol, tf, err)
		}
		set[tf] = candles
	}
	return set, nil
}

func (c *Client) fetchCandles(ctx context.Context, symbol string, tf domain.Timeframe) ([]domain.Candle, error) {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.FetchRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}

		candles, err := c.requestCandles(ctx, symbol, tf)
		if err == nil {
			return candles, nil
		}
		lastErr = err

		if !retryable(err) {
			return nil, err
		}
		c.logger.Warn("candle fetch retry",
			slog.String("symbol", symbol),
			slog.String("timeframe", string(tf)),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)
	}
	return nil, lastErr
}

func (c *Client) requestCandles(ctx context.Context, symbol string, tf domain.Timeframe) ([]domain.Candle, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	req := ticksHistoryRequest{
		TicksHistory: symbol,
		Style:        "candles",
		Granularity:  int(tf.Granularity().Seconds()),
		Count:        candleCount,
		End:          "latest",
	}
	var resp ticksHistoryResponse
	if err := c.call(callCtx, &req.ReqID, &req, &resp); err != nil {
		return nil, err
	}

	candles := make([]domain.Candle, 0, len(resp.Candles))
	for _, raw := range resp.Candles {
		candles = append(candles, domain.Candle{
			Epoch: time.Unix(raw.Epoch, 0).UTC(),
			Open:  raw.Open,
			High:  raw.High,
			Low:   raw.Low,
			Close: raw.Close,
		})
	}
	return candles, nil
}

// retryable reports whether a fetch error is worth another attempt. API
// rejections (bad symbol, bad granularity) are permanent; transport errors
// and timeouts are not.
func retryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return false
	}
	return true
}

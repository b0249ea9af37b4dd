package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Denny-smart/R-25V1/internal/domain"
)

// monitor polls the broker for the contract state until the trade closes. The
// loop deliberately runs on its own background context: stopping the scan
// loop must never abandon a live position, so only trade closure (or fatal
// escalation) ends it.
func (e *Engine) monitor(tr *tracked) {
	rec := tr.rec
	logger := e.logger.With(
		slog.String("trade_id", rec.ID),
		slog.String("contract_id", rec.ContractID),
	)
	logger.Info("monitor started", slog.Duration("interval", e.cfg.MonitorInterval))

	ticker := time.NewTicker(e.cfg.MonitorInterval)
	defer ticker.Stop()

	deadline := time.NewTimer(e.cfg.MaxTradeDuration)
	defer deadline.Stop()

	failures := 0
	for {
		select {
		case <-tr.done:
			// Closed externally (manual close or shutdown).
			return
		case <-deadline.C:
			logger.Warn("max trade duration reached, forcing close")
			if _, err := e.closeTracked(context.Background(), tr, domain.CloseReasonManual); err != nil {
				logger.Error("forced close failed", slog.String("error", err.Error()))
			}
			return
		case <-ticker.C:
		}

		state, err := e.pollContract(rec.ContractID)
		if err != nil {
			failures++
			logger.Warn("contract poll failed",
				slog.Int("consecutive_failures", failures),
				slog.String("error", err.Error()),
			)
			if failures > e.cfg.MonitorRetries {
				e.failMonitor(tr, logger, err)
				return
			}
			// Exponential backoff between retries, on top of the ticker.
			time.Sleep(e.cfg.MonitorBackoffBase * (1 << (failures - 1)))
			continue
		}
		failures = 0

		if done := e.evaluate(tr, state, logger); done {
			return
		}
	}
}

// pollContract fetches the contract state with a per-call timeout.
func (e *Engine) pollContract(contractID string) (domain.ContractState, error) {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.BrokerTimeout)
	defer cancel()
	return e.broker.ContractStatus(ctx, contractID)
}

// evaluate applies the exit rules to one observed contract state and closes
// the trade when a rule fires. It reports whether the trade is now terminal.
func (e *Engine) evaluate(tr *tracked, state domain.ContractState, logger *slog.Logger) bool {
	rec := tr.rec

	if state.IsClosed {
		logger.Info("contract closed by broker", slog.String("status", state.Status))
		e.finalize(tr, domain.CloseReasonBrokerClosed, logger)
		return true
	}

	price := state.CurrentPrice
	var reason domain.CloseReason
	switch rec.Direction {
	case domain.DirectionLong:
		if price >= rec.TakeProfit {
			reason = domain.CloseReasonTakeProfit
		} else if price <= rec.StopLoss {
			reason = domain.CloseReasonStopLoss
		}
	case domain.DirectionShort:
		if price <= rec.TakeProfit {
			reason = domain.CloseReasonTakeProfit
		} else if price >= rec.StopLoss {
			reason = domain.CloseReasonStopLoss
		}
	}
	if reason == "" {
		logger.Debug("contract still open",
			slog.Float64("price", price),
			slog.Float64("profit", state.Profit),
		)
		return false
	}

	logger.Info("exit level reached",
		slog.String("reason", string(reason)),
		slog.Float64("price", price),
	)
	e.finalize(tr, reason, logger)
	return true
}

func (e *Engine) finalize(tr *tracked, reason domain.CloseReason, logger *slog.Logger) {
	if _, err := e.closeTracked(context.Background(), tr, reason); err != nil {
		logger.Error("close failed", slog.String("error", err.Error()))
	}
}

// failMonitor handles an exhausted retry budget: the position state is
// unknowable, so the trade is closed with an error reason and the failure is
// escalated so the bot stops trading.
func (e *Engine) failMonitor(tr *tracked, logger *slog.Logger, cause error) {
	logger.Error("monitor retries exhausted, escalating",
		slog.String("error", cause.Error()),
	)
	if _, err := e.closeTracked(context.Background(), tr, domain.CloseReasonError); err != nil {
		logger.Error("error close failed", slog.String("error", err.Error()))
	}
	e.escalate(fmt.Errorf("engine: monitor for contract %s: %w: %w", tr.rec.ContractID, domain.ErrMonitorFailure, cause))
}

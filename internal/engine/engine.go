// Package engine drives a trade through its lifecycle: order submission,
// supervised monitoring, closure, persistence hand-off, and risk release.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Denny-smart/R-25V1/internal/domain"
	"github.com/Denny-smart/R-25V1/internal/risk"
)

// Config holds the trade engine parameters.
type Config struct {
	Stake              float64
	MonitorInterval    time.Duration
	MonitorRetries     int
	MonitorBackoffBase time.Duration
	MaxTradeDuration   time.Duration
	BrokerTimeout      time.Duration
}

// tracked pairs a trade record with its closure guard. The record's fields
// are only mutated while holding mu; done is closed exactly once when the
// record reaches a terminal state.
type tracked struct {
	rec  *domain.TradeRecord
	mu   sync.Mutex
	done chan struct{}
}

// Engine owns every open trade. At most one trade is open at a time (the risk
// guard enforces the slot); the engine runs one monitor goroutine per open
// trade with a lifetime bound to the trade, not to the scan loop.
type Engine struct {
	broker    domain.Broker
	guard     *risk.Guard
	store     domain.TradeStore
	riskStore domain.RiskStateStore
	bus       domain.EventPublisher
	cfg       Config
	logger    *slog.Logger

	mu      sync.Mutex
	current *tracked

	wg      sync.WaitGroup
	fatalCh chan error
}

// New creates a trade engine.
func New(broker domain.Broker, guard *risk.Guard, store domain.TradeStore, riskStore domain.RiskStateStore, bus domain.EventPublisher, cfg Config, logger *slog.Logger) *Engine {
	return &Engine{
		broker:    broker,
		guard:     guard,
		store:     store,
		riskStore: riskStore,
		bus:       bus,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "trade_engine")),
		fatalCh:   make(chan error, 1),
	}
}

// Fatal delivers at most one unrecoverable monitoring error. The orchestrator
// treats it as a transition to the ERROR state.
func (e *Engine) Fatal() <-chan error {
	return e.fatalCh
}

// Open submits an order for the approved record. On broker rejection the risk
// slot is released immediately, a failure event is emitted, and no local
// trade state survives. On success the record transitions to MONITORING and a
// monitor goroutine is started.
func (e *Engine) Open(ctx context.Context, sig domain.Signal, rec *domain.TradeRecord) error {
	rec.Stake = e.cfg.Stake

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.BrokerTimeout)
	defer cancel()

	res, err := e.broker.SubmitOrder(callCtx, domain.OrderRequest{
		Symbol:         sig.Symbol,
		Direction:      sig.Direction,
		Stake:          rec.Stake,
		ReferencePrice: sig.EntryPrice,
		TakeProfit:     sig.TakeProfit,
		StopLoss:       sig.StopLoss,
	})
	if err != nil {
		e.guard.Release(rec, risk.OutcomeAborted)
		e.bus.Publish(domain.Event{
			Kind:    domain.EventTradeRejected,
			Symbol:  sig.Symbol,
			Reason:  "REJECTED_BY_BROKER",
			Message: err.Error(),
			At:      time.Now().UTC(),
		})
		return fmt.Errorf("engine: submit order for %s: %w", sig.Symbol, err)
	}

	rec.ContractID = res.ContractID
	rec.EntryPrice = res.EntryPrice
	rec.Status = domain.TradeStatusMonitoring

	e.logger.Info("trade opened",
		slog.String("trade_id", rec.ID),
		slog.String("contract_id", rec.ContractID),
		slog.String("symbol", rec.Symbol),
		slog.String("direction", string(rec.Direction)),
		slog.Float64("entry_price", rec.EntryPrice),
	)
	e.bus.Publish(domain.Event{
		Kind:    domain.EventTradeOpened,
		Symbol:  rec.Symbol,
		Message: fmt.Sprintf("%s %s stake %.2f entry %.4f", rec.Direction, rec.Symbol, rec.Stake, rec.EntryPrice),
		At:      time.Now().UTC(),
	})

	e.startMonitor(rec)
	return nil
}

// Adopt takes ownership of a record recovered during reconciliation and
// starts monitoring it. The risk guard already holds the slot for it.
func (e *Engine) Adopt(rec *domain.TradeRecord) {
	e.logger.Info("adopting trade for monitoring",
		slog.String("trade_id", rec.ID),
		slog.String("contract_id", rec.ContractID),
	)
	e.startMonitor(rec)
}

func (e *Engine) startMonitor(rec *domain.TradeRecord) {
	tr := &tracked{rec: rec, done: make(chan struct{})}
	e.mu.Lock()
	e.current = tr
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.monitor(tr)
		e.mu.Lock()
		if e.current == tr {
			e.current = nil
		}
		e.mu.Unlock()
	}()
}

// Close finalizes the trade: it sells the contract if the broker still holds
// it open, fetches the final contract state, marks the record terminal,
// persists it, releases the risk slot, and emits a lifecycle event. Closing
// an already-closed record is a no-op that returns the existing terminal
// record.
func (e *Engine) Close(ctx context.Context, rec *domain.TradeRecord, reason domain.CloseReason) (*domain.TradeRecord, error) {
	tr := e.trackedFor(rec)
	if tr == nil {
		// Not under monitoring (e.g. closing during reconciliation); close
		// against a one-off guard.
		tr = &tracked{rec: rec, done: make(chan struct{})}
	}
	return e.closeTracked(ctx, tr, reason)
}

func (e *Engine) trackedFor(rec *domain.TradeRecord) *tracked {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current != nil && e.current.rec.ID == rec.ID {
		return e.current
	}
	return nil
}

func (e *Engine) closeTracked(ctx context.Context, tr *tracked, reason domain.CloseReason) (*domain.TradeRecord, error) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	rec := tr.rec
	if rec.Status == domain.TradeStatusClosed {
		return rec, nil
	}

	state, err := e.finalState(ctx, rec)
	now := time.Now().UTC()
	if err != nil {
		// The position's final result is unreadable. Close with unknown
		// outcome rather than guessing.
		e.logger.Error("could not determine final contract state",
			slog.String("trade_id", rec.ID),
			slog.String("error", err.Error()),
		)
		rec.MarkClosedUnknown(reason, now)
	} else {
		exit := state.ClosePrice
		if exit == 0 {
			exit = state.CurrentPrice
		}
		rec.MarkClosed(reason, exit, state.Profit, now)
	}
	close(tr.done)

	if err := e.store.RecordTrade(ctx, *rec); err != nil {
		e.logger.Error("trade persistence failed",
			slog.String("trade_id", rec.ID),
			slog.String("error", err.Error()),
		)
	}

	e.guard.Release(rec, risk.OutcomeFor(rec))
	e.persistRiskState()

	e.logger.Info("trade closed",
		slog.String("trade_id", rec.ID),
		slog.String("reason", string(reason)),
		slog.Float64("profit", rec.RealizedProfit()),
	)
	e.bus.Publish(domain.Event{
		Kind:   domain.EventTradeClosed,
		Symbol: rec.Symbol,
		Reason: string(reason),
		PnL:    rec.RealizedProfit(),
		At:     now,
	})
	return rec, nil
}

// finalState sells the contract when the broker still reports it open and
// returns the settled contract state.
func (e *Engine) finalState(ctx context.Context, rec *domain.TradeRecord) (domain.ContractState, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.BrokerTimeout)
	defer cancel()

	state, err := e.broker.ContractStatus(callCtx, rec.ContractID)
	if err != nil {
		return domain.ContractState{}, fmt.Errorf("engine: contract status %s: %w", rec.ContractID, err)
	}
	if state.IsClosed {
		return state, nil
	}

	sold, err := e.broker.SellContract(callCtx, rec.ContractID)
	if err != nil {
		return domain.ContractState{}, fmt.Errorf("engine: sell contract %s: %w", rec.ContractID, err)
	}
	return sold, nil
}

// CloseAll force-closes the currently open trade, if any. Used by the manual
// close path on shutdown.
func (e *Engine) CloseAll(ctx context.Context, reason domain.CloseReason) error {
	e.mu.Lock()
	tr := e.current
	e.mu.Unlock()
	if tr == nil {
		return nil
	}
	_, err := e.closeTracked(ctx, tr, reason)
	return err
}

// HasOpenTrade reports whether a trade is currently being monitored.
func (e *Engine) HasOpenTrade() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current != nil
}

// Wait blocks until every monitor goroutine has finished. A stop command must
// not abandon a live position, so shutdown waits here.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// persistRiskState snapshots the guard after every closure so the loss
// accounting survives a crash between trades.
func (e *Engine) persistRiskState() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.riskStore.SaveRiskSnapshot(ctx, e.guard.Snapshot()); err != nil {
		e.logger.Error("risk state persistence failed", slog.String("error", err.Error()))
	}
}

func (e *Engine) escalate(err error) {
	select {
	case e.fatalCh <- err:
	default:
	}
}

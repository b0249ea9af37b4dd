// Package scanner runs the bot's outer loop: startup reconciliation, the
// per-symbol scan cycles, and the bot state machine.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Denny-smart/R-25V1/internal/domain"
	"github.com/Denny-smart/R-25V1/internal/engine"
	"github.com/Denny-smart/R-25V1/internal/risk"
	"github.com/Denny-smart/R-25V1/internal/strategy"
)

// Config holds the scan loop parameters.
type Config struct {
	Symbols         []string
	CycleInterval   time.Duration
	EvaluateTimeout time.Duration
}

// Orchestrator owns the bot state machine and drives one scan loop per
// symbol. All symbols share the single risk guard, so at most one scan cycle
// wins a trade slot at a time.
type Orchestrator struct {
	cfg       Config
	market    domain.MarketData
	broker    domain.Broker
	strat     strategy.Strategy
	guard     *risk.Guard
	engine    *engine.Engine
	store     domain.TradeStore
	riskStore domain.RiskStateStore
	bus       domain.EventPublisher
	logger    *slog.Logger

	mu    sync.Mutex
	state domain.BotState
}

// New creates an orchestrator in the STOPPED state.
func New(
	cfg Config,
	market domain.MarketData,
	broker domain.Broker,
	strat strategy.Strategy,
	guard *risk.Guard,
	eng *engine.Engine,
	store domain.TradeStore,
	riskStore domain.RiskStateStore,
	bus domain.EventPublisher,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		market:    market,
		broker:    broker,
		strat:     strat,
		guard:     guard,
		engine:    eng,
		store:     store,
		riskStore: riskStore,
		bus:       bus,
		logger:    logger.With(slog.String("component", "scanner")),
		state:     domain.BotStateStopped,
	}
}

// State returns the current bot state.
func (o *Orchestrator) State() domain.BotState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(next domain.BotState) {
	o.mu.Lock()
	prev := o.state
	if prev == next || prev == domain.BotStateError {
		o.mu.Unlock()
		return
	}
	o.state = next
	o.mu.Unlock()

	o.logger.Info("bot state changed",
		slog.String("from", string(prev)),
		slog.String("to", string(next)),
	)
	o.bus.Publish(domain.Event{
		Kind:    domain.EventBotStateChanged,
		Message: fmt.Sprintf("%s -> %s", prev, next),
		At:      time.Now().UTC(),
	})
}

// Run executes the bot until ctx is canceled or a fatal error occurs:
// restore risk state, reconcile against the broker, then scan every symbol on
// its own cycle. A fatal monitoring error moves the bot to ERROR and returns
// it; a context cancel drains to STOPPED and returns nil.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.setState(domain.BotStateStarting)

	if err := o.restoreRiskState(ctx); err != nil {
		o.setState(domain.BotStateError)
		return err
	}
	if err := o.reconcile(ctx); err != nil {
		o.setState(domain.BotStateError)
		return err
	}

	o.setState(domain.BotStateRunning)

	g, scanCtx := errgroup.WithContext(ctx)
	for _, symbol := range o.cfg.Symbols {
		g.Go(func() error {
			return o.scanLoop(scanCtx, symbol)
		})
	}
	g.Go(func() error {
		select {
		case <-scanCtx.Done():
			return nil
		case err := <-o.engine.Fatal():
			return err
		}
	})

	err := g.Wait()
	o.saveRiskState()

	if err != nil && !errors.Is(err, context.Canceled) {
		o.setState(domain.BotStateError)
		return err
	}
	o.setState(domain.BotStateStopped)
	return nil
}

// restoreRiskState loads the persisted risk snapshot, if any. A missing
// snapshot is a normal first start.
func (o *Orchestrator) restoreRiskState(ctx context.Context) error {
	snap, err := o.riskStore.LoadRiskSnapshot(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			o.logger.Info("no persisted risk state, starting fresh")
			return nil
		}
		return fmt.Errorf("scanner: load risk state: %w", err)
	}
	o.guard.Restore(snap)
	return nil
}

func (o *Orchestrator) saveRiskState() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.riskStore.SaveRiskSnapshot(ctx, o.guard.Snapshot()); err != nil {
		o.logger.Error("risk state persistence failed", slog.String("error", err.Error()))
	}
}

// reconcile aligns local open trade records with the broker's live positions
// before any scanning starts. The broker is the source of truth: orphaned
// local records are force-closed with unknown outcome, untracked broker
// positions are adopted into monitoring.
func (o *Orchestrator) reconcile(ctx context.Context) error {
	positions, err := o.broker.ListOpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("scanner: list broker positions: %w", err)
	}
	local, err := o.store.ListOpen(ctx)
	if err != nil {
		return fmt.Errorf("scanner: list local open trades: %w", err)
	}

	res, err := o.guard.Reconcile(positions, local)
	if err != nil {
		return fmt.Errorf("scanner: reconcile: %w", err)
	}

	for _, rec := range res.ForceClosed {
		if err := o.store.RecordTrade(ctx, *rec); err != nil {
			o.logger.Error("persisting force-closed trade failed",
				slog.String("trade_id", rec.ID),
				slog.String("error", err.Error()),
			)
		}
		o.bus.Publish(domain.Event{
			Kind:    domain.EventReconciliationAction,
			Symbol:  rec.Symbol,
			Reason:  string(domain.CloseReasonReconciledMissing),
			Message: fmt.Sprintf("local trade %s has no broker position", rec.ID),
			At:      time.Now().UTC(),
		})
	}
	for _, rec := range res.Adopted {
		if err := o.store.RecordTrade(ctx, *rec); err != nil {
			o.logger.Error("persisting adopted trade failed",
				slog.String("trade_id", rec.ID),
				slog.String("error", err.Error()),
			)
		}
		o.bus.Publish(domain.Event{
			Kind:    domain.EventReconciliationAction,
			Symbol:  rec.Symbol,
			Message: fmt.Sprintf("resumed monitoring of contract %s", rec.ContractID),
			At:      time.Now().UTC(),
		})
		o.engine.Adopt(rec)
	}

	o.logger.Info("reconciliation complete",
		slog.Int("broker_positions", len(positions)),
		slog.Int("adopted", len(res.Adopted)),
		slog.Int("force_closed", len(res.ForceClosed)),
	)
	return nil
}

// scanLoop runs one symbol's scan cycle on a fixed interval. A cycle that
// overruns its interval causes later ticks to be skipped, never to overlap.
func (o *Orchestrator) scanLoop(ctx context.Context, symbol string) error {
	logger := o.logger.With(slog.String("symbol", symbol))
	logger.Info("scan loop started", slog.Duration("interval", o.cfg.CycleInterval))

	ticker := time.NewTicker(o.cfg.CycleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// A stop request is a clean exit, whether it arrives as a
			// cancel or as a deadline. Fatal errors travel through the
			// engine's channel, not through the scan context.
			logger.Info("scan loop stopped")
			return nil
		case <-ticker.C:
			o.cycle(ctx, symbol, logger)
		}
	}
}

// cycle runs one evaluate-and-maybe-trade pass for a symbol. Every exit path
// is a skip, not an error: a failed cycle waits for the next tick.
func (o *Orchestrator) cycle(ctx context.Context, symbol string, logger *slog.Logger) {
	o.syncPauseState()

	// Cheap pre-checks before paying for a market data fetch.
	if o.engine.HasOpenTrade() {
		logger.Debug("skipping cycle, trade slot occupied")
		return
	}
	if paused, reason := o.guard.Paused(); paused {
		logger.Debug("skipping cycle, trading paused", slog.String("reason", string(reason)))
		return
	}

	cycleCtx, cancel := context.WithTimeout(ctx, o.cfg.EvaluateTimeout)
	defer cancel()

	candles, err := o.market.FetchAllTimeframes(cycleCtx, symbol)
	if err != nil {
		logger.Warn("market data fetch failed, skipping cycle", slog.String("error", err.Error()))
		return
	}

	sig, err := o.strat.Evaluate(cycleCtx, symbol, candles)
	if err != nil {
		logger.Warn("strategy evaluation failed, skipping cycle", slog.String("error", err.Error()))
		return
	}
	if sig == nil {
		logger.Debug("no signal")
		return
	}

	logger.Info("signal generated",
		slog.String("direction", string(sig.Direction)),
		slog.Float64("entry", sig.EntryPrice),
		slog.String("rationale", sig.Rationale),
	)
	o.bus.Publish(domain.Event{
		Kind:    domain.EventSignalGenerated,
		Symbol:  symbol,
		Message: sig.Rationale,
		At:      time.Now().UTC(),
	})

	rec, err := o.guard.TryAcquire(*sig)
	if err != nil {
		var reason domain.RejectReason
		if rej := domain.RejectionOf(err); rej != nil {
			reason = rej.Reason
		}
		logger.Info("signal rejected", slog.String("reason", string(reason)))
		o.bus.Publish(domain.Event{
			Kind:   domain.EventTradeRejected,
			Symbol: symbol,
			Reason: string(reason),
			At:     time.Now().UTC(),
		})
		o.syncPauseState()
		return
	}

	if err := o.engine.Open(ctx, *sig, rec); err != nil {
		// The engine has already released the slot and emitted the event.
		logger.Warn("order submission failed", slog.String("error", err.Error()))
		return
	}
	o.saveRiskState()
}

// syncPauseState mirrors the guard's blocking status onto the bot state
// machine: RUNNING while approvals are possible, PAUSED while the cooldown or
// the daily loss cap blocks them.
func (o *Orchestrator) syncPauseState() {
	paused, _ := o.guard.Paused()
	o.mu.Lock()
	state := o.state
	o.mu.Unlock()

	switch {
	case paused && state == domain.BotStateRunning:
		o.setState(domain.BotStatePaused)
	case !paused && state == domain.BotStatePaused:
		o.setState(domain.BotStateRunning)
	}
}

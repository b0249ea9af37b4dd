// Package risk implements the portfolio-wide risk guard: a single
// mutex-guarded state object through which every trade acquisition, release,
// and startup reconciliation must pass.
package risk

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Denny-smart/R-25V1/internal/domain"
)

// Config holds the tunable risk limits.
type Config struct {
	// MaxDailyLoss caps realized losses per day; reached or exceeded, no new
	// trades are approved until the daily reset.
	MaxDailyLoss float64
	// CooldownAfterLosses is the consecutive-loss count that arms a cooldown.
	CooldownAfterLosses int
	// Cooldown is how long trading stays blocked once armed.
	Cooldown time.Duration
	// MaxTradesPerWindow caps trade starts inside the rolling FrequencyWindow.
	MaxTradesPerWindow int
	FrequencyWindow    time.Duration
	// DailyResetTimezone is the IANA timezone whose midnight resets the daily
	// loss accumulator.
	DailyResetTimezone string
}

// Outcome classifies a released trade for risk accounting.
type Outcome int

const (
	// OutcomeAborted frees the slot with no accounting: the order never
	// became a live position (broker rejection).
	OutcomeAborted Outcome = iota
	OutcomeWin
	OutcomeLoss
	OutcomeBreakEven
	// OutcomeUnknown covers closures whose result the broker can no longer
	// report; they are counted and flagged, never silently dropped.
	OutcomeUnknown
)

// OutcomeFor derives the accounting outcome from a closed trade record.
func OutcomeFor(rec *domain.TradeRecord) Outcome {
	if rec.Reason == domain.CloseReasonReconciledMissing || rec.Profit == nil {
		return OutcomeUnknown
	}
	switch p := *rec.Profit; {
	case p > 0:
		return OutcomeWin
	case p < 0:
		return OutcomeLoss
	default:
		return OutcomeBreakEven
	}
}

// Stats is a snapshot of session trading statistics.
type Stats struct {
	TotalTrades     int
	WinningTrades   int
	LosingTrades    int
	WinRate         float64
	TotalPnL        float64
	DailyPnL        float64
	LargestWin      float64
	LargestLoss     float64
	MaxDrawdown     float64
	UnknownOutcomes int
}

// Guard owns the process-wide RiskState. All methods are safe for concurrent
// use; slot acquisition is linearizable under the guard's mutex.
type Guard struct {
	cfg    Config
	loc    *time.Location
	logger *slog.Logger

	mu            sync.Mutex
	slot          *domain.TradeRecord
	day           string // YYYY-MM-DD in loc
	dailyLoss     float64
	consecLosses  int
	cooldownUntil time.Time
	tradeTimes    []time.Time
	accounted     map[string]bool // record IDs already released with accounting

	// session statistics
	totalTrades     int
	winningTrades   int
	losingTrades    int
	totalPnL        float64
	dailyPnL        float64
	largestWin      float64
	largestLoss     float64
	peakPnL         float64
	maxDrawdown     float64
	unknownOutcomes int

	now func() time.Time // overridable in tests
}

// NewGuard creates a Guard from the given limits. It fails on an unknown
// daily-reset timezone.
func NewGuard(cfg Config, logger *slog.Logger) (*Guard, error) {
	loc, err := time.LoadLocation(cfg.DailyResetTimezone)
	if err != nil {
		return nil, fmt.Errorf("risk: load timezone %q: %w", cfg.DailyResetTimezone, err)
	}
	g := &Guard{
		cfg:       cfg,
		loc:       loc,
		logger:    logger.With(slog.String("component", "risk_guard")),
		accounted: make(map[string]bool),
		now:       time.Now,
	}
	g.day = g.dayKey(g.now())
	return g, nil
}

func (g *Guard) dayKey(t time.Time) string {
	return t.In(g.loc).Format("2006-01-02")
}

// rolloverLocked resets the daily accumulator when the day has changed in the
// configured timezone. Caller must hold g.mu.
func (g *Guard) rolloverLocked(now time.Time) {
	key := g.dayKey(now)
	if key == g.day {
		return
	}
	g.logger.Info("daily risk reset",
		slog.String("previous_day", g.day),
		slog.String("day", key),
		slog.Float64("daily_loss", g.dailyLoss),
	)
	g.day = key
	g.dailyLoss = 0
	g.dailyPnL = 0
	g.accounted = make(map[string]bool)
}

// pruneTradeTimesLocked drops frequency stamps older than the rolling window.
// Caller must hold g.mu.
func (g *Guard) pruneTradeTimesLocked(now time.Time) {
	cutoff := now.Add(-g.cfg.FrequencyWindow)
	kept := g.tradeTimes[:0]
	for _, t := range g.tradeTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	g.tradeTimes = kept
}

// TryAcquire runs the ordered approval checks and, when all pass, atomically
// occupies the open-trade slot with a pending TradeRecord built from the
// signal. The first failing check wins; concurrent callers resolve so that
// exactly one acquires the slot.
func (g *Guard) TryAcquire(sig domain.Signal) (*domain.TradeRecord, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.rolloverLocked(now)

	if g.slot != nil {
		return nil, &domain.RiskRejectedError{
			Reason: domain.RejectSlotOccupied,
			Detail: fmt.Sprintf("trade %s on %s is live", g.slot.ID, g.slot.Symbol),
		}
	}
	if now.Before(g.cooldownUntil) {
		return nil, &domain.RiskRejectedError{
			Reason: domain.RejectCooldownActive,
			Detail: fmt.Sprintf("%s remaining", g.cooldownUntil.Sub(now).Round(time.Second)),
		}
	}
	if g.dailyLoss >= g.cfg.MaxDailyLoss {
		return nil, &domain.RiskRejectedError{
			Reason: domain.RejectDailyLossLimit,
			Detail: fmt.Sprintf("lost %.2f of %.2f today", g.dailyLoss, g.cfg.MaxDailyLoss),
		}
	}
	g.pruneTradeTimesLocked(now)
	if len(g.tradeTimes) >= g.cfg.MaxTradesPerWindow {
		return nil, &domain.RiskRejectedError{
			Reason: domain.RejectFrequencyLimit,
			Detail: fmt.Sprintf("%d trades in the last %s", len(g.tradeTimes), g.cfg.FrequencyWindow),
		}
	}

	rec := &domain.TradeRecord{
		ID:         uuid.New().String(),
		Symbol:     sig.Symbol,
		Direction:  sig.Direction,
		EntryPrice: sig.EntryPrice,
		TakeProfit: sig.TakeProfit,
		StopLoss:   sig.StopLoss,
		Status:     domain.TradeStatusPending,
		OpenedAt:   now,
	}
	g.slot = rec
	// A slot acquisition consumes a frequency stamp even if the broker later
	// rejects the order.
	g.tradeTimes = append(g.tradeTimes, now)

	g.logger.Debug("trade slot acquired",
		slog.String("trade_id", rec.ID),
		slog.String("symbol", rec.Symbol),
	)
	return rec, nil
}

// Release frees the open-trade slot unconditionally and, for closed trades,
// applies loss-cap, cooldown, and statistics accounting exactly once per
// record.
func (g *Guard) Release(rec *domain.TradeRecord, outcome Outcome) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.rolloverLocked(now)

	if g.slot != nil && g.slot.ID == rec.ID {
		g.slot = nil
		g.logger.Debug("trade slot released", slog.String("trade_id", rec.ID))
	}

	if outcome == OutcomeAborted {
		return
	}
	if g.accounted[rec.ID] {
		return
	}
	g.accounted[rec.ID] = true
	g.totalTrades++

	switch outcome {
	case OutcomeWin:
		profit := rec.RealizedProfit()
		g.winningTrades++
		g.consecLosses = 0
		g.totalPnL += profit
		g.dailyPnL += profit
		if profit > g.largestWin {
			g.largestWin = profit
		}
	case OutcomeLoss:
		profit := rec.RealizedProfit()
		loss := -profit
		g.losingTrades++
		g.consecLosses++
		g.dailyLoss += loss
		g.totalPnL += profit
		g.dailyPnL += profit
		if profit < g.largestLoss {
			g.largestLoss = profit
		}
		if g.consecLosses >= g.cfg.CooldownAfterLosses {
			g.cooldownUntil = now.Add(g.cfg.Cooldown)
			g.logger.Warn("cooldown armed",
				slog.Int("consecutive_losses", g.consecLosses),
				slog.Time("until", g.cooldownUntil),
			)
		}
		if g.dailyLoss >= g.cfg.MaxDailyLoss {
			g.logger.Warn("daily loss limit reached",
				slog.Float64("daily_loss", g.dailyLoss),
				slog.Float64("cap", g.cfg.MaxDailyLoss),
			)
		}
	case OutcomeUnknown:
		g.unknownOutcomes++
		g.logger.Warn("trade released with unknown outcome",
			slog.String("trade_id", rec.ID),
			slog.String("reason", string(rec.Reason)),
		)
	case OutcomeBreakEven:
		// No accumulator movement; a flat close still interrupts a streak.
		g.consecLosses = 0
	}

	if g.totalPnL > g.peakPnL {
		g.peakPnL = g.totalPnL
	}
	if dd := g.peakPnL - g.totalPnL; dd > g.maxDrawdown {
		g.maxDrawdown = dd
	}
}

// ReconcileResult describes the actions decided during startup
// reconciliation.
type ReconcileResult struct {
	// Adopted are records to hand to the trade engine for monitoring: local
	// records confirmed by the broker plus records synthesized from broker
	// positions that had no local counterpart.
	Adopted []*domain.TradeRecord
	// ForceClosed are local records whose positions the broker no longer
	// reports; each is closed as RECONCILED_MISSING with unknown outcome.
	ForceClosed []*domain.TradeRecord
}

// Reconcile aligns local open records with the broker's reported positions
// and claims the open-trade slot for the surviving position, if any. More
// than one live broker position cannot be represented under the single-slot
// model and is returned as an error; the caller must treat it as fatal.
func (g *Guard) Reconcile(positions []domain.BrokerPosition, local []domain.TradeRecord) (ReconcileResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.rolloverLocked(now)

	if len(positions) > 1 {
		return ReconcileResult{}, fmt.Errorf("risk: broker reports %d live positions, single-slot model allows 1", len(positions))
	}

	byContract := make(map[string]domain.BrokerPosition, len(positions))
	for _, p := range positions {
		byContract[p.ContractID] = p
	}

	var res ReconcileResult
	matched := make(map[string]bool, len(local))

	for i := range local {
		rec := local[i]
		if !rec.IsOpen() {
			continue
		}
		if _, ok := byContract[rec.ContractID]; ok {
			adopted := rec
			adopted.Status = domain.TradeStatusMonitoring
			res.Adopted = append(res.Adopted, &adopted)
			matched[rec.ContractID] = true
			continue
		}
		orphan := rec
		orphan.MarkClosedUnknown(domain.CloseReasonReconciledMissing, now)
		res.ForceClosed = append(res.ForceClosed, &orphan)
		g.unknownOutcomes++
		g.logger.Warn("local trade has no broker position, force-closing",
			slog.String("trade_id", rec.ID),
			slog.String("contract_id", rec.ContractID),
		)
	}

	for _, p := range positions {
		if matched[p.ContractID] {
			continue
		}
		rec := &domain.TradeRecord{
			ID:         uuid.New().String(),
			Symbol:     p.Symbol,
			ContractID: p.ContractID,
			Direction:  p.Direction,
			Stake:      p.Stake,
			EntryPrice: p.EntryPrice,
			Status:     domain.TradeStatusMonitoring,
			OpenedAt:   p.OpenedAt,
		}
		res.Adopted = append(res.Adopted, rec)
		g.logger.Warn("adopting untracked broker position",
			slog.String("contract_id", p.ContractID),
			slog.String("symbol", p.Symbol),
		)
	}

	if len(res.Adopted) > 1 {
		return ReconcileResult{}, fmt.Errorf("risk: reconciliation produced %d open trades, single-slot model allows 1", len(res.Adopted))
	}
	if len(res.Adopted) == 1 {
		g.slot = res.Adopted[0]
	}
	return res, nil
}

// Paused reports whether approvals are currently blocked by the cooldown or
// the daily loss cap, together with the blocking reason.
func (g *Guard) Paused() (bool, domain.RejectReason) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	g.rolloverLocked(now)
	if now.Before(g.cooldownUntil) {
		return true, domain.RejectCooldownActive
	}
	if g.dailyLoss >= g.cfg.MaxDailyLoss {
		return true, domain.RejectDailyLossLimit
	}
	return false, ""
}

// OpenTrade returns the record currently holding the slot, or nil.
func (g *Guard) OpenTrade() *domain.TradeRecord {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.slot
}

// Stats returns the session statistics snapshot.
func (g *Guard) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := Stats{
		TotalTrades:     g.totalTrades,
		WinningTrades:   g.winningTrades,
		LosingTrades:    g.losingTrades,
		TotalPnL:        g.totalPnL,
		DailyPnL:        g.dailyPnL,
		LargestWin:      g.largestWin,
		LargestLoss:     g.largestLoss,
		MaxDrawdown:     g.maxDrawdown,
		UnknownOutcomes: g.unknownOutcomes,
	}
	if g.totalTrades > 0 {
		s.WinRate = float64(g.winningTrades) / float64(g.totalTrades) * 100
	}
	return s
}

// Snapshot exports the durable slice of risk state for persistence.
func (g *Guard) Snapshot() domain.RiskSnapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	times := make([]time.Time, len(g.tradeTimes))
	copy(times, g.tradeTimes)
	return domain.RiskSnapshot{
		Day:               g.day,
		DailyLoss:         g.dailyLoss,
		ConsecutiveLosses: g.consecLosses,
		CooldownUntil:     g.cooldownUntil,
		TradeTimes:        times,
		UnknownOutcomes:   g.unknownOutcomes,
	}
}

// Restore applies a persisted snapshot. A snapshot from a previous day only
// contributes its cooldown and frequency stamps; the daily accumulator starts
// fresh.
func (g *Guard) Restore(snap domain.RiskSnapshot) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.cooldownUntil = snap.CooldownUntil
	g.consecLosses = snap.ConsecutiveLosses
	g.unknownOutcomes = snap.UnknownOutcomes
	g.tradeTimes = append(g.tradeTimes[:0], snap.TradeTimes...)
	g.pruneTradeTimesLocked(now)

	if snap.Day == g.dayKey(now) {
		g.dailyLoss = snap.DailyLoss
	}
	g.logger.Info("risk state restored",
		slog.String("snapshot_day", snap.Day),
		slog.Float64("daily_loss", g.dailyLoss),
		slog.Int("consecutive_losses", g.consecLosses),
	)
}

package risk

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Denny-smart/R-25V1/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testGuardConfig() Config {
	return Config{
		MaxDailyLoss:        100,
		CooldownAfterLosses: 3,
		Cooldown:            30 * time.Minute,
		MaxTradesPerWindow:  10,
		FrequencyWindow:     24 * time.Hour,
		DailyResetTimezone:  "UTC",
	}
}

func newTestGuard(t *testing.T) *Guard {
	t.Helper()
	g, err := NewGuard(testGuardConfig(), testLogger())
	require.NoError(t, err)
	return g
}

func testSignal() domain.Signal {
	return domain.Signal{
		Symbol:      "R_25",
		Direction:   domain.DirectionLong,
		EntryPrice:  100,
		TakeProfit:  115,
		StopLoss:    95,
		GeneratedAt: time.Now(),
	}
}

func rejectReason(t *testing.T, err error) domain.RejectReason {
	t.Helper()
	rej := domain.RejectionOf(err)
	require.NotNil(t, rej)
	return rej.Reason
}

func closedWith(rec *domain.TradeRecord, profit float64) *domain.TradeRecord {
	rec.ContractID = "c-" + rec.ID
	rec.MarkClosed(domain.CloseReasonBrokerClosed, 100, profit, time.Now())
	return rec
}

func TestTryAcquireSingleSlot(t *testing.T) {
	t.Parallel()
	g := newTestGuard(t)

	rec, err := g.TryAcquire(testSignal())
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, domain.TradeStatusPending, rec.Status)

	_, err = g.TryAcquire(testSignal())
	require.Error(t, err)
	assert.Equal(t, domain.RejectSlotOccupied, rejectReason(t, err))
}

func TestTryAcquireConcurrentOneWinner(t *testing.T) {
	t.Parallel()
	g := newTestGuard(t)

	const n = 32
	var wg sync.WaitGroup
	wins := make(chan *domain.TradeRecord, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if rec, err := g.TryAcquire(testSignal()); err == nil {
				wins <- rec
			}
		}()
	}
	wg.Wait()
	close(wins)

	var winners int
	for range wins {
		winners++
	}
	assert.Equal(t, 1, winners)
}

func TestReleaseFreesSlotAndAccountsOnce(t *testing.T) {
	t.Parallel()
	g := newTestGuard(t)

	rec, err := g.TryAcquire(testSignal())
	require.NoError(t, err)
	closedWith(rec, -20)

	g.Release(rec, OutcomeLoss)
	// A second release of the same record must not double-count the loss.
	g.Release(rec, OutcomeLoss)

	stats := g.Stats()
	assert.Equal(t, 1, stats.TotalTrades)
	assert.Equal(t, 1, stats.LosingTrades)
	assert.InDelta(t, -20, stats.DailyPnL, 1e-9)

	// Slot must be free again.
	_, err = g.TryAcquire(testSignal())
	assert.NoError(t, err)
}

func TestAbortedReleaseSkipsAccounting(t *testing.T) {
	t.Parallel()
	g := newTestGuard(t)

	rec, err := g.TryAcquire(testSignal())
	require.NoError(t, err)
	g.Release(rec, OutcomeAborted)

	assert.Equal(t, 0, g.Stats().TotalTrades)

	_, err = g.TryAcquire(testSignal())
	assert.NoError(t, err)
}

func TestDailyLossLimitBlocksApprovals(t *testing.T) {
	t.Parallel()
	g := newTestGuard(t)

	// 40 + 40 = 80: still under the 100 cap.
	for _, loss := range []float64{-40, -40} {
		rec, err := g.TryAcquire(testSignal())
		require.NoError(t, err)
		g.Release(closedWith(rec, loss), OutcomeLoss)
	}
	rec, err := g.TryAcquire(testSignal())
	require.NoError(t, err)
	// Third loss crosses the cap exactly at 110.
	g.Release(closedWith(rec, -30), OutcomeLoss)

	_, err = g.TryAcquire(testSignal())
	require.Error(t, err)
	// Three consecutive losses also armed the cooldown; it fires first.
	assert.Equal(t, domain.RejectCooldownActive, rejectReason(t, err))

	paused, _ := g.Paused()
	assert.True(t, paused)
}

func TestCooldownArmsAfterConsecutiveLossesAndExpires(t *testing.T) {
	t.Parallel()
	g := newTestGuard(t)

	now := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		rec, err := g.TryAcquire(testSignal())
		require.NoError(t, err)
		g.Release(closedWith(rec, -5), OutcomeLoss)
	}

	_, err := g.TryAcquire(testSignal())
	require.Error(t, err)
	assert.Equal(t, domain.RejectCooldownActive, rejectReason(t, err))

	// A win inside the window would not help; time passing does.
	now = now.Add(31 * time.Minute)
	_, err = g.TryAcquire(testSignal())
	assert.NoError(t, err)
}

func TestWinResetsLossStreak(t *testing.T) {
	t.Parallel()
	g := newTestGuard(t)

	for i := 0; i < 2; i++ {
		rec, err := g.TryAcquire(testSignal())
		require.NoError(t, err)
		g.Release(closedWith(rec, -5), OutcomeLoss)
	}
	rec, err := g.TryAcquire(testSignal())
	require.NoError(t, err)
	g.Release(closedWith(rec, 8), OutcomeWin)

	// Two more losses: streak restarts from zero, no cooldown yet.
	for i := 0; i < 2; i++ {
		rec, err := g.TryAcquire(testSignal())
		require.NoError(t, err)
		g.Release(closedWith(rec, -5), OutcomeLoss)
	}
	_, err = g.TryAcquire(testSignal())
	assert.NoError(t, err)
}

func TestFrequencyLimit(t *testing.T) {
	t.Parallel()
	cfg := testGuardConfig()
	cfg.MaxTradesPerWindow = 2
	g, err := NewGuard(cfg, testLogger())
	require.NoError(t, err)

	now := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		rec, err := g.TryAcquire(testSignal())
		require.NoError(t, err)
		// Broker rejection: the stamp is still consumed.
		g.Release(rec, OutcomeAborted)
	}

	_, err = g.TryAcquire(testSignal())
	require.Error(t, err)
	assert.Equal(t, domain.RejectFrequencyLimit, rejectReason(t, err))

	// Stamps age out of the rolling window.
	now = now.Add(25 * time.Hour)
	_, err = g.TryAcquire(testSignal())
	assert.NoError(t, err)
}

func TestDailyRolloverResetsLossNotCooldown(t *testing.T) {
	t.Parallel()
	g := newTestGuard(t)

	now := time.Date(2025, 6, 2, 23, 30, 0, 0, time.UTC)
	g.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		rec, err := g.TryAcquire(testSignal())
		require.NoError(t, err)
		g.Release(closedWith(rec, -40), OutcomeLoss)
	}
	paused, reason := g.Paused()
	require.True(t, paused)
	assert.Equal(t, domain.RejectCooldownActive, reason)

	// Midnight passes but the 30 minute cooldown has not expired yet.
	now = now.Add(15 * time.Minute)
	paused, reason = g.Paused()
	require.True(t, paused)
	assert.Equal(t, domain.RejectCooldownActive, reason)

	// Cooldown expired, daily loss reset at midnight: trading resumes.
	now = now.Add(20 * time.Minute)
	paused, _ = g.Paused()
	assert.False(t, paused)
}

func TestReconcileAdoptsBrokerPosition(t *testing.T) {
	t.Parallel()
	g := newTestGuard(t)

	local := []domain.TradeRecord{{
		ID:         "t1",
		Symbol:     "R_25",
		ContractID: "c1",
		Direction:  domain.DirectionLong,
		Status:     domain.TradeStatusMonitoring,
		OpenedAt:   time.Now(),
	}}
	positions := []domain.BrokerPosition{{
		ContractID: "c1",
		Symbol:     "R_25",
		Direction:  domain.DirectionLong,
	}}

	res, err := g.Reconcile(positions, local)
	require.NoError(t, err)
	require.Len(t, res.Adopted, 1)
	assert.Empty(t, res.ForceClosed)
	assert.Equal(t, "t1", res.Adopted[0].ID)

	// The slot is taken by the adopted trade.
	_, err = g.TryAcquire(testSignal())
	require.Error(t, err)
	assert.Equal(t, domain.RejectSlotOccupied, rejectReason(t, err))
}

func TestReconcileForceClosesOrphanedLocalRecord(t *testing.T) {
	t.Parallel()
	g := newTestGuard(t)

	local := []domain.TradeRecord{{
		ID:         "t1",
		Symbol:     "R_25",
		ContractID: "c1",
		Status:     domain.TradeStatusOpen,
		OpenedAt:   time.Now(),
	}}

	res, err := g.Reconcile(nil, local)
	require.NoError(t, err)
	assert.Empty(t, res.Adopted)
	require.Len(t, res.ForceClosed, 1)

	closed := res.ForceClosed[0]
	assert.Equal(t, domain.TradeStatusClosed, closed.Status)
	assert.Equal(t, domain.CloseReasonReconciledMissing, closed.Reason)
	assert.Nil(t, closed.Profit)
	assert.Equal(t, 1, g.Stats().UnknownOutcomes)

	// No position survived, so the slot is free.
	_, err = g.TryAcquire(testSignal())
	assert.NoError(t, err)
}

func TestReconcileSynthesizesUntrackedPosition(t *testing.T) {
	t.Parallel()
	g := newTestGuard(t)

	positions := []domain.BrokerPosition{{
		ContractID: "c9",
		Symbol:     "R_25",
		Direction:  domain.DirectionShort,
		Stake:      10,
		OpenedAt:   time.Now().Add(-time.Hour),
	}}

	res, err := g.Reconcile(positions, nil)
	require.NoError(t, err)
	require.Len(t, res.Adopted, 1)

	rec := res.Adopted[0]
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "c9", rec.ContractID)
	assert.Equal(t, domain.TradeStatusMonitoring, rec.Status)
}

func TestReconcileRejectsMultipleBrokerPositions(t *testing.T) {
	t.Parallel()
	g := newTestGuard(t)

	positions := []domain.BrokerPosition{
		{ContractID: "c1", Symbol: "R_25"},
		{ContractID: "c2", Symbol: "R_25"},
	}
	_, err := g.Reconcile(positions, nil)
	assert.Error(t, err)
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	t.Parallel()
	g := newTestGuard(t)

	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		rec, err := g.TryAcquire(testSignal())
		require.NoError(t, err)
		g.Release(closedWith(rec, -10), OutcomeLoss)
	}
	snap := g.Snapshot()
	assert.Equal(t, "2025-06-02", snap.Day)
	assert.InDelta(t, 30, snap.DailyLoss, 1e-9)
	assert.Equal(t, 3, snap.ConsecutiveLosses)
	assert.Len(t, snap.TradeTimes, 3)

	// Same-day restart: daily loss and cooldown survive.
	g2, err := NewGuard(testGuardConfig(), testLogger())
	require.NoError(t, err)
	g2.now = func() time.Time { return now.Add(5 * time.Minute) }
	g2.Restore(snap)
	paused, reason := g2.Paused()
	require.True(t, paused)
	assert.Equal(t, domain.RejectCooldownActive, reason)

	// Next-day restart: daily loss resets, stale stamps prune later.
	g3, err := NewGuard(testGuardConfig(), testLogger())
	require.NoError(t, err)
	g3.now = func() time.Time { return now.Add(48 * time.Hour) }
	g3.Restore(snap)
	paused, _ = g3.Paused()
	assert.False(t, paused)
}

func TestOutcomeFor(t *testing.T) {
	t.Parallel()

	profit := func(p float64) *float64 { return &p }
	tests := []struct {
		name string
		rec  domain.TradeRecord
		want Outcome
	}{
		{"win", domain.TradeRecord{Profit: profit(5), Reason: domain.CloseReasonTakeProfit}, OutcomeWin},
		{"loss", domain.TradeRecord{Profit: profit(-5), Reason: domain.CloseReasonStopLoss}, OutcomeLoss},
		{"break_even", domain.TradeRecord{Profit: profit(0), Reason: domain.CloseReasonManual}, OutcomeBreakEven},
		{"no_profit_recorded", domain.TradeRecord{Reason: domain.CloseReasonError}, OutcomeUnknown},
		{"reconciled_missing", domain.TradeRecord{Profit: profit(5), Reason: domain.CloseReasonReconciledMissing}, OutcomeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, OutcomeFor(&tt.rec))
		})
	}
}

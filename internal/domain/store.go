package domain

import (
	"context"
	"io"
	"time"
)

// TradeStore is the persistence collaborator for trade records. RecordTrade
// is idempotent on the broker contract id.
type TradeStore interface {
	RecordTrade(ctx context.Context, rec TradeRecord) error
	ListOpen(ctx context.Context) ([]TradeRecord, error)
	ListClosedBefore(ctx context.Context, before time.Time) ([]TradeRecord, error)
	DeleteClosedBefore(ctx context.Context, before time.Time) (int64, error)
}

// RiskSnapshot is the durable slice of risk state that must survive a process
// restart: time-windowed accounting, not the open slot (the slot is
// re-established from the broker during reconciliation).
type RiskSnapshot struct {
	Day               string      `json:"day"` // YYYY-MM-DD in the reset timezone
	DailyLoss         float64     `json:"daily_loss"`
	ConsecutiveLosses int         `json:"consecutive_losses"`
	CooldownUntil     time.Time   `json:"cooldown_until"`
	TradeTimes        []time.Time `json:"trade_times"`
	UnknownOutcomes   int         `json:"unknown_outcomes"`
}

// RiskStateStore persists the risk snapshot across restarts.
type RiskStateStore interface {
	SaveRiskSnapshot(ctx context.Context, snap RiskSnapshot) error
	// LoadRiskSnapshot returns ErrNotFound when no snapshot exists.
	LoadRiskSnapshot(ctx context.Context) (RiskSnapshot, error)
}

// BlobWriter uploads an object to blob storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Denny-smart/R-25V1/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `id, symbol, contract_id, direction, stake, entry_price,
	take_profit, stop_loss, exit_price, profit, status, reason, opened_at, closed_at`

func scanTradeRows(rows pgx.Rows) ([]domain.TradeRecord, error) {
	var trades []domain.TradeRecord
	for rows.Next() {
		var t domain.TradeRecord
		if err := rows.Scan(
			&t.ID, &t.Symbol, &t.ContractID, &t.Direction, &t.Stake,
			&t.EntryPrice, &t.TakeProfit, &t.StopLoss,
			&t.ExitPrice, &t.Profit, &t.Status, &t.Reason,
			&t.OpenedAt, &t.ClosedAt,
		); err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// RecordTrade upserts a trade record keyed by the broker contract id, so
// re-recording a trade after adoption or closure updates the existing row
// instead of duplicating it.
func (s *TradeStore) RecordTrade(ctx context.Context, rec domain.TradeRecord) error {
	const query = `
		INSERT INTO trades (
			id, symbol, contract_id, direction, stake, entry_price,
			take_profit, stop_loss, exit_price, profit, status, reason,
			opened_at, closed_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12,
			$13, $14
		)
		ON CONFLICT (contract_id) DO UPDATE SET
			exit_price = EXCLUDED.exit_price,
			profit     = EXCLUDED.profit,
			status     = EXCLUDED.status,
			reason     = EXCLUDED.reason,
			closed_at  = EXCLUDED.closed_at`

	_, err := s.pool.Exec(ctx, query,
		rec.ID, rec.Symbol, rec.ContractID, rec.Direction, rec.Stake,
		rec.EntryPrice, rec.TakeProfit, rec.StopLoss,
		rec.ExitPrice, rec.Profit, rec.Status, rec.Reason,
		rec.OpenedAt, rec.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: record trade %s: %w", rec.ID, err)
	}
	return nil
}

// ListOpen returns every record still marked open or monitoring, oldest
// first. Used at startup reconciliation.
func (s *TradeStore) ListOpen(ctx context.Context) ([]domain.TradeRecord, error) {
	query := `SELECT ` + tradeSelectCols + `
		FROM trades WHERE status IN ('open', 'monitoring') ORDER BY opened_at ASC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open trades: %w", err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan open trades: %w", err)
	}
	return trades, nil
}

// ListClosedBefore returns all closed trades with closed_at strictly before
// the given time, oldest first (for archiving).
func (s *TradeStore) ListClosedBefore(ctx context.Context, before time.Time) ([]domain.TradeRecord, error) {
	query := `SELECT ` + tradeSelectCols + `
		FROM trades WHERE status = 'closed' AND closed_at < $1 ORDER BY closed_at ASC`

	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed trades before: %w", err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan closed trades: %w", err)
	}
	return trades, nil
}

// DeleteClosedBefore deletes closed trades older than the given time and
// returns the number deleted.
func (s *TradeStore) DeleteClosedBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM trades WHERE status = 'closed' AND closed_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete closed trades before: %w", err)
	}
	return tag.RowsAffected(), nil
}

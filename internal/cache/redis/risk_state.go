package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/Denny-smart/R-25V1/internal/domain"
)

// riskStateKey is where the serialized snapshot lives. A single bot instance
// owns a Redis DB, so the key is fixed.
const riskStateKey = "r25:risk_state"

// RiskStateStore implements domain.RiskStateStore by storing the snapshot as
// a JSON blob at a fixed key.
type RiskStateStore struct {
	rdb *redis.Client
}

// NewRiskStateStore creates a RiskStateStore backed by the given Client.
func NewRiskStateStore(c *Client) *RiskStateStore {
	return &RiskStateStore{rdb: c.Underlying()}
}

// SaveRiskSnapshot overwrites the persisted snapshot. No TTL: stale daily
// state is discarded by the guard on restore, not by expiry.
func (s *RiskStateStore) SaveRiskSnapshot(ctx context.Context, snap domain.RiskSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: marshal risk snapshot: %w", err)
	}
	if err := s.rdb.Set(ctx, riskStateKey, data, 0).Err(); err != nil {
		return fmt.Errorf("redis: save risk snapshot: %w", err)
	}
	return nil
}

// LoadRiskSnapshot returns the persisted snapshot, or domain.ErrNotFound when
// none exists.
func (s *RiskStateStore) LoadRiskSnapshot(ctx context.Context) (domain.RiskSnapshot, error) {
	data, err := s.rdb.Get(ctx, riskStateKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.RiskSnapshot{}, domain.ErrNotFound
		}
		return domain.RiskSnapshot{}, fmt.Errorf("redis: load risk snapshot: %w", err)
	}

	var snap domain.RiskSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.RiskSnapshot{}, fmt.Errorf("redis: unmarshal risk snapshot: %w", err)
	}
	return snap, nil
}

// Compile-time interface check.
var _ domain.RiskStateStore = (*RiskStateStore)(nil)

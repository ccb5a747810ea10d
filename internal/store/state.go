package store

import (
	"context"
	"database/sql"
	"strconv"
)

// Reserved indexer_state keys.
const (
	StateMicropayCheckpoint = "micropay_last_indexed_block"
	StateTransferCheckpoint = "transfer_last_indexed_block"
	StateLastAggregation    = "last_aggregation_date"
	StatePopulationStats    = "population_stats"
	StateTierThresholds     = "tier_threshold_adjustments"
	StateWeightAdjustments  = "adaptive_weight_adjustments"
	StateBreakpointShift    = "breakpoint_shift_ratio"
	StateIntentStats        = "intent_match_stats"
)

// GetState reads an indexer-state value; missing keys return ErrNotFound.
func (s *Store) GetState(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM indexer_state WHERE key = ?;`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return v, err
}

// SetState upserts an indexer-state key.
func (s *Store) SetState(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO indexer_state (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value;`, key, value)
	return err
}

// GetStateUint reads a numeric checkpoint; missing keys return (0, ErrNotFound).
func (s *Store) GetStateUint(ctx context.Context, key string) (uint64, error) {
	v, err := s.GetState(ctx, key)
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(v, 10, 64)
}

// SetStateUint stores a numeric checkpoint.
func (s *Store) SetStateUint(ctx context.Context, key string, v uint64) error {
	return s.SetState(ctx, key, strconv.FormatUint(v, 10))
}

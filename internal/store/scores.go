package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/trustrank/scoring-engine/pkg/models"
)

const historyLimit = 50

// UpsertScore persists a computed score. The whole write is one
// transaction: score row, history row, decay snapshot, wallet scored flag,
// and history pruning to the 50 most recent entries.
func (s *Store) UpsertScore(ctx context.Context, sc models.Score) error {
	sybil, _ := json.Marshal(sc.SybilIndicators)
	gaming, _ := json.Marshal(sc.GamingIndicators)

	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO scores
				(wallet, composite, raw_composite,
				 dim_reliability, dim_viability, dim_identity, dim_capability, dim_behavior,
				 tier, snapshot, computed_at, expires_at, confidence, recommendation,
				 model_version, sybil_flag, sybil_indicators, gaming_indicators, integrity_multiplier)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (wallet) DO UPDATE SET
				composite = excluded.composite,
				raw_composite = excluded.raw_composite,
				dim_reliability = excluded.dim_reliability,
				dim_viability = excluded.dim_viability,
				dim_identity = excluded.dim_identity,
				dim_capability = excluded.dim_capability,
				dim_behavior = excluded.dim_behavior,
				tier = excluded.tier,
				snapshot = excluded.snapshot,
				computed_at = excluded.computed_at,
				expires_at = excluded.expires_at,
				confidence = excluded.confidence,
				recommendation = excluded.recommendation,
				model_version = excluded.model_version,
				sybil_flag = excluded.sybil_flag,
				sybil_indicators = excluded.sybil_indicators,
				gaming_indicators = excluded.gaming_indicators,
				integrity_multiplier = excluded.integrity_multiplier;`,
			sc.Wallet, sc.Composite, sc.RawComposite,
			sc.Dimensions.Reliability, sc.Dimensions.Viability, sc.Dimensions.Identity,
			sc.Dimensions.Capability, sc.Dimensions.Behavior,
			string(sc.Tier), sc.Snapshot, sc.ComputedAt, sc.ExpiresAt, sc.Confidence,
			string(sc.Recommendation), sc.ModelVersion, boolInt(sc.SybilFlag),
			string(sybil), string(gaming), sc.IntegrityMultiplier)
		if err != nil {
			return fmt.Errorf("upsert score: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO score_history (wallet, score, computed_at, confidence, model_version)
			VALUES (?, ?, ?, ?, ?);`,
			sc.Wallet, sc.Composite, sc.ComputedAt, sc.Confidence, sc.ModelVersion)
		if err != nil {
			return fmt.Errorf("insert history: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO decay_snapshots (wallet, score, captured_at)
			VALUES (?, ?, ?);`,
			sc.Wallet, sc.Composite, sc.ComputedAt)
		if err != nil {
			return fmt.Errorf("insert decay snapshot: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE wallets SET scored = 1 WHERE address = ?;`, sc.Wallet)
		if err != nil {
			return fmt.Errorf("mark scored: %w", err)
		}

		// Prune history beyond the 50 most recent rows.
		_, err = tx.ExecContext(ctx, `
			DELETE FROM score_history
			WHERE wallet = ? AND id NOT IN (
				SELECT id FROM score_history
				WHERE wallet = ?
				ORDER BY computed_at DESC, id DESC
				LIMIT ?
			);`, sc.Wallet, sc.Wallet, historyLimit)
		if err != nil {
			return fmt.Errorf("prune history: %w", err)
		}
		return nil
	})
}

// GetScore returns the cached score row for a wallet, or ErrNotFound.
func (s *Store) GetScore(ctx context.Context, wallet string) (*models.Score, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT wallet, composite, raw_composite,
		       dim_reliability, dim_viability, dim_identity, dim_capability, dim_behavior,
		       tier, snapshot, computed_at, expires_at, confidence, recommendation,
		       model_version, sybil_flag, sybil_indicators, gaming_indicators, integrity_multiplier
		FROM scores WHERE wallet = ?;`, wallet)
	return scanScore(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanScore(row rowScanner) (*models.Score, error) {
	var sc models.Score
	var tier, rec, sybilJSON, gamingJSON string
	var sybilFlag int
	err := row.Scan(&sc.Wallet, &sc.Composite, &sc.RawComposite,
		&sc.Dimensions.Reliability, &sc.Dimensions.Viability, &sc.Dimensions.Identity,
		&sc.Dimensions.Capability, &sc.Dimensions.Behavior,
		&tier, &sc.Snapshot, &sc.ComputedAt, &sc.ExpiresAt, &sc.Confidence, &rec,
		&sc.ModelVersion, &sybilFlag, &sybilJSON, &gamingJSON, &sc.IntegrityMultiplier)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	sc.Tier = models.Tier(tier)
	sc.Recommendation = models.Recommendation(rec)
	sc.SybilFlag = sybilFlag != 0
	_ = json.Unmarshal([]byte(sybilJSON), &sc.SybilIndicators)
	_ = json.Unmarshal([]byte(gamingJSON), &sc.GamingIndicators)
	return &sc, nil
}

// GetHistory returns history rows for a wallet, newest first, optionally
// bounded by [after, before] timestamps. limit must already be clamped by
// the caller.
func (s *Store) GetHistory(ctx context.Context, wallet, after, before string, limit int) ([]models.HistoryEntry, error) {
	if after == "" {
		after = "0000"
	}
	if before == "" {
		before = "9999"
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT wallet, score, computed_at, confidence, model_version
		FROM score_history
		WHERE wallet = ? AND computed_at >= ? AND computed_at <= ?
		ORDER BY computed_at DESC, id DESC
		LIMIT ?;`, wallet, after, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]models.HistoryEntry, 0)
	for rows.Next() {
		var e models.HistoryEntry
		if err := rows.Scan(&e.Wallet, &e.Score, &e.ComputedAt, &e.Confidence, &e.ModelVersion); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// DecayBaseline returns the newest decay snapshot captured at or before
// the cutoff, the reference point for score-drop detection.
func (s *Store) DecayBaseline(ctx context.Context, wallet, before string) (int, error) {
	var score int
	err := s.db.QueryRowContext(ctx, `
		SELECT score FROM decay_snapshots
		WHERE wallet = ? AND captured_at <= ?
		ORDER BY captured_at DESC
		LIMIT 1;`, wallet, before).Scan(&score)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	return score, err
}

// PruneDecaySnapshots drops snapshots older than the cutoff.
func (s *Store) PruneDecaySnapshots(ctx context.Context, cutoff string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM decay_snapshots WHERE captured_at < ?;`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CountScores returns how many wallets currently hold a score row.
func (s *Store) CountScores(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM scores;`).Scan(&n)
	return n, err
}

// ListExpired returns wallets whose scores expired before the cutoff,
// oldest first, capped at limit. The hourly refresh job feeds on this.
func (s *Store) ListExpired(ctx context.Context, cutoff string, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT wallet FROM scores
		WHERE expires_at < ?
		ORDER BY expires_at ASC
		LIMIT ?;`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var wallets []string
	for rows.Next() {
		var w string
		if err := rows.Scan(&w); err != nil {
			return nil, err
		}
		wallets = append(wallets, w)
	}
	return wallets, rows.Err()
}

// LeaderboardEntry is one row of the composite-ranked leaderboard.
type LeaderboardEntry struct {
	Wallet     string  `json:"wallet"`
	Score      int     `json:"score"`
	Tier       string  `json:"tier"`
	Confidence float64 `json:"confidence"`
}

// Leaderboard iterates scores by composite descending, filtering out
// low-confidence rows.
func (s *Store) Leaderboard(ctx context.Context, minConfidence float64, limit int) ([]LeaderboardEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT wallet, composite, tier, confidence
		FROM scores
		WHERE confidence >= ?
		ORDER BY composite DESC, wallet ASC
		LIMIT ?;`, minConfidence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]LeaderboardEntry, 0)
	for rows.Next() {
		var e LeaderboardEntry
		if err := rows.Scan(&e.Wallet, &e.Score, &e.Tier, &e.Confidence); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// AllScores streams every score row (wallet, composite, confidence,
// dimension values) for calibration. Kept small on purpose: calibration
// needs dimensions and composite only.
type ScoreSample struct {
	Wallet     string
	Composite  int
	Confidence float64
	Dims       models.Dimensions
}

func (s *Store) AllScores(ctx context.Context) ([]ScoreSample, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT wallet, composite, confidence,
		       dim_reliability, dim_viability, dim_identity, dim_capability, dim_behavior
		FROM scores;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ScoreSample
	for rows.Next() {
		var sm ScoreSample
		if err := rows.Scan(&sm.Wallet, &sm.Composite, &sm.Confidence,
			&sm.Dims.Reliability, &sm.Dims.Viability, &sm.Dims.Identity,
			&sm.Dims.Capability, &sm.Dims.Behavior); err != nil {
			return nil, err
		}
		out = append(out, sm)
	}
	return out, rows.Err()
}

// RecentScores returns full score rows computed at or after the cutoff,
// newest first. The anomaly sweep feeds on this.
func (s *Store) RecentScores(ctx context.Context, since string, limit int) ([]models.Score, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT wallet, composite, raw_composite,
		       dim_reliability, dim_viability, dim_identity, dim_capability, dim_behavior,
		       tier, snapshot, computed_at, expires_at, confidence, recommendation,
		       model_version, sybil_flag, sybil_indicators, gaming_indicators, integrity_multiplier
		FROM scores
		WHERE computed_at >= ?
		ORDER BY computed_at DESC
		LIMIT ?;`, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Score
	for rows.Next() {
		sc, err := scanScore(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sc)
	}
	return out, rows.Err()
}

// PublishCandidates returns scores eligible for on-chain publication:
// confidence at or above the floor, and either never published or drifted
// at least minDelta points from the last published value.
func (s *Store) PublishCandidates(ctx context.Context, minConfidence float64, minDelta, limit int) ([]models.Score, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.wallet, s.composite, s.raw_composite,
		       s.dim_reliability, s.dim_viability, s.dim_identity, s.dim_capability, s.dim_behavior,
		       s.tier, s.snapshot, s.computed_at, s.expires_at, s.confidence, s.recommendation,
		       s.model_version, s.sybil_flag, s.sybil_indicators, s.gaming_indicators, s.integrity_multiplier
		FROM scores s
		LEFT JOIN publications p ON p.wallet = s.wallet
		WHERE s.confidence >= ?
		  AND (p.wallet IS NULL OR ABS(s.composite - p.last_published_score) >= ?)
		ORDER BY s.computed_at ASC
		LIMIT ?;`, minConfidence, minDelta, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Score
	for rows.Next() {
		sc, err := scanScore(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sc)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

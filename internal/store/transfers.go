package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/trustrank/scoring-engine/pkg/models"
)

// IndexTransferBatch persists one indexer chunk atomically: the raw
// transfer rows plus the wallet and relationship aggregates they imply.
// Transfers already present (same tx_hash) are skipped entirely, so
// re-indexing a range never double-counts aggregates.
func (s *Store) IndexTransferBatch(ctx context.Context, transfers []models.Transfer) (int, error) {
	if len(transfers) == 0 {
		return 0, nil
	}
	inserted := 0
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, t := range transfers {
			res, err := tx.ExecContext(ctx, `
				INSERT OR IGNORE INTO transfers
					(tx_hash, block_number, from_addr, to_addr, amount, ts, settlement)
				VALUES (?, ?, ?, ?, ?, ?, ?);`,
				t.TxHash, t.BlockNumber, t.From, t.To, t.Amount, t.Timestamp, boolInt(t.Settlement))
			if err != nil {
				return fmt.Errorf("insert transfer %s: %w", t.TxHash, err)
			}
			n, _ := res.RowsAffected()
			if n == 0 {
				continue // duplicate hash, aggregates already counted
			}
			inserted++

			if err := upsertWalletAgg(ctx, tx, t.From, t.Timestamp, 0, t.Amount); err != nil {
				return err
			}
			if err := upsertWalletAgg(ctx, tx, t.To, t.Timestamp, t.Amount, 0); err != nil {
				return err
			}
			if err := upsertRelationship(ctx, tx, t); err != nil {
				return err
			}
		}
		return nil
	})
	return inserted, err
}

func upsertWalletAgg(ctx context.Context, tx *sql.Tx, addr, ts string, in, out float64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO wallets (address, first_seen, last_seen, tx_count, volume_in, volume_out)
		VALUES (?, ?, ?, 1, ?, ?)
		ON CONFLICT (address) DO UPDATE SET
			last_seen  = MAX(last_seen, excluded.last_seen),
			first_seen = MIN(first_seen, excluded.first_seen),
			tx_count   = tx_count + 1,
			volume_in  = volume_in + excluded.volume_in,
			volume_out = volume_out + excluded.volume_out;`,
		addr, ts, ts, in, out)
	if err != nil {
		return fmt.Errorf("upsert wallet %s: %w", addr, err)
	}
	return nil
}

func upsertRelationship(ctx context.Context, tx *sql.Tx, t models.Transfer) error {
	a, b := t.From, t.To
	countAB, countBA := int64(1), int64(0)
	volAB, volBA := t.Amount, 0.0
	if a > b {
		a, b = b, a
		countAB, countBA = 0, 1
		volAB, volBA = 0, t.Amount
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO relationships
			(wallet_a, wallet_b, tx_count_ab, tx_count_ba, volume_ab, volume_ba,
			 first_interaction, last_interaction)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (wallet_a, wallet_b) DO UPDATE SET
			tx_count_ab = tx_count_ab + excluded.tx_count_ab,
			tx_count_ba = tx_count_ba + excluded.tx_count_ba,
			volume_ab   = volume_ab + excluded.volume_ab,
			volume_ba   = volume_ba + excluded.volume_ba,
			first_interaction = MIN(first_interaction, excluded.first_interaction),
			last_interaction  = MAX(last_interaction, excluded.last_interaction);`,
		a, b, countAB, countBA, volAB, volBA, t.Timestamp, t.Timestamp)
	if err != nil {
		return fmt.Errorf("upsert relationship %s/%s: %w", a, b, err)
	}
	return nil
}

// GetWallet returns the aggregate wallet row, or ErrNotFound.
func (s *Store) GetWallet(ctx context.Context, addr string) (*models.Wallet, error) {
	var w models.Wallet
	var registered, scored int
	err := s.db.QueryRowContext(ctx, `
		SELECT address, first_seen, last_seen, tx_count, volume_in, volume_out, registered, github_handle, scored
		FROM wallets WHERE address = ?;`, addr).
		Scan(&w.Address, &w.FirstSeen, &w.LastSeen, &w.TxCount, &w.VolumeIn, &w.VolumeOut, &registered, &w.GitHubHandle, &scored)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	w.Registered = registered != 0
	w.Scored = scored != 0
	return &w, nil
}

// SetRegistered flips the self-registration flag read by the identity
// scorer and records an optional linked code-host handle.
func (s *Store) SetRegistered(ctx context.Context, addr, githubHandle string) error {
	now := Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO wallets (address, first_seen, last_seen, registered, github_handle)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT (address) DO UPDATE SET
			registered = 1,
			github_handle = CASE WHEN excluded.github_handle != '' THEN excluded.github_handle ELSE wallets.github_handle END;`,
		addr, now, now, githubHandle)
	return err
}

// TransferTimestamps returns ordered timestamps of a wallet's transfers in
// a recent window, feeding the behaviour scorer.
func (s *Store) TransferTimestamps(ctx context.Context, addr string, since string, limit int) ([]time.Time, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts FROM transfers
		WHERE (from_addr = ? OR to_addr = ?) AND ts >= ?
		ORDER BY ts ASC
		LIMIT ?;`, addr, addr, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []time.Time
	for rows.Next() {
		var ts string
		if err := rows.Scan(&ts); err != nil {
			return nil, err
		}
		t, err := ParseTime(ts)
		if err != nil {
			continue
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ActiveWallets lists wallets seen since the cutoff, most recent first.
func (s *Store) ActiveWallets(ctx context.Context, since string, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT address FROM wallets
		WHERE last_seen >= ?
		ORDER BY last_seen DESC
		LIMIT ?;`, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, rows.Err()
}

// CountSettlements counts authorization-backed micro-payment transfers
// touching the wallet.
func (s *Store) CountSettlements(ctx context.Context, addr string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM transfers
		WHERE (from_addr = ? OR to_addr = ?) AND settlement = 1;`, addr, addr).Scan(&n)
	return n, err
}

// CountSettlementsBetween counts a wallet's settlements inside a time
// range, used by the intent matcher to label query follow-through.
func (s *Store) CountSettlementsBetween(ctx context.Context, addr, from, to string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM transfers
		WHERE (from_addr = ? OR to_addr = ?) AND settlement = 1
		  AND ts >= ? AND ts < ?;`, addr, addr, from, to).Scan(&n)
	return n, err
}

// WalletTransfers returns a wallet's transfers since the given timestamp,
// oldest first, used by the detection layer.
func (s *Store) WalletTransfers(ctx context.Context, addr string, since string, limit int) ([]models.Transfer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tx_hash, block_number, from_addr, to_addr, amount, ts, settlement
		FROM transfers
		WHERE (from_addr = ? OR to_addr = ?) AND ts >= ?
		ORDER BY ts ASC
		LIMIT ?;`, addr, addr, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Transfer
	for rows.Next() {
		var t models.Transfer
		var settlement int
		if err := rows.Scan(&t.TxHash, &t.BlockNumber, &t.From, &t.To, &t.Amount, &t.Timestamp, &settlement); err != nil {
			return nil, err
		}
		t.Settlement = settlement != 0
		out = append(out, t)
	}
	return out, rows.Err()
}

// Partners returns the relationship edges touching a wallet, ordered by
// combined tx count descending.
func (s *Store) Partners(ctx context.Context, addr string, limit int) ([]models.RelationshipEdge, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT wallet_a, wallet_b, tx_count_ab, tx_count_ba, volume_ab, volume_ba,
		       first_interaction, last_interaction
		FROM relationships
		WHERE wallet_a = ? OR wallet_b = ?
		ORDER BY (tx_count_ab + tx_count_ba) DESC
		LIMIT ?;`, addr, addr, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.RelationshipEdge
	for rows.Next() {
		var e models.RelationshipEdge
		if err := rows.Scan(&e.WalletA, &e.WalletB, &e.TxCountAToB, &e.TxCountBToA,
			&e.VolumeAToB, &e.VolumeBToA, &e.FirstInteraction, &e.LastInteraction); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// EdgeBetween returns the edge for an unordered wallet pair, or ErrNotFound.
func (s *Store) EdgeBetween(ctx context.Context, x, y string) (*models.RelationshipEdge, error) {
	a, b := x, y
	if a > b {
		a, b = b, a
	}
	var e models.RelationshipEdge
	err := s.db.QueryRowContext(ctx, `
		SELECT wallet_a, wallet_b, tx_count_ab, tx_count_ba, volume_ab, volume_ba,
		       first_interaction, last_interaction
		FROM relationships WHERE wallet_a = ? AND wallet_b = ?;`, a, b).
		Scan(&e.WalletA, &e.WalletB, &e.TxCountAToB, &e.TxCountBToA,
			&e.VolumeAToB, &e.VolumeBToA, &e.FirstInteraction, &e.LastInteraction)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// EarliestInbound returns the sender and timestamp of the wallet's first
// recorded incoming transfer, or ErrNotFound.
func (s *Store) EarliestInbound(ctx context.Context, addr string) (sender string, ts string, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT from_addr, ts FROM transfers
		WHERE to_addr = ?
		ORDER BY ts ASC LIMIT 1;`, addr).Scan(&sender, &ts)
	if err == sql.ErrNoRows {
		return "", "", ErrNotFound
	}
	return sender, ts, err
}

// RefreshWalletStats recomputes the rolling aggregates for one wallet and
// upserts the stats row. Skipped by the generic indexer during catch-up.
func (s *Store) RefreshWalletStats(ctx context.Context, addr string, now time.Time) error {
	type window struct {
		since   string
		in, out float64
	}
	windows := []window{
		{since: now.Add(-24 * time.Hour).UTC().Format(TimeFormat)},
		{since: now.Add(-7 * 24 * time.Hour).UTC().Format(TimeFormat)},
		{since: now.Add(-30 * 24 * time.Hour).UTC().Format(TimeFormat)},
	}
	for i := range windows {
		err := s.db.QueryRowContext(ctx, `
			SELECT
				COALESCE(SUM(CASE WHEN to_addr = ? THEN amount ELSE 0 END), 0),
				COALESCE(SUM(CASE WHEN from_addr = ? THEN amount ELSE 0 END), 0)
			FROM transfers
			WHERE (from_addr = ? OR to_addr = ?) AND ts >= ?;`,
			addr, addr, addr, addr, windows[i].since).
			Scan(&windows[i].in, &windows[i].out)
		if err != nil {
			return fmt.Errorf("stats window for %s: %w", addr, err)
		}
	}

	var partners int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM relationships WHERE wallet_a = ? OR wallet_b = ?;`,
		addr, addr).Scan(&partners)
	if err != nil {
		return err
	}

	ratio := 0.0
	if windows[2].out > 0 {
		ratio = windows[2].in / windows[2].out
	} else if windows[2].in > 0 {
		ratio = windows[2].in // pure income, no burn
	}
	trend := classifyTrend(windows[0].in-windows[0].out, windows[1].in-windows[1].out, windows[2].in-windows[2].out)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO wallet_stats
			(wallet, unique_partners, inflow_24h, outflow_24h, inflow_7d, outflow_7d,
			 inflow_30d, outflow_30d, income_burn_ratio, trend, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (wallet) DO UPDATE SET
			unique_partners = excluded.unique_partners,
			inflow_24h = excluded.inflow_24h,
			outflow_24h = excluded.outflow_24h,
			inflow_7d = excluded.inflow_7d,
			outflow_7d = excluded.outflow_7d,
			inflow_30d = excluded.inflow_30d,
			outflow_30d = excluded.outflow_30d,
			income_burn_ratio = excluded.income_burn_ratio,
			trend = excluded.trend,
			updated_at = excluded.updated_at;`,
		addr, partners,
		windows[0].in, windows[0].out, windows[1].in, windows[1].out,
		windows[2].in, windows[2].out, ratio, string(trend), now.UTC().Format(TimeFormat))
	return err
}

// classifyTrend compares net flow across the three rolling windows.
func classifyTrend(net24h, net7d, net30d float64) models.Trend {
	switch {
	case net24h < 0 && net7d < 0 && net30d < 0:
		return models.TrendFreefall
	case net7d < 0:
		return models.TrendDeclining
	case net7d > 0 && net30d >= 0:
		return models.TrendRising
	default:
		return models.TrendStable
	}
}

// GetWalletStats returns the pre-rolled stats row, or ErrNotFound.
func (s *Store) GetWalletStats(ctx context.Context, addr string) (*models.WalletStats, error) {
	var st models.WalletStats
	var trend, updated string
	err := s.db.QueryRowContext(ctx, `
		SELECT wallet, unique_partners, inflow_24h, outflow_24h, inflow_7d, outflow_7d,
		       inflow_30d, outflow_30d, income_burn_ratio, trend, updated_at
		FROM wallet_stats WHERE wallet = ?;`, addr).
		Scan(&st.Wallet, &st.UniquePartners, &st.Inflow24h, &st.Outflow24h,
			&st.Inflow7d, &st.Outflow7d, &st.Inflow30d, &st.Outflow30d,
			&st.IncomeBurnRatio, &trend, &updated)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	st.Trend = models.Trend(trend)
	return &st, nil
}

// PruneTransfers deletes raw transfer rows older than the retention window.
func (s *Store) PruneTransfers(ctx context.Context, before string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM transfers WHERE ts < ?;`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

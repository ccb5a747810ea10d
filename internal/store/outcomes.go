package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/trustrank/scoring-engine/pkg/models"
)

// LogQuery records one paid read. Feeds the outcome matcher, the
// prior-query confidence signal, and the free-tier daily quota.
func (s *Store) LogQuery(ctx context.Context, requester, wallet string, score int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO query_log (id, requester, wallet, score, queried_at)
		VALUES (?, ?, ?, ?, ?);`,
		uuid.NewString(), requester, wallet, score, Now())
	return err
}

// CountQueriesFor returns how many times a wallet has been queried, the
// prior-query confidence signal.
func (s *Store) CountQueriesFor(ctx context.Context, wallet string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM query_log WHERE wallet = ?;`, wallet).Scan(&n)
	return n, err
}

// CountQueriesBy returns a requester's query count since the cutoff,
// backing the free-tier daily quota.
func (s *Store) CountQueriesBy(ctx context.Context, requester, since string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM query_log WHERE requester = ? AND queried_at >= ?;`,
		requester, since).Scan(&n)
	return n, err
}

// UnmatchedQueries returns query rows older than the maturity cutoff that
// have no outcome yet, oldest first.
func (s *Store) UnmatchedQueries(ctx context.Context, before string, limit int) ([]models.QueryRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT q.id, q.requester, q.wallet, q.score, q.queried_at
		FROM query_log q
		LEFT JOIN outcomes o ON o.query_id = q.id
		WHERE o.query_id IS NULL AND q.queried_at < ?
		ORDER BY q.queried_at ASC
		LIMIT ?;`, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.QueryRecord
	for rows.Next() {
		var q models.QueryRecord
		if err := rows.Scan(&q.ID, &q.Requester, &q.Wallet, &q.Score, &q.QueriedAt); err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// QueriesSince returns query rows at or after the cutoff, oldest first.
// The intent matcher feeds on this.
func (s *Store) QueriesSince(ctx context.Context, since string, limit int) ([]models.QueryRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, requester, wallet, score, queried_at
		FROM query_log
		WHERE queried_at >= ?
		ORDER BY queried_at ASC
		LIMIT ?;`, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.QueryRecord
	for rows.Next() {
		var q models.QueryRecord
		if err := rows.Scan(&q.ID, &q.Requester, &q.Wallet, &q.Score, &q.QueriedAt); err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// UpsertOutcome records an outcome for a query. Keyed on query_id, so
// re-running the matcher over the same window is idempotent.
func (s *Store) UpsertOutcome(ctx context.Context, o models.Outcome) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO outcomes (query_id, wallet, outcome, score_at_query, matched_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (query_id) DO UPDATE SET
			outcome = excluded.outcome,
			matched_at = excluded.matched_at;`,
		o.QueryID, o.Wallet, string(o.Type), o.ScoreAtQuery, o.MatchedAt)
	return err
}

// OutcomeCounts returns total and negative outcome counts, the sample-size
// gates for adaptive weight drift.
func (s *Store) OutcomeCounts(ctx context.Context) (total, negative int, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN outcome IN ('fraud_report', 'no_activity') THEN 1 ELSE 0 END), 0)
		FROM outcomes;`).Scan(&total, &negative)
	return total, negative, err
}

// AllOutcomes streams outcome rows for the weight tuner.
func (s *Store) AllOutcomes(ctx context.Context) ([]models.Outcome, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT query_id, wallet, outcome, score_at_query, matched_at FROM outcomes;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Outcome
	for rows.Next() {
		var o models.Outcome
		var typ string
		if err := rows.Scan(&o.QueryID, &o.Wallet, &typ, &o.ScoreAtQuery, &o.MatchedAt); err != nil {
			return nil, err
		}
		o.Type = models.OutcomeType(typ)
		out = append(out, o)
	}
	return out, rows.Err()
}

// CountTransfersBetween counts a wallet's transfers inside a time range,
// used by the outcome matcher to label activity after a query.
func (s *Store) CountTransfersBetween(ctx context.Context, wallet, from, to string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM transfers
		WHERE (from_addr = ? OR to_addr = ?) AND ts >= ? AND ts < ?;`,
		wallet, wallet, from, to).Scan(&n)
	return n, err
}

// CountReportsBetween counts fraud reports against a wallet in a range.
func (s *Store) CountReportsBetween(ctx context.Context, wallet, from, to string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM fraud_reports
		WHERE target = ? AND created_at >= ? AND created_at < ?;`,
		wallet, from, to).Scan(&n)
	return n, err
}

package store

import (
	"context"
	"database/sql"
	"fmt"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/trustrank/scoring-engine/pkg/models"
)

const maxReportsPerReporter = 3
const maxDetailsLen = 1000

// FileReport persists a fraud report, enforcing the 3-per-reporter cap
// against a single target inside the write transaction. Details are
// capped at 1000 characters; overlong input is rejected, not truncated.
func (s *Store) FileReport(ctx context.Context, target, reporter, reason, details string) (*models.FraudReport, error) {
	if utf8.RuneCountInString(details) > maxDetailsLen {
		return nil, ErrDetailsTooLong
	}
	report := models.FraudReport{
		ID:        uuid.NewString(),
		Target:    target,
		Reporter:  reporter,
		Reason:    reason,
		Details:   details,
		CreatedAt: Now(),
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var n int
		err := tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM fraud_reports WHERE target = ? AND reporter = ?;`,
			target, reporter).Scan(&n)
		if err != nil {
			return err
		}
		if n >= maxReportsPerReporter {
			return ErrReportLimit
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO fraud_reports (id, target, reporter, reason, details, created_at)
			VALUES (?, ?, ?, ?, ?, ?);`,
			report.ID, report.Target, report.Reporter, report.Reason, report.Details, report.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert report: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &report, nil
}

// CountReports returns the total number of reports against a target.
func (s *Store) CountReports(ctx context.Context, target string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM fraud_reports WHERE target = ?;`, target).Scan(&n)
	return n, err
}

// CountReportsAfter returns reports against a target filed strictly after
// the given timestamp. The cached-score serve path dampens only these, so
// compute-time dampening is never re-applied.
func (s *Store) CountReportsAfter(ctx context.Context, target, after string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM fraud_reports WHERE target = ? AND created_at > ?;`,
		target, after).Scan(&n)
	return n, err
}

// ReportsAgainst lists reports for a target, newest first.
func (s *Store) ReportsAgainst(ctx context.Context, target string, limit int) ([]models.FraudReport, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, target, reporter, reason, details, created_at, penalty_applied
		FROM fraud_reports
		WHERE target = ?
		ORDER BY created_at DESC
		LIMIT ?;`, target, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.FraudReport
	for rows.Next() {
		var r models.FraudReport
		var applied int
		if err := rows.Scan(&r.ID, &r.Target, &r.Reporter, &r.Reason, &r.Details, &r.CreatedAt, &applied); err != nil {
			return nil, err
		}
		r.PenaltyApplied = applied != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// MarkPenaltyApplied flags reports as folded into a computed score.
func (s *Store) MarkPenaltyApplied(ctx context.Context, target, upTo string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE fraud_reports SET penalty_applied = 1
		WHERE target = ? AND created_at <= ?;`, target, upTo)
	return err
}

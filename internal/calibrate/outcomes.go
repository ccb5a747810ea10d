package calibrate

import (
	"context"
	"log"
	"time"

	"github.com/trustrank/scoring-engine/internal/store"
	"github.com/trustrank/scoring-engine/pkg/models"
)

// Outcome matcher
//
// Joins matured query-log rows against what actually happened to the
// queried wallet afterwards. A query matures after a fixed observation
// window; the label precedence is fraud_report > transfer activity >
// no_activity. Re-running over the same rows is idempotent because
// outcomes are keyed on query id.

const (
	// outcomeMaturity is how long after a query the matcher waits before
	// labelling it, so the counterparty had time to act.
	outcomeMaturity = 7 * 24 * time.Hour

	// outcomeBatch bounds one matcher pass.
	outcomeBatch = 500
)

// MatchOutcomes labels matured unmatched queries. Returns the number of
// outcomes written.
func MatchOutcomes(ctx context.Context, st *store.Store) (int, error) {
	now := time.Now().UTC()
	cutoff := now.Add(-outcomeMaturity).Format(store.TimeFormat)

	queries, err := st.UnmatchedQueries(ctx, cutoff, outcomeBatch)
	if err != nil {
		return 0, err
	}

	matched := 0
	for _, q := range queries {
		queriedAt, err := store.ParseTime(q.QueriedAt)
		if err != nil {
			continue
		}
		windowEnd := queriedAt.Add(outcomeMaturity).Format(store.TimeFormat)

		typ, err := labelQuery(ctx, st, q.Wallet, q.QueriedAt, windowEnd)
		if err != nil {
			return matched, err
		}
		o := models.Outcome{
			QueryID:      q.ID,
			Wallet:       q.Wallet,
			Type:         typ,
			ScoreAtQuery: q.Score,
			MatchedAt:    now.Format(store.TimeFormat),
		}
		if err := st.UpsertOutcome(ctx, o); err != nil {
			return matched, err
		}
		matched++
	}
	if matched > 0 {
		log.Printf("[Calibrate] matched %d query outcomes", matched)
	}
	return matched, nil
}

func labelQuery(ctx context.Context, st *store.Store, wallet, from, to string) (models.OutcomeType, error) {
	reports, err := st.CountReportsBetween(ctx, wallet, from, to)
	if err != nil {
		return "", err
	}
	if reports > 0 {
		return models.OutcomeFraudReport, nil
	}
	transfers, err := st.CountTransfersBetween(ctx, wallet, from, to)
	if err != nil {
		return "", err
	}
	switch {
	case transfers >= 3:
		return models.OutcomeMultipleSuccessfulTx, nil
	case transfers > 0:
		return models.OutcomeSuccessfulTx, nil
	default:
		return models.OutcomeNoActivity, nil
	}
}

package calibrate

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/trustrank/scoring-engine/internal/store"
)

// Intent matching
//
// A paid score read signals intent to transact with the queried wallet.
// The matcher measures conversion: how many recent queries were followed
// by an actual settlement involving that wallet within a day. The rate is
// a health signal for the product, persisted for the health endpoint.

// intentWindow is how long after a query a settlement still counts as
// follow-through.
const intentWindow = 24 * time.Hour

// intentLookback bounds how far back the matcher scans the query log.
const intentLookback = 7 * 24 * time.Hour

const intentBatch = 1000

// IntentStats is the persisted conversion summary.
type IntentStats struct {
	Queries    int     `json:"queries"`
	FollowedUp int     `json:"followedUp"`
	Rate       float64 `json:"rate"`
	ComputedAt string  `json:"computedAt"`
}

// MatchIntents recomputes and persists the query-to-settlement conversion
// rate over the lookback window.
func MatchIntents(ctx context.Context, st *store.Store) (IntentStats, error) {
	since := time.Now().UTC().Add(-intentLookback).Format(store.TimeFormat)
	queries, err := st.QueriesSince(ctx, since, intentBatch)
	if err != nil {
		return IntentStats{}, err
	}

	stats := IntentStats{
		Queries:    len(queries),
		ComputedAt: time.Now().UTC().Format(store.TimeFormat),
	}
	for _, q := range queries {
		queried, err := store.ParseTime(q.QueriedAt)
		if err != nil {
			continue
		}
		until := queried.Add(intentWindow).Format(store.TimeFormat)
		n, err := st.CountSettlementsBetween(ctx, q.Wallet, q.QueriedAt, until)
		if err != nil {
			return IntentStats{}, err
		}
		if n > 0 {
			stats.FollowedUp++
		}
	}
	if stats.Queries > 0 {
		stats.Rate = float64(stats.FollowedUp) / float64(stats.Queries)
	}

	blob, _ := json.Marshal(stats)
	if err := st.SetState(ctx, store.StateIntentStats, string(blob)); err != nil {
		return IntentStats{}, err
	}
	log.Printf("[Calibrate] intent match: %d/%d queries followed up (%.0f%%)",
		stats.FollowedUp, stats.Queries, stats.Rate*100)
	return stats, nil
}

// LoadIntents reads the last persisted conversion summary.
func LoadIntents(ctx context.Context, st *store.Store) (IntentStats, bool) {
	raw, err := st.GetState(ctx, store.StateIntentStats)
	if err != nil {
		return IntentStats{}, false
	}
	var stats IntentStats
	if err := json.Unmarshal([]byte(raw), &stats); err != nil {
		return IntentStats{}, false
	}
	return stats, true
}

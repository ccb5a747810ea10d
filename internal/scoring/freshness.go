package scoring

import (
	"time"

	"github.com/trustrank/scoring-engine/internal/store"
	"github.com/trustrank/scoring-engine/pkg/models"
)

// ScoreTTL is how long a computed score stays fresh.
const ScoreTTL = time.Hour

// PartialScoreTTL is the shortened TTL for degraded identity-only scores,
// so a full recompute is retried soon.
const PartialScoreTTL = 15 * time.Minute

// Freshness returns the remaining-life fraction of a cached score at time
// t: (expires_at - t) / (expires_at - computed_at), clamped to [0, 1].
// Monotonically non-increasing in t between compute and expiry.
func Freshness(sc *models.Score, t time.Time) float64 {
	computed, err1 := store.ParseTime(sc.ComputedAt)
	expires, err2 := store.ParseTime(sc.ExpiresAt)
	if err1 != nil || err2 != nil {
		return 0
	}
	total := expires.Sub(computed)
	if total <= 0 {
		return 0
	}
	return clamp01(expires.Sub(t).Seconds() / total.Seconds())
}

// IsFresh reports whether the cached score is still within its TTL.
func IsFresh(sc *models.Score, t time.Time) bool {
	expires, err := store.ParseTime(sc.ExpiresAt)
	if err != nil {
		return false
	}
	return t.Before(expires)
}

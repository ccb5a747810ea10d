package scoring

import (
	"context"
	"log"
	"time"

	"github.com/trustrank/scoring-engine/internal/store"
)

// Sybil monitor
//
// Frequent sweep over recently active wallets. A wallet whose cached
// score is clean but whose relationship graph now trips the sybil
// detector gets recomputed immediately instead of waiting for its TTL to
// lapse, so a cluster cannot coast on a pre-coordination score.

const (
	sybilSweepWindow = time.Hour
	sybilSweepBatch  = 100
)

// SweepSybil recomputes scores for recently active wallets that are newly
// flagged by sybil detection. Returns the number of recomputes.
func (e *Engine) SweepSybil(ctx context.Context) (int, error) {
	since := time.Now().UTC().Add(-sybilSweepWindow).Format(store.TimeFormat)
	wallets, err := e.Store.ActiveWallets(ctx, since, sybilSweepBatch)
	if err != nil {
		return 0, err
	}

	recomputed := 0
	for _, w := range wallets {
		if ctx.Err() != nil {
			return recomputed, ctx.Err()
		}
		sc, err := e.Store.GetScore(ctx, w)
		if err != nil || sc.SybilFlag {
			continue
		}
		res := e.Detector.DetectSybil(ctx, w)
		if !res.Flagged() {
			continue
		}
		log.Printf("[Engine] sybil monitor: %s newly flagged (%v), recomputing", w, res.Indicators)
		if _, err := e.Calculate(ctx, w); err != nil {
			log.Printf("[Engine] sybil monitor recompute failed for %s: %v", w, err)
			continue
		}
		recomputed++
	}
	return recomputed, nil
}

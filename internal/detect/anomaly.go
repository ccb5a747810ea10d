package detect

import (
	"context"
	"time"

	"github.com/trustrank/scoring-engine/internal/store"
)

// Anomaly sweep
//
// Periodic pass over recently computed scores looking for two things: a
// sharp score drop against the wallet's week-old decay baseline, and
// gaming patterns that surfaced after the score was computed. Findings go
// out as webhook events; the sweep never mutates scores itself.

const (
	anomalyLookback  = 24 * time.Hour
	anomalyBaseline  = 7 * 24 * time.Hour
	anomalyDropFloor = 20
	anomalyBatch     = 200
)

// Anomaly is one finding from a sweep.
type Anomaly struct {
	Wallet   string `json:"wallet"`
	Kind     string `json:"kind"` // score_drop or gaming_pattern
	Current  int    `json:"current"`
	Baseline int    `json:"baseline,omitempty"`
}

// SweepAnomalies inspects scores computed in the last day. A wallet whose
// composite fell 20+ points below its week-old baseline yields a
// score_drop; an unflagged wallet that now trips the gaming detector
// yields a gaming_pattern.
func (d *Detector) SweepAnomalies(ctx context.Context) ([]Anomaly, error) {
	since := time.Now().UTC().Add(-anomalyLookback).Format(store.TimeFormat)
	scores, err := d.Store.RecentScores(ctx, since, anomalyBatch)
	if err != nil {
		return nil, err
	}

	var out []Anomaly
	for _, sc := range scores {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		cutoff := time.Now().UTC().Add(-anomalyBaseline).Format(store.TimeFormat)
		baseline, err := d.Store.DecayBaseline(ctx, sc.Wallet, cutoff)
		if err == nil && baseline-sc.Composite >= anomalyDropFloor {
			out = append(out, Anomaly{Wallet: sc.Wallet, Kind: "score_drop",
				Current: sc.Composite, Baseline: baseline})
			continue
		}

		if len(sc.GamingIndicators) > 0 {
			continue
		}
		w, err := d.Store.GetWallet(ctx, sc.Wallet)
		if err != nil {
			continue
		}
		if res := d.DetectGaming(ctx, GamingInput{Wallet: sc.Wallet, TxCount: w.TxCount}); res.Flagged() {
			out = append(out, Anomaly{Wallet: sc.Wallet, Kind: "gaming_pattern", Current: sc.Composite})
		}
	}
	return out, nil
}

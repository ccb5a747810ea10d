package detect

import (
	"context"
	"testing"
	"time"

	"github.com/trustrank/scoring-engine/internal/store"
	"github.com/trustrank/scoring-engine/pkg/models"
)

func scoreRow(t *testing.T, s *store.Store, wallet string, composite int, at time.Time) {
	t.Helper()
	sc := models.Score{
		Wallet:              wallet,
		Composite:           composite,
		RawComposite:        composite,
		Tier:                models.TierEstablished,
		Confidence:          0.7,
		Recommendation:      models.RecommendProceed,
		ModelVersion:        "test",
		IntegrityMultiplier: 1.0,
		Snapshot:            "{}",
		ComputedAt:          at.UTC().Format(store.TimeFormat),
		ExpiresAt:           at.UTC().Add(time.Hour).Format(store.TimeFormat),
	}
	if err := s.UpsertScore(context.Background(), sc); err != nil {
		t.Fatalf("UpsertScore(%s): %v", wallet, err)
	}
}

func TestSweepAnomaliesFlagsScoreDrop(t *testing.T) {
	d, s := newTestDetector(t)
	now := time.Now().UTC()

	// Baseline snapshot from eight days ago, then a fresh compute 50
	// points lower.
	scoreRow(t, s, "0xdrop", 80, now.AddDate(0, 0, -8))
	scoreRow(t, s, "0xdrop", 30, now)

	anomalies, err := d.SweepAnomalies(context.Background())
	if err != nil {
		t.Fatalf("SweepAnomalies: %v", err)
	}
	if len(anomalies) != 1 {
		t.Fatalf("expected 1 anomaly, got %d", len(anomalies))
	}
	a := anomalies[0]
	if a.Wallet != "0xdrop" || a.Kind != "score_drop" {
		t.Errorf("unexpected anomaly: %+v", a)
	}
	if a.Baseline != 80 || a.Current != 30 {
		t.Errorf("expected baseline 80 current 30, got %+v", a)
	}
}

func TestSweepAnomaliesIgnoresStableScores(t *testing.T) {
	d, s := newTestDetector(t)
	now := time.Now().UTC()

	scoreRow(t, s, "0xsteady", 80, now.AddDate(0, 0, -8))
	scoreRow(t, s, "0xsteady", 75, now)

	anomalies, err := d.SweepAnomalies(context.Background())
	if err != nil {
		t.Fatalf("SweepAnomalies: %v", err)
	}
	if len(anomalies) != 0 {
		t.Errorf("stable score must not alert: %+v", anomalies)
	}
}

func TestSweepAnomaliesFlagsLateGamingPattern(t *testing.T) {
	d, s := newTestDetector(t)
	now := time.Now().UTC()
	w := "0xburst"

	// Dense three-day burst of activity, then three weeks of silence:
	// trips the burst-and-stop probe on a wallet scored clean.
	var batch []models.Transfer
	for i := 0; i < 6; i++ {
		batch = append(batch, tx(w, "0xpeer", 0.5, now.AddDate(0, 0, -24).Add(time.Duration(i*8)*time.Hour)))
	}
	index(t, s, batch)
	scoreRow(t, s, w, 60, now)

	anomalies, err := d.SweepAnomalies(context.Background())
	if err != nil {
		t.Fatalf("SweepAnomalies: %v", err)
	}
	if len(anomalies) != 1 {
		t.Fatalf("expected 1 anomaly, got %d", len(anomalies))
	}
	if a := anomalies[0]; a.Wallet != w || a.Kind != "gaming_pattern" {
		t.Errorf("unexpected anomaly: %+v", a)
	}
}

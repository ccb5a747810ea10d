package calibrate

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/trustrank/scoring-engine/internal/store"
	"github.com/trustrank/scoring-engine/pkg/models"
)

func TestPercentileNearestRank(t *testing.T) {
	sorted := []int{10, 20, 30, 40, 50, 60, 70, 80, 90, 100}
	if got := percentile(sorted, 50); got != 50 {
		t.Errorf("p50 = %d, want 50", got)
	}
	if got := percentile(sorted, 90); got != 90 {
		t.Errorf("p90 = %d, want 90", got)
	}
	if got := percentile(sorted, 10); got != 10 {
		t.Errorf("p10 = %d, want 10", got)
	}
	if got := percentile(nil, 50); got != 0 {
		t.Errorf("empty slice = %d, want 0", got)
	}
}

func TestSummarize(t *testing.T) {
	stats := summarize([]int{40, 50, 60})
	if stats.Mean != 50 {
		t.Errorf("mean = %v, want 50", stats.Mean)
	}
	// Population stdev of {40, 50, 60} is sqrt(200/3).
	if want := math.Sqrt(200.0 / 3.0); math.Abs(stats.Stdev-want) > 0.001 {
		t.Errorf("stdev = %v, want %v", stats.Stdev, want)
	}
	if stats.P50 != 50 {
		t.Errorf("p50 = %d, want 50", stats.P50)
	}
	if (summarize(nil) != DimStats{}) {
		t.Error("empty input must yield zero stats")
	}
}

// seedScoreDims seeds a score row with explicit dimension values so the
// per-dimension distribution is observable.
func seedScoreDims(t *testing.T, s *store.Store, wallet string, composite int, dims models.Dimensions) {
	t.Helper()
	now := time.Now().UTC()
	sc := models.Score{
		Wallet:              wallet,
		Composite:           composite,
		RawComposite:        composite,
		Dimensions:          dims,
		Tier:                models.TierEstablished,
		Confidence:          0.8,
		Recommendation:      models.RecommendProceed,
		ModelVersion:        "test",
		IntegrityMultiplier: 1.0,
		Snapshot:            "{}",
		ComputedAt:          now.Format(store.TimeFormat),
		ExpiresAt:           now.Add(time.Hour).Format(store.TimeFormat),
	}
	if err := s.UpsertScore(context.Background(), sc); err != nil {
		t.Fatalf("UpsertScore(%s): %v", wallet, err)
	}
}

func TestSnapshotPopulation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		seedScoreDims(t, s, fmt.Sprintf("0xw%03d", i), 40+i%21, models.Dimensions{
			Reliability: 30 + i%11,
			Viability:   70,
			Identity:    20,
			Capability:  10,
			Behavior:    50,
		})
	}
	stats, err := SnapshotPopulation(ctx, s)
	if err != nil {
		t.Fatalf("SnapshotPopulation: %v", err)
	}
	if stats.Count != 100 {
		t.Errorf("count = %d, want 100", stats.Count)
	}
	if stats.Composite.P50 < 40 || stats.Composite.P50 > 60 {
		t.Errorf("median %d outside seeded range [40, 60]", stats.Composite.P50)
	}

	rel, ok := stats.Dimensions["reliability"]
	if !ok {
		t.Fatal("per-dimension stats missing reliability")
	}
	if rel.P50 < 30 || rel.P50 > 40 {
		t.Errorf("reliability median %d outside seeded range [30, 40]", rel.P50)
	}
	if via := stats.Dimensions["viability"]; via.Mean != 70 || via.Stdev != 0 {
		t.Errorf("constant dimension expected mean 70 stdev 0, got %+v", via)
	}

	loaded, ok := LoadPopulation(ctx, s)
	if !ok {
		t.Fatal("snapshot not persisted")
	}
	if loaded.Composite.P50 != stats.Composite.P50 || loaded.Count != stats.Count {
		t.Errorf("persisted snapshot mismatch: %+v vs %+v", loaded, stats)
	}
	if loaded.Dimensions["behavior"].P50 != 50 {
		t.Errorf("persisted behavior median = %d, want 50", loaded.Dimensions["behavior"].P50)
	}
}

func TestSnapshotPopulationRejectsImplausibleShift(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		seedScore(t, s, fmt.Sprintf("0xw%03d", i), 20)
	}
	first, err := SnapshotPopulation(ctx, s)
	if err != nil {
		t.Fatalf("first snapshot: %v", err)
	}
	if first.Composite.P50 != 20 {
		t.Fatalf("expected median 20, got %d", first.Composite.P50)
	}

	// Rewriting every score 70 points higher in one cycle is not a real
	// population move; the snapshot must hold the previous stats.
	for i := 0; i < 100; i++ {
		seedScore(t, s, fmt.Sprintf("0xw%03d", i), 90)
	}
	second, err := SnapshotPopulation(ctx, s)
	if err != nil {
		t.Fatalf("second snapshot: %v", err)
	}
	if second.Composite.P50 != 20 {
		t.Errorf("implausible shift accepted: median %d", second.Composite.P50)
	}
	loaded, _ := LoadPopulation(ctx, s)
	if loaded.Composite.P50 != 20 {
		t.Errorf("persisted snapshot overwritten: median %d", loaded.Composite.P50)
	}
}

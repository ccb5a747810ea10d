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

func TestTuneWeights_SkipsThinSample(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	provider := &WeightProvider{Store: s}

	if err := TuneWeights(ctx, s, provider); err != nil {
		t.Fatalf("TuneWeights: %v", err)
	}
	if got := provider.Current(ctx); got != models.DefaultWeights() {
		t.Errorf("empty sample must not move weights, got %+v", got)
	}
}

func seedScoredOutcome(t *testing.T, s *store.Store, i int, dims models.Dimensions, typ models.OutcomeType) {
	t.Helper()
	ctx := context.Background()
	wallet := fmt.Sprintf("0xow%04d", i)
	now := time.Now().UTC()

	sc := models.Score{
		Wallet:              wallet,
		Composite:           60,
		RawComposite:        60,
		Dimensions:          dims,
		Tier:                models.TierEstablished,
		Confidence:          0.7,
		Recommendation:      models.RecommendProceed,
		ModelVersion:        "test",
		IntegrityMultiplier: 1.0,
		Snapshot:            "{}",
		ComputedAt:          now.Format(store.TimeFormat),
		ExpiresAt:           now.Add(time.Hour).Format(store.TimeFormat),
	}
	if err := s.UpsertScore(ctx, sc); err != nil {
		t.Fatalf("UpsertScore: %v", err)
	}
	if err := s.LogQuery(ctx, "caller", wallet, 60); err != nil {
		t.Fatalf("LogQuery: %v", err)
	}
	queries, err := s.UnmatchedQueries(ctx, farFuture, 1)
	if err != nil || len(queries) != 1 {
		t.Fatalf("UnmatchedQueries: %v (%d rows)", err, len(queries))
	}
	o := models.Outcome{
		QueryID:      queries[0].ID,
		Wallet:       wallet,
		Type:         typ,
		ScoreAtQuery: 60,
		MatchedAt:    store.Now(),
	}
	if err := s.UpsertOutcome(ctx, o); err != nil {
		t.Fatalf("UpsertOutcome: %v", err)
	}
}

func TestTuneWeights_DriftsTowardSeparatingDimension(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	provider := &WeightProvider{Store: s}

	// Behavior cleanly separates good actors from bad ones while every
	// other dimension scores both populations identically, so behavior
	// should gain weight at the others' expense.
	good := models.Dimensions{Reliability: 50, Viability: 50, Identity: 50, Capability: 50, Behavior: 90}
	bad := models.Dimensions{Reliability: 50, Viability: 50, Identity: 50, Capability: 50, Behavior: 10}

	for i := 0; i < 160; i++ {
		seedScoredOutcome(t, s, i, good, models.OutcomeSuccessfulTx)
	}
	for i := 160; i < 200; i++ {
		seedScoredOutcome(t, s, i, bad, models.OutcomeFraudReport)
	}

	if err := TuneWeights(ctx, s, provider); err != nil {
		t.Fatalf("TuneWeights: %v", err)
	}

	def := models.DefaultWeights()
	got := provider.Current(ctx)
	if got.Behavior <= def.Behavior {
		t.Errorf("behavior weight should rise from %v, got %v", def.Behavior, got.Behavior)
	}
	if got.Reliability >= def.Reliability {
		t.Errorf("reliability weight should fall from %v, got %v", def.Reliability, got.Reliability)
	}

	// Bounded drift and near-unit sum, even after renormalization.
	pairs := [][2]float64{
		{got.Reliability, def.Reliability},
		{got.Viability, def.Viability},
		{got.Identity, def.Identity},
		{got.Capability, def.Capability},
		{got.Behavior, def.Behavior},
	}
	for _, p := range pairs {
		if math.Abs(p[0]-p[1]) > weightMaxDrift+1e-9 {
			t.Errorf("weight %v drifted more than %v from default %v", p[0], weightMaxDrift, p[1])
		}
	}
	sum := got.Reliability + got.Viability + got.Identity + got.Capability + got.Behavior
	if sum < 0.95 || sum > 1.05 {
		t.Errorf("weights should stay near unit sum, got %v", sum)
	}
}

func TestClampDriftF(t *testing.T) {
	if got := clampDriftF(0.40, 0.30); got != 0.35 {
		t.Errorf("upward drift should clamp to 0.35, got %v", got)
	}
	if got := clampDriftF(0.20, 0.30); got != 0.25 {
		t.Errorf("downward drift should clamp to 0.25, got %v", got)
	}
	if got := clampDriftF(0.32, 0.30); got != 0.32 {
		t.Errorf("in-bounds value should pass through, got %v", got)
	}
}

func TestWeightProviderFallsBackOnGarbage(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.SetState(ctx, store.StateWeightAdjustments, "{broken"); err != nil {
		t.Fatalf("SetState: %v", err)
	}
	provider := &WeightProvider{Store: s}
	if got := provider.Current(ctx); got != models.DefaultWeights() {
		t.Errorf("garbage blob must fall back to defaults, got %+v", got)
	}
}

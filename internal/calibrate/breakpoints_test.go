package calibrate

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/trustrank/scoring-engine/internal/store"
)

func TestShiftForGatesOnMaturityBaseline(t *testing.T) {
	tests := []struct {
		name     string
		median   int
		expected float64
	}{
		{"Immature Population", 40, 0},
		{"At Baseline", 50, 0},
		{"Modest Maturity", 60, 0.20},
		{"At Cap", 65, 0.30},
		{"Beyond Cap", 100, 0.30},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := shiftFor(tt.median); math.Abs(got-tt.expected) > 0.001 {
				t.Errorf("shiftFor(%d) = %v, want %v", tt.median, got, tt.expected)
			}
		})
	}
}

func TestTuneBreakpointsFollowsPopulationMedian(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	provider := &BreakpointProvider{Store: s}

	for i := 0; i < 100; i++ {
		seedScore(t, s, fmt.Sprintf("0xw%03d", i), 60)
	}
	if _, err := SnapshotPopulation(ctx, s); err != nil {
		t.Fatalf("SnapshotPopulation: %v", err)
	}
	if err := TuneBreakpoints(ctx, s, provider); err != nil {
		t.Fatalf("TuneBreakpoints: %v", err)
	}
	if got := provider.Current(ctx); math.Abs(got-0.20) > 0.001 {
		t.Errorf("shift after tuning = %v, want 0.20", got)
	}
}

func TestTuneBreakpointsResetsBelowPopulationFloor(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	provider := &BreakpointProvider{Store: s}

	// A stale nonzero ratio must not survive a tuning pass over a
	// too-small population.
	if err := s.SetState(ctx, store.StateBreakpointShift, "0.25"); err != nil {
		t.Fatalf("SetState: %v", err)
	}
	for i := 0; i < 5; i++ {
		seedScore(t, s, fmt.Sprintf("0xw%02d", i), 90)
	}
	if _, err := SnapshotPopulation(ctx, s); err != nil {
		t.Fatalf("SnapshotPopulation: %v", err)
	}
	if err := TuneBreakpoints(ctx, s, provider); err != nil {
		t.Fatalf("TuneBreakpoints: %v", err)
	}
	if got := provider.Current(ctx); got != 0 {
		t.Errorf("small population must reset the shift, got %v", got)
	}
}

func TestBreakpointProviderFallsBackOnGarbage(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.SetState(ctx, store.StateBreakpointShift, "not-a-number"); err != nil {
		t.Fatalf("SetState: %v", err)
	}
	provider := &BreakpointProvider{Store: s}
	if got := provider.Current(ctx); got != 0 {
		t.Errorf("garbage state value must fall back to 0, got %v", got)
	}

	// Out-of-range values are treated the same way.
	if err := s.SetState(ctx, store.StateBreakpointShift, "0.95"); err != nil {
		t.Fatalf("SetState: %v", err)
	}
	provider.Invalidate()
	if got := provider.Current(ctx); got != 0 {
		t.Errorf("out-of-range value must fall back to 0, got %v", got)
	}
}

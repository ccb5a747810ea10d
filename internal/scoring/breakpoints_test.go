package scoring

import (
	"math"
	"testing"
)

func TestInterpolate(t *testing.T) {
	table := []Breakpoint{{0, 0}, {10, 50}, {20, 100}}

	tests := []struct {
		name     string
		input    float64
		expected float64
	}{
		{"Below Range Clamps Low", -5, 0},
		{"Exact Breakpoint", 10, 50},
		{"Midpoint Interpolates", 5, 25},
		{"Upper Segment", 15, 75},
		{"Above Range Clamps High", 100, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Interpolate(table, tt.input)
			if math.Abs(got-tt.expected) > 0.001 {
				t.Errorf("Interpolate(%v) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestInterpolateShifted(t *testing.T) {
	table := []Breakpoint{{0, 0}, {10, 50}, {20, 100}}

	tests := []struct {
		name     string
		input    float64
		shift    float64
		expected float64
	}{
		{"Zero Shift Matches Plain", 10, 0, 50},
		{"Negative Shift Ignored", 10, -0.5, 50},
		{"Stretched Ladder Pays Less", 10, 0.25, 40}, // scores as 8
		{"Capped Shift", 13, 0.30, 50},               // scores as 10
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := InterpolateShifted(table, tt.input, tt.shift)
			if math.Abs(got-tt.expected) > 0.001 {
				t.Errorf("InterpolateShifted(%v, %v) = %v, want %v", tt.input, tt.shift, got, tt.expected)
			}
		})
	}
}

func TestClampScore(t *testing.T) {
	if got := clampScore(-3); got != 0 {
		t.Errorf("negative input should clamp to 0, got %d", got)
	}
	if got := clampScore(120); got != 100 {
		t.Errorf("oversized input should clamp to 100, got %d", got)
	}
	if got := clampScore(49.6); got != 50 {
		t.Errorf("expected rounding to 50, got %d", got)
	}
}

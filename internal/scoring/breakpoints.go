package scoring

import "math"

// Breakpoint tables
//
// Every graded signal maps through a configured ⟨input, points⟩ table with
// linear interpolation between known points and clamping outside the
// range. Tables whose inputs span orders of magnitude (tx counts, revenue)
// place their breakpoints on a log-ish ladder, which gives the familiar
// piecewise-log response without any transcendental math at score time.

// Breakpoint is one ⟨input, points⟩ pair.
type Breakpoint struct {
	Input  float64 `yaml:"input"`
	Points float64 `yaml:"points"`
}

// Interpolate maps v through the table: linear between neighbors, clamped
// to the first/last points outside the range. Tables must be sorted by
// Input ascending.
func Interpolate(table []Breakpoint, v float64) float64 {
	if len(table) == 0 {
		return 0
	}
	if v <= table[0].Input {
		return table[0].Points
	}
	last := table[len(table)-1]
	if v >= last.Input {
		return last.Points
	}
	for i := 1; i < len(table); i++ {
		if v <= table[i].Input {
			lo, hi := table[i-1], table[i]
			span := hi.Input - lo.Input
			if span <= 0 {
				return hi.Points
			}
			frac := (v - lo.Input) / span
			return lo.Points + frac*(hi.Points-lo.Points)
		}
	}
	return last.Points
}

// InterpolateShifted maps v through a table whose input ladder has been
// stretched upward by ratio r: the same input buys the points of v/(1+r).
// Calibration raises r as the population matures, capped at 0.30; only
// volume-denominated evidence ladders shift, recency tables never do.
func InterpolateShifted(table []Breakpoint, v, r float64) float64 {
	if r <= 0 {
		return Interpolate(table, v)
	}
	return Interpolate(table, v/(1+r))
}

// clampScore bounds a dimension score to [0, 100] and rounds it.
func clampScore(v float64) int {
	if v < 0 {
		v = 0
	}
	if v > 100 {
		v = 100
	}
	return int(math.Round(v))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

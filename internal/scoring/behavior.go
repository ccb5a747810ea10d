package scoring

import (
	"math"
	"sort"
	"time"

	"github.com/trustrank/scoring-engine/pkg/models"
)

// Behaviour (weight 0.15)
//
// Temporal texture of the wallet's transfer history. Humans and honest
// services are irregular: varied inter-arrival times, activity spread
// across hours of the day, multi-day gaps. Scripted wallets are metronomic
// and concentrated. Three signals:
//
//   1. Coefficient of variation of inter-arrival times (irregular = organic)
//   2. Hour-of-day entropy, normalised by log2(24)
//   3. Maximum gap between consecutive transfers
//
// Fewer than 2 timestamps is unscoreable and returns the neutral 50.
// With 2-4 timestamps the raw score is blended toward that baseline by
// (n-1)/4 so thin histories cannot swing the dimension hard either way.

const insufficientBaseline = 50

var (
	behaviorCVTable = []Breakpoint{
		{0, 0}, {0.25, 20}, {0.5, 45}, {0.75, 70}, {1.0, 85}, {1.5, 100},
	}
	behaviorEntropyTable = []Breakpoint{
		{0, 0}, {0.3, 40}, {0.5, 60}, {0.7, 85}, {0.85, 100},
	}
	behaviorGapTable = []Breakpoint{ // hours
		{0, 10}, {6, 40}, {24, 75}, {48, 90}, {96, 100},
	}
)

// BehaviorResult carries the score, classification and signal breakdown.
type BehaviorResult struct {
	Score     int
	Class     models.BehaviorClass
	Breakdown models.SignalBreakdown
}

// ScoreBehavior analyzes the ordered sequence of transfer timestamps.
func ScoreBehavior(times []time.Time) BehaviorResult {
	if len(times) < 2 {
		return BehaviorResult{
			Score: insufficientBaseline,
			Class: classifyBehavior(insufficientBaseline),
			Breakdown: models.SignalBreakdown{
				"insufficient": insufficientBaseline,
			},
		}
	}

	sorted := make([]time.Time, len(times))
	copy(sorted, times)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	cv := interArrivalCV(sorted)
	entropy := hourEntropy(sorted)
	maxGap := maxGapHours(sorted)

	bd := models.SignalBreakdown{
		"interarrival_cv": Interpolate(behaviorCVTable, cv),
		"hour_entropy":    Interpolate(behaviorEntropyTable, entropy),
		"max_gap":         Interpolate(behaviorGapTable, maxGap),
	}
	raw := 0.40*bd["interarrival_cv"] + 0.35*bd["hour_entropy"] + 0.25*bd["max_gap"]

	// Thin histories blend toward the insufficient baseline.
	if len(sorted) < 5 {
		weight := float64(len(sorted)-1) / 4.0
		raw = insufficientBaseline + (raw-insufficientBaseline)*weight
	}

	score := clampScore(raw)
	return BehaviorResult{Score: score, Class: classifyBehavior(score), Breakdown: bd}
}

func classifyBehavior(score int) models.BehaviorClass {
	switch {
	case score >= 70:
		return models.BehaviorOrganic
	case score >= 45:
		return models.BehaviorMixed
	case score >= 25:
		return models.BehaviorAutomated
	default:
		return models.BehaviorSuspicious
	}
}

// interArrivalCV computes σ/μ of consecutive gaps.
func interArrivalCV(times []time.Time) float64 {
	intervals := make([]float64, len(times)-1)
	for i := 1; i < len(times); i++ {
		intervals[i-1] = times[i].Sub(times[i-1]).Hours()
	}
	mean := 0.0
	for _, v := range intervals {
		mean += v
	}
	mean /= float64(len(intervals))
	if mean <= 0 {
		return 0
	}
	variance := 0.0
	for _, v := range intervals {
		d := v - mean
		variance += d * d
	}
	stddev := math.Sqrt(variance / float64(len(intervals)))
	return stddev / mean
}

// hourEntropy computes Shannon entropy over the hour-of-day histogram,
// normalised to [0,1] by the 24-bin maximum.
func hourEntropy(times []time.Time) float64 {
	counts := make([]int, 24)
	for _, t := range times {
		counts[t.UTC().Hour()]++
	}
	n := float64(len(times))
	entropy := 0.0
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / n
		entropy -= p * math.Log2(p)
	}
	return entropy / math.Log2(24)
}

func maxGapHours(times []time.Time) float64 {
	max := 0.0
	for i := 1; i < len(times); i++ {
		if g := times[i].Sub(times[i-1]).Hours(); g > max {
			max = g
		}
	}
	return max
}

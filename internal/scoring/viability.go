package scoring

import "github.com/trustrank/scoring-engine/pkg/models"

// Viability (weight 0.25)
//
// Whether the wallet can keep operating: balances, income vs burn, age,
// and the flow trend. A wallet that was ever fully drained carries a
// lasting penalty.

// ViabilityInput holds the facts the scorer consumes.
type ViabilityInput struct {
	NativeBalance float64 // ether units (gas runway)
	TokenBalance  float64 // stablecoin units; 24h average when the
	// window-dressing override is active
	IncomeBurnRatio float64
	AgeDays         float64
	Trend           models.Trend
	EverDrained     bool
	TableShift      float64 // population-maturity ladder stretch
}

var (
	viabilityNativeTable = []Breakpoint{
		{0, 0}, {0.0005, 5}, {0.005, 9}, {0.05, 13}, {0.5, 15},
	}
	viabilityTokenTable = []Breakpoint{
		{0, 0}, {1, 8}, {10, 14}, {100, 21}, {1000, 25},
	}
	viabilityRatioTable = []Breakpoint{
		{0, 0}, {0.5, 6}, {1.0, 12}, {1.5, 16}, {3.0, 20},
	}
	viabilityAgeTable = []Breakpoint{
		{0, 0}, {1, 4}, {7, 9}, {30, 15}, {90, 21}, {365, 25},
	}
)

var viabilityTrendPoints = map[models.Trend]float64{
	models.TrendRising:    15,
	models.TrendStable:    11,
	models.TrendDeclining: 5,
	models.TrendFreefall:  0,
}

const drainedPenalty = 15

// ScoreViability returns the dimension score and its signal breakdown.
func ScoreViability(in ViabilityInput) (int, models.SignalBreakdown) {
	bd := models.SignalBreakdown{}

	bd["native_balance"] = Interpolate(viabilityNativeTable, in.NativeBalance)
	bd["token_balance"] = InterpolateShifted(viabilityTokenTable, in.TokenBalance, in.TableShift)
	bd["income_burn_ratio"] = Interpolate(viabilityRatioTable, in.IncomeBurnRatio)
	bd["wallet_age"] = Interpolate(viabilityAgeTable, in.AgeDays)
	bd["trend"] = viabilityTrendPoints[in.Trend]
	if in.EverDrained {
		bd["drained"] = -drainedPenalty
	}

	total := 0.0
	for _, v := range bd {
		total += v
	}
	return clampScore(total), bd
}

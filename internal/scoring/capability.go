package scoring

import "github.com/trustrank/scoring-engine/pkg/models"

// Capability (weight 0.10)
//
// What the wallet actually delivers: an estimate of active micro-payment
// services from settlement-count buckets, plus a revenue ladder.

// CapabilityInput holds the facts the scorer consumes.
type CapabilityInput struct {
	SettlementCount int64
	Revenue30d      float64 // inbound settlements, token units
	UniquePartners  int
	TableShift      float64 // population-maturity ladder stretch
}

var capabilityRevenueTable = []Breakpoint{
	{0, 0}, {1, 10}, {10, 20}, {100, 32}, {1000, 40},
}

// ScoreCapability returns the dimension score and its signal breakdown.
func ScoreCapability(in CapabilityInput) (int, models.SignalBreakdown) {
	bd := models.SignalBreakdown{}

	bd["active_services"] = float64(estimateServices(in)) * 15
	if bd["active_services"] > 60 {
		bd["active_services"] = 60
	}
	bd["revenue"] = InterpolateShifted(capabilityRevenueTable, in.Revenue30d, in.TableShift)

	total := 0.0
	for _, v := range bd {
		total += v
	}
	return clampScore(total), bd
}

// estimateServices buckets settlement volume into a rough count of live
// services. With thin data it falls back to a partner-based heuristic:
// several distinct paying partners implies at least one real service.
func estimateServices(in CapabilityInput) int {
	switch {
	case in.SettlementCount >= 1000:
		return 4
	case in.SettlementCount >= 250:
		return 3
	case in.SettlementCount >= 50:
		return 2
	case in.SettlementCount >= 10:
		return 1
	case in.UniquePartners >= 3 && in.SettlementCount > 0:
		return 1
	default:
		return 0
	}
}

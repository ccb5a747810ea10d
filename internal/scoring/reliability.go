package scoring

import "github.com/trustrank/scoring-engine/pkg/models"

// Reliability (weight 0.30)
//
// How consistently the wallet shows up and settles. Signals: settlement
// count, account nonce, success-rate proxy, uptime span against a 14-day
// window, and a recency tier from blocks since the last transaction.

// ReliabilityInput holds the facts the scorer consumes. Gathered by the
// engine; the scorer itself does no I/O.
type ReliabilityInput struct {
	TxCount         int64   // indexed micro-payment settlements
	Nonce           uint64  // live account nonce
	SuccessRate     float64 // 0-1, proxy from receipts seen in window
	UptimeSpanRatio float64 // active span / 14d window, 0-1
	BlocksSinceLast uint64  // blocks since most recent tx
	TableShift      float64 // population-maturity ladder stretch
}

var (
	// Log ladder: 1 tx barely registers, 100+ settles the signal.
	reliabilityTxTable = []Breakpoint{
		{0, 0}, {1, 8}, {5, 14}, {10, 18}, {25, 22}, {50, 26}, {100, 30}, {500, 32},
	}
	reliabilityNonceTable = []Breakpoint{
		{0, 0}, {5, 4}, {20, 8}, {50, 11}, {200, 14}, {1000, 15},
	}
	// Recency in blocks (2 s blocks: 43 200/day).
	reliabilityRecencyTable = []Breakpoint{
		{0, 18}, {43_200, 18}, {302_400, 12}, {1_296_000, 6}, {2_592_000, 0},
	}
)

// ScoreReliability returns the dimension score and its signal breakdown.
func ScoreReliability(in ReliabilityInput) (int, models.SignalBreakdown) {
	bd := models.SignalBreakdown{}

	bd["tx_count"] = InterpolateShifted(reliabilityTxTable, float64(in.TxCount), in.TableShift)
	bd["nonce"] = InterpolateShifted(reliabilityNonceTable, float64(in.Nonce), in.TableShift)
	bd["success_rate"] = clamp01(in.SuccessRate) * 20
	bd["uptime_span"] = clamp01(in.UptimeSpanRatio) * 15
	bd["recency"] = Interpolate(reliabilityRecencyTable, float64(in.BlocksSinceLast))

	total := 0.0
	for _, v := range bd {
		total += v
	}
	return clampScore(total), bd
}

package detect

import (
	"context"
	"log"
	"time"

	"github.com/trustrank/scoring-engine/internal/store"
	"github.com/trustrank/scoring-engine/pkg/models"
)

// Gaming Detection
//
// Where sybil detection looks at graph structure, gaming detection looks
// at temporal patterns: behavior shaped to inflate a score rather than to
// transact. Each indicator produces a subtractive per-dimension penalty,
// an integrity factor, and optionally an input override (e.g. score
// against the 24h average balance instead of the spot balance).

// GamingInput carries the live facts the detector needs beyond the store.
type GamingInput struct {
	Wallet  string
	Nonce   uint64 // live account nonce from RPC
	TxCount int64  // indexed transfer count
}

// GamingResult aggregates detected indicators and their effects.
type GamingResult struct {
	Indicators    []models.GamingIndicator
	Penalties     map[string]int // dimension -> points subtracted
	Factors       []float64      // integrity multiplier contributions
	UseAvgBalance bool           // viability override
}

func (r *GamingResult) Flagged() bool {
	return len(r.Indicators) > 0
}

func (r *GamingResult) add(ind models.GamingIndicator, factor float64, penalties map[string]int) {
	r.Indicators = append(r.Indicators, ind)
	r.Factors = append(r.Factors, factor)
	for dim, p := range penalties {
		r.Penalties[dim] += p
	}
}

const (
	dressingSpikeRatio  = 3.0 // 24h inflow vs 30d daily average
	dressingMinInflow   = 10.0
	burstActiveMax      = 7 * 24 * time.Hour
	burstSilenceMin     = 14 * 24 * time.Hour
	nonceInflationRatio = 5.0
	nonceInflationFloor = 50
	recycleWindow       = 24 * time.Hour
	recycleShare        = 0.60
)

// DetectGaming inspects one wallet's temporal patterns. Probe errors are
// logged and treated as "not triggered".
func (d *Detector) DetectGaming(ctx context.Context, in GamingInput) *GamingResult {
	res := &GamingResult{Penalties: make(map[string]int)}

	stats, err := d.Store.GetWalletStats(ctx, in.Wallet)
	if err != nil && err != store.ErrNotFound {
		log.Printf("[Gaming] stats query failed for %s: %v", in.Wallet, err)
		return res
	}

	if stats != nil && windowDressing(stats) {
		res.add(models.GamingWindowDressing, 0.85, map[string]int{DimViability: 10})
		res.UseAvgBalance = true
	}

	if d.burstAndStop(ctx, in.Wallet) {
		res.add(models.GamingBurstAndStop, 0.85, map[string]int{DimReliability: 8})
	}

	if nonceInflation(in) {
		res.add(models.GamingNonceInflation, 0.90, map[string]int{DimReliability: 8})
	}

	if d.revenueRecycling(ctx, in.Wallet) {
		res.add(models.GamingRevenueRecycle, 0.80, map[string]int{DimBehavior: 10, DimViability: 5})
	}

	if res.Flagged() {
		log.Printf("[Gaming] %s flagged: %v", in.Wallet, res.Indicators)
	}
	return res
}

// windowDressing fires when the last 24h inflow spikes well above the
// 30-day daily average — balance dressed up right before a score compute.
func windowDressing(stats *models.WalletStats) bool {
	if stats.Inflow24h < dressingMinInflow {
		return false
	}
	dailyAvg := stats.Inflow30d / 30.0
	if dailyAvg <= 0 {
		// All inflow arrived in the last day; that alone is suspicious
		// only when the amount is meaningful.
		return stats.Inflow24h >= dressingMinInflow*3
	}
	return stats.Inflow24h/dailyAvg >= dressingSpikeRatio
}

// burstAndStop fires on a short burst of activity followed by silence:
// the whole active span fits in a week, and the wallet has been quiet for
// two weeks or more since.
func (d *Detector) burstAndStop(ctx context.Context, wallet string) bool {
	w, err := d.Store.GetWallet(ctx, wallet)
	if err != nil {
		return false
	}
	first, err1 := store.ParseTime(w.FirstSeen)
	last, err2 := store.ParseTime(w.LastSeen)
	if err1 != nil || err2 != nil || w.TxCount < 5 {
		return false
	}
	active := last.Sub(first)
	silence := time.Since(last)
	return active <= burstActiveMax && silence >= burstSilenceMin
}

// nonceInflation fires when the live account nonce dwarfs the indexed
// payment activity: lots of transactions that are not real payments.
func nonceInflation(in GamingInput) bool {
	if in.Nonce < nonceInflationFloor {
		return false
	}
	if in.TxCount == 0 {
		return true
	}
	return float64(in.Nonce)/float64(in.TxCount) >= nonceInflationRatio
}

// revenueRecycling fires when most inbound value leaves again within a
// day — revenue that only exists to be counted.
func (d *Detector) revenueRecycling(ctx context.Context, wallet string) bool {
	since := time.Now().UTC().Add(-7 * 24 * time.Hour).Format(store.TimeFormat)
	transfers, err := d.Store.WalletTransfers(ctx, wallet, since, 2000)
	if err != nil {
		log.Printf("[Gaming] transfer query failed for %s: %v", wallet, err)
		return false
	}

	var inflow, recycled float64
	for i, t := range transfers {
		if t.To != wallet {
			continue
		}
		inflow += t.Amount
		recv, _ := store.ParseTime(t.Timestamp)
		for _, out := range transfers[i+1:] {
			if out.From != wallet {
				continue
			}
			sent, _ := store.ParseTime(out.Timestamp)
			if sent.Sub(recv) <= recycleWindow && out.Amount >= t.Amount*0.9 {
				recycled += t.Amount
				break
			}
		}
	}
	return inflow > 0 && recycled/inflow > recycleShare
}

package detect

import (
	"context"
	"log"
	"math"
	"time"

	"github.com/trustrank/scoring-engine/internal/store"
	"github.com/trustrank/scoring-engine/pkg/models"
)

// Sybil Detection
//
// Inspects the relationship graph and funding history of a target wallet
// for coordination patterns. Each detected indicator contributes a
// dimension cap, an integrity factor, or both. The factors multiply into
// the integrity multiplier; they are continuous dampeners, not a
// classifier — a flagged wallet still gets a score, just a discounted one.
//
// All queries run against the store's edge list. No in-memory graph is
// built; partner-pair checks are point lookups on the ordered-pair key.

// Dimension names used as cap/penalty keys.
const (
	DimReliability = "reliability"
	DimViability   = "viability"
	DimIdentity    = "identity"
	DimCapability  = "capability"
	DimBehavior    = "behavior"
)

// SybilResult aggregates every detected indicator with its effects.
type SybilResult struct {
	Indicators []models.SybilIndicator
	Caps       map[string]int // dimension -> max score
	Factors    []float64      // integrity multiplier contributions
}

// Flagged reports whether any indicator fired.
func (r *SybilResult) Flagged() bool {
	return len(r.Indicators) > 0
}

func (r *SybilResult) add(ind models.SybilIndicator, factor float64, caps map[string]int) {
	r.Indicators = append(r.Indicators, ind)
	r.Factors = append(r.Factors, factor)
	for dim, cap := range caps {
		if existing, ok := r.Caps[dim]; !ok || cap < existing {
			r.Caps[dim] = cap
		}
	}
}

const (
	topPartnerCount      = 5
	clusterEdgeMinTxs    = 3
	symmetricTolerance   = 0.10
	washWindowDays       = 7
	washRoundTripWindow  = 24 * time.Hour
	washVolumeShare      = 0.40
	creationWindow       = 24 * time.Hour
	dominanceShare       = 0.80
	diversityMinPartners = 3
	diversityVolumeFloor = 100.0 // 30d volume, token units
)

// Detector runs sybil analysis over the store.
type Detector struct {
	Store *store.Store
}

// DetectSybil inspects one wallet and returns every triggered indicator.
// Errors on individual probes are logged and treated as "not triggered";
// detection must never block scoring.
func (d *Detector) DetectSybil(ctx context.Context, wallet string) *SybilResult {
	res := &SybilResult{Caps: make(map[string]int)}

	partners, err := d.Store.Partners(ctx, wallet, 50)
	if err != nil {
		log.Printf("[Sybil] partner query failed for %s: %v", wallet, err)
		return res
	}
	if len(partners) == 0 {
		return res
	}

	if d.tightCluster(ctx, wallet, partners) {
		res.add(models.SybilTightCluster, 0.55, map[string]int{DimReliability: 40})
	}
	if symmetricPartnerships(wallet, partners) {
		res.add(models.SybilSymmetricTxs, 0.60, nil)
	}
	if d.washTrading(ctx, wallet) {
		res.add(models.SybilWashTrading, 0.50, map[string]int{DimReliability: 30})
	}
	if d.coordinatedCreation(ctx, wallet, partners) {
		res.add(models.SybilCoordinatedCreate, 0.65, map[string]int{DimIdentity: 35})
	}

	funded, single := d.fundingSource(ctx, wallet, partners)
	if funded {
		res.add(models.SybilFundedByTopPartner, 0.60, map[string]int{DimIdentity: 30})
	} else if single {
		res.add(models.SybilSingleSourceFunds, 0.75, map[string]int{DimReliability: 50})
	}

	if singlePartnerDominance(wallet, partners) {
		res.add(models.SybilSinglePartner, 0.75, nil)
	}
	if d.volumeWithoutDiversity(ctx, wallet, partners) {
		res.add(models.SybilVolumeNoDiversity, 0.80, nil)
	}

	if res.Flagged() {
		log.Printf("[Sybil] %s flagged: %v", wallet, res.Indicators)
	}
	return res
}

// tightCluster checks whether the wallet's top partners transact heavily
// among themselves: more than half of the possible pairs hold an edge
// with a meaningful tx count.
func (d *Detector) tightCluster(ctx context.Context, wallet string, partners []models.RelationshipEdge) bool {
	top := partnerAddrs(wallet, partners, topPartnerCount)
	if len(top) < 3 {
		return false
	}
	pairs, linked := 0, 0
	for i := 0; i < len(top); i++ {
		for j := i + 1; j < len(top); j++ {
			pairs++
			edge, err := d.Store.EdgeBetween(ctx, top[i], top[j])
			if err != nil {
				continue
			}
			if edge.TxCountAToB+edge.TxCountBToA >= clusterEdgeMinTxs {
				linked++
			}
		}
	}
	return pairs > 0 && float64(linked)/float64(pairs) > 0.5
}

// symmetricPartnerships fires when more than half of the partnerships
// have bidirectional volume within 10% of each other.
func symmetricPartnerships(wallet string, partners []models.RelationshipEdge) bool {
	if len(partners) < 2 {
		return false
	}
	symmetric := 0
	for _, e := range partners {
		out, in := directionalVolume(wallet, e)
		if out <= 0 || in <= 0 {
			continue
		}
		larger := math.Max(out, in)
		if math.Abs(out-in)/larger <= symmetricTolerance {
			symmetric++
		}
	}
	return float64(symmetric)/float64(len(partners)) > 0.5
}

// washTrading fires when more than 40% of the wallet's 7-day volume is
// round-tripped (A sends to B, B returns within 24h).
func (d *Detector) washTrading(ctx context.Context, wallet string) bool {
	since := time.Now().UTC().Add(-washWindowDays * 24 * time.Hour).Format(store.TimeFormat)
	transfers, err := d.Store.WalletTransfers(ctx, wallet, since, 2000)
	if err != nil {
		log.Printf("[Sybil] transfer query failed for %s: %v", wallet, err)
		return false
	}

	var total, roundTrip float64
	for i, t := range transfers {
		total += t.Amount
		if t.From != wallet {
			continue
		}
		sent, _ := store.ParseTime(t.Timestamp)
		for _, back := range transfers[i+1:] {
			if back.From != t.To || back.To != wallet {
				continue
			}
			ret, _ := store.ParseTime(back.Timestamp)
			if ret.Sub(sent) <= washRoundTripWindow {
				roundTrip += t.Amount + back.Amount
				break
			}
		}
	}
	return total > 0 && roundTrip/total > washVolumeShare
}

// coordinatedCreation fires when the wallet and its primary partner were
// first seen within the same 24h window.
func (d *Detector) coordinatedCreation(ctx context.Context, wallet string, partners []models.RelationshipEdge) bool {
	self, err := d.Store.GetWallet(ctx, wallet)
	if err != nil {
		return false
	}
	primary := partnerAddrs(wallet, partners, 1)
	if len(primary) == 0 {
		return false
	}
	other, err := d.Store.GetWallet(ctx, primary[0])
	if err != nil {
		return false
	}
	a, err1 := store.ParseTime(self.FirstSeen)
	b, err2 := store.ParseTime(other.FirstSeen)
	if err1 != nil || err2 != nil {
		return false
	}
	diff := a.Sub(b)
	if diff < 0 {
		diff = -diff
	}
	return diff <= creationWindow
}

// fundingSource checks whether the earliest inbound transfer came from the
// largest partner (funded_by_top_partner) or whether the wallet has only a
// single funding counterparty (single_source_funding).
func (d *Detector) fundingSource(ctx context.Context, wallet string, partners []models.RelationshipEdge) (funded, single bool) {
	sender, _, err := d.Store.EarliestInbound(ctx, wallet)
	if err != nil {
		return false, false
	}
	top := partnerAddrs(wallet, partners, 1)
	if len(top) > 0 && sender == top[0] {
		funded = true
	}

	inbound := make(map[string]bool)
	for _, e := range partners {
		_, in := directionalVolume(wallet, e)
		if in > 0 {
			inbound[otherEnd(wallet, e)] = true
		}
	}
	single = len(inbound) == 1
	return funded, single
}

// singlePartnerDominance fires when one partner carries the dominant share
// of the wallet's relationship tx count.
func singlePartnerDominance(wallet string, partners []models.RelationshipEdge) bool {
	if len(partners) == 0 {
		return false
	}
	var total, top int64
	for _, e := range partners {
		n := e.TxCountAToB + e.TxCountBToA
		total += n
		if n > top {
			top = n
		}
	}
	return total >= 5 && float64(top)/float64(total) > dominanceShare
}

// volumeWithoutDiversity fires on high 30-day volume concentrated in
// fewer than three partners.
func (d *Detector) volumeWithoutDiversity(ctx context.Context, wallet string, partners []models.RelationshipEdge) bool {
	if len(partners) >= diversityMinPartners {
		return false
	}
	stats, err := d.Store.GetWalletStats(ctx, wallet)
	if err != nil {
		return false
	}
	return stats.Inflow30d+stats.Outflow30d >= diversityVolumeFloor
}

// ─── helpers ─────────────────────────────────────────────────────────

func partnerAddrs(wallet string, edges []models.RelationshipEdge, n int) []string {
	out := make([]string, 0, n)
	for _, e := range edges {
		out = append(out, otherEnd(wallet, e))
		if len(out) == n {
			break
		}
	}
	return out
}

func otherEnd(wallet string, e models.RelationshipEdge) string {
	if e.WalletA == wallet {
		return e.WalletB
	}
	return e.WalletA
}

// directionalVolume returns (out, in) volume for the wallet on an edge.
func directionalVolume(wallet string, e models.RelationshipEdge) (out, in float64) {
	if e.WalletA == wallet {
		return e.VolumeAToB, e.VolumeBToA
	}
	return e.VolumeBToA, e.VolumeAToB
}

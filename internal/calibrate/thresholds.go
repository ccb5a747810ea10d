package calibrate

import (
	"context"
	"encoding/json"
	"log"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/trustrank/scoring-engine/internal/store"
	"github.com/trustrank/scoring-engine/pkg/models"
)

// Tier thresholds
//
// The tier boundaries are tunable: the calibration loop nudges them so the
// composite distribution maps onto target tier proportions. Adjusted
// values live in indexer_state and are read through a short-lived cache so
// the hot scoring path does not hit the store on every tier computation.

// Thresholds are the lower bounds for each tier above Unverified.
type Thresholds struct {
	Elite       int `json:"elite"`
	Trusted     int `json:"trusted"`
	Established int `json:"established"`
	Emerging    int `json:"emerging"`
}

// DefaultThresholds returns the baseline tier boundaries.
func DefaultThresholds() Thresholds {
	return Thresholds{Elite: 90, Trusted: 75, Established: 50, Emerging: 25}
}

// TierFor maps a composite score to its tier under these thresholds.
func (t Thresholds) TierFor(composite int) models.Tier {
	switch {
	case composite >= t.Elite:
		return models.TierElite
	case composite >= t.Trusted:
		return models.TierTrusted
	case composite >= t.Established:
		return models.TierEstablished
	case composite >= t.Emerging:
		return models.TierEmerging
	default:
		return models.TierUnverified
	}
}

const thresholdCacheTTL = 60 * time.Second

// maxThresholdDrift bounds how far calibration may move any boundary from
// its default.
const maxThresholdDrift = 10

// ThresholdProvider serves the current thresholds with a 60s read-through
// cache over indexer_state.
type ThresholdProvider struct {
	Store *store.Store

	mu        sync.Mutex
	cached    Thresholds
	fetchedAt time.Time
}

// Current returns the active thresholds, falling back to defaults when
// nothing is stored or the blob is unreadable.
func (p *ThresholdProvider) Current(ctx context.Context) Thresholds {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.fetchedAt.IsZero() && time.Since(p.fetchedAt) < thresholdCacheTTL {
		return p.cached
	}

	t := DefaultThresholds()
	raw, err := p.Store.GetState(ctx, store.StateTierThresholds)
	if err == nil {
		if jsonErr := json.Unmarshal([]byte(raw), &t); jsonErr != nil {
			log.Printf("[Calibrate] bad threshold blob, using defaults: %v", jsonErr)
			t = DefaultThresholds()
		}
	}
	p.cached = t
	p.fetchedAt = time.Now()
	return t
}

// Invalidate drops the cache; called after a tuning pass writes new values.
func (p *ThresholdProvider) Invalidate() {
	p.mu.Lock()
	p.fetchedAt = time.Time{}
	p.mu.Unlock()
}

// Target tier shares of the scored population, top down.
var tierTargets = struct {
	elite, trusted, established, emerging float64
}{0.05, 0.15, 0.30, 0.30}

// TuneThresholds recomputes tier boundaries from the composite
// distribution so tier shares approach the targets, clamped to ±10 points
// from the defaults. Requires a minimum population; below it the call is
// a no-op.
func TuneThresholds(ctx context.Context, st *store.Store, provider *ThresholdProvider, minPopulation int) error {
	samples, err := st.AllScores(ctx)
	if err != nil {
		return err
	}
	if len(samples) < minPopulation {
		log.Printf("[Calibrate] threshold tuning skipped: %d scored wallets < %d floor", len(samples), minPopulation)
		return nil
	}

	composites := make([]int, len(samples))
	for i, s := range samples {
		composites[i] = s.Composite
	}
	sort.Sort(sort.Reverse(sort.IntSlice(composites)))

	def := DefaultThresholds()
	tuned := Thresholds{
		Elite:       clampDrift(quantileFloor(composites, tierTargets.elite), def.Elite),
		Trusted:     clampDrift(quantileFloor(composites, tierTargets.elite+tierTargets.trusted), def.Trusted),
		Established: clampDrift(quantileFloor(composites, tierTargets.elite+tierTargets.trusted+tierTargets.established), def.Established),
		Emerging:    clampDrift(quantileFloor(composites, tierTargets.elite+tierTargets.trusted+tierTargets.established+tierTargets.emerging), def.Emerging),
	}
	// Boundaries must stay strictly ordered.
	if tuned.Trusted >= tuned.Elite {
		tuned.Trusted = tuned.Elite - 1
	}
	if tuned.Established >= tuned.Trusted {
		tuned.Established = tuned.Trusted - 1
	}
	if tuned.Emerging >= tuned.Established {
		tuned.Emerging = tuned.Established - 1
	}

	blob, _ := json.Marshal(tuned)
	if err := st.SetState(ctx, store.StateTierThresholds, string(blob)); err != nil {
		return err
	}
	provider.Invalidate()
	log.Printf("[Calibrate] tier thresholds tuned: %+v (population %d)", tuned, len(samples))
	return nil
}

// quantileFloor returns the composite at the given top-share cut of the
// descending-sorted distribution.
func quantileFloor(desc []int, share float64) int {
	if len(desc) == 0 {
		return 0
	}
	idx := int(math.Ceil(share*float64(len(desc)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(desc) {
		idx = len(desc) - 1
	}
	return desc[idx]
}

func clampDrift(v, def int) int {
	if v > def+maxThresholdDrift {
		return def + maxThresholdDrift
	}
	if v < def-maxThresholdDrift {
		return def - maxThresholdDrift
	}
	return v
}

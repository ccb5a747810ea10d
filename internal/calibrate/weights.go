package calibrate

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/trustrank/scoring-engine/internal/store"
	"github.com/trustrank/scoring-engine/pkg/models"
)

// Adaptive weight drift
//
// Each calibration cycle compares dimension scores between wallets that
// went on to positive outcomes and wallets that went negative. Dimensions
// that separate the two populations well gain weight, dimensions that do
// not lose it. Movement is tightly bounded: at most 0.02 per cycle and
// 0.05 total from the defaults, and the five weights are renormalized to
// sum to 1 after every adjustment.

const (
	weightStepPerCycle = 0.02
	weightMaxDrift     = 0.05

	// Minimum matched outcomes before any drift is allowed, and the
	// minimum negative share needed to trust the negative population.
	minOutcomeSample    = 200
	minNegativeOutcomes = 20

	weightCacheTTL = 60 * time.Second
)

// WeightProvider serves the active composite weights with a short cache,
// mirroring ThresholdProvider.
type WeightProvider struct {
	Store *store.Store

	mu        sync.Mutex
	cached    models.DimensionWeights
	fetchedAt time.Time
}

// Current returns the active weights, defaults when nothing is stored.
func (p *WeightProvider) Current(ctx context.Context) models.DimensionWeights {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.fetchedAt.IsZero() && time.Since(p.fetchedAt) < weightCacheTTL {
		return p.cached
	}

	w := models.DefaultWeights()
	raw, err := p.Store.GetState(ctx, store.StateWeightAdjustments)
	if err == nil {
		if jsonErr := json.Unmarshal([]byte(raw), &w); jsonErr != nil {
			log.Printf("[Calibrate] bad weight blob, using defaults: %v", jsonErr)
			w = models.DefaultWeights()
		}
	}
	p.cached = w
	p.fetchedAt = time.Now()
	return w
}

// Invalidate drops the cache after a tuning pass.
func (p *WeightProvider) Invalidate() {
	p.mu.Lock()
	p.fetchedAt = time.Time{}
	p.mu.Unlock()
}

// TuneWeights runs one drift cycle. It is a no-op until the matched
// outcome sample is large enough to mean anything.
func TuneWeights(ctx context.Context, st *store.Store, provider *WeightProvider) error {
	total, negative, err := st.OutcomeCounts(ctx)
	if err != nil {
		return err
	}
	if total < minOutcomeSample || negative < minNegativeOutcomes {
		log.Printf("[Calibrate] weight tuning skipped: %d outcomes (%d negative)", total, negative)
		return nil
	}

	outcomes, err := st.AllOutcomes(ctx)
	if err != nil {
		return err
	}
	samples, err := st.AllScores(ctx)
	if err != nil {
		return err
	}

	dims := map[string]models.Dimensions{}
	for _, s := range samples {
		dims[s.Wallet] = s.Dims
	}

	var pos, neg dimAccumulator
	for _, o := range outcomes {
		d, ok := dims[o.Wallet]
		if !ok {
			continue
		}
		if o.Type.Negative() {
			neg.add(d)
		} else {
			pos.add(d)
		}
	}
	if pos.n == 0 || neg.n == 0 {
		return nil
	}

	// Separation per dimension: positive mean minus negative mean. A
	// dimension that scores frauds as high as good actors separates at 0.
	sep := [5]float64{
		pos.mean(0) - neg.mean(0),
		pos.mean(1) - neg.mean(1),
		pos.mean(2) - neg.mean(2),
		pos.mean(3) - neg.mean(3),
		pos.mean(4) - neg.mean(4),
	}
	avgSep := (sep[0] + sep[1] + sep[2] + sep[3] + sep[4]) / 5

	cur := provider.Current(ctx)
	def := models.DefaultWeights()
	w := [5]float64{cur.Reliability, cur.Viability, cur.Identity, cur.Capability, cur.Behavior}
	base := [5]float64{def.Reliability, def.Viability, def.Identity, def.Capability, def.Behavior}

	for i := range w {
		step := 0.0
		if sep[i] > avgSep+1 {
			step = weightStepPerCycle
		} else if sep[i] < avgSep-1 {
			step = -weightStepPerCycle
		}
		w[i] = clampDriftF(w[i]+step, base[i])
	}

	// Renormalize to sum 1 and re-clamp; one pass is enough at these
	// step sizes.
	sum := w[0] + w[1] + w[2] + w[3] + w[4]
	for i := range w {
		w[i] = clampDriftF(w[i]/sum, base[i])
	}

	tuned := models.DimensionWeights{
		Reliability: w[0], Viability: w[1], Identity: w[2], Capability: w[3], Behavior: w[4],
	}
	blob, _ := json.Marshal(tuned)
	if err := st.SetState(ctx, store.StateWeightAdjustments, string(blob)); err != nil {
		return err
	}
	provider.Invalidate()
	log.Printf("[Calibrate] weights tuned: %+v (sample %d, %d negative)", tuned, total, negative)
	return nil
}

type dimAccumulator struct {
	sums [5]float64
	n    int
}

func (a *dimAccumulator) add(d models.Dimensions) {
	a.sums[0] += float64(d.Reliability)
	a.sums[1] += float64(d.Viability)
	a.sums[2] += float64(d.Identity)
	a.sums[3] += float64(d.Capability)
	a.sums[4] += float64(d.Behavior)
	a.n++
}

func (a *dimAccumulator) mean(i int) float64 {
	if a.n == 0 {
		return 0
	}
	return a.sums[i] / float64(a.n)
}

func clampDriftF(v, def float64) float64 {
	if v > def+weightMaxDrift {
		return def + weightMaxDrift
	}
	if v < def-weightMaxDrift {
		return def - weightMaxDrift
	}
	return v
}

package calibrate

import (
	"context"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/trustrank/scoring-engine/internal/store"
)

// Breakpoint shift
//
// As the scored population matures, yesterday's impressive activity
// becomes table stakes. The tuner derives a single upward stretch ratio
// for the volume-denominated evidence ladders from the composite median:
// nothing moves while the median sits at or below the maturity baseline,
// and the stretch is capped so calibration can never more than modestly
// raise the bar in one regime.

// maturityBaseline is the composite median at which the ladders start to
// stretch.
const maturityBaseline = 50

// breakpointShiftCap bounds the upward stretch ratio.
const breakpointShiftCap = 0.30

const breakpointCacheTTL = 60 * time.Second

// shiftFor maps the population composite median to a ladder stretch ratio.
func shiftFor(median int) float64 {
	if median <= maturityBaseline {
		return 0
	}
	r := float64(median-maturityBaseline) / float64(maturityBaseline)
	if r > breakpointShiftCap {
		r = breakpointShiftCap
	}
	return r
}

// TuneBreakpoints recomputes the ladder stretch from the last population
// snapshot and persists it. Below the population floor the ratio resets
// to zero.
func TuneBreakpoints(ctx context.Context, st *store.Store, provider *BreakpointProvider) error {
	ratio := 0.0
	if stats, ok := LoadPopulation(ctx, st); ok && stats.Count >= MinPopulation {
		ratio = shiftFor(stats.Composite.P50)
	}
	if err := st.SetState(ctx, store.StateBreakpointShift, strconv.FormatFloat(ratio, 'f', -1, 64)); err != nil {
		return err
	}
	provider.Invalidate()
	log.Printf("[Calibrate] breakpoint shift tuned: %.2f", ratio)
	return nil
}

// BreakpointProvider serves the current ladder stretch with a 60s
// read-through cache over indexer_state.
type BreakpointProvider struct {
	Store *store.Store

	mu        sync.Mutex
	cached    float64
	fetchedAt time.Time
}

// Current returns the active stretch ratio, falling back to zero when
// nothing is stored or the value is out of range.
func (p *BreakpointProvider) Current(ctx context.Context) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.fetchedAt.IsZero() && time.Since(p.fetchedAt) < breakpointCacheTTL {
		return p.cached
	}

	r := 0.0
	raw, err := p.Store.GetState(ctx, store.StateBreakpointShift)
	if err == nil {
		v, parseErr := strconv.ParseFloat(raw, 64)
		if parseErr != nil || v < 0 || v > breakpointShiftCap {
			log.Printf("[Calibrate] bad breakpoint shift %q, using 0", raw)
		} else {
			r = v
		}
	}
	p.cached = r
	p.fetchedAt = time.Now()
	return r
}

// Invalidate drops the cache; called after a tuning pass writes a new value.
func (p *BreakpointProvider) Invalidate() {
	p.mu.Lock()
	p.fetchedAt = time.Time{}
	p.mu.Unlock()
}

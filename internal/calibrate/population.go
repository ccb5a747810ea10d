package calibrate

import (
	"context"
	"encoding/json"
	"log"
	"math"
	"sort"
	"time"

	"github.com/trustrank/scoring-engine/internal/store"
)

// Population statistics
//
// Periodic snapshot of the composite and per-dimension distributions.
// Consumed by the threshold and breakpoint tuners and exposed on the
// health endpoint; also sanity-checks itself against the previous
// snapshot so one bad cycle cannot silently shift the whole distribution.

// MinPopulation is the scored-wallet floor below which calibration jobs
// refuse to act on the distribution.
const MinPopulation = 100

// maxDistributionShift caps how far the composite median may move between
// two consecutive snapshots, as a fraction of the score range.
const maxDistributionShift = 0.30

// DimStats summarizes one score distribution.
type DimStats struct {
	Mean  float64 `json:"mean"`
	Stdev float64 `json:"stdev"`
	P10   int     `json:"p10"`
	P25   int     `json:"p25"`
	P50   int     `json:"p50"`
	P75   int     `json:"p75"`
	P90   int     `json:"p90"`
}

// PopulationStats is the persisted distribution snapshot.
type PopulationStats struct {
	Count      int                 `json:"count"`
	Composite  DimStats            `json:"composite"`
	Dimensions map[string]DimStats `json:"dimensions"`
	ComputedAt string              `json:"computedAt"`
}

// SnapshotPopulation recomputes and persists the distribution snapshot.
// Returns the stats, or the previous stats when the new snapshot is
// rejected as an implausible shift.
func SnapshotPopulation(ctx context.Context, st *store.Store) (PopulationStats, error) {
	samples, err := st.AllScores(ctx)
	if err != nil {
		return PopulationStats{}, err
	}

	composites := make([]int, len(samples))
	dims := map[string][]int{
		"reliability": make([]int, len(samples)),
		"viability":   make([]int, len(samples)),
		"identity":    make([]int, len(samples)),
		"capability":  make([]int, len(samples)),
		"behavior":    make([]int, len(samples)),
	}
	for i, s := range samples {
		composites[i] = s.Composite
		dims["reliability"][i] = s.Dims.Reliability
		dims["viability"][i] = s.Dims.Viability
		dims["identity"][i] = s.Dims.Identity
		dims["capability"][i] = s.Dims.Capability
		dims["behavior"][i] = s.Dims.Behavior
	}

	stats := PopulationStats{
		Count:      len(composites),
		Composite:  summarize(composites),
		Dimensions: make(map[string]DimStats, len(dims)),
		ComputedAt: time.Now().UTC().Format(store.TimeFormat),
	}
	for name, values := range dims {
		stats.Dimensions[name] = summarize(values)
	}

	if prev, ok := LoadPopulation(ctx, st); ok && prev.Count >= MinPopulation {
		shift := float64(abs(stats.Composite.P50-prev.Composite.P50)) / 100.0
		if shift > maxDistributionShift {
			log.Printf("[Calibrate] rejecting population snapshot: median moved %d -> %d",
				prev.Composite.P50, stats.Composite.P50)
			return prev, nil
		}
	}

	blob, _ := json.Marshal(stats)
	if err := st.SetState(ctx, store.StatePopulationStats, string(blob)); err != nil {
		return PopulationStats{}, err
	}
	log.Printf("[Calibrate] population snapshot: n=%d mean=%.1f p50=%d",
		stats.Count, stats.Composite.Mean, stats.Composite.P50)
	return stats, nil
}

// LoadPopulation reads the last persisted snapshot.
func LoadPopulation(ctx context.Context, st *store.Store) (PopulationStats, bool) {
	raw, err := st.GetState(ctx, store.StatePopulationStats)
	if err != nil {
		return PopulationStats{}, false
	}
	var stats PopulationStats
	if err := json.Unmarshal([]byte(raw), &stats); err != nil {
		return PopulationStats{}, false
	}
	return stats, true
}

// summarize computes mean, population stdev, and nearest-rank percentiles.
// The input slice is not modified.
func summarize(values []int) DimStats {
	if len(values) == 0 {
		return DimStats{}
	}
	sorted := make([]int, len(values))
	copy(sorted, values)
	sort.Ints(sorted)

	sum := 0
	for _, v := range sorted {
		sum += v
	}
	mean := float64(sum) / float64(len(sorted))

	variance := 0.0
	for _, v := range sorted {
		d := float64(v) - mean
		variance += d * d
	}
	variance /= float64(len(sorted))

	return DimStats{
		Mean:  mean,
		Stdev: math.Sqrt(variance),
		P10:   percentile(sorted, 10),
		P25:   percentile(sorted, 25),
		P50:   percentile(sorted, 50),
		P75:   percentile(sorted, 75),
		P90:   percentile(sorted, 90),
	}
}

// percentile uses nearest-rank on a sorted slice.
func percentile(sorted []int, p int) int {
	if len(sorted) == 0 {
		return 0
	}
	idx := (p*len(sorted) + 99) / 100
	if idx > 0 {
		idx--
	}
	return sorted[idx]
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

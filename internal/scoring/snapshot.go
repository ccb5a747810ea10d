package scoring

import (
	"encoding/json"
	"sort"

	"github.com/trustrank/scoring-engine/pkg/models"
)

// encodeSnapshot builds the persisted explainability blob: the per-signal
// breakdown plus the ranked weighted contributions. Serialized once at
// compute time so full-score reads never recompute it.
func encodeSnapshot(breakdown map[string]models.SignalBreakdown, class models.BehaviorClass,
	weights models.DimensionWeights, dims models.Dimensions) string {

	contribs := contributions(weights, dims)
	sort.Slice(contribs, func(i, j int) bool { return contribs[i].points > contribs[j].points })

	var top, bottom []string
	for i, c := range contribs {
		if i < 2 {
			top = append(top, c.name)
		}
	}
	for i := len(contribs) - 1; i >= 0 && len(bottom) < 2; i-- {
		bottom = append(bottom, contribs[i].name)
	}

	availability := make(map[string]string, len(breakdown))
	for dim := range breakdown {
		availability[dim] = "complete"
	}
	snap := models.ScoreSnapshot{
		Breakdown:        breakdown,
		DataAvailability: availability,
		TopContributors:  top,
		TopDetractors:    bottom,
		BehaviorClass:    class,
	}
	blob, err := json.Marshal(snap)
	if err != nil {
		return "{}"
	}
	return string(blob)
}

// DecodeSnapshot re-hydrates the blob for full-score responses.
func DecodeSnapshot(raw string) (*models.ScoreSnapshot, error) {
	var snap models.ScoreSnapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

package models

// Tier is the discrete trust band derived from the composite score.
// Thresholds are tunable by calibration; the defaults are:
// Elite >= 90, Trusted >= 75, Established >= 50, Emerging >= 25.
type Tier string

const (
	TierElite       Tier = "elite"
	TierTrusted     Tier = "trusted"
	TierEstablished Tier = "established"
	TierEmerging    Tier = "emerging"
	TierUnverified  Tier = "unverified"
)

// Recommendation is the engine's verdict for a counterparty decision.
type Recommendation string

const (
	RecommendProceed             Recommendation = "proceed"
	RecommendProceedWithCaution  Recommendation = "proceed_with_caution"
	RecommendHighRisk            Recommendation = "high_risk"
	RecommendInsufficientHistory Recommendation = "insufficient_history"
	RecommendFlaggedForReview    Recommendation = "flagged_for_review"
	RecommendRPCUnavailable      Recommendation = "rpc_unavailable"
)

// SybilIndicator tags a detected sybil pattern. Each indicator maps to a
// dimension cap, an integrity factor, or both (see internal/detect).
type SybilIndicator string

const (
	SybilTightCluster       SybilIndicator = "tight_cluster"
	SybilSymmetricTxs       SybilIndicator = "symmetric_transactions"
	SybilWashTrading        SybilIndicator = "wash_trading"
	SybilCoordinatedCreate  SybilIndicator = "coordinated_creation"
	SybilFundedByTopPartner SybilIndicator = "funded_by_top_partner"
	SybilSingleSourceFunds  SybilIndicator = "single_source_funding"
	SybilSinglePartner      SybilIndicator = "single_partner"
	SybilVolumeNoDiversity  SybilIndicator = "volume_without_diversity"
)

// GamingIndicator tags a detected score-gaming pattern.
type GamingIndicator string

const (
	GamingWindowDressing GamingIndicator = "balance_window_dressing"
	GamingBurstAndStop   GamingIndicator = "burst_and_stop"
	GamingNonceInflation GamingIndicator = "nonce_inflation"
	GamingRevenueRecycle GamingIndicator = "revenue_recycling"
)

// DataSource labels where a served score came from.
type DataSource string

const (
	SourceLive        DataSource = "live"
	SourceCached      DataSource = "cached"
	SourceStale       DataSource = "stale" // expired row served while a refresh runs
	SourceUnavailable DataSource = "unavailable"
)

// BehaviorClass is the temporal pattern classification of a wallet.
type BehaviorClass string

const (
	BehaviorOrganic    BehaviorClass = "organic"
	BehaviorMixed      BehaviorClass = "mixed"
	BehaviorAutomated  BehaviorClass = "automated"
	BehaviorSuspicious BehaviorClass = "suspicious"
)

// Dimensions holds the five dimension scores (each 0-100).
type Dimensions struct {
	Reliability int `json:"reliability"`
	Viability   int `json:"viability"`
	Identity    int `json:"identity"`
	Capability  int `json:"capability"`
	Behavior    int `json:"behavior"`
}

// DimensionWeights are the composite weights. Calibration may drift each
// weight by at most ±0.05 from these defaults.
type DimensionWeights struct {
	Reliability float64 `json:"reliability"`
	Viability   float64 `json:"viability"`
	Identity    float64 `json:"identity"`
	Capability  float64 `json:"capability"`
	Behavior    float64 `json:"behavior"`
}

// DefaultWeights returns the baseline composite weights.
func DefaultWeights() DimensionWeights {
	return DimensionWeights{
		Reliability: 0.30,
		Viability:   0.25,
		Identity:    0.20,
		Capability:  0.10,
		Behavior:    0.15,
	}
}

// SignalBreakdown maps signal name -> contributed points, for explainability.
type SignalBreakdown map[string]float64

// Score is the persisted scoring result for one wallet.
type Score struct {
	Wallet              string            `json:"wallet"`
	Composite           int               `json:"score"` // 0-100, integrity multiplier applied
	RawComposite        int               `json:"rawScore"`
	Dimensions          Dimensions        `json:"dimensions"`
	Tier                Tier              `json:"tier"`
	Confidence          float64           `json:"confidence"` // 0.0 - 1.0
	Recommendation      Recommendation    `json:"recommendation"`
	ModelVersion        string            `json:"modelVersion"`
	SybilFlag           bool              `json:"sybilFlag"`
	SybilIndicators     []SybilIndicator  `json:"sybilIndicators"`
	GamingIndicators    []GamingIndicator `json:"gamingIndicators"`
	IntegrityMultiplier float64           `json:"integrityMultiplier"` // 0.10 - 1.00
	Snapshot            string            `json:"-"`                   // raw JSON blob for response re-hydration
	ComputedAt          string            `json:"computedAt"`          // ISO-8601 UTC
	ExpiresAt           string            `json:"expiresAt"`           // ComputedAt + 1h
}

// HistoryEntry is one append-only score history row (max 50 per wallet).
type HistoryEntry struct {
	Wallet       string  `json:"wallet"`
	Score        int     `json:"score"`
	ComputedAt   string  `json:"computedAt"`
	Confidence   float64 `json:"confidence"`
	ModelVersion string  `json:"modelVersion"`
}

// HistoryTrend summarizes the direction of a wallet's score history.
type HistoryTrend struct {
	Direction string  `json:"direction"` // improving / stable / declining
	ChangePct float64 `json:"change_pct"`
	MinScore  int     `json:"min_score"`
	MaxScore  int     `json:"max_score"`
}

// ScoreSnapshot is the opaque blob persisted alongside a score, used to
// re-hydrate full-score responses without recomputing.
type ScoreSnapshot struct {
	Breakdown        map[string]SignalBreakdown `json:"breakdown"`
	DataAvailability map[string]string          `json:"dataAvailability"`
	TopContributors  []string                   `json:"topContributors"`
	TopDetractors    []string                   `json:"topDetractors"`
	BehaviorClass    BehaviorClass              `json:"behaviorClass"`
}

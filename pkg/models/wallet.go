package models

// Wallet is the durable per-address record, keyed by the lowercased
// 20-byte hex address.
type Wallet struct {
	Address      string  `json:"address"`
	FirstSeen    string  `json:"firstSeen"` // ISO-8601 UTC
	LastSeen     string  `json:"lastSeen"`
	TxCount      int64   `json:"txCount"`
	VolumeIn     float64 `json:"volumeIn"` // 6-dp stablecoin units
	VolumeOut    float64 `json:"volumeOut"`
	Registered   bool    `json:"registered"`
	GitHubHandle string  `json:"githubHandle,omitempty"`
	Scored       bool    `json:"scored"`
}

// Transfer is one immutable indexed chain transfer. TxHash is unique; the
// same hash indexed twice must not produce a second row.
type Transfer struct {
	TxHash      string  `json:"txHash"`
	BlockNumber uint64  `json:"blockNumber"`
	From        string  `json:"from"`
	To          string  `json:"to"`
	Amount      float64 `json:"amount"` // 6-dp stablecoin units
	Timestamp   string  `json:"timestamp"`
	Settlement  bool    `json:"settlement"` // authorization-backed micro-payment
}

// RelationshipEdge is the undirected pair aggregate. WalletA < WalletB
// lexicographically; the pair is unique.
type RelationshipEdge struct {
	WalletA          string  `json:"walletA"`
	WalletB          string  `json:"walletB"`
	TxCountAToB      int64   `json:"txCountAToB"`
	TxCountBToA      int64   `json:"txCountBToA"`
	VolumeAToB       float64 `json:"volumeAToB"`
	VolumeBToA       float64 `json:"volumeBToA"`
	FirstInteraction string  `json:"firstInteraction"`
	LastInteraction  string  `json:"lastInteraction"`
}

// WalletStats is the pre-rolled aggregate read by the scorers.
type WalletStats struct {
	Wallet          string  `json:"wallet"`
	UniquePartners  int     `json:"uniquePartners"`
	Inflow24h       float64 `json:"inflow24h"`
	Outflow24h      float64 `json:"outflow24h"`
	Inflow7d        float64 `json:"inflow7d"`
	Outflow7d       float64 `json:"outflow7d"`
	Inflow30d       float64 `json:"inflow30d"`
	Outflow30d      float64 `json:"outflow30d"`
	IncomeBurnRatio float64 `json:"incomeBurnRatio"`
	Trend           Trend   `json:"trend"`
}

// Trend labels the balance-flow trajectory of a wallet.
type Trend string

const (
	TrendRising    Trend = "rising"
	TrendStable    Trend = "stable"
	TrendDeclining Trend = "declining"
	TrendFreefall  Trend = "freefall"
)

package models

// FraudReport is a user-filed report against a target wallet. A reporter
// may persist at most 3 reports against any single target; details are
// capped at 1000 chars.
type FraudReport struct {
	ID             string `json:"id"`
	Target         string `json:"target"`
	Reporter       string `json:"reporter"`
	Reason         string `json:"reason"`
	Details        string `json:"details"`
	CreatedAt      string `json:"createdAt"`
	PenaltyApplied bool   `json:"penaltyApplied"`
}

// OutcomeType labels what happened on-chain after a paid query.
type OutcomeType string

const (
	OutcomeSuccessfulTx         OutcomeType = "successful_tx"
	OutcomeMultipleSuccessfulTx OutcomeType = "multiple_successful_tx"
	OutcomeFraudReport          OutcomeType = "fraud_report"
	OutcomeNoActivity           OutcomeType = "no_activity"
)

// Negative reports whether the outcome counts against the score the
// engine served at query time.
func (t OutcomeType) Negative() bool {
	return t == OutcomeFraudReport || t == OutcomeNoActivity
}

// Outcome links a prior paid query to subsequent chain activity. Produced
// by the outcome matcher; the (QueryID) key makes re-runs idempotent.
type Outcome struct {
	QueryID      string      `json:"queryId"`
	Wallet       string      `json:"wallet"`
	Type         OutcomeType `json:"type"`
	ScoreAtQuery int         `json:"scoreAtQuery"`
	MatchedAt    string      `json:"matchedAt"`
}

// QueryRecord is one logged paid read, fuel for the outcome matcher, the
// prior-query confidence signal and the free-tier daily quota.
type QueryRecord struct {
	ID        string `json:"id"`
	Requester string `json:"requester"`
	Wallet    string `json:"wallet"`
	Score     int    `json:"score"`
	QueriedAt string `json:"queriedAt"`
}

// Webhook is a registered event subscription.
type Webhook struct {
	ID                  string   `json:"id"`
	Wallet              string   `json:"wallet"`
	URL                 string   `json:"url"`
	Secret              string   `json:"-"`
	Events              []string `json:"events"`
	Active              bool     `json:"active"`
	ConsecutiveFailures int      `json:"consecutiveFailures"`
}

// Delivery is one pending or completed webhook delivery attempt.
type Delivery struct {
	ID          string `json:"id"`
	WebhookID   string `json:"webhookId"`
	EventType   string `json:"eventType"`
	Payload     string `json:"payload"` // JSON body as signed and sent
	Attempt     int    `json:"attempt"`
	NextRetryAt string `json:"nextRetryAt,omitempty"`
	StatusCode  int    `json:"statusCode,omitempty"`
	DeliveredAt string `json:"deliveredAt,omitempty"`
}

// Publication records the last on-chain reputation write for a wallet.
type Publication struct {
	Wallet             string `json:"wallet"`
	LastPublishedScore int    `json:"lastPublishedScore"`
	ModelVersion       string `json:"modelVersion"`
	TxHash             string `json:"txHash"`
	PublishedAt        string `json:"publishedAt"`
}

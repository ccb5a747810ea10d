package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus instrumentation. Collectors are package-level and registered
// on the default registry; the router exposes them on /metrics.

var (
	ScoresServed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trustrank_scores_served_total",
		Help: "Score reads served, by data source (live, cached, stale, unavailable).",
	}, []string{"source"})

	ComputeSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "trustrank_score_compute_seconds",
		Help:    "Wall time of synchronous score computations.",
		Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 75},
	})

	TransfersIndexed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trustrank_transfers_indexed_total",
		Help: "Transfers newly inserted by the indexers.",
	})

	IndexerCheckpoint = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "trustrank_indexer_checkpoint_block",
		Help: "Last fully indexed block of the tail indexer.",
	})

	WebhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trustrank_webhook_deliveries_total",
		Help: "Webhook delivery attempts, by result (delivered, retried, abandoned).",
	}, []string{"result"})

	FraudReports = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trustrank_fraud_reports_total",
		Help: "Fraud reports accepted.",
	})

	ScoresPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trustrank_scores_published_total",
		Help: "Reputation updates written on-chain.",
	})
)

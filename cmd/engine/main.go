package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/trustrank/scoring-engine/internal/api"
	"github.com/trustrank/scoring-engine/internal/calibrate"
	"github.com/trustrank/scoring-engine/internal/chain"
	"github.com/trustrank/scoring-engine/internal/config"
	"github.com/trustrank/scoring-engine/internal/detect"
	"github.com/trustrank/scoring-engine/internal/identity"
	"github.com/trustrank/scoring-engine/internal/indexer"
	"github.com/trustrank/scoring-engine/internal/publisher"
	"github.com/trustrank/scoring-engine/internal/scheduler"
	"github.com/trustrank/scoring-engine/internal/scoring"
	"github.com/trustrank/scoring-engine/internal/store"
	"github.com/trustrank/scoring-engine/internal/webhook"
	"github.com/trustrank/scoring-engine/pkg/models"
)

func main() {
	log.Println("Starting TrustRank Scoring Engine (Microservice: wallet-trust-analytics)...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}

	st, err := store.Open(cfg.DataDir)
	if err != nil {
		log.Fatalf("FATAL: store init failed: %v", err)
	}
	defer st.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, err := chain.Dial(ctx, cfg.ChainRPCURL)
	if err != nil {
		log.Fatalf("FATAL: chain RPC dial failed: %v", err)
	}
	defer client.Close()

	token := common.HexToAddress(cfg.TokenContract)
	facilitator := common.HexToAddress(cfg.FacilitatorAddr)

	var resolver chain.BasenameResolver = chain.NullResolver{}
	if cfg.BasenameRegistry != "" {
		resolver = chain.NewRegistryResolver(client, common.HexToAddress(cfg.BasenameRegistry))
	}
	var codeHost identity.CodeHost = identity.NullHost{}
	if cfg.GitHubToken != "" {
		codeHost = identity.NewGitHubFetcher(cfg.GitHubToken)
	}

	weights := &calibrate.WeightProvider{Store: st}
	thresholds := &calibrate.ThresholdProvider{Store: st}
	breakpoints := &calibrate.BreakpointProvider{Store: st}

	engine := scoring.NewEngine(st, client, token, resolver, codeHost, weights, thresholds, breakpoints, cfg.Tuning)

	wsHub := api.NewHub()
	go wsHub.Run()

	dispatcher := webhook.NewDispatcher(st, cfg.Tuning.WebhookMaxAttempts)
	engine.Sink = fanoutSink{dispatcher, wsHub}

	ix := indexer.New(st, client, token, facilitator, cfg.Tuning)

	det := &detect.Detector{Store: st}

	sched := scheduler.New()
	sched.Register(scheduler.Job{
		Name:    "tail-index",
		Period:  30 * time.Second,
		Delay:   10 * time.Second,
		Run:     ix.IndexTail,
		Timeout: 10 * time.Minute,
	})
	sched.Register(scheduler.Job{
		Name:   "history-backfill",
		Period: 5 * time.Minute,
		Delay:  45 * time.Second,
		Run:    ix.BackfillHistory,
	})
	sched.Register(scheduler.Job{
		Name:   "aggregates",
		Period: time.Hour,
		Run:    ix.RefreshAggregates,
	})
	sched.Register(scheduler.Job{
		Name:   "webhook-dispatch",
		Period: 30 * time.Second,
		Run:    dispatcher.DispatchPending,
	})
	sched.Register(scheduler.Job{
		Name:   "score-refresh",
		Period: time.Hour,
		Run:    refreshExpired(st, engine),
	})
	sched.Register(scheduler.Job{
		Name:   "sybil-monitor",
		Period: 5 * time.Minute,
		Run: func(ctx context.Context) error {
			_, err := engine.SweepSybil(ctx)
			return err
		},
	})
	sched.Register(scheduler.Job{
		Name:   "anomaly-detect",
		Period: 15 * time.Minute,
		Run:    detectAnomalies(det, dispatcher),
	})
	sched.Register(scheduler.Job{
		Name:   "outcome-match",
		Period: 6 * time.Hour,
		Delay:  90 * time.Second,
		Run: func(ctx context.Context) error {
			_, err := calibrate.MatchOutcomes(ctx, st)
			return err
		},
	})
	sched.Register(scheduler.Job{
		Name:   "intent-match",
		Period: 6 * time.Hour,
		Delay:  time.Minute,
		Run: func(ctx context.Context) error {
			_, err := calibrate.MatchIntents(ctx, st)
			return err
		},
	})
	sched.Register(scheduler.Job{
		Name:   "calibration",
		Period: 6 * time.Hour,
		Delay:  10 * time.Minute,
		Run: func(ctx context.Context) error {
			if _, err := calibrate.SnapshotPopulation(ctx, st); err != nil {
				return err
			}
			if err := calibrate.TuneWeights(ctx, st, weights); err != nil {
				return err
			}
			if err := calibrate.TuneBreakpoints(ctx, st, breakpoints); err != nil {
				return err
			}
			return calibrate.TuneThresholds(ctx, st, thresholds, calibrate.MinPopulation)
		},
	})
	sched.Register(scheduler.Job{
		Name:   "retention-prune",
		Period: 24 * time.Hour,
		Delay:  30 * time.Minute,
		Run:    ix.PruneRetention,
	})

	if cfg.PublisherKey != "" && cfg.ReputationAddr != "" {
		pub, err := publisher.New(st, client, common.HexToAddress(cfg.ReputationAddr), cfg.PublisherKey, cfg.Tuning)
		if err != nil {
			log.Fatalf("FATAL: %v", err)
		}
		sched.Register(scheduler.Job{
			Name:   "publish",
			Period: 4 * time.Hour,
			Delay:  150 * time.Second,
			Run:    pub.PublishBatch,
		})
	} else {
		log.Println("[Main] on-chain publishing disabled (no key or contract configured)")
	}

	sched.Start(ctx)

	r := api.SetupRouter(st, engine, wsHub, ix, weights, thresholds, breakpoints, cfg)
	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r}

	go func() {
		log.Printf("Engine running on :%s (API Node: wallet-trust-analytics)\n", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Graceful shutdown: stop accepting requests, cancel the jobs, give
	// them the drain window to finish.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("[Main] shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Tuning.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[Main] server shutdown: %v", err)
	}
	cancel()
	sched.Wait(cfg.Tuning.ShutdownTimeout)
	log.Println("[Main] bye")
}

// refreshExpired recomputes a bounded batch of expired cached scores so
// hot wallets stay fresh without waiting for a read.
func refreshExpired(st *store.Store, engine *scoring.Engine) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		cutoff := time.Now().UTC().Format(store.TimeFormat)
		wallets, err := st.ListExpired(ctx, cutoff, 25)
		if err != nil {
			return err
		}
		for _, w := range wallets {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if _, err := engine.Calculate(ctx, w); err != nil {
				log.Printf("[Main] scheduled refresh failed for %s: %v", w, err)
			}
		}
		return nil
	}
}

// detectAnomalies sweeps recent scores and pushes findings out as
// webhook events.
func detectAnomalies(det *detect.Detector, d *webhook.Dispatcher) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		anomalies, err := det.SweepAnomalies(ctx)
		if err != nil {
			return err
		}
		for _, a := range anomalies {
			log.Printf("[Anomaly] %s: %s (score %d)", a.Wallet, a.Kind, a.Current)
			if err := d.Enqueue(ctx, webhook.EventScoreAnomaly, a.Wallet, a); err != nil {
				log.Printf("[Anomaly] enqueue failed for %s: %v", a.Wallet, err)
			}
		}
		return nil
	}
}

// fanoutSink delivers score updates to every registered sink.
type fanoutSink []scoring.ScoreSink

func (f fanoutSink) ScoreUpdated(sc *models.Score) {
	for _, s := range f {
		s.ScoreUpdated(sc)
	}
}

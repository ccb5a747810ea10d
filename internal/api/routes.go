package api

import (
	"context"
	"log"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/trustrank/scoring-engine/internal/calibrate"
	"github.com/trustrank/scoring-engine/internal/chain"
	"github.com/trustrank/scoring-engine/internal/config"
	"github.com/trustrank/scoring-engine/internal/indexer"
	"github.com/trustrank/scoring-engine/internal/metrics"
	"github.com/trustrank/scoring-engine/internal/scoring"
	"github.com/trustrank/scoring-engine/internal/store"
	"github.com/trustrank/scoring-engine/internal/webhook"
	"github.com/trustrank/scoring-engine/pkg/models"
)

type APIHandler struct {
	store       *store.Store
	engine      *scoring.Engine
	hub         *Hub
	indexer     *indexer.Indexer
	weights     *calibrate.WeightProvider
	thresholds  *calibrate.ThresholdProvider
	breakpoints *calibrate.BreakpointProvider
	tuning      config.Tuning
	startedAt   time.Time
}

// apiError writes the uniform error envelope.
func apiError(c *gin.Context, status int, code, message, details string) {
	body := gin.H{"code": code, "message": message}
	if details != "" {
		body["details"] = details
	}
	c.JSON(status, gin.H{"error": body})
}

func SetupRouter(st *store.Store, engine *scoring.Engine, hub *Hub, ix *indexer.Indexer,
	weights *calibrate.WeightProvider, thresholds *calibrate.ThresholdProvider,
	breakpoints *calibrate.BreakpointProvider, cfg *config.Config) *gin.Engine {
	r := gin.Default()

	// Enable CORS — configurable via ALLOWED_ORIGINS env var
	// Production: ALLOWED_ORIGINS=https://app.example.com
	// Development: ALLOWED_ORIGINS=http://localhost:3000 (or leave empty for *)
	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowedOrigins == "" || allowedOrigins == "*" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			for _, allowed := range strings.Split(allowedOrigins, ",") {
				if strings.TrimSpace(allowed) == origin {
					c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, X-API-Key, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	handler := &APIHandler{
		store:       st,
		engine:      engine,
		hub:         hub,
		indexer:     ix,
		weights:     weights,
		thresholds:  thresholds,
		breakpoints: breakpoints,
		tuning:      cfg.Tuning,
		startedAt:   time.Now().UTC(),
	}

	limiter := NewRateLimiter(30, 10)

	api := r.Group("/api/v1")
	api.Use(limiter.Middleware())
	{
		api.GET("/score/:wallet", handler.handleBasicScore)
		api.GET("/score/:wallet/full", handler.handleFullScore)
		api.POST("/score/:wallet/refresh", handler.handleRefresh)
		api.GET("/score/:wallet/history", handler.handleHistory)
		api.POST("/report", handler.handleReport)
		api.POST("/register", handler.handleRegister)
		api.POST("/webhooks", handler.handleCreateWebhook)
		api.GET("/leaderboard", handler.handleLeaderboard)
		api.GET("/health", handler.handleHealth)
		api.GET("/stream", hub.Subscribe)

		admin := api.Group("/admin")
		admin.Use(AdminAuth(cfg.AdminToken))
		{
			admin.POST("/recalibrate", handler.handleRecalibrate)
			admin.POST("/reindex", handler.handleReindex)
		}
	}

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

// handleBasicScore serves the compact score payload. Callers without an
// API key draw down the free-tier daily quota.
func (h *APIHandler) handleBasicScore(c *gin.Context) {
	wallet, err := chain.ParseAddress(c.Param("wallet"))
	if err != nil {
		apiError(c, http.StatusBadRequest, "invalid_address", "Invalid wallet address", err.Error())
		return
	}

	requester := requesterID(c)
	if c.GetHeader("X-API-Key") == "" {
		dayStart := time.Now().UTC().Truncate(24 * time.Hour).Format(store.TimeFormat)
		n, err := h.store.CountQueriesBy(c.Request.Context(), requester, dayStart)
		if err == nil && n >= h.tuning.FreeTierDaily {
			apiError(c, http.StatusTooManyRequests, "quota_exceeded",
				"Free-tier daily quota exhausted",
				"Provide an X-API-Key header for unmetered access")
			return
		}
	}

	sc, source, err := h.engine.GetOrCalculate(c.Request.Context(), wallet, false)
	if err != nil {
		metrics.ScoresServed.WithLabelValues(string(models.SourceUnavailable)).Inc()
		apiError(c, http.StatusInternalServerError, "score_failed", "Failed to compute score", err.Error())
		return
	}
	metrics.ScoresServed.WithLabelValues(string(source)).Inc()

	if err := h.store.LogQuery(c.Request.Context(), requester, wallet, sc.Composite); err != nil {
		log.Printf("[API] query log failed: %v", err)
	}

	c.JSON(http.StatusOK, gin.H{
		"wallet":         sc.Wallet,
		"score":          sc.Composite,
		"tier":           sc.Tier,
		"confidence":     sc.Confidence,
		"recommendation": sc.Recommendation,
		"source":         source,
		"stale":          source == models.SourceStale,
		"freshness":      scoring.Freshness(sc, time.Now().UTC()),
		"computedAt":     sc.ComputedAt,
		"expiresAt":      sc.ExpiresAt,
	})
}

// handleFullScore adds dimensions, indicators and the per-signal
// breakdown re-hydrated from the stored snapshot.
func (h *APIHandler) handleFullScore(c *gin.Context) {
	wallet, err := chain.ParseAddress(c.Param("wallet"))
	if err != nil {
		apiError(c, http.StatusBadRequest, "invalid_address", "Invalid wallet address", err.Error())
		return
	}

	sc, source, err := h.engine.GetOrCalculate(c.Request.Context(), wallet, false)
	if err != nil {
		apiError(c, http.StatusInternalServerError, "score_failed", "Failed to compute score", err.Error())
		return
	}
	metrics.ScoresServed.WithLabelValues(string(source)).Inc()

	resp := gin.H{
		"score":     sc,
		"source":    source,
		"stale":     source == models.SourceStale,
		"freshness": scoring.Freshness(sc, time.Now().UTC()),
	}
	if snap, err := scoring.DecodeSnapshot(sc.Snapshot); err == nil {
		resp["breakdown"] = snap
	}
	weekAgo := time.Now().UTC().AddDate(0, 0, -7).Format(store.TimeFormat)
	if baseline, err := h.store.DecayBaseline(c.Request.Context(), wallet, weekAgo); err == nil {
		resp["weekDelta"] = sc.Composite - baseline
	}
	c.JSON(http.StatusOK, resp)
}

// handleRefresh forces a synchronous recompute, bypassing the cache.
func (h *APIHandler) handleRefresh(c *gin.Context) {
	wallet, err := chain.ParseAddress(c.Param("wallet"))
	if err != nil {
		apiError(c, http.StatusBadRequest, "invalid_address", "Invalid wallet address", err.Error())
		return
	}

	sc, _, err := h.engine.GetOrCalculate(c.Request.Context(), wallet, true)
	if err != nil {
		apiError(c, http.StatusInternalServerError, "score_failed", "Failed to compute score", err.Error())
		return
	}
	metrics.ScoresServed.WithLabelValues(string(models.SourceLive)).Inc()
	c.JSON(http.StatusOK, gin.H{"score": sc, "source": models.SourceLive})
}

// handleHistory serves the append-only score history with a trend summary.
func (h *APIHandler) handleHistory(c *gin.Context) {
	wallet, err := chain.ParseAddress(c.Param("wallet"))
	if err != nil {
		apiError(c, http.StatusBadRequest, "invalid_address", "Invalid wallet address", err.Error())
		return
	}

	after, before := c.Query("after"), c.Query("before")
	for _, ts := range []string{after, before} {
		if ts == "" {
			continue
		}
		if _, err := store.ParseTime(ts); err != nil {
			apiError(c, http.StatusBadRequest, "invalid_date",
				"Date bounds must be ISO-8601 UTC", ts)
			return
		}
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			apiError(c, http.StatusBadRequest, "invalid_limit", "limit must be an integer", raw)
			return
		}
		limit = clampLimit(n)
	}

	entries, err := h.store.GetHistory(c.Request.Context(), wallet, after, before, limit)
	if err != nil {
		apiError(c, http.StatusInternalServerError, "history_failed", "Failed to read history", err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"wallet":  wallet,
		"history": entries,
		"trend":   computeTrend(entries),
	})
}

// handleReport accepts a fraud report. Per-reporter caps are enforced in
// the store.
func (h *APIHandler) handleReport(c *gin.Context) {
	var req struct {
		Target   string `json:"target"`
		Reporter string `json:"reporter"`
		Reason   string `json:"reason"`
		Details  string `json:"details"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		apiError(c, http.StatusBadRequest, "invalid_body",
			"Invalid request body. Expected: {target, reporter, reason, details?}", "")
		return
	}

	target, err := chain.ParseAddress(req.Target)
	if err != nil {
		apiError(c, http.StatusBadRequest, "invalid_address", "Invalid target address", err.Error())
		return
	}
	reporter, err := chain.ParseAddress(req.Reporter)
	if err != nil {
		apiError(c, http.StatusBadRequest, "invalid_address", "Invalid reporter address", err.Error())
		return
	}
	if req.Reason == "" {
		apiError(c, http.StatusBadRequest, "invalid_body", "reason is required", "")
		return
	}

	report, err := h.store.FileReport(c.Request.Context(), target, reporter, req.Reason, req.Details)
	if err == store.ErrDetailsTooLong {
		apiError(c, http.StatusBadRequest, "invalid_body",
			"details must be at most 1000 characters", "")
		return
	}
	if err == store.ErrReportLimit {
		apiError(c, http.StatusTooManyRequests, "report_limit",
			"Report limit reached for this target", "")
		return
	}
	if err != nil {
		apiError(c, http.StatusInternalServerError, "report_failed", "Failed to file report", err.Error())
		return
	}
	metrics.FraudReports.Inc()
	c.JSON(http.StatusCreated, report)
}

// handleRegister flags a wallet as self-registered and optionally links a
// code-host handle for the identity scorer.
func (h *APIHandler) handleRegister(c *gin.Context) {
	var req struct {
		Wallet       string `json:"wallet"`
		GitHubHandle string `json:"githubHandle"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		apiError(c, http.StatusBadRequest, "invalid_body",
			"Invalid request body. Expected: {wallet, githubHandle?}", "")
		return
	}
	wallet, err := chain.ParseAddress(req.Wallet)
	if err != nil {
		apiError(c, http.StatusBadRequest, "invalid_address", "Invalid wallet address", err.Error())
		return
	}

	if err := h.store.SetRegistered(c.Request.Context(), wallet, req.GitHubHandle); err != nil {
		apiError(c, http.StatusInternalServerError, "register_failed", "Failed to register wallet", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"wallet": wallet, "registered": true})
}

// handleCreateWebhook registers an event subscription.
func (h *APIHandler) handleCreateWebhook(c *gin.Context) {
	var req struct {
		Wallet string   `json:"wallet"`
		URL    string   `json:"url"`
		Secret string   `json:"secret"`
		Events []string `json:"events"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		apiError(c, http.StatusBadRequest, "invalid_body",
			"Invalid request body. Expected: {wallet?, url, secret, events}", "")
		return
	}

	wallet := ""
	if req.Wallet != "" {
		w, err := chain.ParseAddress(req.Wallet)
		if err != nil {
			apiError(c, http.StatusBadRequest, "invalid_address", "Invalid wallet address", err.Error())
			return
		}
		wallet = w
	}
	u, err := url.Parse(req.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		apiError(c, http.StatusBadRequest, "invalid_url", "url must be an absolute http(s) URL", req.URL)
		return
	}
	if len(req.Secret) < 16 {
		apiError(c, http.StatusBadRequest, "weak_secret", "secret must be at least 16 characters", "")
		return
	}
	if len(req.Events) == 0 {
		req.Events = []string{webhook.EventScoreUpdated}
	}

	wh, err := h.store.CreateWebhook(c.Request.Context(), wallet, req.URL, req.Secret, req.Events)
	if err != nil {
		apiError(c, http.StatusInternalServerError, "webhook_failed", "Failed to create webhook", err.Error())
		return
	}
	c.JSON(http.StatusCreated, wh)
}

// handleLeaderboard lists the top scored wallets with solid confidence.
func (h *APIHandler) handleLeaderboard(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = clampLimit(n)
		}
	}
	entries, err := h.store.Leaderboard(c.Request.Context(), 0.5, limit)
	if err != nil {
		apiError(c, http.StatusInternalServerError, "leaderboard_failed", "Failed to read leaderboard", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"leaderboard": entries})
}

// handleHealth returns engine status for service discovery and probes.
func (h *APIHandler) handleHealth(c *gin.Context) {
	ctx := c.Request.Context()
	scored, _ := h.store.CountScores(ctx)
	checkpoint, _ := h.store.GetStateUint(ctx, store.StateMicropayCheckpoint)

	resp := gin.H{
		"status":         "operational",
		"modelVersion":   scoring.ModelVersion,
		"scoredWallets":  scored,
		"indexedThrough": checkpoint,
		"uptimeSeconds":  int(time.Since(h.startedAt).Seconds()),
	}
	if stats, ok := calibrate.LoadPopulation(ctx, h.store); ok {
		resp["population"] = stats
	}
	if intents, ok := calibrate.LoadIntents(ctx, h.store); ok {
		resp["intentConversion"] = intents
	}
	c.JSON(http.StatusOK, resp)
}

// handleRecalibrate runs a full calibration cycle on demand.
func (h *APIHandler) handleRecalibrate(c *gin.Context) {
	ctx := c.Request.Context()
	matched, err := calibrate.MatchOutcomes(ctx, h.store)
	if err != nil {
		apiError(c, http.StatusInternalServerError, "calibrate_failed", "Outcome matching failed", err.Error())
		return
	}
	if _, err := calibrate.SnapshotPopulation(ctx, h.store); err != nil {
		apiError(c, http.StatusInternalServerError, "calibrate_failed", "Population snapshot failed", err.Error())
		return
	}
	if err := calibrate.TuneWeights(ctx, h.store, h.weights); err != nil {
		apiError(c, http.StatusInternalServerError, "calibrate_failed", "Weight tuning failed", err.Error())
		return
	}
	if err := calibrate.TuneBreakpoints(ctx, h.store, h.breakpoints); err != nil {
		apiError(c, http.StatusInternalServerError, "calibrate_failed", "Breakpoint tuning failed", err.Error())
		return
	}
	if err := calibrate.TuneThresholds(ctx, h.store, h.thresholds, calibrate.MinPopulation); err != nil {
		apiError(c, http.StatusInternalServerError, "calibrate_failed", "Threshold tuning failed", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":          "recalibrated",
		"outcomesMatched": matched,
		"weights":         h.weights.Current(ctx),
		"thresholds":      h.thresholds.Current(ctx),
		"breakpointShift": h.breakpoints.Current(ctx),
	})
}

// handleReindex kicks an immediate tail-index pass in the background.
func (h *APIHandler) handleReindex(c *gin.Context) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if err := h.indexer.IndexTail(ctx); err != nil {
			log.Printf("[API] reindex failed: %v", err)
		}
	}()
	c.JSON(http.StatusAccepted, gin.H{"status": "reindex_started"})
}

// clampLimit bounds a caller-supplied page size to [1, 100].
func clampLimit(n int) int {
	if n < 1 {
		return 1
	}
	if n > 100 {
		return 100
	}
	return n
}

// computeTrend summarizes history direction; entries arrive newest first.
func computeTrend(entries []models.HistoryEntry) models.HistoryTrend {
	if len(entries) == 0 {
		return models.HistoryTrend{Direction: "stable"}
	}
	newest := entries[0].Score
	oldest := entries[len(entries)-1].Score
	min, max := newest, newest
	for _, e := range entries {
		if e.Score < min {
			min = e.Score
		}
		if e.Score > max {
			max = e.Score
		}
	}
	trend := models.HistoryTrend{MinScore: min, MaxScore: max, Direction: "stable"}
	if oldest > 0 {
		trend.ChangePct = float64(newest-oldest) / float64(oldest) * 100
	}
	switch {
	case trend.ChangePct > 5:
		trend.Direction = "improving"
	case trend.ChangePct < -5:
		trend.Direction = "declining"
	}
	return trend
}

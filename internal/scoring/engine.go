package scoring

import (
	"context"
	"encoding/json"
	"log"
	"math"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/trustrank/scoring-engine/internal/calibrate"
	"github.com/trustrank/scoring-engine/internal/chain"
	"github.com/trustrank/scoring-engine/internal/config"
	"github.com/trustrank/scoring-engine/internal/detect"
	"github.com/trustrank/scoring-engine/internal/identity"
	"github.com/trustrank/scoring-engine/internal/metrics"
	"github.com/trustrank/scoring-engine/internal/store"
	"github.com/trustrank/scoring-engine/pkg/models"
)

// ModelVersion is stamped on every persisted score. Bump on any change to
// weights, breakpoints or detection thresholds.
const ModelVersion = "1.4.0"

// fraudDampening is the per-report integrity factor.
const fraudDampening = 0.90

// ScoreSink receives newly persisted scores for fanout (webhook queue,
// live stream). Implementations must not block.
type ScoreSink interface {
	ScoreUpdated(sc *models.Score)
}

// Engine computes, caches and serves trust scores. Serving follows
// stale-while-revalidate: a fresh cached score is returned as-is, a stale
// one is returned immediately while a background refresh is kicked off,
// and a miss computes synchronously under a hard timeout.
type Engine struct {
	Store       *store.Store
	RPC         chain.RPC
	Token       common.Address
	Resolver    chain.BasenameResolver
	CodeHost    identity.CodeHost
	Detector    *detect.Detector
	Weights     *calibrate.WeightProvider
	Thresholds  *calibrate.ThresholdProvider
	Breakpoints *calibrate.BreakpointProvider
	Tuning      config.Tuning
	Sink        ScoreSink // optional

	mu         sync.Mutex
	refreshing map[string]bool
	refreshSem chan struct{}
}

// NewEngine wires the engine. The refresh semaphore caps concurrent
// background recomputes across all wallets.
func NewEngine(st *store.Store, rpc chain.RPC, token common.Address, resolver chain.BasenameResolver,
	host identity.CodeHost, weights *calibrate.WeightProvider, thresholds *calibrate.ThresholdProvider,
	breakpoints *calibrate.BreakpointProvider, tuning config.Tuning) *Engine {
	return &Engine{
		Store:       st,
		RPC:         rpc,
		Token:       token,
		Resolver:    resolver,
		CodeHost:    host,
		Detector:    &detect.Detector{Store: st},
		Weights:     weights,
		Thresholds:  thresholds,
		Breakpoints: breakpoints,
		Tuning:      tuning,
		refreshing:  make(map[string]bool),
		refreshSem:  make(chan struct{}, tuning.RefreshConcurrency),
	}
}

// GetOrCalculate serves a wallet's score. force bypasses the cache.
func (e *Engine) GetOrCalculate(ctx context.Context, wallet string, force bool) (*models.Score, models.DataSource, error) {
	if !force {
		cached, err := e.Store.GetScore(ctx, wallet)
		if err == nil {
			now := time.Now().UTC()
			if IsFresh(cached, now) {
				return e.dampenForNewReports(ctx, cached), models.SourceCached, nil
			}
			// Stale: serve it marked as such, refresh behind the request.
			e.refreshAsync(wallet)
			return e.dampenForNewReports(ctx, cached), models.SourceStale, nil
		}
		if err != store.ErrNotFound {
			return nil, models.SourceUnavailable, err
		}
	}

	sc, err := e.Calculate(ctx, wallet)
	if err != nil {
		return nil, models.SourceUnavailable, err
	}
	return sc, models.SourceLive, nil
}

// dampenForNewReports applies the fraud penalty for reports filed after
// the cached score was computed. Works on a copy; the stored row is only
// corrected at the next recompute.
func (e *Engine) dampenForNewReports(ctx context.Context, sc *models.Score) *models.Score {
	n, err := e.Store.CountReportsAfter(ctx, sc.Wallet, sc.ComputedAt)
	if err != nil || n == 0 {
		return sc
	}
	out := *sc
	damp := math.Pow(fraudDampening, float64(n))
	out.Composite = clampScore(float64(sc.Composite) * damp)
	out.IntegrityMultiplier = clampMultiplier(sc.IntegrityMultiplier * damp)
	out.Tier = e.Thresholds.Current(ctx).TierFor(out.Composite)
	return &out
}

// refreshAsync schedules a background recompute, de-duplicated per wallet
// and capped globally. Silently drops when the cap is saturated; the next
// stale read will try again.
func (e *Engine) refreshAsync(wallet string) {
	e.mu.Lock()
	if e.refreshing[wallet] {
		e.mu.Unlock()
		return
	}
	select {
	case e.refreshSem <- struct{}{}:
	default:
		e.mu.Unlock()
		return
	}
	e.refreshing[wallet] = true
	e.mu.Unlock()

	go func() {
		defer func() {
			e.mu.Lock()
			delete(e.refreshing, wallet)
			e.mu.Unlock()
			<-e.refreshSem
		}()
		ctx, cancel := context.WithTimeout(context.Background(), e.Tuning.ComputeTimeout)
		defer cancel()
		if _, err := e.Calculate(ctx, wallet); err != nil {
			log.Printf("[Engine] background refresh failed for %s: %v", wallet, err)
		}
	}()
}

// chainFacts are the live RPC reads one compute needs.
type chainFacts struct {
	nonce       uint64
	nativeBal   float64
	tokenBal    float64
	hasBasename bool
}

// Calculate recomputes a wallet's score from scratch and persists it.
// When the chain RPC is unavailable it degrades to an identity-only
// partial score instead of failing the request.
func (e *Engine) Calculate(ctx context.Context, wallet string) (*models.Score, error) {
	ctx, cancel := context.WithTimeout(ctx, e.Tuning.ComputeTimeout)
	defer cancel()
	start := time.Now()

	w, err := e.Store.GetWallet(ctx, wallet)
	if err == store.ErrNotFound {
		w = &models.Wallet{Address: wallet}
	} else if err != nil {
		return nil, err
	}

	facts, rpcErr := e.fetchChainFacts(ctx, wallet)
	if rpcErr != nil {
		log.Printf("[Engine] RPC unavailable for %s, serving partial: %v", wallet, rpcErr)
		return e.partialScore(ctx, w)
	}

	sybil := e.Detector.DetectSybil(ctx, wallet)
	gaming := e.Detector.DetectGaming(ctx, detect.GamingInput{
		Wallet:  wallet,
		Nonce:   facts.nonce,
		TxCount: w.TxCount,
	})

	stats, err := e.Store.GetWalletStats(ctx, wallet)
	if err != nil {
		stats = &models.WalletStats{Wallet: wallet, Trend: models.TrendStable}
	}

	now := time.Now().UTC()
	ageDays := walletAgeDays(w, now)
	timestamps, _ := e.Store.TransferTimestamps(ctx, wallet,
		now.AddDate(0, 0, -90).Format(store.TimeFormat), 500)
	settlements, err := e.Store.CountSettlements(ctx, wallet)
	if err != nil {
		settlements = 0
	}

	// Brand-new address: no indexed activity, no live footprint, nothing
	// attested. The neutral behavior baseline and the stable-trend points
	// would otherwise mint a score out of absent evidence.
	if w.TxCount == 0 && facts.nonce == 0 && len(timestamps) == 0 &&
		!w.Registered && !facts.hasBasename && w.GitHubHandle == "" &&
		facts.nativeBal == 0 && facts.tokenBal == 0 {
		return e.noHistoryScore(ctx, w, now)
	}

	// Identity enrichment is soft: a code-host outage drops the bonus,
	// never the score.
	var profile identity.Profile
	if w.GitHubHandle != "" {
		if p, err := e.CodeHost.Fetch(ctx, w.GitHubHandle); err == nil {
			profile = *p
		} else {
			log.Printf("[Engine] code host fetch failed for %s: %v", w.GitHubHandle, err)
		}
	}

	// Dimension scores.
	breakdown := make(map[string]models.SignalBreakdown, 5)
	shift := e.Breakpoints.Current(ctx)

	relScore, relBD := ScoreReliability(ReliabilityInput{
		TxCount:         settlements,
		Nonce:           facts.nonce,
		SuccessRate:     successRate(w),
		UptimeSpanRatio: uptimeSpanRatio(timestamps, now),
		BlocksSinceLast: blocksSinceLast(w, now),
		TableShift:      shift,
	})
	breakdown[detect.DimReliability] = relBD

	tokenBal := facts.tokenBal
	if gaming.UseAvgBalance {
		tokenBal = avgBalanceProxy(stats, facts.tokenBal)
	}
	viaScore, viaBD := ScoreViability(ViabilityInput{
		NativeBalance:   facts.nativeBal,
		TokenBalance:    tokenBal,
		IncomeBurnRatio: stats.IncomeBurnRatio,
		AgeDays:         ageDays,
		Trend:           stats.Trend,
		EverDrained:     everDrained(w, facts.tokenBal),
		TableShift:      shift,
	})
	breakdown[detect.DimViability] = viaBD

	idnScore, idnBD := ScoreIdentity(IdentityInput{
		Registered:   w.Registered,
		HasBasename:  facts.hasBasename,
		CodeVerified: profile.Verified,
		RepoStars:    profile.Stars,
		LastPush:     profile.LastPushAt,
		AgeDays:      ageDays,
	})
	breakdown[detect.DimIdentity] = idnBD

	capScore, capBD := ScoreCapability(CapabilityInput{
		SettlementCount: settlements,
		Revenue30d:      stats.Inflow30d,
		UniquePartners:  stats.UniquePartners,
		TableShift:      shift,
	})
	breakdown[detect.DimCapability] = capBD

	behavior := ScoreBehavior(timestamps)
	breakdown[detect.DimBehavior] = behavior.Breakdown

	dims := models.Dimensions{
		Reliability: relScore,
		Viability:   viaScore,
		Identity:    idnScore,
		Capability:  capScore,
		Behavior:    behavior.Score,
	}
	dims = applyCaps(dims, sybil.Caps)
	dims = applyPenalties(dims, gaming.Penalties)

	weights := e.Weights.Current(ctx)
	raw := float64(dims.Reliability)*weights.Reliability +
		float64(dims.Viability)*weights.Viability +
		float64(dims.Identity)*weights.Identity +
		float64(dims.Capability)*weights.Capability +
		float64(dims.Behavior)*weights.Behavior
	rawComposite := clampScore(raw)

	reports, err := e.Store.CountReports(ctx, wallet)
	if err != nil {
		reports = 0
	}
	multiplier := 1.0
	for _, f := range sybil.Factors {
		multiplier *= f
	}
	for _, f := range gaming.Factors {
		multiplier *= f
	}
	multiplier *= math.Pow(fraudDampening, float64(reports))
	multiplier = clampMultiplier(multiplier)

	composite := clampScore(float64(rawComposite) * multiplier)
	confidence := e.confidence(ctx, wallet, w, stats, ageDays)

	sc := &models.Score{
		Wallet:              wallet,
		Composite:           composite,
		RawComposite:        rawComposite,
		Dimensions:          dims,
		Tier:                e.Thresholds.Current(ctx).TierFor(composite),
		Confidence:          confidence,
		ModelVersion:        ModelVersion,
		SybilFlag:           sybil.Flagged(),
		SybilIndicators:     sybil.Indicators,
		GamingIndicators:    gaming.Indicators,
		IntegrityMultiplier: multiplier,
		ComputedAt:          now.Format(store.TimeFormat),
		ExpiresAt:           now.Add(ScoreTTL).Format(store.TimeFormat),
	}
	sc.Recommendation = recommend(sc)
	sc.Snapshot = encodeSnapshot(breakdown, behavior.Class, weights, dims)

	if err := e.Store.UpsertScore(ctx, *sc); err != nil {
		return nil, err
	}
	if reports > 0 {
		_ = e.Store.MarkPenaltyApplied(ctx, wallet, sc.ComputedAt)
	}
	if e.Sink != nil {
		e.Sink.ScoreUpdated(sc)
	}
	metrics.ComputeSeconds.Observe(time.Since(start).Seconds())
	log.Printf("[Engine] scored %s: %d (%s, conf %.2f) in %s",
		wallet, sc.Composite, sc.Tier, sc.Confidence, time.Since(start).Round(time.Millisecond))
	return sc, nil
}

// fetchChainFacts runs the four RPC reads concurrently. Nonce and balance
// failures are hard (degrade to partial); the basename lookup is soft.
func (e *Engine) fetchChainFacts(ctx context.Context, wallet string) (*chainFacts, error) {
	addr := common.HexToAddress(wallet)
	facts := &chainFacts{}

	var wg sync.WaitGroup
	errs := make([]error, 3)

	wg.Add(3)
	go func() {
		defer wg.Done()
		facts.nonce, errs[0] = e.RPC.NonceAt(ctx, addr)
	}()
	go func() {
		defer wg.Done()
		wei, err := e.RPC.BalanceAt(ctx, addr)
		if err != nil {
			errs[1] = err
			return
		}
		facts.nativeBal = chain.WeiToEther(wei)
	}()
	go func() {
		defer wg.Done()
		facts.tokenBal, errs[2] = chain.TokenBalance(ctx, e.RPC, e.Token, addr)
	}()
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	has, err := e.Resolver.HasBasename(ctx, addr)
	if err != nil {
		log.Printf("[Engine] basename lookup failed for %s: %v", wallet, err)
	} else {
		facts.hasBasename = has
	}
	return facts, nil
}

// partialScore builds the degraded identity-only score served when the
// chain is unreachable. Confidence is zeroed and the TTL shortened so a
// full recompute is retried soon; an all-zero result is never cached.
func (e *Engine) partialScore(ctx context.Context, w *models.Wallet) (*models.Score, error) {
	now := time.Now().UTC()
	ageDays := walletAgeDays(w, now)

	var profile identity.Profile
	if w.GitHubHandle != "" {
		if p, err := e.CodeHost.Fetch(ctx, w.GitHubHandle); err == nil {
			profile = *p
		}
	}
	idnScore, idnBD := ScoreIdentity(IdentityInput{
		Registered:   w.Registered,
		CodeVerified: profile.Verified,
		RepoStars:    profile.Stars,
		LastPush:     profile.LastPushAt,
		AgeDays:      ageDays,
	})

	weights := e.Weights.Current(ctx)
	dims := models.Dimensions{Identity: idnScore}
	composite := clampScore(float64(idnScore) * weights.Identity)

	sc := &models.Score{
		Wallet:              w.Address,
		Composite:           composite,
		RawComposite:        composite,
		Dimensions:          dims,
		Tier:                e.Thresholds.Current(ctx).TierFor(composite),
		Confidence:          0,
		Recommendation:      models.RecommendRPCUnavailable,
		ModelVersion:        ModelVersion,
		IntegrityMultiplier: 1.0,
		ComputedAt:          now.Format(store.TimeFormat),
		ExpiresAt:           now.Add(PartialScoreTTL).Format(store.TimeFormat),
	}
	sc.Snapshot = encodeSnapshot(map[string]models.SignalBreakdown{
		detect.DimIdentity: idnBD,
	}, "", weights, dims)

	if composite > 0 {
		if err := e.Store.UpsertScore(ctx, *sc); err != nil {
			return nil, err
		}
	}
	return sc, nil
}

// noHistoryScore persists the explicit zero for a wallet with no evidence
// at all. Distinct from the degraded partial score: the chain answered,
// it just had nothing to say, so the row gets the normal TTL.
func (e *Engine) noHistoryScore(ctx context.Context, w *models.Wallet, now time.Time) (*models.Score, error) {
	sc := &models.Score{
		Wallet:              w.Address,
		Tier:                e.Thresholds.Current(ctx).TierFor(0),
		ModelVersion:        ModelVersion,
		IntegrityMultiplier: 1.0,
		ComputedAt:          now.Format(store.TimeFormat),
		ExpiresAt:           now.Add(ScoreTTL).Format(store.TimeFormat),
	}
	sc.Recommendation = recommend(sc)

	snap := models.ScoreSnapshot{
		Breakdown:        map[string]models.SignalBreakdown{},
		DataAvailability: map[string]string{"transaction_history": "none (0 transactions)"},
	}
	blob, _ := json.Marshal(snap)
	sc.Snapshot = string(blob)

	if err := e.Store.UpsertScore(ctx, *sc); err != nil {
		return nil, err
	}
	if e.Sink != nil {
		e.Sink.ScoreUpdated(sc)
	}
	log.Printf("[Engine] scored %s: 0 (no history)", w.Address)
	return sc, nil
}

// confidence weighs how much evidence backs the score: settlement depth,
// age, partner diversity, prior queries and trajectory stability.
func (e *Engine) confidence(ctx context.Context, wallet string, w *models.Wallet, stats *models.WalletStats, ageDays float64) float64 {
	txSignal := math.Min(float64(w.TxCount)/50.0, 1)
	ageSignal := math.Min(ageDays/90.0, 1)
	partnerSignal := math.Min(float64(stats.UniquePartners)/10.0, 1)

	queries, err := e.Store.CountQueriesFor(ctx, wallet)
	if err != nil {
		queries = 0
	}
	querySignal := math.Min(float64(queries)/20.0, 1)

	stability := 0.5
	if history, err := e.Store.GetHistory(ctx, wallet, "", "", 10); err == nil && len(history) >= 3 {
		min, max := history[0].Score, history[0].Score
		for _, h := range history {
			if h.Score < min {
				min = h.Score
			}
			if h.Score > max {
				max = h.Score
			}
		}
		if max-min <= 10 {
			stability = 1
		} else if max-min >= 40 {
			stability = 0
		}
	}

	c := 0.30*txSignal + 0.25*ageSignal + 0.20*partnerSignal + 0.15*querySignal + 0.10*stability
	return math.Round(c*100) / 100
}

// recommend picks the verdict; order matters.
func recommend(sc *models.Score) models.Recommendation {
	switch {
	case sc.SybilFlag || len(sc.GamingIndicators) > 0:
		return models.RecommendFlaggedForReview
	case sc.Confidence < 0.3:
		return models.RecommendInsufficientHistory
	case sc.Composite < 25 && sc.Confidence >= 0.5:
		return models.RecommendHighRisk
	case sc.Composite >= 50 && sc.Confidence >= 0.5:
		return models.RecommendProceed
	default:
		return models.RecommendProceedWithCaution
	}
}

// ─── input derivation ────────────────────────────────────────────────

func walletAgeDays(w *models.Wallet, now time.Time) float64 {
	if w.FirstSeen == "" {
		return 0
	}
	first, err := store.ParseTime(w.FirstSeen)
	if err != nil {
		return 0
	}
	return now.Sub(first).Hours() / 24
}

// successRate is a proxy: only successful transfers reach the index, so
// any settled activity reads as fully successful. Revisit if receipt
// status ever gets indexed.
func successRate(w *models.Wallet) float64 {
	if w.TxCount > 0 {
		return 1
	}
	return 0
}

// uptimeSpanRatio is the active span within the trailing 14 days over the
// full window.
func uptimeSpanRatio(timestamps []time.Time, now time.Time) float64 {
	window := 14 * 24 * time.Hour
	cutoff := now.Add(-window)
	var first, last time.Time
	for _, t := range timestamps {
		if t.Before(cutoff) {
			continue
		}
		if first.IsZero() || t.Before(first) {
			first = t
		}
		if t.After(last) {
			last = t
		}
	}
	if first.IsZero() {
		return 0
	}
	return clamp01(last.Sub(first).Seconds() / window.Seconds())
}

// blocksSinceLast converts wall time since the last indexed transfer to
// blocks at the chain's 2s cadence.
func blocksSinceLast(w *models.Wallet, now time.Time) uint64 {
	if w.LastSeen == "" {
		return math.MaxUint32
	}
	last, err := store.ParseTime(w.LastSeen)
	if err != nil {
		return math.MaxUint32
	}
	return uint64(now.Sub(last).Seconds() / 2)
}

// avgBalanceProxy substitutes a flow-derived balance when window dressing
// was detected: spot balance minus the suspicious last-day net inflow.
func avgBalanceProxy(stats *models.WalletStats, spot float64) float64 {
	adjusted := spot - (stats.Inflow24h - stats.Outflow24h)
	if adjusted < 0 {
		return 0
	}
	return adjusted
}

// everDrained: meaningful lifetime inflow with almost nothing left.
func everDrained(w *models.Wallet, tokenBal float64) bool {
	return w.VolumeIn >= 10 && tokenBal < w.VolumeIn*0.01
}

func applyCaps(d models.Dimensions, caps map[string]int) models.Dimensions {
	for dim, cap := range caps {
		switch dim {
		case detect.DimReliability:
			if d.Reliability > cap {
				d.Reliability = cap
			}
		case detect.DimViability:
			if d.Viability > cap {
				d.Viability = cap
			}
		case detect.DimIdentity:
			if d.Identity > cap {
				d.Identity = cap
			}
		case detect.DimCapability:
			if d.Capability > cap {
				d.Capability = cap
			}
		case detect.DimBehavior:
			if d.Behavior > cap {
				d.Behavior = cap
			}
		}
	}
	return d
}

func applyPenalties(d models.Dimensions, penalties map[string]int) models.Dimensions {
	for dim, p := range penalties {
		switch dim {
		case detect.DimReliability:
			d.Reliability = floorZero(d.Reliability - p)
		case detect.DimViability:
			d.Viability = floorZero(d.Viability - p)
		case detect.DimIdentity:
			d.Identity = floorZero(d.Identity - p)
		case detect.DimCapability:
			d.Capability = floorZero(d.Capability - p)
		case detect.DimBehavior:
			d.Behavior = floorZero(d.Behavior - p)
		}
	}
	return d
}

func floorZero(v int) int {
	if v < 0 {
		return 0
	}
	return v
}

func clampMultiplier(m float64) float64 {
	if m < 0.10 {
		return 0.10
	}
	if m > 1.00 {
		return 1.00
	}
	return m
}

// dimContribution pairs a dimension with its weighted composite points.
type dimContribution struct {
	name   string
	points float64
}

func contributions(weights models.DimensionWeights, dims models.Dimensions) []dimContribution {
	return []dimContribution{
		{detect.DimReliability, float64(dims.Reliability) * weights.Reliability},
		{detect.DimViability, float64(dims.Viability) * weights.Viability},
		{detect.DimIdentity, float64(dims.Identity) * weights.Identity},
		{detect.DimCapability, float64(dims.Capability) * weights.Capability},
		{detect.DimBehavior, float64(dims.Behavior) * weights.Behavior},
	}
}

package store

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/trustrank/scoring-engine/pkg/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleScore(wallet string, composite int) models.Score {
	now := time.Now().UTC()
	return models.Score{
		Wallet:       wallet,
		Composite:    composite,
		RawComposite: composite,
		Dimensions: models.Dimensions{
			Reliability: 60, Viability: 50, Identity: 40, Capability: 30, Behavior: 70,
		},
		Tier:                models.TierEstablished,
		Confidence:          0.8,
		Recommendation:      models.RecommendProceed,
		ModelVersion:        "test",
		IntegrityMultiplier: 1.0,
		Snapshot:            "{}",
		ComputedAt:          now.Format(TimeFormat),
		ExpiresAt:           now.Add(time.Hour).Format(TimeFormat),
	}
}

func TestUpsertAndGetScore(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sc := sampleScore("0xaaa", 62)
	if err := s.UpsertScore(ctx, sc); err != nil {
		t.Fatalf("UpsertScore: %v", err)
	}

	got, err := s.GetScore(ctx, "0xaaa")
	if err != nil {
		t.Fatalf("GetScore: %v", err)
	}
	if got.Composite != 62 || got.Dimensions.Behavior != 70 {
		t.Errorf("round-trip mismatch: composite=%d behavior=%d", got.Composite, got.Dimensions.Behavior)
	}

	// Second upsert replaces, not duplicates.
	sc.Composite = 70
	if err := s.UpsertScore(ctx, sc); err != nil {
		t.Fatalf("UpsertScore update: %v", err)
	}
	got, _ = s.GetScore(ctx, "0xaaa")
	if got.Composite != 70 {
		t.Errorf("expected updated composite 70, got %d", got.Composite)
	}

	if _, err := s.GetScore(ctx, "0xmissing"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound for unknown wallet, got %v", err)
	}
}

func TestHistoryPrunedToFifty(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-60 * time.Hour)
	for i := 0; i < 55; i++ {
		sc := sampleScore("0xbbb", 40+i%20)
		sc.ComputedAt = base.Add(time.Duration(i) * time.Hour).Format(TimeFormat)
		sc.ExpiresAt = base.Add(time.Duration(i+1) * time.Hour).Format(TimeFormat)
		if err := s.UpsertScore(ctx, sc); err != nil {
			t.Fatalf("UpsertScore #%d: %v", i, err)
		}
	}

	entries, err := s.GetHistory(ctx, "0xbbb", "", "", 100)
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if len(entries) != 50 {
		t.Fatalf("expected history capped at 50 entries, got %d", len(entries))
	}
	// Newest first, and the newest entry must be the last upsert.
	want := base.Add(54 * time.Hour).Format(TimeFormat)
	if entries[0].ComputedAt != want {
		t.Errorf("expected newest entry %s, got %s", want, entries[0].ComputedAt)
	}
}

func makeTransfer(hash, from, to string, amount float64, ts time.Time) models.Transfer {
	return models.Transfer{
		TxHash:      hash,
		BlockNumber: 100,
		From:        from,
		To:          to,
		Amount:      amount,
		Timestamp:   ts.Format(TimeFormat),
		Settlement:  true,
	}
}

func TestIndexTransferBatchIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	ts := time.Now().UTC()

	batch := []models.Transfer{
		makeTransfer("0xt1", "0xaaa", "0xbbb", 0.5, ts),
		makeTransfer("0xt2", "0xaaa", "0xccc", 0.25, ts),
	}
	inserted, err := s.IndexTransferBatch(ctx, batch)
	if err != nil {
		t.Fatalf("IndexTransferBatch: %v", err)
	}
	if inserted != 2 {
		t.Fatalf("expected 2 inserted, got %d", inserted)
	}

	// Replaying the same batch must insert nothing and leave the
	// aggregates untouched.
	inserted, err = s.IndexTransferBatch(ctx, batch)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if inserted != 0 {
		t.Fatalf("expected 0 inserted on replay, got %d", inserted)
	}

	w, err := s.GetWallet(ctx, "0xaaa")
	if err != nil {
		t.Fatalf("GetWallet: %v", err)
	}
	if w.TxCount != 2 {
		t.Errorf("expected tx_count 2 after replay, got %d", w.TxCount)
	}
	if w.VolumeOut != 0.75 {
		t.Errorf("expected volume_out 0.75 after replay, got %v", w.VolumeOut)
	}

	edge, err := s.EdgeBetween(ctx, "0xaaa", "0xbbb")
	if err != nil {
		t.Fatalf("EdgeBetween: %v", err)
	}
	if edge.TxCountAToB+edge.TxCountBToA != 1 {
		t.Errorf("expected single edge tx after replay, got %d", edge.TxCountAToB+edge.TxCountBToA)
	}
}

func TestReportLimitPerReporter(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := s.FileReport(ctx, "0xtarget", "0xreporter", "spam", fmt.Sprintf("report %d", i)); err != nil {
			t.Fatalf("FileReport #%d: %v", i, err)
		}
	}
	if _, err := s.FileReport(ctx, "0xtarget", "0xreporter", "spam", "fourth"); err != ErrReportLimit {
		t.Fatalf("expected ErrReportLimit on 4th report, got %v", err)
	}

	// A different reporter is unaffected.
	if _, err := s.FileReport(ctx, "0xtarget", "0xother", "spam", ""); err != nil {
		t.Fatalf("different reporter blocked: %v", err)
	}
	n, _ := s.CountReports(ctx, "0xtarget")
	if n != 4 {
		t.Errorf("expected 4 persisted reports, got %d", n)
	}
}

func TestFileReportRejectsOverlongDetails(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// The cap counts characters, not bytes: 1001 two-byte runes must be
	// rejected, 1000 accepted.
	if _, err := s.FileReport(ctx, "0xtarget", "0xreporter", "spam", strings.Repeat("é", 1001)); err != ErrDetailsTooLong {
		t.Fatalf("expected ErrDetailsTooLong, got %v", err)
	}
	report, err := s.FileReport(ctx, "0xtarget", "0xreporter", "spam", strings.Repeat("é", 1000))
	if err != nil {
		t.Fatalf("1000-character details rejected: %v", err)
	}
	if len([]rune(report.Details)) != 1000 {
		t.Errorf("details must persist untruncated, got %d runes", len([]rune(report.Details)))
	}
}

func TestWebhookAutoDisable(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	wh, err := s.CreateWebhook(ctx, "0xaaa", "https://example.com/hook", "secret-secret-16", []string{"score.updated"})
	if err != nil {
		t.Fatalf("CreateWebhook: %v", err)
	}

	for i := 0; i < DisableThreshold; i++ {
		id, err := s.EnqueueDelivery(ctx, wh.ID, "score.updated", "{}")
		if err != nil {
			t.Fatalf("EnqueueDelivery #%d: %v", i, err)
		}
		if id == "" {
			t.Fatalf("delivery dropped before disable threshold (failure %d)", i)
		}
		if err := s.MarkFailed(ctx, id, 500, Now()); err != nil {
			t.Fatalf("MarkFailed #%d: %v", i, err)
		}
	}

	got, err := s.GetWebhook(ctx, wh.ID)
	if err != nil {
		t.Fatalf("GetWebhook: %v", err)
	}
	if got.Active {
		t.Errorf("expected webhook disabled after %d consecutive failures", DisableThreshold)
	}

	// Disabled webhooks drop new deliveries at enqueue time.
	id, err := s.EnqueueDelivery(ctx, wh.ID, "score.updated", "{}")
	if err != nil {
		t.Fatalf("EnqueueDelivery after disable: %v", err)
	}
	if id != "" {
		t.Errorf("expected enqueue to drop for disabled webhook")
	}
}

func TestWebhookSuccessResetsFailures(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	wh, _ := s.CreateWebhook(ctx, "", "https://example.com/hook", "secret-secret-16", []string{"score.updated"})
	id, _ := s.EnqueueDelivery(ctx, wh.ID, "score.updated", "{}")
	_ = s.MarkFailed(ctx, id, 500, Now())
	id2, _ := s.EnqueueDelivery(ctx, wh.ID, "score.updated", "{}")
	if err := s.MarkDelivered(ctx, id2, 200); err != nil {
		t.Fatalf("MarkDelivered: %v", err)
	}

	got, _ := s.GetWebhook(ctx, wh.ID)
	if got.ConsecutiveFailures != 0 {
		t.Errorf("expected failure counter reset, got %d", got.ConsecutiveFailures)
	}
}

func TestStateCheckpointRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.GetStateUint(ctx, StateMicropayCheckpoint); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound for fresh checkpoint, got %v", err)
	}
	if err := s.SetStateUint(ctx, StateMicropayCheckpoint, 123456); err != nil {
		t.Fatalf("SetStateUint: %v", err)
	}
	v, err := s.GetStateUint(ctx, StateMicropayCheckpoint)
	if err != nil || v != 123456 {
		t.Fatalf("expected 123456, got %d (%v)", v, err)
	}
}

func TestCountReportsAfter(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.FileReport(ctx, "0xtarget", "0xr1", "fraud", ""); err != nil {
		t.Fatalf("FileReport: %v", err)
	}
	cutFuture := time.Now().UTC().Add(time.Minute).Format(TimeFormat)
	cutPast := time.Now().UTC().Add(-time.Minute).Format(TimeFormat)

	n, _ := s.CountReportsAfter(ctx, "0xtarget", cutPast)
	if n != 1 {
		t.Errorf("expected 1 report after past cutoff, got %d", n)
	}
	n, _ = s.CountReportsAfter(ctx, "0xtarget", cutFuture)
	if n != 0 {
		t.Errorf("expected 0 reports after future cutoff, got %d", n)
	}
}

package calibrate

import (
	"context"
	"testing"
	"time"

	"github.com/trustrank/scoring-engine/internal/store"
	"github.com/trustrank/scoring-engine/pkg/models"
)

func TestMatchIntentsCountsFollowThrough(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.LogQuery(ctx, "req-1", "0xaaa", 70); err != nil {
		t.Fatalf("LogQuery: %v", err)
	}
	if err := s.LogQuery(ctx, "req-2", "0xbbb", 55); err != nil {
		t.Fatalf("LogQuery: %v", err)
	}

	// One settlement involving the first wallet inside the follow-up
	// window; the second wallet stays quiet.
	settled := time.Now().UTC().Add(time.Hour).Format(store.TimeFormat)
	_, err := s.IndexTransferBatch(ctx, []models.Transfer{{
		TxHash:      "intent-tx1",
		BlockNumber: 1000,
		From:        "0xpayer",
		To:          "0xaaa",
		Amount:      0.5,
		Timestamp:   settled,
		Settlement:  true,
	}})
	if err != nil {
		t.Fatalf("IndexTransferBatch: %v", err)
	}

	stats, err := MatchIntents(ctx, s)
	if err != nil {
		t.Fatalf("MatchIntents: %v", err)
	}
	if stats.Queries != 2 {
		t.Errorf("queries = %d, want 2", stats.Queries)
	}
	if stats.FollowedUp != 1 {
		t.Errorf("followedUp = %d, want 1", stats.FollowedUp)
	}
	if stats.Rate != 0.5 {
		t.Errorf("rate = %v, want 0.5", stats.Rate)
	}

	loaded, ok := LoadIntents(ctx, s)
	if !ok {
		t.Fatal("intent stats not persisted")
	}
	if loaded.FollowedUp != stats.FollowedUp || loaded.Queries != stats.Queries {
		t.Errorf("persisted stats mismatch: %+v vs %+v", loaded, stats)
	}
}

func TestMatchIntentsEmptyLog(t *testing.T) {
	s := openTestStore(t)

	stats, err := MatchIntents(context.Background(), s)
	if err != nil {
		t.Fatalf("MatchIntents: %v", err)
	}
	if stats.Queries != 0 || stats.FollowedUp != 0 || stats.Rate != 0 {
		t.Errorf("empty log expected zero stats, got %+v", stats)
	}
}

package detect

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/trustrank/scoring-engine/internal/store"
	"github.com/trustrank/scoring-engine/pkg/models"
)

func newTestDetector(t *testing.T) (*Detector, *store.Store) {
	t.Helper()
	s, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return &Detector{Store: s}, s
}

var txSeq int

func tx(from, to string, amount float64, at time.Time) models.Transfer {
	txSeq++
	return models.Transfer{
		TxHash:      fmt.Sprintf("0xfixture%04d", txSeq),
		BlockNumber: uint64(1000 + txSeq),
		From:        from,
		To:          to,
		Amount:      amount,
		Timestamp:   at.UTC().Format(store.TimeFormat),
		Settlement:  true,
	}
}

func index(t *testing.T, s *store.Store, batch []models.Transfer) {
	t.Helper()
	if _, err := s.IndexTransferBatch(context.Background(), batch); err != nil {
		t.Fatalf("IndexTransferBatch: %v", err)
	}
}

func hasSybil(res *SybilResult, want models.SybilIndicator) bool {
	for _, ind := range res.Indicators {
		if ind == want {
			return true
		}
	}
	return false
}

func TestDetectSybil_CleanWalletNotFlagged(t *testing.T) {
	d, s := newTestDetector(t)
	now := time.Now().UTC()
	w := "0xclean"

	// Organic profile: funded by two distinct sources weeks before the
	// payment activity, then outbound payments spread over four partners.
	batch := []models.Transfer{
		tx("0xfund1", w, 1.0, now.AddDate(0, 0, -60)),
		tx("0xfund2", w, 1.0, now.AddDate(0, 0, -59)),
	}
	partners := []string{"0xp1", "0xp2", "0xp3", "0xp4"}
	counts := []int{3, 2, 2, 1}
	day := -50
	for i, p := range partners {
		for j := 0; j < counts[i]; j++ {
			batch = append(batch, tx(w, p, 0.5, now.AddDate(0, 0, day)))
			day += 3
		}
	}
	index(t, s, batch)

	res := d.DetectSybil(context.Background(), w)
	if res.Flagged() {
		t.Errorf("clean wallet flagged: %v", res.Indicators)
	}
}

func TestDetectSybil_WashTrading(t *testing.T) {
	d, s := newTestDetector(t)
	now := time.Now().UTC()
	w := "0xwasher"

	index(t, s, []models.Transfer{
		// Old activity so the wallet predates its wash partner.
		tx(w, "0xpc", 2.0, now.AddDate(0, 0, -20)),
		// Two round trips inside the 7-day window, returned within hours.
		tx(w, "0xpb", 5.0, now.Add(-48*time.Hour)),
		tx("0xpb", w, 5.0, now.Add(-47*time.Hour)),
		tx(w, "0xpb", 4.0, now.Add(-40*time.Hour)),
		tx("0xpb", w, 4.0, now.Add(-39*time.Hour)),
		tx(w, "0xpc", 2.0, now.Add(-30*time.Hour)),
	})

	res := d.DetectSybil(context.Background(), w)
	if !hasSybil(res, models.SybilWashTrading) {
		t.Fatalf("expected wash_trading indicator, got %v", res.Indicators)
	}
	if cap, ok := res.Caps[DimReliability]; !ok || cap > 30 {
		t.Errorf("wash trading should cap reliability at 30, got %v", res.Caps)
	}
}

func TestDetectSybil_SinglePartnerDominance(t *testing.T) {
	d, s := newTestDetector(t)
	now := time.Now().UTC()
	w := "0xdominated"

	batch := []models.Transfer{tx(w, "0xpc", 0.5, now.AddDate(0, 0, -30))}
	for i := 0; i < 9; i++ {
		batch = append(batch, tx(w, "0xpb", 0.5+float64(i)*0.07, now.Add(-time.Duration(48-i)*time.Hour)))
	}
	index(t, s, batch)

	res := d.DetectSybil(context.Background(), w)
	if !hasSybil(res, models.SybilSinglePartner) {
		t.Fatalf("expected single_partner indicator, got %v", res.Indicators)
	}
	if len(res.Indicators) != 1 {
		t.Errorf("expected only single_partner to fire, got %v", res.Indicators)
	}
	// Dominance dampens without capping any dimension.
	if len(res.Caps) != 0 {
		t.Errorf("single_partner should not cap dimensions, got %v", res.Caps)
	}
}

func TestDetectSybil_SymmetricPartnerships(t *testing.T) {
	d, s := newTestDetector(t)
	now := time.Now().UTC()
	w := "0xmirror"

	batch := []models.Transfer{
		// Partners exist on-chain well before they meet the target, and
		// a separate early funder holds the earliest-inbound slot.
		tx("0xp1", "0xsink", 1.0, now.AddDate(0, 0, -60)),
		tx("0xp2", "0xsink", 1.0, now.AddDate(0, 0, -60)),
		tx("0xp3", "0xsink", 1.0, now.AddDate(0, 0, -60)),
		tx("0xfund", w, 0.1, now.AddDate(0, 0, -35)),
	}
	for i, p := range []string{"0xp1", "0xp2", "0xp3"} {
		out := now.AddDate(0, 0, -30+i*2)
		batch = append(batch,
			tx(w, p, 5.0, out),
			tx(p, w, 4.8, out.Add(30*time.Hour)),
		)
	}
	index(t, s, batch)

	res := d.DetectSybil(context.Background(), w)
	if !hasSybil(res, models.SybilSymmetricTxs) {
		t.Fatalf("expected symmetric_transaction_patterns, got %v", res.Indicators)
	}
}

func TestDetectSybil_SingleSourceFunding(t *testing.T) {
	d, s := newTestDetector(t)
	now := time.Now().UTC()
	w := "0xonefund"

	batch := []models.Transfer{
		tx("0xfund", w, 1.0, now.AddDate(0, 0, -30)),
		tx("0xfund", w, 1.0, now.AddDate(0, 0, -29)),
	}
	// Outbound payments make a different wallet the top partner, so this
	// is single-source funding rather than funded-by-top-partner.
	for i := 0; i < 5; i++ {
		batch = append(batch, tx(w, "0xpb", 0.3, now.AddDate(0, 0, -10+i)))
	}
	index(t, s, batch)

	res := d.DetectSybil(context.Background(), w)
	if !hasSybil(res, models.SybilSingleSourceFunds) {
		t.Fatalf("expected single_source_funding, got %v", res.Indicators)
	}
	if hasSybil(res, models.SybilFundedByTopPartner) {
		t.Errorf("funded_by_top_partner must not fire when funder is not the top partner")
	}
	if cap := res.Caps[DimReliability]; cap != 50 {
		t.Errorf("single_source_funding should cap reliability at 50, got %d", cap)
	}
}

func TestSybilFactorsMultiplyBelowOne(t *testing.T) {
	res := &SybilResult{Caps: make(map[string]int)}
	res.add(models.SybilWashTrading, 0.50, map[string]int{DimReliability: 30})
	res.add(models.SybilSinglePartner, 0.75, nil)

	product := 1.0
	for _, f := range res.Factors {
		product *= f
		if f <= 0 || f >= 1 {
			t.Errorf("integrity factor out of (0,1): %v", f)
		}
	}
	if product != 0.375 {
		t.Errorf("expected compounded factor 0.375, got %v", product)
	}
}

func TestSybilCapsKeepTightest(t *testing.T) {
	res := &SybilResult{Caps: make(map[string]int)}
	res.add(models.SybilTightCluster, 0.55, map[string]int{DimReliability: 40})
	res.add(models.SybilWashTrading, 0.50, map[string]int{DimReliability: 30})

	if res.Caps[DimReliability] != 30 {
		t.Errorf("expected tightest cap 30 to win, got %d", res.Caps[DimReliability])
	}
}

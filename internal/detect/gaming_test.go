package detect

import (
	"context"
	"testing"
	"time"

	"github.com/trustrank/scoring-engine/pkg/models"
)

func TestWindowDressing(t *testing.T) {
	tests := []struct {
		name     string
		stats    models.WalletStats
		expected bool
	}{
		{"Steady Inflow", models.WalletStats{Inflow24h: 15, Inflow30d: 450}, false},
		{"Triple The Daily Average", models.WalletStats{Inflow24h: 45, Inflow30d: 450}, true},
		{"Spike Below Floor", models.WalletStats{Inflow24h: 5, Inflow30d: 10}, false},
		{"All Inflow Today Small", models.WalletStats{Inflow24h: 12, Inflow30d: 12}, false},
		{"All Inflow Today Large", models.WalletStats{Inflow24h: 40, Inflow30d: 40}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := windowDressing(&tt.stats); got != tt.expected {
				t.Errorf("windowDressing(%+v) = %v, want %v", tt.stats, got, tt.expected)
			}
		})
	}
}

func TestNonceInflation(t *testing.T) {
	tests := []struct {
		name     string
		in       GamingInput
		expected bool
	}{
		{"Low Nonce", GamingInput{Nonce: 20, TxCount: 2}, false},
		{"Proportionate Activity", GamingInput{Nonce: 100, TxCount: 80}, false},
		{"Inflated Against Payments", GamingInput{Nonce: 500, TxCount: 50}, true},
		{"High Nonce Zero Payments", GamingInput{Nonce: 60, TxCount: 0}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := nonceInflation(tt.in); got != tt.expected {
				t.Errorf("nonceInflation(%+v) = %v, want %v", tt.in, got, tt.expected)
			}
		})
	}
}

func TestDetectGaming_BurstAndStop(t *testing.T) {
	d, s := newTestDetector(t)
	now := time.Now().UTC()
	w := "0xburster"

	// Six payments inside five days, then five weeks of silence.
	batch := make([]models.Transfer, 0, 6)
	for i := 0; i < 6; i++ {
		batch = append(batch, tx(w, "0xpb", 0.4, now.AddDate(0, 0, -40).Add(time.Duration(i*20)*time.Hour)))
	}
	index(t, s, batch)

	res := d.DetectGaming(context.Background(), GamingInput{Wallet: w, Nonce: 6, TxCount: 6})
	if len(res.Indicators) != 1 || res.Indicators[0] != models.GamingBurstAndStop {
		t.Fatalf("expected only burst_and_stop, got %v", res.Indicators)
	}
	if res.Penalties[DimReliability] != 8 {
		t.Errorf("expected reliability penalty 8, got %v", res.Penalties)
	}
	if res.UseAvgBalance {
		t.Errorf("burst_and_stop must not switch to average balance")
	}
}

func TestDetectGaming_RevenueRecycling(t *testing.T) {
	d, s := newTestDetector(t)
	now := time.Now().UTC()
	w := "0xrecycler"

	// Inbound revenue pushed back out within hours, three times over.
	batch := []models.Transfer{
		tx("0xpa", w, 5.0, now.Add(-90*time.Hour)),
		tx(w, "0xpb", 5.0, now.Add(-88*time.Hour)),
		tx("0xpa", w, 4.0, now.Add(-60*time.Hour)),
		tx(w, "0xpb", 4.0, now.Add(-58*time.Hour)),
		tx("0xpa", w, 3.0, now.Add(-30*time.Hour)),
		tx(w, "0xpb", 3.0, now.Add(-28*time.Hour)),
		// One inbound that stays put.
		tx("0xpc", w, 2.0, now.Add(-20*time.Hour)),
	}
	index(t, s, batch)

	res := d.DetectGaming(context.Background(), GamingInput{Wallet: w, Nonce: 7, TxCount: 7})
	found := false
	for _, ind := range res.Indicators {
		if ind == models.GamingRevenueRecycle {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected revenue_recycling, got %v", res.Indicators)
	}
	if res.Penalties[DimBehavior] != 10 || res.Penalties[DimViability] != 5 {
		t.Errorf("unexpected penalties: %v", res.Penalties)
	}
}

func TestGamingPenaltiesAccumulate(t *testing.T) {
	res := &GamingResult{Penalties: make(map[string]int)}
	res.add(models.GamingBurstAndStop, 0.85, map[string]int{DimReliability: 8})
	res.add(models.GamingNonceInflation, 0.90, map[string]int{DimReliability: 8})

	if res.Penalties[DimReliability] != 16 {
		t.Errorf("penalties on the same dimension must stack, got %d", res.Penalties[DimReliability])
	}
	if len(res.Factors) != 2 {
		t.Errorf("expected one factor per indicator, got %d", len(res.Factors))
	}
}

package scoring

import (
	"time"

	"github.com/trustrank/scoring-engine/pkg/models"
)

// Identity (weight 0.20)
//
// Attestation signals: self-registration, basename ownership, a verified
// code-host account with stars and recent pushes, and wallet-age tiers.
// This is the one dimension computable without RPC, which is why the
// degraded "identity-only" partial score leans on it.

// IdentityInput holds the facts the scorer consumes.
type IdentityInput struct {
	Registered   bool
	HasBasename  bool
	CodeVerified bool
	RepoStars    int
	LastPush     time.Time
	AgeDays      float64
}

var (
	identityStarsTable = []Breakpoint{
		{0, 0}, {1, 3}, {5, 7}, {25, 11}, {100, 15},
	}
	identityAgeTable = []Breakpoint{
		{0, 0}, {7, 5}, {30, 10}, {90, 15}, {365, 20},
	}
)

const (
	registrationPoints = 20
	basenamePoints     = 20
	verifiedPoints     = 15
	recentPushPoints   = 10
	recentPushWindow   = 30 * 24 * time.Hour
)

// ScoreIdentity returns the dimension score and its signal breakdown.
func ScoreIdentity(in IdentityInput) (int, models.SignalBreakdown) {
	bd := models.SignalBreakdown{}

	if in.Registered {
		bd["registration"] = registrationPoints
	}
	if in.HasBasename {
		bd["basename"] = basenamePoints
	}
	if in.CodeVerified {
		bd["code_host_verified"] = verifiedPoints
		bd["repo_stars"] = Interpolate(identityStarsTable, float64(in.RepoStars))
		if !in.LastPush.IsZero() && time.Since(in.LastPush) <= recentPushWindow {
			bd["recent_push"] = recentPushPoints
		}
	}
	bd["wallet_age"] = Interpolate(identityAgeTable, in.AgeDays)

	total := 0.0
	for _, v := range bd {
		total += v
	}
	return clampScore(total), bd
}

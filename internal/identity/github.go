package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Profile is the code-host metadata consumed by the identity scorer.
type Profile struct {
	Verified   bool      `json:"verified"`
	Stars      int       `json:"stars"`
	LastPushAt time.Time `json:"lastPushAt"`
}

// CodeHost fetches developer-identity metadata for a linked account.
// Swappable behind this interface so the engine tests with a stub.
type CodeHost interface {
	Fetch(ctx context.Context, account string) (*Profile, error)
}

// GitHubFetcher queries the GitHub REST API for starred-repo counts and
// the most recent push on the account's repos.
type GitHubFetcher struct {
	Token  string
	Client *http.Client
}

func NewGitHubFetcher(token string) *GitHubFetcher {
	return &GitHubFetcher{
		Token:  token,
		Client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (g *GitHubFetcher) Fetch(ctx context.Context, account string) (*Profile, error) {
	var repos []struct {
		Stars    int       `json:"stargazers_count"`
		PushedAt time.Time `json:"pushed_at"`
	}
	url := fmt.Sprintf("https://api.github.com/users/%s/repos?sort=pushed&per_page=30", account)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if g.Token != "" {
		req.Header.Set("Authorization", "Bearer "+g.Token)
	}

	resp, err := g.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("github fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return &Profile{}, nil
	}
	if resp.StatusCode != http.StatusOK {
		// 403 here is almost always a rate limit; the caller treats it as
		// an upstream transient and scores without the identity bonus.
		return nil, fmt.Errorf("github status %d for %s", resp.StatusCode, account)
	}
	if err := json.NewDecoder(resp.Body).Decode(&repos); err != nil {
		return nil, err
	}

	p := &Profile{Verified: true}
	for _, r := range repos {
		p.Stars += r.Stars
		if r.PushedAt.After(p.LastPushAt) {
			p.LastPushAt = r.PushedAt
		}
	}
	return p, nil
}

// NullHost reports no linked account; used when no token is configured.
type NullHost struct{}

func (NullHost) Fetch(ctx context.Context, account string) (*Profile, error) {
	return &Profile{}, nil
}

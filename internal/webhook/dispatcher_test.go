package webhook

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/trustrank/scoring-engine/internal/store"
)

func TestSignAndVerify(t *testing.T) {
	payload := []byte(`{"event":"score.updated","data":{"wallet":"0xabc"}}`)
	sig := Sign("supersecretsupersecret", payload)

	if len(sig) != len("sha256=")+64 {
		t.Fatalf("unexpected signature shape: %s", sig)
	}
	if !Verify("supersecretsupersecret", payload, sig) {
		t.Errorf("valid signature must verify")
	}
	if Verify("wrong-secret-wrong-secret", payload, sig) {
		t.Errorf("signature must not verify under a different secret")
	}
	tampered := append([]byte{}, payload...)
	tampered[10] ^= 1
	if Verify("supersecretsupersecret", tampered, sig) {
		t.Errorf("signature must not verify for altered payload bytes")
	}
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *store.Store) {
	t.Helper()
	s, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return NewDispatcher(s, 3), s
}

func TestDeliverySignedAndMarked(t *testing.T) {
	d, s := newTestDispatcher(t)
	ctx := context.Background()

	const secret = "webhook-secret-0123456789"
	var gotBody []byte
	var gotSig, gotEvent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSig = r.Header.Get("X-Signature")
		gotEvent = r.Header.Get("X-Event")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	wh, err := s.CreateWebhook(ctx, "0xabc", srv.URL, secret, []string{EventScoreUpdated})
	if err != nil {
		t.Fatalf("CreateWebhook: %v", err)
	}
	if err := d.Enqueue(ctx, EventScoreUpdated, "0xabc", map[string]int{"composite": 71}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := d.DispatchPending(ctx); err != nil {
		t.Fatalf("DispatchPending: %v", err)
	}

	if gotEvent != EventScoreUpdated {
		t.Errorf("expected X-Event %q, got %q", EventScoreUpdated, gotEvent)
	}
	// The signature covers the exact bytes on the wire.
	if !Verify(secret, gotBody, gotSig) {
		t.Errorf("receiver-side verification failed for delivered body")
	}

	pending, _ := s.PendingDeliveries(ctx, store.Now(), 10)
	if len(pending) != 0 {
		t.Errorf("delivered row must leave the pending set, %d remain", len(pending))
	}
	got, _ := s.GetWebhook(ctx, wh.ID)
	if got.ConsecutiveFailures != 0 {
		t.Errorf("success must keep failure counter at 0, got %d", got.ConsecutiveFailures)
	}
}

func TestDeliveryRetriesThenAbandons(t *testing.T) {
	d, s := newTestDispatcher(t)
	ctx := context.Background()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	if _, err := s.CreateWebhook(ctx, "0xabc", srv.URL, "webhook-secret-0123456789", []string{EventScoreUpdated}); err != nil {
		t.Fatalf("CreateWebhook: %v", err)
	}
	if err := d.Enqueue(ctx, EventScoreUpdated, "0xabc", nil); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	// First attempt fails and schedules a retry in the future, so an
	// immediate second dispatch pass must not touch it.
	if err := d.DispatchPending(ctx); err != nil {
		t.Fatalf("dispatch #1: %v", err)
	}
	if err := d.DispatchPending(ctx); err != nil {
		t.Fatalf("dispatch #2: %v", err)
	}
	if n := hits.Load(); n != 1 {
		t.Fatalf("expected 1 attempt before backoff elapses, got %d", n)
	}

	// Force the retry due and exhaust the remaining attempts.
	for i := 0; i < d.MaxAttempts-1; i++ {
		pending, err := s.PendingDeliveries(ctx, "9999-01-01T00:00:00Z", 10)
		if err != nil {
			t.Fatalf("PendingDeliveries: %v", err)
		}
		if len(pending) != 1 {
			t.Fatalf("expected 1 due delivery, got %d", len(pending))
		}
		d.attempt(ctx, pending[0])
	}
	if n := hits.Load(); n != int32(d.MaxAttempts) {
		t.Errorf("expected %d total attempts, got %d", d.MaxAttempts, n)
	}

	// Exhausted: no longer pending even with retry time forced.
	pending, _ := s.PendingDeliveries(ctx, "9999-01-01T00:00:00Z", 10)
	if len(pending) != 0 {
		t.Errorf("abandoned delivery must not reappear, %d remain", len(pending))
	}
}

func TestEnqueueSkipsUnsubscribedAndOtherWallets(t *testing.T) {
	d, s := newTestDispatcher(t)
	ctx := context.Background()

	// Wrong wallet and wrong event never enqueue; the catch-all wallet does.
	if _, err := s.CreateWebhook(ctx, "0xother", "https://example.com/a", "webhook-secret-0123456789", []string{EventScoreUpdated}); err != nil {
		t.Fatalf("CreateWebhook: %v", err)
	}
	if _, err := s.CreateWebhook(ctx, "0xabc", "https://example.com/b", "webhook-secret-0123456789", []string{"report.filed"}); err != nil {
		t.Fatalf("CreateWebhook: %v", err)
	}
	if _, err := s.CreateWebhook(ctx, "", "https://example.com/c", "webhook-secret-0123456789", []string{EventScoreUpdated}); err != nil {
		t.Fatalf("CreateWebhook: %v", err)
	}

	if err := d.Enqueue(ctx, EventScoreUpdated, "0xabc", nil); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	pending, err := s.PendingDeliveries(ctx, store.Now(), 10)
	if err != nil {
		t.Fatalf("PendingDeliveries: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected exactly the catch-all subscription to match, got %d rows", len(pending))
	}
}

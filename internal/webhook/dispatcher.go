package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/trustrank/scoring-engine/internal/metrics"
	"github.com/trustrank/scoring-engine/internal/store"
	"github.com/trustrank/scoring-engine/pkg/models"
)

// Dispatcher delivers queued webhook events. Payloads are signed with the
// subscription secret (HMAC-SHA256 over the exact body bytes); receivers
// verify the X-Signature header before trusting the event. Failures back
// off 60s then 300s; a delivery that fails all attempts is abandoned, and
// a webhook that fails repeatedly across deliveries auto-disables.

// Event types carried in the delivery payload.
const (
	// EventScoreUpdated is emitted after every persisted recompute.
	EventScoreUpdated = "score.updated"
	// EventScoreAnomaly is emitted by the anomaly sweep.
	EventScoreAnomaly = "score.anomaly"
)

var retryBackoff = []time.Duration{60 * time.Second, 300 * time.Second}

const (
	dispatchBatch   = 100
	deliveryTimeout = 10 * time.Second
)

type Dispatcher struct {
	Store       *store.Store
	Client      *http.Client
	MaxAttempts int
}

func NewDispatcher(st *store.Store, maxAttempts int) *Dispatcher {
	return &Dispatcher{
		Store:       st,
		Client:      &http.Client{Timeout: deliveryTimeout},
		MaxAttempts: maxAttempts,
	}
}

// ScoreUpdated implements the engine's sink: fan the score out to every
// matching subscription. Runs async; the scoring path never waits on
// webhook bookkeeping.
func (d *Dispatcher) ScoreUpdated(sc *models.Score) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
		defer cancel()
		if err := d.Enqueue(ctx, EventScoreUpdated, sc.Wallet, sc); err != nil {
			log.Printf("[Webhook] enqueue failed for %s: %v", sc.Wallet, err)
		}
	}()
}

// Enqueue stores one delivery row per active matching subscription.
func (d *Dispatcher) Enqueue(ctx context.Context, event, wallet string, data any) error {
	hooks, err := d.Store.ActiveWebhooksFor(ctx, wallet, event)
	if err != nil {
		return err
	}
	if len(hooks) == 0 {
		return nil
	}

	body, err := json.Marshal(map[string]any{
		"event":     event,
		"timestamp": time.Now().UTC().Format(store.TimeFormat),
		"data":      data,
	})
	if err != nil {
		return err
	}
	for _, h := range hooks {
		if _, err := d.Store.EnqueueDelivery(ctx, h.ID, event, string(body)); err != nil {
			return err
		}
	}
	return nil
}

// DispatchPending attempts every due delivery once.
func (d *Dispatcher) DispatchPending(ctx context.Context) error {
	pending, err := d.Store.PendingDeliveries(ctx, store.Now(), dispatchBatch)
	if err != nil {
		return err
	}
	for _, delivery := range pending {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		d.attempt(ctx, delivery)
	}
	return nil
}

func (d *Dispatcher) attempt(ctx context.Context, delivery models.Delivery) {
	hook, err := d.Store.GetWebhook(ctx, delivery.WebhookID)
	if err != nil {
		log.Printf("[Webhook] orphan delivery %s: %v", delivery.ID, err)
		_ = d.Store.AbandonDelivery(ctx, delivery.ID, 0)
		return
	}
	if !hook.Active {
		_ = d.Store.AbandonDelivery(ctx, delivery.ID, 0)
		return
	}

	status, err := d.post(ctx, hook, delivery)
	if err == nil && status >= 200 && status < 300 {
		metrics.WebhookDeliveries.WithLabelValues("delivered").Inc()
		if markErr := d.Store.MarkDelivered(ctx, delivery.ID, status); markErr != nil {
			log.Printf("[Webhook] mark delivered failed for %s: %v", delivery.ID, markErr)
		}
		return
	}
	if err != nil {
		log.Printf("[Webhook] delivery %s to %s failed: %v", delivery.ID, hook.URL, err)
	} else {
		log.Printf("[Webhook] delivery %s to %s got status %d", delivery.ID, hook.URL, status)
	}

	if delivery.Attempt+1 >= d.MaxAttempts {
		metrics.WebhookDeliveries.WithLabelValues("abandoned").Inc()
		_ = d.Store.AbandonDelivery(ctx, delivery.ID, status)
		return
	}
	metrics.WebhookDeliveries.WithLabelValues("retried").Inc()
	backoff := retryBackoff[len(retryBackoff)-1]
	if delivery.Attempt < len(retryBackoff) {
		backoff = retryBackoff[delivery.Attempt]
	}
	next := time.Now().UTC().Add(backoff).Format(store.TimeFormat)
	if markErr := d.Store.MarkFailed(ctx, delivery.ID, status, next); markErr != nil {
		log.Printf("[Webhook] mark failed errored for %s: %v", delivery.ID, markErr)
	}
}

// post sends the signed payload. The signature covers the exact bytes on
// the wire.
func (d *Dispatcher) post(ctx context.Context, hook *models.Webhook, delivery models.Delivery) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL,
		bytes.NewReader([]byte(delivery.Payload)))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event", delivery.EventType)
	req.Header.Set("X-Signature", Sign(hook.Secret, []byte(delivery.Payload)))

	resp, err := d.Client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

// Sign computes the signature header value for a payload.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a received signature header, for receiver-side use and
// tests. Constant time.
func Verify(secret string, payload []byte, header string) bool {
	return hmac.Equal([]byte(Sign(secret, payload)), []byte(header))
}

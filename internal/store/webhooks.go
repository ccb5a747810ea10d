package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/trustrank/scoring-engine/pkg/models"
)

// DisableThreshold is the consecutive-failure count at which a webhook
// auto-disables.
const DisableThreshold = 5

// CreateWebhook registers a subscription and returns its generated ID.
func (s *Store) CreateWebhook(ctx context.Context, wallet, url, secret string, events []string) (*models.Webhook, error) {
	ev, _ := json.Marshal(events)
	wh := models.Webhook{
		ID:     uuid.NewString(),
		Wallet: wallet,
		URL:    url,
		Secret: secret,
		Events: events,
		Active: true,
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO webhooks (id, wallet, url, secret, events, active)
		VALUES (?, ?, ?, ?, ?, 1);`,
		wh.ID, wh.Wallet, wh.URL, wh.Secret, string(ev))
	if err != nil {
		return nil, fmt.Errorf("create webhook: %w", err)
	}
	return &wh, nil
}

// ActiveWebhooksFor returns active webhooks subscribed to an event type
// for a wallet (or to all wallets, when registered with an empty wallet).
func (s *Store) ActiveWebhooksFor(ctx context.Context, wallet, event string) ([]models.Webhook, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, wallet, url, secret, events, active, consecutive_failures
		FROM webhooks
		WHERE active = 1 AND (wallet = ? OR wallet = '');`, wallet)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Webhook
	for rows.Next() {
		wh, err := scanWebhook(rows)
		if err != nil {
			return nil, err
		}
		for _, e := range wh.Events {
			if e == event {
				out = append(out, *wh)
				break
			}
		}
	}
	return out, rows.Err()
}

// GetWebhook returns one webhook row, or ErrNotFound.
func (s *Store) GetWebhook(ctx context.Context, id string) (*models.Webhook, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, wallet, url, secret, events, active, consecutive_failures
		FROM webhooks WHERE id = ?;`, id)
	wh, err := scanWebhook(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return wh, err
}

func scanWebhook(row rowScanner) (*models.Webhook, error) {
	var wh models.Webhook
	var events string
	var active int
	err := row.Scan(&wh.ID, &wh.Wallet, &wh.URL, &wh.Secret, &events, &active, &wh.ConsecutiveFailures)
	if err != nil {
		return nil, err
	}
	wh.Active = active != 0
	_ = json.Unmarshal([]byte(events), &wh.Events)
	return &wh, nil
}

// EnqueueDelivery stores a pending delivery row for a webhook. Events for
// disabled webhooks are dropped at enqueue time.
func (s *Store) EnqueueDelivery(ctx context.Context, webhookID, eventType, payload string) (string, error) {
	var active int
	err := s.db.QueryRowContext(ctx, `SELECT active FROM webhooks WHERE id = ?;`, webhookID).Scan(&active)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	if active == 0 {
		return "", nil // disabled: no delivery row
	}
	id := uuid.NewString()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO webhook_deliveries (id, webhook_id, event_type, payload, attempt)
		VALUES (?, ?, ?, ?, 0);`, id, webhookID, eventType, payload)
	return id, err
}

// PendingDeliveries returns undelivered rows whose retry time has passed.
func (s *Store) PendingDeliveries(ctx context.Context, now string, limit int) ([]models.Delivery, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, webhook_id, event_type, payload, attempt,
		       COALESCE(next_retry_at, ''), COALESCE(status_code, 0), COALESCE(delivered_at, '')
		FROM webhook_deliveries
		WHERE delivered_at IS NULL AND (next_retry_at IS NULL OR next_retry_at <= ?)
		ORDER BY rowid ASC
		LIMIT ?;`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Delivery
	for rows.Next() {
		var d models.Delivery
		if err := rows.Scan(&d.ID, &d.WebhookID, &d.EventType, &d.Payload,
			&d.Attempt, &d.NextRetryAt, &d.StatusCode, &d.DeliveredAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// MarkDelivered records a successful delivery and resets the webhook's
// consecutive-failure counter, in one transaction.
func (s *Store) MarkDelivered(ctx context.Context, deliveryID string, statusCode int) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE webhook_deliveries
			SET delivered_at = ?, status_code = ?
			WHERE id = ?;`, Now(), statusCode, deliveryID)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE webhooks SET consecutive_failures = 0
			WHERE id = (SELECT webhook_id FROM webhook_deliveries WHERE id = ?);`, deliveryID)
		return err
	})
}

// MarkFailed bumps the delivery attempt, schedules the next retry, and
// increments the webhook failure counter, auto-disabling at the threshold.
// One transaction. Exhausted deliveries go through AbandonDelivery instead.
func (s *Store) MarkFailed(ctx context.Context, deliveryID string, statusCode int, nextRetry string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE webhook_deliveries
			SET attempt = attempt + 1, status_code = ?, next_retry_at = ?
			WHERE id = ?;`, statusCode, nextRetry, deliveryID)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE webhooks
			SET consecutive_failures = consecutive_failures + 1
			WHERE id = (SELECT webhook_id FROM webhook_deliveries WHERE id = ?);`, deliveryID)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE webhooks SET active = 0
			WHERE id = (SELECT webhook_id FROM webhook_deliveries WHERE id = ?)
			  AND consecutive_failures >= ?;`, deliveryID, DisableThreshold)
		return err
	})
}

// AbandonDelivery marks an exhausted delivery so the picker skips it.
func (s *Store) AbandonDelivery(ctx context.Context, deliveryID string, statusCode int) error {
	// delivered_at sentinel marks terminal failure; status code preserves
	// the last observed response.
	_, err := s.db.ExecContext(ctx, `
		UPDATE webhook_deliveries
		SET delivered_at = ?, status_code = ?, next_retry_at = NULL
		WHERE id = ?;`, "failed:"+Now(), statusCode, deliveryID)
	return err
}

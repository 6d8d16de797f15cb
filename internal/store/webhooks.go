package store

import (
	"context"
	"fmt"
	"strings"
)

// Webhooks are disabled after this many consecutive delivery failures and
// stay disabled until an operator re-enables them.
const webhookDisableThreshold = 10

// CreateWebhook registers a webhook under an API key.
func (s *Store) CreateWebhook(ctx context.Context, wh Webhook) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO webhooks (id, api_key_id, url, wallet_address, event_type, threshold, secret, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE)`,
		wh.ID, wh.APIKeyID, wh.URL, lowerPtr(wh.WalletAddress), wh.EventType, wh.Threshold, wh.Secret)
	if err != nil {
		return fmt.Errorf("create webhook: %w", err)
	}
	return nil
}

// DeleteWebhook removes a webhook; the key scope prevents cross-key
// deletion. Returns whether a row was removed.
func (s *Store) DeleteWebhook(ctx context.Context, id, apiKeyID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM webhooks WHERE id = $1 AND api_key_id = $2`, id, apiKeyID)
	if err != nil {
		return false, fmt.Errorf("delete webhook %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ActiveWebhooks returns every enabled webhook.
func (s *Store) ActiveWebhooks(ctx context.Context) ([]Webhook, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, api_key_id, url, wallet_address, event_type, threshold,
		       COALESCE(secret, ''), is_active, fail_count, created_at
		FROM webhooks WHERE is_active`)
	if err != nil {
		return nil, fmt.Errorf("list active webhooks: %w", err)
	}
	defer rows.Close()

	var hooks []Webhook
	for rows.Next() {
		var wh Webhook
		if err := rows.Scan(&wh.ID, &wh.APIKeyID, &wh.URL, &wh.WalletAddress, &wh.EventType,
			&wh.Threshold, &wh.Secret, &wh.IsActive, &wh.FailCount, &wh.CreatedAt); err != nil {
			return nil, err
		}
		if wh.WalletAddress != nil {
			lower := strings.ToLower(*wh.WalletAddress)
			wh.WalletAddress = &lower
		}
		hooks = append(hooks, wh)
	}
	return hooks, rows.Err()
}

// MarkWebhookFailure increments the consecutive-failure counter and
// disables the webhook once it reaches the threshold. Returns whether the
// webhook is still active.
func (s *Store) MarkWebhookFailure(ctx context.Context, id string) (bool, error) {
	var active bool
	err := s.db.QueryRowContext(ctx, `
		UPDATE webhooks
		SET fail_count = fail_count + 1,
		    is_active  = (fail_count + 1) < $2
		WHERE id = $1
		RETURNING is_active`, id, webhookDisableThreshold).Scan(&active)
	if err != nil {
		return false, fmt.Errorf("mark webhook failure %s: %w", id, err)
	}
	return active, nil
}

// MarkWebhookSuccess resets the consecutive-failure counter.
func (s *Store) MarkWebhookSuccess(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE webhooks SET fail_count = 0 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark webhook success %s: %w", id, err)
	}
	return nil
}

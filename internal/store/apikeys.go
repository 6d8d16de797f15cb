package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// CreateAPIKey persists a new key. The caller hashes the secret.
func (s *Store) CreateAPIKey(ctx context.Context, key APIKey) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO api_keys (key_id, key_hash, name, tier, daily_quota, is_active)
		VALUES ($1, $2, $3, $4, $5, TRUE)`,
		key.KeyID, key.KeyHash, key.Name, key.Tier, key.DailyQuota)
	if err != nil {
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

// GetAPIKey returns one key, or nil when unknown or inactive.
func (s *Store) GetAPIKey(ctx context.Context, keyID string) (*APIKey, error) {
	var key APIKey
	err := s.db.QueryRowContext(ctx, `
		SELECT key_id, key_hash, COALESCE(name, ''), tier, daily_quota, is_active, created_at
		FROM api_keys WHERE key_id = $1 AND is_active`, keyID).
		Scan(&key.KeyID, &key.KeyHash, &key.Name, &key.Tier, &key.DailyQuota, &key.IsActive, &key.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get api key: %w", err)
	}
	return &key, nil
}

// IncrementUsage bumps today's request counter for a key and returns the
// new count. Usage rows are keyed (key_id, date).
func (s *Store) IncrementUsage(ctx context.Context, keyID string, day time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO api_usage (key_id, date, count)
		VALUES ($1, $2, 1)
		ON CONFLICT (key_id, date) DO UPDATE SET count = api_usage.count + 1
		RETURNING count`,
		keyID, day.Format("2006-01-02")).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("increment usage for %s: %w", keyID, err)
	}
	return count, nil
}

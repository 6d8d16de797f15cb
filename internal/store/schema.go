package store

import (
	"context"
	"fmt"
)

// Idempotent DDL applied at process start. Every statement tolerates the
// object already existing so concurrent process starts are safe.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS wallets (
		address         TEXT PRIMARY KEY,
		source          TEXT NOT NULL,
		chain           TEXT NOT NULL,
		erc8004_id      BIGINT,
		tx_count        BIGINT NOT NULL DEFAULT 0,
		first_seen_at   TIMESTAMPTZ NOT NULL,
		last_seen_at    TIMESTAMPTZ NOT NULL,
		trust_score     INT,
		score_breakdown JSONB,
		scored_at       TIMESTAMPTZ,
		role            TEXT,
		needs_rescore   BOOLEAN NOT NULL DEFAULT TRUE
	)`,
	`CREATE INDEX IF NOT EXISTS wallets_source_idx ON wallets (source)`,
	`CREATE INDEX IF NOT EXISTS wallets_needs_rescore_idx ON wallets (needs_rescore) WHERE needs_rescore`,

	`CREATE TABLE IF NOT EXISTS transactions (
		tx_hash         TEXT NOT NULL,
		chain           TEXT NOT NULL,
		block_number    BIGINT NOT NULL,
		authorizer      TEXT,
		payer           TEXT,
		recipient       TEXT,
		amount_raw      TEXT NOT NULL,
		amount_usdc     NUMERIC(38,6) NOT NULL,
		facilitator     TEXT,
		is_x402         BOOLEAN NOT NULL DEFAULT FALSE,
		block_timestamp TIMESTAMPTZ,
		PRIMARY KEY (tx_hash, chain)
	)`,
	`CREATE INDEX IF NOT EXISTS transactions_payer_idx ON transactions (payer)`,
	`CREATE INDEX IF NOT EXISTS transactions_recipient_idx ON transactions (recipient)`,
	`CREATE INDEX IF NOT EXISTS transactions_authorizer_idx ON transactions (authorizer)`,
	`CREATE INDEX IF NOT EXISTS transactions_block_number_idx ON transactions (block_number)`,

	`CREATE TABLE IF NOT EXISTS feedback (
		tx_hash        TEXT NOT NULL,
		feedback_index INT NOT NULL,
		agent_id       BIGINT NOT NULL,
		client_address TEXT NOT NULL,
		value          NUMERIC(40,0) NOT NULL,
		value_decimals INT NOT NULL DEFAULT 0,
		tag1           TEXT,
		tag2           TEXT,
		endpoint       TEXT,
		feedback_uri   TEXT,
		content_hash   TEXT,
		block_number   BIGINT,
		chain          TEXT,
		source         TEXT NOT NULL DEFAULT 'chain',
		PRIMARY KEY (tx_hash, feedback_index)
	)`,
	`CREATE INDEX IF NOT EXISTS feedback_agent_id_idx ON feedback (agent_id)`,
	`CREATE INDEX IF NOT EXISTS feedback_client_address_idx ON feedback (client_address)`,

	`CREATE TABLE IF NOT EXISTS indexer_state (
		scanner_id TEXT PRIMARY KEY,
		last_block BIGINT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS score_history (
		id          BIGSERIAL PRIMARY KEY,
		address     TEXT NOT NULL,
		score       INT NOT NULL,
		breakdown   JSONB,
		computed_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS score_history_address_idx ON score_history (address)`,
	`CREATE INDEX IF NOT EXISTS score_history_computed_at_idx ON score_history (computed_at)`,

	`CREATE TABLE IF NOT EXISTS api_keys (
		key_id      TEXT PRIMARY KEY,
		key_hash    TEXT NOT NULL,
		name        TEXT,
		tier        TEXT NOT NULL DEFAULT 'free',
		daily_quota INT NOT NULL DEFAULT 1000,
		is_active   BOOLEAN NOT NULL DEFAULT TRUE,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS api_usage (
		key_id TEXT NOT NULL,
		date   DATE NOT NULL,
		count  INT NOT NULL DEFAULT 0,
		PRIMARY KEY (key_id, date)
	)`,

	`CREATE TABLE IF NOT EXISTS webhooks (
		id             TEXT PRIMARY KEY,
		api_key_id     TEXT NOT NULL REFERENCES api_keys (key_id),
		url            TEXT NOT NULL,
		wallet_address TEXT,
		event_type     TEXT NOT NULL,
		threshold      INT,
		secret         TEXT,
		is_active      BOOLEAN NOT NULL DEFAULT TRUE,
		fail_count     INT NOT NULL DEFAULT 0,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS webhooks_api_key_id_idx ON webhooks (api_key_id)`,
	`CREATE INDEX IF NOT EXISTS webhooks_wallet_address_idx ON webhooks (wallet_address)`,
}

func (s *Store) ensureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

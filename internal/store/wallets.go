package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ObserveWallet creates the wallet on first sighting and merges later
// sightings. Promotion is commutative: once a wallet has been seen under
// both event families its source is 'both' regardless of ordering, and it
// never transitions back. first_seen_at never decreases; last_seen_at is
// monotone non-decreasing; every observation marks the wallet dirty for
// rescoring.
func (s *Store) ObserveWallet(ctx context.Context, obs WalletObservation) error {
	obs.Address = strings.ToLower(obs.Address)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO wallets (address, source, chain, erc8004_id, tx_count, first_seen_at, last_seen_at, needs_rescore)
		VALUES ($1, $2, $3, $4, $5, $6, $6, TRUE)
		ON CONFLICT (address) DO UPDATE SET
			source        = CASE WHEN wallets.source = EXCLUDED.source THEN wallets.source ELSE 'both' END,
			erc8004_id    = COALESCE(wallets.erc8004_id, EXCLUDED.erc8004_id),
			tx_count      = wallets.tx_count + EXCLUDED.tx_count,
			last_seen_at  = GREATEST(wallets.last_seen_at, EXCLUDED.last_seen_at),
			needs_rescore = TRUE`,
		obs.Address, obs.Source, obs.Chain, obs.ERC8004ID, obs.TxDelta, obs.SeenAt)
	if err != nil {
		return fmt.Errorf("observe wallet %s: %w", obs.Address, err)
	}
	return nil
}

// GetWallet returns one wallet or nil when unknown.
func (s *Store) GetWallet(ctx context.Context, address string) (*Wallet, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT address, source, chain, erc8004_id, tx_count, first_seen_at, last_seen_at,
		       trust_score, score_breakdown, scored_at, role, needs_rescore
		FROM wallets WHERE address = $1`, strings.ToLower(address))

	w, err := scanWallet(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get wallet %s: %w", address, err)
	}
	return w, nil
}

// WalletsForScoring returns the scoring working set: dirty wallets in
// incremental mode, every wallet in full mode.
func (s *Store) WalletsForScoring(ctx context.Context, full bool) ([]Wallet, error) {
	query := `
		SELECT address, source, chain, erc8004_id, tx_count, first_seen_at, last_seen_at,
		       trust_score, score_breakdown, scored_at, role, needs_rescore
		FROM wallets`
	if !full {
		query += ` WHERE needs_rescore`
	}
	query += ` ORDER BY address`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list wallets for scoring: %w", err)
	}
	defer rows.Close()

	var wallets []Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, err
		}
		wallets = append(wallets, *w)
	}
	return wallets, rows.Err()
}

// ApplyScore persists one scoring result: the history snapshot is written
// before the wallet update, inside one transaction, so history never
// misses a persisted score.
func (s *Store) ApplyScore(ctx context.Context, address string, score int, breakdown map[string]int, role string, computedAt time.Time) error {
	breakdownJSON, err := json.Marshal(breakdown)
	if err != nil {
		return fmt.Errorf("marshal breakdown: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin score tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO score_history (address, score, breakdown, computed_at)
		VALUES ($1, $2, $3, $4)`,
		address, score, breakdownJSON, computedAt); err != nil {
		return fmt.Errorf("insert snapshot for %s: %w", address, err)
	}

	var roleArg interface{}
	if role != "" {
		roleArg = role
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE wallets
		SET trust_score = $2, score_breakdown = $3, scored_at = $4, role = $5, needs_rescore = FALSE
		WHERE address = $1`,
		address, score, breakdownJSON, computedAt, roleArg); err != nil {
		return fmt.Errorf("update wallet score for %s: %w", address, err)
	}

	return tx.Commit()
}

// ScoreDistribution returns the count of scored wallets per tier band,
// keyed by the band's lower bound (0, 20, 50, 80).
func (s *Store) ScoreDistribution(ctx context.Context) (map[int]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT CASE
			WHEN trust_score >= 80 THEN 80
			WHEN trust_score >= 50 THEN 50
			WHEN trust_score >= 20 THEN 20
			ELSE 0
		END AS band, COUNT(*)
		FROM wallets WHERE trust_score IS NOT NULL
		GROUP BY band`)
	if err != nil {
		return nil, fmt.Errorf("score distribution: %w", err)
	}
	defer rows.Close()

	dist := map[int]int{}
	for rows.Next() {
		var band, count int
		if err := rows.Scan(&band, &count); err != nil {
			return nil, err
		}
		dist[band] = count
	}
	return dist, rows.Err()
}

// TopScored returns the n highest-scored wallets; ascending=true flips the
// order for the bottom listing.
func (s *Store) TopScored(ctx context.Context, n int, ascending bool) ([]Wallet, error) {
	order := "DESC"
	if ascending {
		order = "ASC"
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT address, source, chain, erc8004_id, tx_count, first_seen_at, last_seen_at,
		       trust_score, score_breakdown, scored_at, role, needs_rescore
		FROM wallets WHERE trust_score IS NOT NULL
		ORDER BY trust_score %s, address LIMIT $1`, order), n)
	if err != nil {
		return nil, fmt.Errorf("top scored: %w", err)
	}
	defer rows.Close()

	var wallets []Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, err
		}
		wallets = append(wallets, *w)
	}
	return wallets, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanWallet(row rowScanner) (*Wallet, error) {
	var w Wallet
	var breakdownJSON []byte
	err := row.Scan(&w.Address, &w.Source, &w.Chain, &w.ERC8004ID, &w.TxCount,
		&w.FirstSeenAt, &w.LastSeenAt, &w.TrustScore, &breakdownJSON,
		&w.ScoredAt, &w.Role, &w.NeedsRescore)
	if err != nil {
		return nil, err
	}
	if len(breakdownJSON) > 0 {
		if err := json.Unmarshal(breakdownJSON, &w.ScoreBreakdown); err != nil {
			return nil, fmt.Errorf("decode breakdown for %s: %w", w.Address, err)
		}
	}
	return &w, nil
}

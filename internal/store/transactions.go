package store

import (
	"context"
	"fmt"
	"strings"
)

// InsertTransaction appends one transaction row, idempotent on
// (tx_hash, chain). Returns whether a new row was written.
func (s *Store) InsertTransaction(ctx context.Context, t Transaction) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO transactions
			(tx_hash, chain, block_number, authorizer, payer, recipient,
			 amount_raw, amount_usdc, facilitator, is_x402, block_timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (tx_hash, chain) DO NOTHING`,
		strings.ToLower(t.TxHash), t.Chain, int64(t.BlockNumber),
		lowerPtr(t.Authorizer), lowerPtr(t.Payer), lowerPtr(t.Recipient),
		t.AmountRaw, t.AmountUSDC, strings.ToLower(t.Facilitator), t.IsX402, t.BlockTimestamp)
	if err != nil {
		return false, fmt.Errorf("insert transaction %s: %w", t.TxHash, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// TransactionParties reports whether the address was payer or recipient of
// the given transaction. Used to validate API-submitted feedback.
func (s *Store) TransactionParties(ctx context.Context, txHash, address string) (bool, error) {
	address = strings.ToLower(address)
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM transactions
			WHERE tx_hash = $1 AND (payer = $2 OR recipient = $2)
		)`, strings.ToLower(txHash), address).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check transaction parties: %w", err)
	}
	return exists, nil
}

// CountTransactions returns the total transaction rows, for run summaries.
func (s *Store) CountTransactions(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions`).Scan(&n)
	return n, err
}

func lowerPtr(p *string) *string {
	if p == nil {
		return nil
	}
	v := strings.ToLower(*p)
	return &v
}

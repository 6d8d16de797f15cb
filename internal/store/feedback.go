package store

import (
	"context"
	"fmt"
	"strings"
)

// InsertFeedback appends one feedback row, idempotent on
// (tx_hash, feedback_index). Returns whether a new row was written.
func (s *Store) InsertFeedback(ctx context.Context, f Feedback) (bool, error) {
	if f.Source == "" {
		f.Source = FeedbackSourceChain
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO feedback
			(tx_hash, feedback_index, agent_id, client_address, value, value_decimals,
			 tag1, tag2, endpoint, feedback_uri, content_hash, block_number, chain, source)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (tx_hash, feedback_index) DO NOTHING`,
		strings.ToLower(f.TxHash), f.FeedbackIndex, f.AgentID, strings.ToLower(f.ClientAddress),
		f.Value, f.ValueDecimals, f.Tag1, f.Tag2, f.Endpoint, f.FeedbackURI,
		f.ContentHash, int64(f.BlockNumber), f.Chain, f.Source)
	if err != nil {
		return false, fmt.Errorf("insert feedback %s/%d: %w", f.TxHash, f.FeedbackIndex, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// InsertAPIFeedback records feedback submitted through the API. The
// submitter must have been a party to the referenced transaction.
func (s *Store) InsertAPIFeedback(ctx context.Context, f Feedback) (bool, error) {
	participated, err := s.TransactionParties(ctx, f.TxHash, f.ClientAddress)
	if err != nil {
		return false, err
	}
	if !participated {
		return false, fmt.Errorf("submitter %s is not a party to transaction %s", f.ClientAddress, f.TxHash)
	}
	f.Source = FeedbackSourceAPI
	return s.InsertFeedback(ctx, f)
}

// CountFeedback returns the total feedback rows, for run summaries.
func (s *Store) CountFeedback(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM feedback`).Scan(&n)
	return n, err
}

package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Cursor reads the persisted last_block for one scanner. The second return
// reports whether a cursor exists; when it does not the scanner starts at
// its configured genesis.
func (s *Store) Cursor(ctx context.Context, scannerID string) (uint64, bool, error) {
	var lastBlock int64
	err := s.db.QueryRowContext(ctx,
		`SELECT last_block FROM indexer_state WHERE scanner_id = $1`, scannerID).Scan(&lastBlock)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read cursor %s: %w", scannerID, err)
	}
	return uint64(lastBlock), true, nil
}

// CommitCursor advances the cursor to block. GREATEST keeps the cursor
// monotone even if a stale batch commit races a newer one. A transient
// failure is retried once; a second failure surfaces to the operator. The
// batch is redone safely on the next run because every insert is
// idempotent.
func (s *Store) CommitCursor(ctx context.Context, scannerID string, block uint64) error {
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO indexer_state (scanner_id, last_block, updated_at)
			VALUES ($1, $2, now())
			ON CONFLICT (scanner_id) DO UPDATE SET
				last_block = GREATEST(indexer_state.last_block, EXCLUDED.last_block),
				updated_at = now()`,
			scannerID, int64(block))
		if err == nil {
			return nil
		}
		s.logger.Printf("⚠️  cursor commit %s → %d failed (attempt %d/2): %v", scannerID, block, attempt+1, err)
	}
	return fmt.Errorf("commit cursor %s at block %d: %w", scannerID, block, err)
}

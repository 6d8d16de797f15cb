package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

// LatestSnapshot returns the most recent score snapshot for a wallet, or
// nil when it has never been scored.
func (s *Store) LatestSnapshot(ctx context.Context, address string) (*Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, address, score, breakdown, computed_at
		FROM score_history WHERE address = $1
		ORDER BY computed_at DESC, id DESC LIMIT 1`, strings.ToLower(address))

	snap, err := scanSnapshot(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest snapshot %s: %w", address, err)
	}
	return snap, nil
}

// PreviousSnapshot returns the snapshot before the newest one, used by the
// dispatcher to compute the delta after a scoring pass has already
// appended the new row.
func (s *Store) PreviousSnapshot(ctx context.Context, address string) (*Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, address, score, breakdown, computed_at
		FROM score_history WHERE address = $1
		ORDER BY computed_at DESC, id DESC OFFSET 1 LIMIT 1`, strings.ToLower(address))

	snap, err := scanSnapshot(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("previous snapshot %s: %w", address, err)
	}
	return snap, nil
}

// History returns up to limit snapshots for a wallet, newest first.
func (s *Store) History(ctx context.Context, address string, limit int) ([]Snapshot, error) {
	if limit <= 0 {
		limit = 30
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, address, score, breakdown, computed_at
		FROM score_history WHERE address = $1
		ORDER BY computed_at DESC, id DESC LIMIT $2`, strings.ToLower(address), limit)
	if err != nil {
		return nil, fmt.Errorf("history %s: %w", address, err)
	}
	defer rows.Close()

	var snaps []Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, *snap)
	}
	return snaps, rows.Err()
}

func scanSnapshot(row rowScanner) (*Snapshot, error) {
	var snap Snapshot
	var breakdownJSON []byte
	if err := row.Scan(&snap.ID, &snap.Address, &snap.Score, &breakdownJSON, &snap.ComputedAt); err != nil {
		return nil, err
	}
	if len(breakdownJSON) > 0 {
		if err := json.Unmarshal(breakdownJSON, &snap.Breakdown); err != nil {
			return nil, fmt.Errorf("decode snapshot breakdown: %w", err)
		}
	}
	return &snap, nil
}

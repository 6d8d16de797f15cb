package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Advisory lock key for the scoring run. Session-scoped so a crashed
// scorer releases it when its connection drops.
const scoringLockKey = 0x7472757374 // "trust"

// LockHandle pins the pooled connection holding an advisory lock.
type LockHandle struct {
	conn *sql.Conn
}

// AcquireScoringLock tries to take the single-writer scoring lock on a
// dedicated connection. It returns (nil, false, nil) when another scorer
// holds it; on success the caller must Release the handle.
func (s *Store) AcquireScoringLock(ctx context.Context) (*LockHandle, bool, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire scoring lock: %w", err)
	}

	var got bool
	if err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, scoringLockKey).Scan(&got); err != nil {
		conn.Close()
		return nil, false, fmt.Errorf("acquire scoring lock: %w", err)
	}
	if !got {
		conn.Close()
		return nil, false, nil
	}
	return &LockHandle{conn: conn}, true, nil
}

// Release unlocks and returns the connection to the pool. The lock also
// drops if the connection dies.
func (h *LockHandle) Release(ctx context.Context) error {
	defer h.conn.Close()
	if _, err := h.conn.ExecContext(ctx, `SELECT pg_advisory_unlock($1)`, scoringLockKey); err != nil {
		return fmt.Errorf("release scoring lock: %w", err)
	}
	return nil
}

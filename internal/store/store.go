// Package store is the durable relational layer: wallets, transactions,
// feedback, scanner cursors, score history, API keys and webhooks.
//
// All inserts for chain-derived rows are idempotent on their natural keys,
// which is what makes indexer batches safely re-runnable.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	_ "github.com/lib/pq" // Postgres driver
)

// Store wraps the Postgres connection pool.
type Store struct {
	db     *sql.DB
	logger *log.Logger
}

// Open connects to Postgres, verifies the connection and applies the
// schema DDL.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{
		db:     db,
		logger: log.New(log.Writer(), "[STORE] ", log.LstdFlags),
	}
	if err := s.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// DB exposes the pool for read-only aggregation queries.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// DatabaseSize returns the on-disk size of the database in bytes, for run
// summaries.
func (s *Store) DatabaseSize(ctx context.Context) (int64, error) {
	var size int64
	err := s.db.QueryRowContext(ctx, `SELECT pg_database_size(current_database())`).Scan(&size)
	return size, err
}

// Package store is the persistent home for campaigns, zones, businesses,
// and validation records. Every disposition transition commits here in a
// single transaction together with its follow-up work item.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Store wraps the shared *sql.DB. Methods take a DBTX so callers can run
// them inside their own transactions.
type Store struct {
	DB *sql.DB
}

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a Store over a pooled *sql.DB.
func New(db *sql.DB) *Store {
	return &Store{DB: db}
}

// Tx runs fn inside a transaction, committing on nil and rolling back on
// error or panic.
func (s *Store) Tx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = sql.ErrNoRows

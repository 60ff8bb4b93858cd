// Package postgres is the PostgreSQL Document Store built on pgx. Ledger
// transactions run in a database transaction and lock the account rows
// they read with SELECT ... FOR UPDATE.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/dvloznov/finance-ledger/internal/store"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// querier is the subset of pgx shared by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements store.Store on a connection pool.
type Store struct {
	*repo
	pool *pgxpool.Pool
}

// New wraps an existing pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{repo: &repo{q: pool}, pool: pool}
}

// Open connects to databaseURL and verifies the connection.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("Open: creating pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("Open: ping: %w", err)
	}
	return New(pool), nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// RunInTx implements store.TxRunner with a read-committed transaction.
// Account reads inside fn take row locks.
func (s *Store) RunInTx(ctx context.Context, workspaceID string, fn func(ctx context.Context, tx store.LedgerStore) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("RunInTx: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &repo{q: tx, forUpdate: true}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("RunInTx: commit: %w", err)
	}
	return nil
}

// repo runs the ledger primitives against a pool or an open transaction.
type repo struct {
	q         querier
	forUpdate bool
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

var (
	_ store.Store       = (*Store)(nil)
	_ store.LedgerStore = (*repo)(nil)
)

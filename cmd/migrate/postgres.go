package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type postgresRunner struct {
	pool *pgxpool.Pool
}

func newPostgresRunner(ctx context.Context, databaseURL string) (*postgresRunner, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &postgresRunner{pool: pool}, nil
}

func (r *postgresRunner) Close() error {
	r.pool.Close()
	return nil
}

func (r *postgresRunner) Ensure(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version     INTEGER PRIMARY KEY,
			name        TEXT NOT NULL,
			applied_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			checksum    TEXT,
			applied_by  TEXT
		)`)
	return err
}

func (r *postgresRunner) Applied(ctx context.Context) ([]AppliedMigration, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT version, name, applied_at, COALESCE(checksum, ''), COALESCE(applied_by, '')
		FROM schema_migrations
		ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("reading applied migrations: %w", err)
	}
	defer rows.Close()

	var applied []AppliedMigration
	for rows.Next() {
		var am AppliedMigration
		if err := rows.Scan(&am.Version, &am.Name, &am.AppliedAt, &am.Checksum, &am.AppliedBy); err != nil {
			return nil, fmt.Errorf("scanning applied migration: %w", err)
		}
		applied = append(applied, am)
	}
	return applied, rows.Err()
}

// Apply runs the migration and records it in one transaction.
func (r *postgresRunner) Apply(ctx context.Context, m Migration, appliedBy string) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, m.SQL); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO schema_migrations (version, name, checksum, applied_by) VALUES ($1, $2, $3, $4)`,
			m.Version, m.Name, m.Checksum, appliedBy)
		if err != nil {
			return fmt.Errorf("recording migration: %w", err)
		}
		return nil
	})
}

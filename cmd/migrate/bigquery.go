package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"
)

type bigQueryRunner struct {
	client    *bigquery.Client
	projectID string
	datasetID string
}

func newBigQueryRunner(ctx context.Context, projectID, datasetID string) (*bigQueryRunner, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("creating BigQuery client: %w", err)
	}
	return &bigQueryRunner{client: client, projectID: projectID, datasetID: datasetID}, nil
}

func (r *bigQueryRunner) Close() error { return r.client.Close() }

func (r *bigQueryRunner) table() string {
	return fmt.Sprintf("`%s.%s.schema_migrations`", r.projectID, r.datasetID)
}

// run executes q and waits for the job to finish.
func run(ctx context.Context, q *bigquery.Query) error {
	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("running query: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("job error: %w", err)
	}
	return nil
}

// Ensure creates the schema_migrations table if it doesn't exist
func (r *bigQueryRunner) Ensure(ctx context.Context) error {
	sql := `
		CREATE TABLE IF NOT EXISTS ` + r.table() + ` (
			version       INT64 NOT NULL,
			name          STRING NOT NULL,
			applied_at    TIMESTAMP NOT NULL,
			checksum      STRING,
			applied_by    STRING
		)`
	return run(ctx, r.client.Query(sql))
}

// Applied retrieves the list of already applied migrations
func (r *bigQueryRunner) Applied(ctx context.Context) ([]AppliedMigration, error) {
	sql := `
		SELECT version, name, applied_at, checksum, applied_by
		FROM ` + r.table() + `
		ORDER BY version ASC`

	it, err := r.client.Query(sql).Read(ctx)
	if err != nil {
		if strings.Contains(err.Error(), "Not found") {
			return []AppliedMigration{}, nil
		}
		return nil, fmt.Errorf("reading applied migrations: %w", err)
	}

	var applied []AppliedMigration
	for {
		var row struct {
			Version   int64
			Name      string
			AppliedAt time.Time
			Checksum  bigquery.NullString
			AppliedBy bigquery.NullString
		}
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterating results: %w", err)
		}

		am := AppliedMigration{
			Version:   int(row.Version),
			Name:      row.Name,
			AppliedAt: row.AppliedAt,
		}
		if row.Checksum.Valid {
			am.Checksum = row.Checksum.StringVal
		}
		if row.AppliedBy.Valid {
			am.AppliedBy = row.AppliedBy.StringVal
		}
		applied = append(applied, am)
	}
	return applied, nil
}

// Apply executes the migration and then records it. BigQuery DDL is not
// transactional, so a failure between the two leaves the migration
// unrecorded; every file uses IF NOT EXISTS to make a rerun safe.
func (r *bigQueryRunner) Apply(ctx context.Context, m Migration, appliedBy string) error {
	if err := run(ctx, r.client.Query(m.SQL)); err != nil {
		return err
	}

	q := r.client.Query(`
		INSERT INTO ` + r.table() + `
		(version, name, applied_at, checksum, applied_by)
		VALUES (@version, @name, CURRENT_TIMESTAMP(), @checksum, @applied_by)`)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "version", Value: m.Version},
		{Name: "name", Value: m.Name},
		{Name: "checksum", Value: m.Checksum},
		{Name: "applied_by", Value: appliedBy},
	}
	if err := run(ctx, q); err != nil {
		return fmt.Errorf("recording migration: %w", err)
	}
	return nil
}

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/finance-ledger/internal/config"
	"github.com/dvloznov/finance-ledger/internal/logger"
)

// Migration represents a single migration file
type Migration struct {
	Version  int
	Name     string
	Filename string
	SQL      string
	Checksum string
}

// AppliedMigration represents a migration that has already been applied
type AppliedMigration struct {
	Version   int
	Name      string
	AppliedAt time.Time
	Checksum  string
	AppliedBy string
}

// runner applies migrations to one backend.
type runner interface {
	Ensure(ctx context.Context) error
	Applied(ctx context.Context) ([]AppliedMigration, error)
	Apply(ctx context.Context, m Migration, appliedBy string) error
	Close() error
}

var (
	target        = flag.String("target", "postgres", "Migration target: postgres or bigquery")
	databaseURL   = flag.String("database-url", "", "PostgreSQL URL (defaults to DATABASE_URL)")
	projectID     = flag.String("project", "", "GCP project ID (defaults to GCP_PROJECT_ID)")
	datasetID     = flag.String("dataset", "", "BigQuery dataset ID (defaults to BIGQUERY_DATASET)")
	appliedBy     = flag.String("applied-by", "migrate-cli", "Name of the tool applying migrations")
	migrationsDir = flag.String("migrations", "", "Path to migrations directory (defaults to migrations/<target>)")
)

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log := logger.New()
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	log := logger.NewWithOptions(logger.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})

	ctx := context.Background()

	dir := *migrationsDir
	if dir == "" {
		dir = "migrations/" + *target
	}

	var (
		r            runner
		replacements map[string]string
	)
	switch *target {
	case "postgres":
		url := firstNonEmpty(*databaseURL, cfg.DatabaseURL)
		if url == "" {
			log.Fatal().Msg("Error: -database-url or DATABASE_URL is required")
		}
		r, err = newPostgresRunner(ctx, url)
	case "bigquery":
		project := firstNonEmpty(*projectID, cfg.GCPProjectID)
		dataset := firstNonEmpty(*datasetID, cfg.BigQueryDataset)
		if project == "" {
			log.Fatal().Msg("Error: -project or GCP_PROJECT_ID is required")
		}
		replacements = map[string]string{"{{PROJECT_ID}}": project, "{{DATASET_ID}}": dataset}
		r, err = newBigQueryRunner(ctx, project, dataset)
	default:
		fmt.Fprintf(os.Stderr, "Unknown target: %s\n", *target)
		os.Exit(2)
	}
	if err != nil {
		log.Fatal().Err(err).Str("target", *target).Msg("Failed to connect")
	}
	defer r.Close()

	count, err := migrate(ctx, r, dir, replacements, log)
	if err != nil {
		r.Close()
		log.Fatal().Err(err).Msg("Migration failed")
	}
	if count == 0 {
		log.Info().Msg("No new migrations to apply. Database is up to date.")
	} else {
		log.Info().Int("applied", count).Msg("Migrations applied")
	}
}

// migrate applies every pending migration in dir in version order.
func migrate(ctx context.Context, r runner, dir string, replacements map[string]string, log zerolog.Logger) (int, error) {
	if err := r.Ensure(ctx); err != nil {
		return 0, fmt.Errorf("ensuring schema_migrations table: %w", err)
	}

	migrations, err := readMigrations(dir, replacements, log)
	if err != nil {
		return 0, fmt.Errorf("reading migrations: %w", err)
	}
	log.Info().Int("files", len(migrations)).Msg("Found migration files")

	applied, err := r.Applied(ctx)
	if err != nil {
		return 0, fmt.Errorf("getting applied migrations: %w", err)
	}
	log.Info().Int("applied", len(applied)).Msg("Found already applied migrations")

	todo, err := pending(migrations, applied)
	if err != nil {
		return 0, err
	}

	for _, m := range todo {
		log.Info().Msgf("  [RUN]  %04d_%s", m.Version, m.Name)
		if err := r.Apply(ctx, m, *appliedBy); err != nil {
			return 0, fmt.Errorf("executing %04d_%s: %w", m.Version, m.Name, err)
		}
		log.Info().Msgf("  [OK]   %04d_%s", m.Version, m.Name)
	}
	return len(todo), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

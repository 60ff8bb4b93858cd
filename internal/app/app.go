// Package app wires the ledger services from configuration. Every binary
// builds its dependencies through New so they share one composition.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/dvloznov/finance-ledger/internal/backup"
	"github.com/dvloznov/finance-ledger/internal/catalog"
	"github.com/dvloznov/finance-ledger/internal/catchup"
	"github.com/dvloznov/finance-ledger/internal/config"
	"github.com/dvloznov/finance-ledger/internal/events"
	"github.com/dvloznov/finance-ledger/internal/events/rabbitmq"
	infraBQ "github.com/dvloznov/finance-ledger/internal/infra/bigquery"
	"github.com/dvloznov/finance-ledger/internal/jobs"
	"github.com/dvloznov/finance-ledger/internal/ledger"
	"github.com/dvloznov/finance-ledger/internal/recurrence"
	"github.com/dvloznov/finance-ledger/internal/reports"
	"github.com/dvloznov/finance-ledger/internal/store"
	"github.com/dvloznov/finance-ledger/internal/store/memory"
	"github.com/dvloznov/finance-ledger/internal/store/postgres"
	"github.com/dvloznov/finance-ledger/internal/sweeper"
)

// App holds the wired services.
type App struct {
	Config *config.Config
	Log    zerolog.Logger

	Store    store.Store
	Events   events.Publisher
	Ledger   *ledger.Ledger
	Catalog  *catalog.Service
	Reports  *reports.Service
	Expander *recurrence.Expander
	Sweeper  *sweeper.Sweeper
	CatchUp  *catchup.Runner

	// Exporter is nil unless BigQuery is configured.
	Exporter *infraBQ.Exporter
	// Backups is nil unless a backup bucket is configured.
	Backups *backup.Service

	closers []func() error
}

// New opens the store and external clients named by cfg. Optional
// integrations that are not configured are left nil.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log}

	if cfg.UseMemoryStore() {
		log.Warn().Msg("DATABASE_URL not set; using the in-memory store, data is lost on exit")
		a.Store = memory.New()
	} else {
		pg, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		a.Store = pg
	}
	a.closers = append(a.closers, a.Store.Close)

	a.Events = rabbitmq.Connect(cfg.AMQPURL, cfg.AMQPExchange, log)
	a.closers = append(a.closers, a.Events.Close)

	loc := cfg.Location()
	a.Ledger = ledger.New(a.Store,
		ledger.WithLocation(loc),
		ledger.WithRevertPolicy(cfg.Policy()),
		ledger.WithEvents(a.Events),
		ledger.WithLogger(log),
		ledger.WithMaxAttempts(cfg.LedgerMaxAttempts),
	)
	a.Catalog = catalog.New(a.Store)
	a.Reports = reports.New(a.Store, reports.WithLocation(loc))
	a.Expander = recurrence.NewExpander(a.Ledger,
		recurrence.WithMaxCatchUp(cfg.RecurrenceMaxCatchUp),
		recurrence.WithLogger(log),
	)
	a.Sweeper = sweeper.New(a.Ledger,
		sweeper.WithPageSize(cfg.SweepPageSize),
		sweeper.WithLogger(log),
	)
	a.CatchUp = catchup.New(a.Expander, a.Sweeper)

	if cfg.AnalyticsEnabled() {
		exp, err := infraBQ.NewExporter(ctx, cfg.GCPProjectID, cfg.BigQueryDataset, a.Store,
			infraBQ.WithLocation(loc),
			infraBQ.WithLogger(log),
		)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("app: %w", err)
		}
		a.Exporter = exp
		a.closers = append(a.closers, exp.Close)
	}

	if cfg.BackupsEnabled() {
		gcs, err := backup.NewGCSStorage(ctx)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("app: %w", err)
		}
		a.Backups = backup.New(a.Store, gcs, cfg.BackupBucket, backup.WithLogger(log))
		a.closers = append(a.closers, gcs.Close)
	}

	return a, nil
}

// JobRouter returns a router with a handler for every job type the
// configuration supports.
func (a *App) JobRouter() *jobs.Router {
	r := jobs.NewRouter()
	r.Handle(jobs.JobTypeCatchUp, a.CatchUp.HandleJob)
	if a.Exporter != nil {
		r.Handle(jobs.JobTypeExportAnalytics, a.Exporter.HandleJob)
	}
	if a.Backups != nil {
		r.Handle(jobs.JobTypeBackup, a.Backups.HandleJob)
	}
	return r
}

// Close releases everything New opened, most recent first.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

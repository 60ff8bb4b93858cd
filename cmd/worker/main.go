package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/finance-ledger/internal/app"
	"github.com/dvloznov/finance-ledger/internal/config"
	"github.com/dvloznov/finance-ledger/internal/jobs"
	"github.com/dvloznov/finance-ledger/internal/jobs/inmemory"
	"github.com/dvloznov/finance-ledger/internal/logger"
	"github.com/dvloznov/finance-ledger/internal/scheduler"
)

func main() {
	runNow := flag.Bool("run-now", false, "Enqueue a catch-up for every workspace at startup")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log := logger.New()
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	log := logger.NewWithOptions(logger.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize services")
	}
	defer a.Close()

	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(cfg.JobQueueSize, jobStore,
		inmemory.WithWorkers(cfg.JobWorkers),
		inmemory.WithMaxRetries(cfg.JobMaxRetries),
		inmemory.WithLogger(log),
	)

	router := a.JobRouter()
	if err := jobQueue.Start(ctx, router.Dispatch); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job consumer")
	}

	sched := scheduler.New(a.Store, jobQueue, cfg.Location(), log)
	if err := sched.Add(cfg.SweepSchedule, jobs.JobTypeCatchUp); err != nil {
		log.Fatal().Err(err).Msg("Invalid sweep schedule")
	}
	if router.Handles(jobs.JobTypeExportAnalytics) {
		if err := sched.Add(cfg.ExportSchedule, jobs.JobTypeExportAnalytics); err != nil {
			log.Fatal().Err(err).Msg("Invalid export schedule")
		}
	} else {
		log.Info().Msg("BigQuery not configured; analytics export disabled")
	}
	if router.Handles(jobs.JobTypeBackup) {
		if err := sched.Add(cfg.BackupSchedule, jobs.JobTypeBackup); err != nil {
			log.Fatal().Err(err).Msg("Invalid backup schedule")
		}
	} else {
		log.Info().Msg("Backup bucket not configured; backups disabled")
	}
	sched.Start()

	if *runNow {
		n, err := sched.EnqueueAll(ctx, jobs.JobTypeCatchUp)
		if err != nil {
			log.Error().Err(err).Msg("Startup catch-up failed to enqueue")
		}
		log.Info().Int("workspaces", n).Msg("Startup catch-up enqueued")
	}

	log.Info().Msg("Worker service started, waiting for jobs...")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down worker service...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Let scheduled enqueues finish before the queue closes.
	select {
	case <-sched.Stop().Done():
	case <-shutdownCtx.Done():
	}

	cancel()
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during graceful shutdown")
	}
	if err := jobQueue.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close job queue")
	}

	log.Info().Msg("Worker service exited")
}

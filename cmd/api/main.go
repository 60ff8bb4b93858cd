package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/finance-ledger/internal/api"
	"github.com/dvloznov/finance-ledger/internal/app"
	"github.com/dvloznov/finance-ledger/internal/config"
	"github.com/dvloznov/finance-ledger/internal/jobs/inmemory"
	"github.com/dvloznov/finance-ledger/internal/logger"
)

func main() {
	port := flag.String("port", "", "HTTP server port (overrides PORT)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log := logger.New()
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if *port != "" {
		cfg.HTTPPort = *port
	}

	log := logger.NewWithOptions(logger.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})

	if err := cfg.RequireAuth(); err != nil {
		log.Fatal().Err(err).Msg("Refusing to start without authentication")
	}

	ctx := context.Background()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize services")
	}
	defer a.Close()

	// On-demand catch-up jobs run in this process.
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(cfg.JobQueueSize, jobStore,
		inmemory.WithWorkers(cfg.JobWorkers),
		inmemory.WithMaxRetries(cfg.JobMaxRetries),
		inmemory.WithLogger(log),
	)

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	if err := jobQueue.Start(workerCtx, a.JobRouter().Dispatch); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job workers")
	}

	handler := api.NewRouter(api.Deps{
		Ledger:         a.Ledger,
		Catalog:        a.Catalog,
		Reports:        a.Reports,
		CatchUp:        a.CatchUp,
		Jobs:           jobQueue,
		JobStore:       jobStore,
		JWTSecret:      []byte(cfg.JWTSecret),
		JWTIssuer:      cfg.JWTIssuer,
		AllowedOrigins: cfg.AllowedOrigins(),
		Log:            log,
	})

	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.HTTPPort).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	cancelWorker()
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}
	if err := jobQueue.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close job queue")
	}

	log.Info().Msg("Server exited")
}

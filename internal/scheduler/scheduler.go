// Package scheduler enqueues periodic workspace jobs on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/finance-ledger/internal/jobs"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// WorkspaceLister enumerates the workspaces to schedule work for.
type WorkspaceLister interface {
	ListWorkspaceIDs(ctx context.Context) ([]string, error)
}

// Scheduler manages the cron entries.
type Scheduler struct {
	cron       *cron.Cron
	workspaces WorkspaceLister
	queue      jobs.Publisher
	log        zerolog.Logger
	timeout    time.Duration
}

// New creates a Scheduler evaluating schedules in loc.
func New(workspaces WorkspaceLister, queue jobs.Publisher, loc *time.Location, log zerolog.Logger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	cl := cronLogger{log: log}
	return &Scheduler{
		cron:       cron.New(cron.WithLocation(loc), cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		workspaces: workspaces,
		queue:      queue,
		log:        log,
		timeout:    time.Minute,
	}
}

// Add registers a schedule that enqueues a job of type t for every
// workspace. An empty schedule disables the entry.
func (s *Scheduler) Add(schedule string, t jobs.JobType) error {
	if schedule == "" {
		s.log.Info().Str("job_type", string(t)).Msg("schedule disabled")
		return nil
	}
	_, err := s.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if _, err := s.EnqueueAll(ctx, t); err != nil {
			s.log.Error().Err(err).Str("job_type", string(t)).Msg("scheduled enqueue failed")
		}
	})
	if err != nil {
		return fmt.Errorf("scheduling %s %q: %w", t, schedule, err)
	}
	s.log.Info().Str("job_type", string(t)).Str("schedule", schedule).Msg("scheduled job")
	return nil
}

// EnqueueAll enqueues one job of type t per workspace and returns how many
// were queued. It keeps going past individual failures.
func (s *Scheduler) EnqueueAll(ctx context.Context, t jobs.JobType) (int, error) {
	ids, err := s.workspaces.ListWorkspaceIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("EnqueueAll: listing workspaces: %w", err)
	}
	queued := 0
	var firstErr error
	for _, id := range ids {
		if err := s.queue.Enqueue(ctx, &jobs.WorkspaceJob{Type: t, WorkspaceID: id}); err != nil {
			s.log.Error().Err(err).Str("workspace_id", id).Str("job_type", string(t)).Msg("failed to enqueue job")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		queued++
	}
	s.log.Debug().Str("job_type", string(t)).Int("queued", queued).Msg("workspace jobs enqueued")
	if firstErr != nil {
		return queued, fmt.Errorf("EnqueueAll: %w", firstErr)
	}
	return queued, nil
}

// Start starts the cron scheduler in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the scheduler. The returned context is done once running
// entries finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}

// Package catchup brings a workspace up to date: recurring templates are
// expanded first so that the occurrences they create are swept in the
// same pass.
package catchup

import (
	"context"
	"fmt"

	"github.com/dvloznov/finance-ledger/internal/jobs"
	"github.com/dvloznov/finance-ledger/internal/recurrence"
	"github.com/dvloznov/finance-ledger/internal/sweeper"
)

// Expander materializes recurring occurrences.
type Expander interface {
	EnsureRecurringInstances(ctx context.Context, workspaceID, userID string) (recurrence.Result, error)
}

// Sweeper applies due deferred transactions.
type Sweeper interface {
	ApplyPendingTransactions(ctx context.Context, workspaceID string) (sweeper.Result, error)
}

// Result combines both passes.
type Result struct {
	Recurrence recurrence.Result `json:"recurrence"`
	Sweep      sweeper.Result    `json:"sweep"`
}

// Runner runs the catch-up passes.
type Runner struct {
	expander Expander
	sweeper  Sweeper
}

// New creates a Runner.
func New(e Expander, s Sweeper) *Runner {
	return &Runner{expander: e, sweeper: s}
}

// Run expands recurrences then sweeps. The sweep runs even when the
// expansion fails; the first error is returned.
func (r *Runner) Run(ctx context.Context, workspaceID, userID string) (Result, error) {
	var res Result
	rec, expandErr := r.expander.EnsureRecurringInstances(ctx, workspaceID, userID)
	res.Recurrence = rec

	sw, sweepErr := r.sweeper.ApplyPendingTransactions(ctx, workspaceID)
	res.Sweep = sw

	if expandErr != nil {
		return res, fmt.Errorf("catch-up: %w", expandErr)
	}
	if sweepErr != nil {
		return res, fmt.Errorf("catch-up: %w", sweepErr)
	}
	return res, nil
}

// HandleJob runs a catch_up job.
func (r *Runner) HandleJob(ctx context.Context, job *jobs.WorkspaceJob) (any, error) {
	return r.Run(ctx, job.WorkspaceID, job.UserID)
}

package app

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/dvloznov/finance-ledger/internal/catalog"
	"github.com/dvloznov/finance-ledger/internal/catchup"
	"github.com/dvloznov/finance-ledger/internal/config"
	"github.com/dvloznov/finance-ledger/internal/jobs"
)

func memoryConfig() *config.Config {
	return &config.Config{
		Timezone:             "UTC",
		RevertPolicy:         "when_applied",
		LedgerMaxAttempts:    3,
		SweepPageSize:        100,
		RecurrenceMaxCatchUp: 12,
	}
}

func TestNewInMemory(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, memoryConfig(), zerolog.Nop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer a.Close()

	if a.Exporter != nil || a.Backups != nil {
		t.Error("optional integrations should be nil without configuration")
	}

	r := a.JobRouter()
	if !r.Handles(jobs.JobTypeCatchUp) {
		t.Error("router should handle catch_up")
	}
	if r.Handles(jobs.JobTypeExportAnalytics) || r.Handles(jobs.JobTypeBackup) {
		t.Error("router should not handle disabled job types")
	}

	ws, err := a.Catalog.CreateWorkspace(ctx, "Home", catalog.User{ID: "u1"})
	if err != nil {
		t.Fatalf("CreateWorkspace() error = %v", err)
	}
	out, err := r.Dispatch(ctx, &jobs.WorkspaceJob{Type: jobs.JobTypeCatchUp, WorkspaceID: ws.ID, UserID: "u1"})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	res, ok := out.(catchup.Result)
	if !ok {
		t.Fatalf("Dispatch() result = %T, want catchup.Result", out)
	}
	if res.Sweep.Applied != 0 {
		t.Errorf("applied = %d, want 0 on an empty workspace", res.Sweep.Applied)
	}

	if _, err := r.Dispatch(ctx, &jobs.WorkspaceJob{Type: jobs.JobTypeBackup, WorkspaceID: ws.ID}); err == nil {
		t.Error("Dispatch() of a disabled job type should fail")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	a, err := New(context.Background(), memoryConfig(), zerolog.Nop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
}

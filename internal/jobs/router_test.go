package jobs

import (
	"context"
	"testing"
)

func TestRouter(t *testing.T) {
	r := NewRouter()
	var got string
	r.Handle(JobTypeBackup, func(ctx context.Context, job *WorkspaceJob) (any, error) {
		got = job.WorkspaceID
		return "ok", nil
	})

	if !r.Handles(JobTypeBackup) || r.Handles(JobTypeCatchUp) {
		t.Error("Handles() reports wrong registrations")
	}
	res, err := r.Dispatch(context.Background(), &WorkspaceJob{Type: JobTypeBackup, WorkspaceID: "ws-1"})
	if err != nil || res != "ok" || got != "ws-1" {
		t.Errorf("Dispatch() = %v, %v (workspace %q)", res, err, got)
	}
	if _, err := r.Dispatch(context.Background(), &WorkspaceJob{Type: JobTypeCatchUp}); err == nil {
		t.Error("Dispatch() of unregistered type returned nil error")
	}
}

func TestJobTypeValid(t *testing.T) {
	for _, jt := range []JobType{JobTypeCatchUp, JobTypeExportAnalytics, JobTypeBackup} {
		if !jt.Valid() {
			t.Errorf("%s.Valid() = false", jt)
		}
	}
	if JobType("parse_document").Valid() {
		t.Error("unknown type reported valid")
	}
}

package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dvloznov/finance-ledger/internal/jobs"
	"github.com/rs/zerolog"
)

type mockLister struct {
	ListWorkspaceIDsFunc func(ctx context.Context) ([]string, error)
}

func (m *mockLister) ListWorkspaceIDs(ctx context.Context) ([]string, error) {
	return m.ListWorkspaceIDsFunc(ctx)
}

type mockQueue struct {
	mu      sync.Mutex
	jobs    []*jobs.WorkspaceJob
	failFor string
}

func (m *mockQueue) Enqueue(ctx context.Context, job *jobs.WorkspaceJob) error {
	if job.WorkspaceID == m.failFor {
		return errors.New("queue full")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs = append(m.jobs, job)
	return nil
}

func (m *mockQueue) Close() error { return nil }

func (m *mockQueue) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs)
}

func lister(ids ...string) *mockLister {
	return &mockLister{ListWorkspaceIDsFunc: func(ctx context.Context) ([]string, error) { return ids, nil }}
}

func TestEnqueueAll(t *testing.T) {
	q := &mockQueue{}
	s := New(lister("ws-1", "ws-2"), q, time.UTC, zerolog.Nop())

	n, err := s.EnqueueAll(context.Background(), jobs.JobTypeCatchUp)
	if err != nil || n != 2 {
		t.Fatalf("EnqueueAll() = %d, %v", n, err)
	}
	for _, j := range q.jobs {
		if j.Type != jobs.JobTypeCatchUp {
			t.Errorf("job type = %s", j.Type)
		}
	}
}

func TestEnqueueAll_PartialFailure(t *testing.T) {
	q := &mockQueue{failFor: "ws-1"}
	s := New(lister("ws-1", "ws-2", "ws-3"), q, time.UTC, zerolog.Nop())

	n, err := s.EnqueueAll(context.Background(), jobs.JobTypeBackup)
	if err == nil || n != 2 {
		t.Errorf("EnqueueAll() = %d, %v; want 2 and an error", n, err)
	}
}

func TestEnqueueAll_ListError(t *testing.T) {
	s := New(&mockLister{ListWorkspaceIDsFunc: func(ctx context.Context) ([]string, error) {
		return nil, errors.New("db down")
	}}, &mockQueue{}, nil, zerolog.Nop())
	if _, err := s.EnqueueAll(context.Background(), jobs.JobTypeCatchUp); err == nil {
		t.Error("EnqueueAll() error = nil")
	}
}

func TestAdd(t *testing.T) {
	s := New(lister(), &mockQueue{}, time.UTC, zerolog.Nop())
	if err := s.Add("", jobs.JobTypeBackup); err != nil {
		t.Errorf("Add(disabled) error = %v", err)
	}
	if err := s.Add("not a cron line", jobs.JobTypeCatchUp); err == nil {
		t.Error("Add(invalid) error = nil")
	}
	if err := s.Add("*/5 * * * *", jobs.JobTypeCatchUp); err != nil {
		t.Errorf("Add(valid) error = %v", err)
	}
	if got := len(s.cron.Entries()); got != 1 {
		t.Errorf("entries = %d, want 1", got)
	}
}

func TestScheduledRun(t *testing.T) {
	q := &mockQueue{}
	s := New(lister("ws-1"), q, time.UTC, zerolog.Nop())
	if err := s.Add("@every 1s", jobs.JobTypeCatchUp); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	s.Start()
	defer s.Stop()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) && q.count() == 0 {
		time.Sleep(20 * time.Millisecond)
	}
	if q.count() == 0 {
		t.Error("scheduled entry never enqueued a job")
	}
}

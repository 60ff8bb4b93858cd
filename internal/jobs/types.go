package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// JobType represents the type of job to be executed.
type JobType string

const (
	// JobTypeCatchUp expands recurring templates and applies due deferred
	// transactions for one workspace.
	JobTypeCatchUp JobType = "catch_up"
	// JobTypeExportAnalytics streams a workspace's ledger into BigQuery.
	JobTypeExportAnalytics JobType = "export_analytics"
	// JobTypeBackup writes a workspace snapshot to Cloud Storage.
	JobTypeBackup JobType = "backup"
)

// Valid reports whether t is a known job type.
func (t JobType) Valid() bool {
	switch t {
	case JobTypeCatchUp, JobTypeExportAnalytics, JobTypeBackup:
		return true
	}
	return false
}

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobStatusPending indicates the job is waiting to be processed.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates the job is currently being processed.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates the job completed successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job failed.
	JobStatusFailed JobStatus = "failed"
	// JobStatusRetrying indicates the job failed and is being retried.
	JobStatusRetrying JobStatus = "retrying"
)

// DefaultMaxRetries is used when a job does not set MaxRetries.
const DefaultMaxRetries = 3

// ErrJobNotFound is returned for unknown job ids.
var ErrJobNotFound = errors.New("job not found")

// WorkspaceJob is a unit of background work scoped to one workspace.
// Every job type is idempotent, so a retried job never double-applies.
type WorkspaceJob struct {
	// JobID is the unique identifier for this job.
	JobID string `json:"job_id"`

	Type        JobType `json:"type"`
	WorkspaceID string  `json:"workspace_id"`

	// UserID is recorded as the creator of anything the job materializes.
	// Empty for scheduled jobs.
	UserID string `json:"user_id,omitempty"`

	Status      JobStatus  `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Error contains error details if the last attempt failed.
	Error string `json:"error,omitempty"`

	// Result is the handler's JSON summary of the last successful run.
	Result json.RawMessage `json:"result,omitempty"`

	RetryCount int `json:"retry_count"`
	MaxRetries int `json:"max_retries"`
}

// Publisher defines the interface for publishing jobs to a queue.
type Publisher interface {
	// Enqueue assigns the job an id if it has none, records it and queues it.
	Enqueue(ctx context.Context, job *WorkspaceJob) error

	// Close closes the publisher and releases resources.
	Close() error
}

// Consumer defines the interface for consuming jobs from a queue.
type Consumer interface {
	// Start begins consuming jobs from the queue.
	// The handler function is called for each job received.
	Start(ctx context.Context, handler JobHandler) error

	// Stop stops consuming jobs and waits for in-flight jobs to complete.
	Stop(ctx context.Context) error
}

// JobHandler processes a job. A returned error marks the attempt failed
// and schedules a retry while retries remain. The returned value, when not
// nil, is stored as the job's Result.
type JobHandler func(ctx context.Context, job *WorkspaceJob) (any, error)

// JobStore defines the interface for storing and retrieving job status.
type JobStore interface {
	// SaveJob saves or updates a job's state.
	SaveJob(ctx context.Context, job *WorkspaceJob) error

	// GetJob retrieves a job by ID. Unknown ids yield ErrJobNotFound.
	GetJob(ctx context.Context, jobID string) (*WorkspaceJob, error)

	// ListJobs retrieves jobs with optional filtering, newest first.
	ListJobs(ctx context.Context, filter JobFilter) ([]*WorkspaceJob, error)

	// UpdateJobStatus updates the status of a job.
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errorMsg string) error
}

// JobFilter defines filtering criteria for listing jobs.
type JobFilter struct {
	WorkspaceID string
	Type        JobType
	Status      JobStatus

	// Limit limits the number of results.
	Limit int

	// Offset for pagination.
	Offset int
}

package inmemory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dvloznov/finance-ledger/internal/jobs"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Queue is an in-memory implementation of job publisher and consumer.
// It uses Go channels for job distribution and is safe for concurrent use.
// This implementation is suitable for single-instance deployments and testing.
type Queue struct {
	jobChan   chan *jobs.WorkspaceJob
	closeChan chan struct{}
	wg        sync.WaitGroup
	mu        sync.RWMutex
	store     jobs.JobStore
	closed    bool

	workers    int
	backoff    time.Duration
	maxRetries int
	now        func() time.Time
	log        zerolog.Logger
}

// Option configures a Queue.
type Option func(*Queue)

// WithWorkers sets the number of concurrent workers started by Start.
func WithWorkers(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.workers = n
		}
	}
}

// WithBackoff sets the base retry delay. Attempt n waits n times base.
func WithBackoff(base time.Duration) Option {
	return func(q *Queue) { q.backoff = base }
}

// WithMaxRetries sets the retries given to jobs that do not set their own.
func WithMaxRetries(n int) Option {
	return func(q *Queue) { q.maxRetries = n }
}

// WithLogger sets the queue's logger.
func WithLogger(log zerolog.Logger) Option {
	return func(q *Queue) { q.log = log }
}

// NewQueue creates a new in-memory job queue.
// bufferSize determines how many jobs can be queued before Enqueue blocks.
func NewQueue(bufferSize int, store jobs.JobStore, opts ...Option) *Queue {
	q := &Queue{
		jobChan:    make(chan *jobs.WorkspaceJob, bufferSize),
		closeChan:  make(chan struct{}),
		store:      store,
		workers:    5,
		backoff:    time.Second,
		maxRetries: jobs.DefaultMaxRetries,
		now:        time.Now,
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue implements the Publisher interface.
func (q *Queue) Enqueue(ctx context.Context, job *jobs.WorkspaceJob) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return fmt.Errorf("queue is closed")
	}
	if !job.Type.Valid() {
		return fmt.Errorf("unknown job type %q", job.Type)
	}
	if job.WorkspaceID == "" {
		return fmt.Errorf("job has no workspace")
	}

	if job.JobID == "" {
		job.JobID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = jobs.JobStatusPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = q.now()
	}
	if job.MaxRetries == 0 {
		job.MaxRetries = q.maxRetries
	}

	if q.store != nil {
		if err := q.store.SaveJob(ctx, job); err != nil {
			return fmt.Errorf("failed to save job: %w", err)
		}
	}

	select {
	case q.jobChan <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.closeChan:
		return fmt.Errorf("queue is closed")
	}
}

// Start implements the Consumer interface.
// The handler is called concurrently for each job, up to the configured
// number of workers.
func (q *Queue) Start(ctx context.Context, handler jobs.JobHandler) error {
	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return fmt.Errorf("queue is closed")
	}
	q.mu.RUnlock()

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, handler)
	}
	return nil
}

func (q *Queue) worker(ctx context.Context, handler jobs.JobHandler) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.closeChan:
			return
		case job := <-q.jobChan:
			if job == nil {
				return
			}
			q.processJob(ctx, job, handler)
		}
	}
}

// processJob executes a single job with retry logic.
func (q *Queue) processJob(ctx context.Context, job *jobs.WorkspaceJob, handler jobs.JobHandler) {
	log := q.log.With().
		Str("job_id", job.JobID).
		Str("job_type", string(job.Type)).
		Str("workspace_id", job.WorkspaceID).
		Logger()

	job.Status = jobs.JobStatusRunning
	started := q.now()
	job.StartedAt = &started
	q.save(ctx, job)

	result, err := q.run(ctx, job, handler)

	completedAt := q.now()
	job.CompletedAt = &completedAt

	if err != nil {
		job.Error = err.Error()
		if job.RetryCount >= job.MaxRetries {
			job.Status = jobs.JobStatusFailed
			log.Error().Err(err).Msg("job failed")
			q.save(ctx, job)
			return
		}

		job.RetryCount++
		job.Status = jobs.JobStatusRetrying
		log.Warn().Err(err).Int("retry", job.RetryCount).Msg("job failed, retrying")
		q.save(ctx, job)

		retry := *job
		time.AfterFunc(time.Duration(job.RetryCount)*q.backoff, func() {
			retry.Status = jobs.JobStatusPending
			retry.StartedAt = nil
			retry.CompletedAt = nil
			if err := q.Enqueue(context.Background(), &retry); err != nil {
				retry.Status = jobs.JobStatusFailed
				retry.Error = fmt.Sprintf("requeue: %v", err)
				q.save(context.Background(), &retry)
			}
		})
		return
	}

	job.Status = jobs.JobStatusCompleted
	job.Error = ""
	if result != nil {
		if raw, err := json.Marshal(result); err == nil {
			job.Result = raw
		}
	}
	log.Info().Dur("took", completedAt.Sub(started)).Msg("job completed")
	q.save(ctx, job)
}

// run calls handler, turning a panic into an error so one bad job cannot
// take a worker down.
func (q *Queue) run(ctx context.Context, job *jobs.WorkspaceJob, handler jobs.JobHandler) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return handler(ctx, job)
}

func (q *Queue) save(ctx context.Context, job *jobs.WorkspaceJob) {
	if q.store == nil {
		return
	}
	if err := q.store.SaveJob(ctx, job); err != nil {
		q.log.Error().Err(err).Str("job_id", job.JobID).Msg("failed to save job state")
	}
}

// Stop implements the Consumer interface.
// It stops the queue and waits for all in-flight jobs to complete.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.closeChan)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close implements the Publisher interface.
func (q *Queue) Close() error {
	return q.Stop(context.Background())
}

var _ jobs.Publisher = (*Queue)(nil)
var _ jobs.Consumer = (*Queue)(nil)

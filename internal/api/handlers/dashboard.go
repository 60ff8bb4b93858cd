package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dvloznov/finance-ledger/internal/api/middleware"
	"github.com/dvloznov/finance-ledger/internal/jobs"
	"github.com/dvloznov/finance-ledger/internal/ledger"
	"github.com/dvloznov/finance-ledger/internal/logger"
	"github.com/dvloznov/finance-ledger/internal/reports"
)

// DashboardHandler serves the workspace summary and maintenance endpoints.
type DashboardHandler struct {
	reports   *reports.Service
	ledger    *ledger.Ledger
	catchUp   CatchUp
	publisher jobs.Publisher
}

// NewDashboardHandler creates a new dashboard handler. catchUp may be nil.
func NewDashboardHandler(rep *reports.Service, l *ledger.Ledger, catchUp CatchUp, publisher jobs.Publisher) *DashboardHandler {
	return &DashboardHandler{reports: rep, ledger: l, catchUp: catchUp, publisher: publisher}
}

// Dashboard handles GET /api/workspaces/{ws}/dashboard?period=&category=
func (h *DashboardHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	period, err := reports.ParsePeriod(r.URL.Query().Get("period"))
	if err != nil {
		writeServiceError(w, r, err, "")
		return
	}
	runCatchUp(r, h.catchUp)

	summary, err := h.reports.Summary(r.Context(), workspaceID(r), period, r.URL.Query().Get("category"))
	if err != nil {
		writeServiceError(w, r, err, "Failed to build dashboard")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, summary)
}

// Sweep handles POST /api/workspaces/{ws}/sweep
//
// The catch-up runs in the background; poll GET /api/jobs/{id}.
func (h *DashboardHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	job := &jobs.WorkspaceJob{
		Type:        jobs.JobTypeCatchUp,
		WorkspaceID: workspaceID(r),
		UserID:      caller(r).ID,
	}
	if err := h.publisher.Enqueue(r.Context(), job); err != nil {
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Msg("Failed to enqueue catch-up job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to enqueue catch-up job")
		return
	}

	log := logger.FromContext(r.Context())
	log.Info().Str("job_id", job.JobID).Msg("Catch-up job enqueued")

	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{
		"job_id": job.JobID,
		"status": string(jobs.JobStatusPending),
	})
}

// Reconcile handles GET /api/workspaces/{ws}/reconcile?fix=
func (h *DashboardHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	fix := false
	if raw := r.URL.Query().Get("fix"); raw != "" {
		var err error
		if fix, err = strconv.ParseBool(raw); err != nil {
			middleware.WriteFieldError(w, http.StatusBadRequest, "fix", "fix must be true or false")
			return
		}
	}
	report, err := h.ledger.Reconcile(r.Context(), workspaceID(r), fix)
	if err != nil {
		writeServiceError(w, r, err, "Failed to reconcile balances")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, report)
}

// JobsHandler handles job-related endpoints.
type JobsHandler struct {
	store   jobs.JobStore
	members middleware.MembershipChecker
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(store jobs.JobStore, members middleware.MembershipChecker) *JobsHandler {
	return &JobsHandler{store: store, members: members}
}

// visible reports whether the caller may see jobs of workspaceID.
func (h *JobsHandler) visible(ctx context.Context, workspaceID, userID string) (bool, error) {
	if workspaceID == "" {
		return false, nil
	}
	return h.members.IsMember(ctx, workspaceID, userID)
}

// GetJob handles GET /api/jobs/{id}
//
// Jobs of other workspaces are reported as missing.
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	jobID := chi.URLParam(r, "id")

	job, err := h.store.GetJob(ctx, jobID)
	if errors.Is(err, jobs.ErrJobNotFound) {
		middleware.WriteError(w, http.StatusNotFound, "Job not found")
		return
	}
	if err != nil {
		writeServiceError(w, r, err, "Failed to get job")
		return
	}
	ok, err := h.visible(ctx, job.WorkspaceID, caller(r).ID)
	if err != nil {
		writeServiceError(w, r, err, "Failed to get job")
		return
	}
	if !ok {
		middleware.WriteError(w, http.StatusNotFound, "Job not found")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /api/jobs?workspace_id=
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()
	filter := jobs.JobFilter{
		WorkspaceID: query.Get("workspace_id"),
		Type:        jobs.JobType(query.Get("type")),
		Status:      jobs.JobStatus(query.Get("status")),
	}
	if filter.WorkspaceID == "" {
		middleware.WriteFieldError(w, http.StatusBadRequest, "workspace_id", "workspace_id is required")
		return
	}
	ok, err := h.visible(ctx, filter.WorkspaceID, caller(r).ID)
	if err != nil {
		writeServiceError(w, r, err, "Failed to list jobs")
		return
	}
	if !ok {
		middleware.WriteError(w, http.StatusForbidden, "Not a member of this workspace")
		return
	}

	if filter.Limit, err = intParam(r, "limit"); err != nil {
		writeServiceError(w, r, err, "")
		return
	}
	if filter.Offset, err = intParam(r, "offset"); err != nil {
		writeServiceError(w, r, err, "")
		return
	}

	jobsList, err := h.store.ListJobs(ctx, filter)
	if err != nil {
		writeServiceError(w, r, err, "Failed to list jobs")
		return
	}
	if jobsList == nil {
		jobsList = []*jobs.WorkspaceJob{}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobsList,
		"count": len(jobsList),
	})
}

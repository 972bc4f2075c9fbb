package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/wolfman30/agency-leads/internal/apperr"
	httpmiddleware "github.com/wolfman30/agency-leads/internal/http/middleware"
	"github.com/wolfman30/agency-leads/internal/queue"
	"github.com/wolfman30/agency-leads/pkg/logging"
)

const (
	defaultDeadListLimit = 50
	maxDeadListLimit     = 500
)

// AdminNotificationsHandler lets operators inspect and requeue notification jobs.
type AdminNotificationsHandler struct {
	jobs   queue.Inspector
	logger *logging.Logger
}

// NewAdminNotificationsHandler creates a new admin notifications handler.
func NewAdminNotificationsHandler(jobs queue.Inspector, logger *logging.Logger) *AdminNotificationsHandler {
	if jobs == nil {
		panic("handlers: job inspector cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminNotificationsHandler{
		jobs:   jobs,
		logger: logger,
	}
}

// Routes mounts the handler under /admin/notifications.
func (h *AdminNotificationsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/dead", h.ListDead)
	r.Get("/stats", h.Stats)
	r.Get("/{jobID}", h.GetJob)
	r.Post("/{jobID}/requeue", h.Requeue)
	return r
}

type jobListResponse struct {
	Success bool         `json:"success"`
	Jobs    []*queue.Job `json:"jobs"`
	Count   int          `json:"count"`
}

type jobResponse struct {
	Success bool       `json:"success"`
	Job     *queue.Job `json:"job"`
}

type statsResponse struct {
	Success bool        `json:"success"`
	Stats   queue.Stats `json:"stats"`
}

// ListDead returns dead jobs, newest first.
// GET /admin/notifications/dead?limit=50
func (h *AdminNotificationsHandler) ListDead(w http.ResponseWriter, r *http.Request) {
	limit := defaultDeadListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			apperr.WriteError(w, h.logger, apperr.Validation(map[string]string{"limit": "limit must be a positive integer"}))
			return
		}
		limit = min(n, maxDeadListLimit)
	}

	jobs, err := h.jobs.ListDead(r.Context(), limit)
	if err != nil {
		apperr.WriteError(w, h.logger, apperr.Internal(err))
		return
	}
	if jobs == nil {
		jobs = []*queue.Job{}
	}
	apperr.WriteJSON(w, http.StatusOK, jobListResponse{Success: true, Jobs: jobs, Count: len(jobs)})
}

// GetJob returns one job by id.
// GET /admin/notifications/{jobID}
func (h *AdminNotificationsHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.Get(r.Context(), chi.URLParam(r, "jobID"))
	if errors.Is(err, queue.ErrJobNotFound) {
		apperr.WriteError(w, h.logger, apperr.NotFound("notification job not found"))
		return
	}
	if err != nil {
		apperr.WriteError(w, h.logger, apperr.Internal(err))
		return
	}
	apperr.WriteJSON(w, http.StatusOK, jobResponse{Success: true, Job: job})
}

// Requeue returns a dead job to the pending queue with a fresh attempt budget.
// POST /admin/notifications/{jobID}/requeue
func (h *AdminNotificationsHandler) Requeue(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job, err := h.jobs.Requeue(r.Context(), jobID)
	switch {
	case errors.Is(err, queue.ErrJobNotFound):
		apperr.WriteError(w, h.logger, apperr.NotFound("notification job not found"))
		return
	case errors.Is(err, queue.ErrNotDead):
		apperr.WriteError(w, h.logger, apperr.New(apperr.CodeConflict, "only dead jobs can be requeued", nil, http.StatusConflict, apperr.CategoryBusiness))
		return
	case err != nil:
		apperr.WriteError(w, h.logger, apperr.Internal(err))
		return
	}
	h.logger.Info("notification requeued",
		"job_id", job.ID,
		"template", job.TemplateKey,
		"admin", httpmiddleware.AdminSubject(r.Context()),
	)
	apperr.WriteJSON(w, http.StatusOK, jobResponse{Success: true, Job: job})
}

// Stats counts jobs by state.
// GET /admin/notifications/stats
func (h *AdminNotificationsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.jobs.Stats(r.Context())
	if err != nil {
		apperr.WriteError(w, h.logger, apperr.Internal(err))
		return
	}
	apperr.WriteJSON(w, http.StatusOK, statsResponse{Success: true, Stats: stats})
}

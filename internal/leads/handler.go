package leads

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/wolfman30/agency-leads/internal/apperr"
	"github.com/wolfman30/agency-leads/internal/http/middleware"
	"github.com/wolfman30/agency-leads/internal/observability/metrics"
	"github.com/wolfman30/agency-leads/internal/validation"
	"github.com/wolfman30/agency-leads/pkg/logging"
)

const (
	maxBodyBytes   = 64 << 10
	notifyTimeout  = 5 * time.Second
	summaryDefault = 30 * 24 * time.Hour
)

// Notifier schedules the notification jobs for a freshly stored lead and
// returns their ids.
type Notifier interface {
	NotifyLeadCreated(ctx context.Context, lead *Lead) ([]string, error)
}

// Handler handles HTTP requests for leads
type Handler struct {
	repo            Repository
	notifier        Notifier
	validator       *validation.Validator
	summary         SummaryReader
	metrics         *metrics.PipelineMetrics
	logger          *logging.Logger
	defaultLanguage string
	now             func() time.Time
}

// HandlerOption customizes a Handler.
type HandlerOption func(*Handler)

// WithValidator overrides the default form rule sets.
func WithValidator(v *validation.Validator) HandlerOption {
	return func(h *Handler) {
		if v != nil {
			h.validator = v
		}
	}
}

// WithSummaryReader sets the analytics source; by default the repository
// is used when it can summarize itself.
func WithSummaryReader(r SummaryReader) HandlerOption {
	return func(h *Handler) {
		if r != nil {
			h.summary = r
		}
	}
}

func WithMetrics(m *metrics.PipelineMetrics) HandlerOption {
	return func(h *Handler) {
		h.metrics = m
	}
}

// WithDefaultLanguage sets the language stamped on leads that omit one.
func WithDefaultLanguage(lang string) HandlerOption {
	return func(h *Handler) {
		if lang != "" {
			h.defaultLanguage = lang
		}
	}
}

// NewHandler creates a new leads handler
func NewHandler(repo Repository, notifier Notifier, logger *logging.Logger, opts ...HandlerOption) *Handler {
	if repo == nil {
		panic("leads: repository required")
	}
	if notifier == nil {
		panic("leads: notifier required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	h := &Handler{
		repo:            repo,
		notifier:        notifier,
		validator:       validation.New(),
		logger:          logger,
		defaultLanguage: "en",
		now:             time.Now,
	}
	if sr, ok := repo.(SummaryReader); ok {
		h.summary = sr
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// CreateContact handles POST /contact
func (h *Handler) CreateContact(w http.ResponseWriter, r *http.Request) {
	h.intake(w, r, FormContact, validation.RuleSetContact)
}

// CreateCallback handles POST /contact/callback
func (h *Handler) CreateCallback(w http.ResponseWriter, r *http.Request) {
	h.intake(w, r, FormCallback, validation.RuleSetCallback)
}

// CreateAudit handles POST /contact/audit
func (h *Handler) CreateAudit(w http.ResponseWriter, r *http.Request) {
	h.intake(w, r, FormAudit, validation.RuleSetAudit)
}

// CreateLeadResponse is the 201 body for an accepted submission.
type CreateLeadResponse struct {
	Success bool  `json:"success"`
	Lead    *Lead `json:"lead"`
}

func (h *Handler) intake(w http.ResponseWriter, r *http.Request, form FormType, ruleSet string) {
	remoteIP := middleware.ClientKey(r)

	var sub Submission
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		h.metrics.ObserveSubmission(string(form), "invalid")
		apperr.WriteError(w, h.logger, apperr.InvalidJSON(err))
		return
	}

	result, err := h.validator.Validate(ruleSet, sub.Fields())
	if err != nil {
		h.metrics.ObserveSubmission(string(form), "error")
		apperr.WriteError(w, h.logger, apperr.Internal(err))
		return
	}
	if !result.Valid() {
		h.logger.Info("submission rejected", "form", form, "fields", result.Fields(), "remote_ip", remoteIP)
		h.metrics.ObserveSubmission(string(form), "invalid")
		apperr.WriteError(w, h.logger, apperr.Validation(result.Violations()))
		return
	}

	lead, err := h.repo.Create(r.Context(), sub.ToInput(form, remoteIP, r.UserAgent(), h.defaultLanguage))
	if err != nil {
		h.metrics.ObserveSubmission(string(form), "error")
		apperr.WriteError(w, h.logger, apperr.Persistence(err))
		return
	}
	h.logger.Info("lead created", "lead_id", lead.ID, "form", form, "remote_ip", remoteIP)

	// The lead is stored; a failed enqueue loses only the emails.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), notifyTimeout)
	jobIDs, err := h.notifier.NotifyLeadCreated(ctx, lead)
	cancel()
	if err != nil {
		h.logger.Error("failed to enqueue notifications", "lead_id", lead.ID, "form", form, "enqueued", len(jobIDs), "error", err)
	} else {
		h.logger.Info("notifications enqueued", "lead_id", lead.ID, "job_ids", jobIDs)
	}

	h.metrics.ObserveSubmission(string(form), "created")
	apperr.WriteJSON(w, http.StatusCreated, CreateLeadResponse{Success: true, Lead: lead})
}

// ListLeadsResponse is the response for listing leads
type ListLeadsResponse struct {
	Success bool    `json:"success"`
	Leads   []*Lead `json:"leads"`
	Count   int     `json:"count"`
	Offset  int     `json:"offset"`
	Limit   int     `json:"limit"`
}

// ListLeads handles GET /analytics/leads
func (h *Handler) ListLeads(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{Limit: 50}

	if limitStr := q.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 && limit <= 100 {
			filter.Limit = limit
		}
	}
	if offsetStr := q.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil && offset >= 0 {
			filter.Offset = offset
		}
	}
	if form := q.Get("form"); form != "" {
		filter.FormType = FormType(form)
		if !filter.FormType.Valid() {
			apperr.WriteError(w, h.logger, apperr.Validation([]validation.Violation{{Field: "form", Message: "form must be one of: contact, callback, audit"}}))
			return
		}
	}
	since, ok := h.parseSince(w, q.Get("since"))
	if !ok {
		return
	}
	filter.Since = since

	leads, err := h.repo.List(r.Context(), filter)
	if err != nil {
		apperr.WriteError(w, h.logger, apperr.Internal(err))
		return
	}

	apperr.WriteJSON(w, http.StatusOK, ListLeadsResponse{
		Success: true,
		Leads:   leads,
		Count:   len(leads),
		Offset:  filter.Offset,
		Limit:   filter.Limit,
	})
}

// Summary handles GET /analytics/leads/summary
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	if h.summary == nil {
		apperr.WriteError(w, h.logger, apperr.NotFound("lead summary is not available for this store"))
		return
	}
	since, ok := h.parseSince(w, r.URL.Query().Get("since"))
	if !ok {
		return
	}
	if since.IsZero() {
		since = h.now().UTC().Add(-summaryDefault)
	}

	summary, err := h.summary.Summary(r.Context(), since)
	if err != nil {
		apperr.WriteError(w, h.logger, apperr.Internal(err))
		return
	}
	apperr.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "summary": summary})
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	apperr.WriteJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": h.now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) parseSince(w http.ResponseWriter, raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, true
	}
	since, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		apperr.WriteError(w, h.logger, apperr.Validation([]validation.Violation{{Field: "since", Message: "since must be an RFC 3339 timestamp"}}))
		return time.Time{}, false
	}
	return since, true
}

// GetLead handles GET /analytics/leads/{leadID}
func (h *Handler) GetLead(w http.ResponseWriter, r *http.Request) {
	lead, err := h.repo.GetByID(r.Context(), chi.URLParam(r, "leadID"))
	if err != nil {
		if errors.Is(err, ErrLeadNotFound) {
			apperr.WriteError(w, h.logger, apperr.NotFound("lead not found"))
			return
		}
		apperr.WriteError(w, h.logger, apperr.Internal(err))
		return
	}
	apperr.WriteJSON(w, http.StatusOK, CreateLeadResponse{Success: true, Lead: lead})
}

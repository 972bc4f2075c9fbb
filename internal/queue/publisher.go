package queue

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/wolfman30/agency-leads/internal/leads"
	"github.com/wolfman30/agency-leads/internal/notify"
	"github.com/wolfman30/agency-leads/pkg/logging"
)

// Publisher turns stored leads into notification jobs.
type Publisher struct {
	broker      Broker
	logger      *logging.Logger
	adminEmail  string
	signature   string
	maxAttempts int
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithAdminEmail sets the inbox that receives a notice for every lead.
func WithAdminEmail(email string) PublisherOption {
	return func(p *Publisher) {
		p.adminEmail = email
	}
}

// WithSignature sets the closing line of client-facing emails.
func WithSignature(sig string) PublisherOption {
	return func(p *Publisher) {
		if sig != "" {
			p.signature = sig
		}
	}
}

// WithJobMaxAttempts sets the attempt budget stamped on new jobs.
func WithJobMaxAttempts(n int) PublisherOption {
	return func(p *Publisher) {
		if n > 0 {
			p.maxAttempts = n
		}
	}
}

// NewPublisher creates a publisher that enqueues onto broker.
func NewPublisher(broker Broker, logger *logging.Logger, opts ...PublisherOption) *Publisher {
	if broker == nil {
		panic("queue: broker cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	p := &Publisher{
		broker:      broker,
		logger:      logger,
		signature:   "The Agency Team",
		maxAttempts: DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NotifyLeadCreated enqueues the jobs for a freshly stored lead and returns
// their ids. Every job is attempted even when an earlier one fails.
func (p *Publisher) NotifyLeadCreated(ctx context.Context, lead *leads.Lead) ([]string, error) {
	if lead == nil {
		return nil, leads.ErrNilInput
	}
	data := leadData(lead, p.signature)

	var jobs []*Job
	if p.adminEmail != "" {
		jobs = append(jobs, &Job{
			TemplateKey: notify.TemplateAdminNotice,
			To:          p.adminEmail,
			ReplyTo:     lead.Email,
		})
	}
	if lead.Email != "" {
		switch lead.FormType {
		case leads.FormContact:
			jobs = append(jobs, &Job{TemplateKey: notify.TemplateClientAutoresponse, To: lead.Email, ToName: lead.Name})
		case leads.FormCallback:
			jobs = append(jobs, &Job{TemplateKey: notify.TemplateCallbackConfirmation, To: lead.Email, ToName: lead.Name})
		case leads.FormAudit:
			jobs = append(jobs, &Job{TemplateKey: notify.TemplateAuditDelivery, To: lead.Email, ToName: lead.Name})
		}
	}

	ids := make([]string, 0, len(jobs))
	var errs []error
	for _, job := range jobs {
		job.LeadID = lead.ID
		job.Data = maps.Clone(data)
		job.MaxAttempts = p.maxAttempts
		if err := p.broker.Enqueue(ctx, job); err != nil {
			errs = append(errs, fmt.Errorf("enqueue %s: %w", job.TemplateKey, err))
			continue
		}
		p.logger.Info("notification enqueued",
			"job_id", job.ID,
			"template", job.TemplateKey,
			"lead_id", lead.ID,
		)
		ids = append(ids, job.ID)
	}
	return ids, errors.Join(errs...)
}

func leadData(lead *leads.Lead, signature string) map[string]string {
	return map[string]string{
		"leadId":        lead.ID,
		"formType":      string(lead.FormType),
		"name":          lead.Name,
		"email":         lead.Email,
		"phone":         lead.Phone,
		"message":       lead.Message,
		"businessType":  lead.BusinessType,
		"website":       lead.Website,
		"preferredTime": lead.PreferredTime,
		"language":      lead.Language,
		"createdAt":     lead.CreatedAt.UTC().Format(time.RFC3339),
		"signature":     signature,
	}
}

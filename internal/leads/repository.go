package leads

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Repository defines the interface for lead storage
type Repository interface {
	Create(ctx context.Context, in *CreateInput) (*Lead, error)
	GetByID(ctx context.Context, id string) (*Lead, error)
	List(ctx context.Context, filter ListFilter) ([]*Lead, error)
}

// SummaryReader aggregates stored leads for the analytics endpoint.
type SummaryReader interface {
	Summary(ctx context.Context, since time.Time) (*Summary, error)
}

// InMemoryRepository is a Repository kept in process memory, for local
// development and tests.
type InMemoryRepository struct {
	mu    sync.RWMutex
	leads map[string]*Lead
	now   func() time.Time
}

var (
	_ Repository    = (*InMemoryRepository)(nil)
	_ SummaryReader = (*InMemoryRepository)(nil)
)

// NewInMemoryRepository creates a new in-memory repository
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		leads: make(map[string]*Lead),
		now:   time.Now,
	}
}

// Create stores a copy of the lead under a fresh id.
func (r *InMemoryRepository) Create(ctx context.Context, in *CreateInput) (*Lead, error) {
	if err := in.check(); err != nil {
		return nil, err
	}
	lead := in.lead(uuid.New().String(), r.now().UTC())

	stored := *lead
	r.mu.Lock()
	r.leads[lead.ID] = &stored
	r.mu.Unlock()

	return lead, nil
}

// GetByID retrieves a lead by ID
func (r *InMemoryRepository) GetByID(ctx context.Context, id string) (*Lead, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	lead, ok := r.leads[id]
	if !ok {
		return nil, ErrLeadNotFound
	}
	out := *lead
	return &out, nil
}

// List returns leads newest first.
func (r *InMemoryRepository) List(ctx context.Context, filter ListFilter) ([]*Lead, error) {
	filter = filter.normalized()

	r.mu.RLock()
	matched := make([]*Lead, 0, len(r.leads))
	for _, lead := range r.leads {
		if filter.FormType != "" && lead.FormType != filter.FormType {
			continue
		}
		if !filter.Since.IsZero() && lead.CreatedAt.Before(filter.Since) {
			continue
		}
		out := *lead
		matched = append(matched, &out)
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	if filter.Offset >= len(matched) {
		return []*Lead{}, nil
	}
	matched = matched[filter.Offset:]
	if len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

// Summary counts leads created at or after since.
func (r *InMemoryRepository) Summary(ctx context.Context, since time.Time) (*Summary, error) {
	summary := newSummary(since)
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, lead := range r.leads {
		if lead.CreatedAt.Before(since) {
			continue
		}
		summary.Total++
		summary.ByForm[string(lead.FormType)]++
		if lead.BusinessType != "" {
			summary.ByBusinessType[lead.BusinessType]++
		}
	}
	return summary, nil
}

// Count returns the number of stored leads.
func (r *InMemoryRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.leads)
}

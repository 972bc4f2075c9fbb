// Package queue carries notification jobs from the intake handler to the
// delivery workers with at-least-once semantics.
package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"
)

// State is a job's position in its lifecycle.
type State string

const (
	StatePending   State = "pending"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateDead      State = "dead"
)

// DefaultMaxAttempts bounds delivery attempts when a job does not set its own.
const DefaultMaxAttempts = 5

var (
	// ErrJobNotFound is returned when no job exists under an id.
	ErrJobNotFound = errors.New("queue: job not found")
	// ErrLeaseLost is returned when settling a job whose lease expired or
	// was taken by another worker.
	ErrLeaseLost = errors.New("queue: lease lost")
	// ErrNotDead is returned when requeueing a job that is not dead.
	ErrNotDead = errors.New("queue: job is not dead")
	// ErrAttemptsExhausted marks a job that came back from an expired lease
	// with no attempts left.
	ErrAttemptsExhausted = errors.New("queue: attempts exhausted")
)

// Job is one queued email. Data is a snapshot of the lead fields the
// template needs, so rendering never depends on the lead store.
type Job struct {
	ID          string            `json:"id"`
	TemplateKey string            `json:"template"`
	To          string            `json:"to"`
	ToName      string            `json:"toName,omitempty"`
	ReplyTo     string            `json:"replyTo,omitempty"`
	LeadID      string            `json:"leadId,omitempty"`
	Data        map[string]string `json:"data"`
	Attempts    int               `json:"attempts"`
	MaxAttempts int               `json:"maxAttempts"`
	State       State             `json:"state"`
	LastError   string            `json:"lastError,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`

	// LeaseToken identifies the current holder of an active job.
	LeaseToken string `json:"-"`
	// ReceiptHandle is the broker-specific handle for settling the job.
	ReceiptHandle string `json:"-"`
}

// Clone returns a deep copy of j.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	out := *j
	out.Data = maps.Clone(j.Data)
	return &out
}

// Exhausted reports whether the job has used its last attempt.
func (j *Job) Exhausted() bool {
	return j.Attempts >= j.maxAttempts()
}

func (j *Job) maxAttempts() int {
	if j.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return j.MaxAttempts
}

// prepare stamps the fields every broker sets on enqueue.
func (j *Job) prepare(now time.Time) error {
	if j == nil {
		return errors.New("queue: job required")
	}
	if j.TemplateKey == "" {
		return errors.New("queue: job template required")
	}
	if j.To == "" {
		return errors.New("queue: job recipient required")
	}
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	if j.MaxAttempts <= 0 {
		j.MaxAttempts = DefaultMaxAttempts
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now.UTC()
	}
	j.UpdatedAt = now.UTC()
	j.State = StatePending
	j.Attempts = 0
	j.LastError = ""
	return nil
}

func encodeJob(j *Job) (string, error) {
	body, err := json.Marshal(j)
	if err != nil {
		return "", fmt.Errorf("queue: failed to encode job: %w", err)
	}
	return string(body), nil
}

func decodeJob(body string) (*Job, error) {
	var j Job
	if err := json.Unmarshal([]byte(body), &j); err != nil {
		return nil, fmt.Errorf("queue: failed to decode job: %w", err)
	}
	return &j, nil
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if len(msg) > 1000 {
		msg = msg[:1000]
	}
	return msg
}

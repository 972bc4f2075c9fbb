// Package notificationworker leases notification jobs and delivers them by
// email, retrying transient failures with exponential backoff.
package notificationworker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/wolfman30/agency-leads/internal/notify"
	"github.com/wolfman30/agency-leads/internal/observability/metrics"
	"github.com/wolfman30/agency-leads/internal/queue"
	"github.com/wolfman30/agency-leads/pkg/logging"
)

const (
	defaultWorkerCount = 2
	defaultLeaseWait   = 5 * time.Second
	defaultSendTimeout = 30 * time.Second
	settleTimeout      = 5 * time.Second
	maxReceiveBackoff  = 5 * time.Second
)

type poolConfig struct {
	workers     int
	maxAttempts int
	backoff     queue.Backoff
	sendTimeout time.Duration
	leaseWait   time.Duration
	sendLimiter *rate.Limiter
	deadLetters queue.DeadLetterSink
	metrics     *metrics.PipelineMetrics
	templates   *notify.TemplateSet
}

// Option customizes a Pool.
type Option func(*poolConfig)

// WithWorkerCount sets the number of concurrent consumer goroutines.
func WithWorkerCount(n int) Option {
	return func(cfg *poolConfig) {
		if n > 0 {
			cfg.workers = n
		}
	}
}

// WithMaxAttempts sets the attempt budget for jobs that do not carry one.
func WithMaxAttempts(n int) Option {
	return func(cfg *poolConfig) {
		if n > 0 {
			cfg.maxAttempts = n
		}
	}
}

func WithBackoff(b queue.Backoff) Option {
	return func(cfg *poolConfig) {
		cfg.backoff = b
	}
}

// WithSendTimeout bounds a single delivery attempt.
func WithSendTimeout(d time.Duration) Option {
	return func(cfg *poolConfig) {
		if d > 0 {
			cfg.sendTimeout = d
		}
	}
}

// WithLeaseWait sets how long each lease call blocks on an empty queue.
func WithLeaseWait(d time.Duration) Option {
	return func(cfg *poolConfig) {
		if d > 0 {
			cfg.leaseWait = d
		}
	}
}

// WithSendRate caps outbound sends per second across all workers. Zero
// leaves sending unthrottled.
func WithSendRate(perSecond float64, burst int) Option {
	return func(cfg *poolConfig) {
		if perSecond <= 0 {
			return
		}
		if burst < 1 {
			burst = 1
		}
		cfg.sendLimiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

func WithDeadLetterSink(sink queue.DeadLetterSink) Option {
	return func(cfg *poolConfig) {
		if sink != nil {
			cfg.deadLetters = sink
		}
	}
}

func WithMetrics(m *metrics.PipelineMetrics) Option {
	return func(cfg *poolConfig) {
		cfg.metrics = m
	}
}

// WithTemplates replaces the built-in templates.
func WithTemplates(set *notify.TemplateSet) Option {
	return func(cfg *poolConfig) {
		if set != nil {
			cfg.templates = set
		}
	}
}

// Pool runs workers that lease jobs from a broker and send them.
type Pool struct {
	broker queue.Broker
	sender notify.EmailSender
	logger *logging.Logger
	tracer trace.Tracer

	cfg poolConfig
	wg  sync.WaitGroup
}

// NewPool creates a pool. It does not start consuming until Start.
func NewPool(broker queue.Broker, sender notify.EmailSender, logger *logging.Logger, opts ...Option) *Pool {
	if broker == nil {
		panic("notificationworker: broker cannot be nil")
	}
	if sender == nil {
		panic("notificationworker: email sender cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	cfg := poolConfig{
		workers:     defaultWorkerCount,
		maxAttempts: queue.DefaultMaxAttempts,
		backoff:     queue.DefaultBackoff(),
		sendTimeout: defaultSendTimeout,
		leaseWait:   defaultLeaseWait,
		templates:   notify.NewTemplateSet(nil),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.deadLetters == nil {
		cfg.deadLetters = queue.NewLogDeadLetterSink(logger)
	}
	return &Pool{
		broker: broker,
		sender: sender,
		logger: logger,
		tracer: otel.Tracer("agency-leads.internal.worker.notification"),
		cfg:    cfg,
	}
}

// Start launches the workers. They stop when ctx is cancelled.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.cfg.workers; i++ {
		p.wg.Add(1)
		go p.run(ctx, i+1)
	}
}

// Wait blocks until all worker goroutines exit.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) run(ctx context.Context, workerID int) {
	defer p.wg.Done()
	p.logger.Debug("notification worker started", "worker_id", workerID)

	backoff := 250 * time.Millisecond
	for {
		select {
		case <-ctx.Done():
			p.logger.Debug("notification worker stopping", "worker_id", workerID)
			return
		default:
		}

		job, err := p.broker.Lease(ctx, p.cfg.leaseWait)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			p.logger.Error("failed to lease notification job", "error", err, "worker_id", workerID)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < maxReceiveBackoff {
				backoff *= 2
			}
			continue
		}
		backoff = 250 * time.Millisecond
		if job == nil {
			continue
		}
		_ = p.ProcessJob(ctx, job)
	}
}

// ProcessJob makes one delivery attempt for a leased job and settles it.
// It returns an error only when the job could not be settled, in which
// case the broker will hand it out again after its visibility timeout.
func (p *Pool) ProcessJob(ctx context.Context, job *queue.Job) error {
	ctx, span := p.tracer.Start(ctx, "notification.process")
	defer span.End()
	span.SetAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("job.template", job.TemplateKey),
		attribute.Int("job.attempt", job.Attempts),
	)

	log := p.logger.With("job_id", job.ID, "template", job.TemplateKey, "attempt", job.Attempts)

	// A lease that expired mid-attempt still counted; a reclaimed job past
	// its budget is dead-lettered without another send.
	if job.Attempts > p.maxAttempts(job) {
		log.Warn("notification reclaimed with no attempts left", "max_attempts", p.maxAttempts(job))
		return p.deadLetter(ctx, log, job, queue.ErrAttemptsExhausted)
	}

	log.Info("notification attempt started")
	p.cfg.metrics.ObserveJobTransition(job.TemplateKey, string(queue.StateActive))

	sendErr := p.send(ctx, job)
	if sendErr == nil {
		if err := p.settle(ctx, func(ctx context.Context) error { return p.broker.Complete(ctx, job) }); err != nil {
			span.RecordError(err)
			log.Error("failed to complete notification job", "error", err)
			return err
		}
		p.cfg.metrics.ObserveJobTransition(job.TemplateKey, string(queue.StateCompleted))
		log.Info("notification delivered", "to", job.To)
		return nil
	}
	span.RecordError(sendErr)

	if notify.IsPermanent(sendErr) || job.Attempts >= p.maxAttempts(job) {
		return p.deadLetter(ctx, log, job, sendErr)
	}

	delay := p.cfg.backoff.Delay(job.Attempts)
	if err := p.settle(ctx, func(ctx context.Context) error { return p.broker.Retry(ctx, job, delay, sendErr) }); err != nil {
		span.RecordError(err)
		log.Error("failed to schedule notification retry", "error", err)
		return err
	}
	p.cfg.metrics.ObserveJobTransition(job.TemplateKey, string(queue.StateFailed))
	log.Warn("notification attempt failed", "error", sendErr, "retry_in", delay.String())
	return nil
}

func (p *Pool) send(ctx context.Context, job *queue.Job) error {
	if p.cfg.sendLimiter != nil {
		if err := p.cfg.sendLimiter.Wait(ctx); err != nil {
			return err
		}
	}
	rendered := p.cfg.templates.Render(job.TemplateKey, job.Data)

	sendCtx, cancel := context.WithTimeout(ctx, p.cfg.sendTimeout)
	defer cancel()
	start := time.Now()
	err := p.sender.Send(sendCtx, notify.EmailMessage{
		To:      job.To,
		ToName:  job.ToName,
		ReplyTo: job.ReplyTo,
		Subject: rendered.Subject,
		Body:    rendered.Body,
		Tags:    map[string]string{"job_id": job.ID, "template": job.TemplateKey},
	})
	p.cfg.metrics.ObserveSend(job.TemplateKey, err == nil, time.Since(start).Seconds())
	return err
}

func (p *Pool) deadLetter(ctx context.Context, log *logging.Logger, job *queue.Job, cause error) error {
	if err := p.settle(ctx, func(ctx context.Context) error { return p.broker.Dead(ctx, job, cause) }); err != nil {
		log.Error("failed to dead-letter notification job", "error", err)
		return err
	}
	p.cfg.metrics.ObserveJobTransition(job.TemplateKey, string(queue.StateDead))
	log.Warn("notification moved to dead letter",
		"error", cause,
		"permanent", notify.IsPermanent(cause),
	)
	if err := p.cfg.deadLetters.JobDead(context.WithoutCancel(ctx), job); err != nil {
		log.Error("failed to publish dead letter", "error", err)
	}
	return nil
}

// settle runs fn even if ctx was cancelled mid-send, so a finished attempt
// is still recorded during shutdown.
func (p *Pool) settle(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()
	return fn(ctx)
}

func (p *Pool) maxAttempts(job *queue.Job) int {
	if job.MaxAttempts > 0 {
		return job.MaxAttempts
	}
	return p.cfg.maxAttempts
}

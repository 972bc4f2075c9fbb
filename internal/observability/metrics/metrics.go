package metrics

import "github.com/prometheus/client_golang/prometheus"

// PipelineMetrics exposes counters/histograms for lead intake and notification delivery.
type PipelineMetrics struct {
	submissionsTotal    *prometheus.CounterVec
	rateLimitedTotal    *prometheus.CounterVec
	jobTransitionsTotal *prometheus.CounterVec
	sendLatency         *prometheus.HistogramVec
}

func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	m := &PipelineMetrics{
		submissionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agency",
			Subsystem: "leads",
			Name:      "submissions_total",
			Help:      "Total form submissions by form and outcome",
		}, []string{"form", "outcome"}),
		rateLimitedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agency",
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter",
		}, []string{"path"}),
		jobTransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agency",
			Subsystem: "notifications",
			Name:      "job_transitions_total",
			Help:      "Notification job state transitions",
		}, []string{"template", "state"}),
		sendLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agency",
			Subsystem: "notifications",
			Name:      "send_latency_seconds",
			Help:      "Latency of outbound mail sends",
			Buckets:   prometheus.DefBuckets,
		}, []string{"template", "status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.submissionsTotal, m.rateLimitedTotal, m.jobTransitionsTotal, m.sendLatency)
	return m
}

func (m *PipelineMetrics) ObserveSubmission(form, outcome string) {
	if m == nil {
		return
	}
	m.submissionsTotal.WithLabelValues(form, outcome).Inc()
}

func (m *PipelineMetrics) ObserveRateLimited(path string) {
	if m == nil {
		return
	}
	m.rateLimitedTotal.WithLabelValues(path).Inc()
}

func (m *PipelineMetrics) ObserveJobTransition(template, state string) {
	if m == nil {
		return
	}
	m.jobTransitionsTotal.WithLabelValues(template, state).Inc()
}

func (m *PipelineMetrics) ObserveSend(template string, ok bool, seconds float64) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	m.sendLatency.WithLabelValues(template, status).Observe(seconds)
}

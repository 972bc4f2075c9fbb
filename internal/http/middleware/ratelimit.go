package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/wolfman30/agency-leads/internal/apperr"
	"github.com/wolfman30/agency-leads/internal/observability/metrics"
	"github.com/wolfman30/agency-leads/internal/ratelimit"
	"github.com/wolfman30/agency-leads/pkg/logging"
)

// RateLimit returns an HTTP middleware that rejects requests exceeding the
// limiter's window budget with 429 Too Many Requests. Limiter failures let
// the request through so a broken counter store never drops a lead.
func RateLimit(limiter ratelimit.Limiter, logger *logging.Logger, m *metrics.PipelineMetrics) func(http.Handler) http.Handler {
	if limiter == nil {
		panic("middleware: rate limiter required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := ClientKey(r)
			dec, err := limiter.Allow(r.Context(), key)
			if err != nil {
				logger.Error("rate limiter unavailable, allowing request", "error", err, "key", key, "path", r.URL.Path)
				next.ServeHTTP(w, r)
				return
			}

			now := time.Now()
			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(dec.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(dec.Remaining))
			if !dec.ResetAt.IsZero() {
				h.Set("X-RateLimit-Reset", strconv.FormatInt(dec.ResetAt.Unix(), 10))
			}

			if !dec.Allowed {
				retryAfter := dec.RetryAfter(now)
				h.Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
				logger.Warn("rate limit exceeded", "key", key, "path", r.URL.Path)
				m.ObserveRateLimited(r.URL.Path)
				apperr.WriteError(w, logger, apperr.RateLimited(retryAfter))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientKey identifies the caller by network address. chi's RealIP
// middleware has already folded proxy headers into RemoteAddr.
func ClientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

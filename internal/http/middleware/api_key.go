package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/wolfman30/agency-leads/internal/apperr"
	"github.com/wolfman30/agency-leads/pkg/logging"
)

// APIKeyHeader carries the shared secret for analytics endpoints.
const APIKeyHeader = "X-API-Key"

// APIKey requires the X-API-Key header to match key. An empty key disables
// the check; cmd/api warns about that at start-up.
func APIKey(key string, logger *logging.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return func(next http.Handler) http.Handler {
		if key == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(APIKeyHeader)
			if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				logger.Warn("api key rejected", "path", r.URL.Path, "remote_ip", ClientKey(r))
				apperr.WriteError(w, logger, apperr.Unauthorized("invalid or missing API key"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

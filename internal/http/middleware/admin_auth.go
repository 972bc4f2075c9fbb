package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/wolfman30/agency-leads/internal/apperr"
	"github.com/wolfman30/agency-leads/pkg/logging"
)

type contextKey string

const adminClaimsKey contextKey = "adminClaims"

// AdminJWT guards operator endpoints with an HS256 token signed by secret.
// Tokens must expire and must name the operator in "sub"; the subject is
// what requeue audit logs record.
func AdminJWT(secret string, logger *logging.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logging.Default()
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30*time.Second),
	)
	key := []byte(secret)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				apperr.WriteError(w, logger, apperr.Unauthorized("admin auth disabled"))
				return
			}
			raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || strings.TrimSpace(raw) == "" {
				apperr.WriteError(w, logger, apperr.Unauthorized("missing bearer token"))
				return
			}

			var claims jwt.RegisteredClaims
			if _, err := parser.ParseWithClaims(strings.TrimSpace(raw), &claims, func(*jwt.Token) (any, error) {
				return key, nil
			}); err != nil {
				logger.Warn("admin token rejected", "error", err, "remote_ip", ClientKey(r), "path", r.URL.Path)
				apperr.WriteError(w, logger, apperr.Unauthorized("invalid token"))
				return
			}
			if claims.Subject == "" {
				apperr.WriteError(w, logger, apperr.Unauthorized("token has no subject"))
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), adminClaimsKey, claims)))
		})
	}
}

// AdminClaimsFromContext returns admin JWT claims if present.
func AdminClaimsFromContext(ctx context.Context) (jwt.RegisteredClaims, bool) {
	claims, ok := ctx.Value(adminClaimsKey).(jwt.RegisteredClaims)
	return claims, ok
}

// AdminSubject returns the operator identity from the request's claims, or "".
func AdminSubject(ctx context.Context) string {
	claims, ok := AdminClaimsFromContext(ctx)
	if !ok {
		return ""
	}
	return claims.Subject
}

package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/agency-leads/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/agency-leads/internal/http/middleware"
	"github.com/wolfman30/agency-leads/internal/leads"
	"github.com/wolfman30/agency-leads/internal/observability/metrics"
	"github.com/wolfman30/agency-leads/internal/ratelimit"
	"github.com/wolfman30/agency-leads/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	LeadsHandler       *leads.Handler
	AdminNotifications *handlers.AdminNotificationsHandler
	Limiter            ratelimit.Limiter
	Metrics            *metrics.PipelineMetrics
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string

	// APIKey guards the analytics routes; empty leaves them open.
	APIKey string
	// AdminAuthSecret enables the /admin routes when set.
	AdminAuthSecret string
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	if cfg.LeadsHandler == nil {
		panic("router: leads handler required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(httpmiddleware.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}

	r.Get("/health", cfg.LeadsHandler.Health)
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	// Public form intake
	r.Route("/contact", func(intake chi.Router) {
		if cfg.Limiter != nil {
			intake.Use(httpmiddleware.RateLimit(cfg.Limiter, logger, cfg.Metrics))
		}
		intake.Post("/", cfg.LeadsHandler.CreateContact)
		intake.Post("/callback", cfg.LeadsHandler.CreateCallback)
		intake.Post("/audit", cfg.LeadsHandler.CreateAudit)
	})

	r.Route("/analytics/leads", func(analytics chi.Router) {
		analytics.Use(httpmiddleware.APIKey(cfg.APIKey, logger))
		analytics.Get("/", cfg.LeadsHandler.ListLeads)
		analytics.Get("/summary", cfg.LeadsHandler.Summary)
		analytics.Get("/{leadID}", cfg.LeadsHandler.GetLead)
	})

	if cfg.AdminAuthSecret != "" && cfg.AdminNotifications != nil {
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret, logger))
			admin.Mount("/notifications", cfg.AdminNotifications.Routes())
		})
	}

	return r
}

package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/clinical-intake-pipeline/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/clinical-intake-pipeline/internal/http/middleware"
	"github.com/wolfman30/clinical-intake-pipeline/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger         *logging.Logger
	Health         *handlers.HealthHandler
	IntakeWebhooks *handlers.IntakeWebhookHandler
	AdminRecovery  *handlers.AdminRecoveryHandler
	MetricsHandler http.Handler

	AdminAuthSecret  string
	AdminCORSOrigins []string

	// Redis-backed cooldown for manual re-triggers (optional)
	Redis             *redis.Client
	RetriggerCooldown time.Duration
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))

	// Public endpoints (webhooks, health checks)
	r.Group(func(public chi.Router) {
		public.Get("/health", cfg.Health.HealthCheck)
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
		if cfg.IntakeWebhooks != nil {
			public.Route("/webhooks/intake", func(r chi.Router) {
				r.Post("/files", cfg.IntakeWebhooks.HandleFiles)
				r.Post("/summary", cfg.IntakeWebhooks.HandleSummary)
			})
		}
	})

	// Admin recovery routes (protected by HMAC JWT)
	if cfg.AdminRecovery != nil && cfg.AdminAuthSecret != "" {
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(httpmiddleware.AdminCORS(cfg.AdminCORSOrigins))
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))
			admin.Route("/appointments/{appointmentID}", func(appt chi.Router) {
				appt.With(httpmiddleware.RetriggerCooldown(cfg.Redis, "reprocess-files", cfg.RetriggerCooldown, cfg.Logger)).
					Post("/reprocess-files", cfg.AdminRecovery.ReprocessFiles)
				appt.With(httpmiddleware.RetriggerCooldown(cfg.Redis, "regenerate-summary", cfg.RetriggerCooldown, cfg.Logger)).
					Post("/regenerate-summary", cfg.AdminRecovery.RegenerateSummary)
				appt.Get("/audit-events", cfg.AdminRecovery.ListAuditEvents)
			})
			admin.Get("/runs/{runID}", cfg.AdminRecovery.GetRun)
		})
	}

	return r
}

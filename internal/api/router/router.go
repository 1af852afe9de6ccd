package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/openslot/waitline/internal/http/handlers"
	httpmiddleware "github.com/openslot/waitline/internal/http/middleware"
	"github.com/openslot/waitline/pkg/logging"
)

// Config holds router configuration.
type Config struct {
	Logger          *logging.Logger
	SMSWebhooks     *handlers.SMSWebhookHandler
	Admin           *handlers.AdminHandler
	AdminAuthSecret string
	MetricsHandler  http.Handler

	// Requests per minute allowed per IP on the public webhook surface.
	// Zero disables rate limiting.
	RateLimitPerMinute int
}

// New creates the chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	// Public endpoints: provider webhooks and operational probes.
	r.Group(func(public chi.Router) {
		if cfg.RateLimitPerMinute > 0 {
			public.Use(httpmiddleware.RateLimit(float64(cfg.RateLimitPerMinute)/60.0, cfg.RateLimitPerMinute))
		}
		public.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
		if cfg.SMSWebhooks != nil {
			public.Route("/sms", func(r chi.Router) {
				r.Post("/inbound", cfg.SMSWebhooks.HandleInbound)
				r.Post("/status", cfg.SMSWebhooks.HandleStatus)
			})
		}
	})

	// Staff endpoints behind the admin JWT.
	if cfg.Admin != nil {
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))
			admin.Post("/cancellations", cfg.Admin.CreateCancellation)
			admin.Get("/cancellations/active", cfg.Admin.ListActiveCancellations)
			admin.Post("/cancellations/{slotID}/abort", cfg.Admin.AbortCancellation)
			admin.Post("/waitlist", cfg.Admin.AddPatient)
			admin.Get("/waitlist", cfg.Admin.ListWaitlist)
			admin.Post("/waitlist/recalculate", cfg.Admin.RecalculateScores)
			admin.Post("/waitlist/{patientID}/boost", cfg.Admin.BoostPatient)
			admin.Delete("/waitlist/{patientID}", cfg.Admin.RemovePatient)
		})
	}

	return r
}

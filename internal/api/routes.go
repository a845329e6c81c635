package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter creates a new router with all routes configured
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware (all routes)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware)
	r.Use(RecoveryMiddleware)

	r.Get("/health", h.Health)
	r.Get("/status", h.Status)

	// amoCRM retries webhook deliveries aggressively; cap concurrent
	// processing instead of letting bursts pile onto the sheet quota.
	r.Group(func(r chi.Router) {
		r.Use(middleware.Throttle(10))
		r.Use(middleware.Timeout(60 * time.Second))
		r.Post("/webhook/amocrm", h.Webhook)
	})

	r.Post("/sync/deal/{dealID}", h.SyncDeal)
	r.Delete("/sync/deal/{dealID}", h.DeleteDeal)
	r.Post("/sync/manual", h.ManualSync)
	r.Post("/token/refresh", h.RefreshToken)

	r.Get("/test/google-sheets", h.TestGoogleSheets)
	r.Get("/test/amocrm", h.TestAmoCRM)

	return r
}

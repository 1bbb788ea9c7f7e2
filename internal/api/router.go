package api

import (
	"net/http"

	"github.com/forgebot/forgebot/internal/api/handlers"
	"github.com/forgebot/forgebot/internal/api/middleware"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(h *handlers.Handlers) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Logger)
	r.Use(middleware.Telemetry)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-GitHub-Event", "X-GitHub-Delivery", "X-Hub-Signature-256"},
		MaxAge:         300,
	}))

	r.Get("/health", h.Health)
	r.Get("/version", h.VersionInfo)
	r.Post("/webhook", h.Webhook)

	return r
}

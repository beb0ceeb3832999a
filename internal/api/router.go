package api

import (
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterConfig holds settings for the API router.
type RouterConfig struct {
	// BackendAPIKey must be sent in X-API-Key or Authorization: Bearer <key>.
	// Empty disables auth (development mode).
	BackendAPIKey string

	// CorsAllowedOrigins is a comma-separated list of allowed origins.
	// Empty allows all origins.
	CorsAllowedOrigins string
}

func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg.CorsAllowedOrigins),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Range", "X-API-Key"},
		ExposedHeaders:   []string{"Content-Length", "Content-Range", "Accept-Ranges"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Public: health and rendered videos, which players fetch without headers
	r.Get("/health", h.Health)
	r.Get("/videos/{file}", h.ServeVideo)

	r.Route("/v1", func(r chi.Router) {
		if cfg.BackendAPIKey != "" {
			r.Use(APIKeyAuth(cfg.BackendAPIKey))
		}

		// Templates
		r.Get("/templates", h.ListTemplates)
		r.Post("/templates", h.CreateTemplate)
		r.Get("/templates/{id}", h.GetTemplate)
		r.Put("/templates/{id}", h.UpdateTemplate)
		r.Delete("/templates/{id}", h.DeleteTemplate)
		r.Post("/templates/{id}/duplicate", h.DuplicateTemplate)

		// Renders
		r.Get("/renders", h.ListRenders)
		r.Post("/renders", h.CreateRender)
		r.Get("/renders/stats/summary", h.RenderStats)
		r.Get("/renders/{id}", h.GetRender)
		r.Delete("/renders/{id}", h.DeleteRender)
		r.Post("/renders/{id}/retry", h.RetryRender)
		r.Get("/renders/{id}/view", h.ViewRender)
		r.Get("/renders/{id}/download", h.DownloadRender)
	})

	return r
}

func allowedOrigins(csv string) []string {
	var origins []string
	for _, o := range strings.Split(csv, ",") {
		if s := strings.TrimSpace(o); s != "" {
			origins = append(origins, s)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

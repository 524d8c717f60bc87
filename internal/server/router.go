package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/voceria/kbpipeline/internal/api"
	"github.com/voceria/kbpipeline/internal/api/handlers"
	"github.com/voceria/kbpipeline/internal/api/middleware"
)

type RouterConfig struct {
	ItemHandler *handlers.ItemHandler
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	const maxBodyBytes int64 = 5 * 1024 * 1024

	r.Use(middleware.RequestID)
	r.Use(middleware.SentryMiddleware)
	r.Use(middleware.AccessLog)
	r.Use(middleware.MaxBodyBytes(maxBodyBytes))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		api.Success(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/items", func(r chi.Router) {
		r.Post("/", cfg.ItemHandler.Create)
		r.Get("/{id}", cfg.ItemHandler.Get)
		r.Post("/{id}/process", cfg.ItemHandler.Process)
		r.Post("/{id}/keywords", cfg.ItemHandler.Keywords)
	})

	return r
}

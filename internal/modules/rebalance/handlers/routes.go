package handlers

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// RegisterRoutes mounts the optimizer endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/optimize", func(r chi.Router) {
		// Large scenario matrices can take a while through the cascade.
		r.Use(middleware.Timeout(120 * time.Second))
		r.Post("/", h.HandleOptimize)
	})
}

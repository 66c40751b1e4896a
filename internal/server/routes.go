package server

import (
	"github.com/go-chi/chi/v5"
)

// registerRoutes registers all HTTP routes
func (s *Server) registerRoutes() {
	s.router.Get("/health", s.health)

	s.router.Route("/limiters", func(r chi.Router) {
		r.Get("/", s.listLimiters)
		r.Get("/{key}", s.getLimiter)
		r.Put("/{key}", s.putLimiter)
		r.Delete("/{key}", s.deleteLimiter)
	})

	// files are served through the limiter named in the path
	s.router.Get("/files/{key}/*", s.serveFile)
}

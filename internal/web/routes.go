package web

import (
	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/pagefinder/internal/web/handlers"
)

func (s *Server) setupRoutes() {
	framesHandler := handlers.NewFramesHandler(s.in, s.replay, s.frameSize, s.logger.Named("frames"))
	catalogHandler := handlers.NewCatalogHandler(s.in, s.logger.Named("catalog"))

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", handlers.HealthCheck)

		// Matching
		r.Post("/frames", framesHandler.Submit)
		r.Get("/result", framesHandler.Result)
		r.Get("/state", framesHandler.State)

		// Catalog
		r.Get("/catalog", catalogHandler.Get)
		r.Put("/catalog", catalogHandler.Replace)
	})
}

package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"dora/internal/config"
	"dora/internal/logger"
	"dora/internal/persistence"
)

// Server serves the read-only dashboard API
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	db         persistence.Database
	config     config.Server
	log        *zerolog.Logger
}

// New creates a new HTTP server instance
func New(db persistence.Database, cfg config.Server) *Server {
	s := &Server{
		router: chi.NewRouter(),
		db:     db,
		config: cfg,
		log:    logger.Get(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	readTimeout, writeTimeout := cfg.Timeouts()
	s.httpServer = &http.Server{
		Addr:         cfg.Addr(),
		Handler:      s.router,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))
	s.router.Use(securityHeaders)

	origins := s.config.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Use(noCache)

		r.Get("/dashboard", s.handleDashboard)

		r.Route("/scopes", func(r chi.Router) {
			r.Get("/", s.handleListScopes)
			r.Route("/{company}/{kind}/{dimensions}", func(r chi.Router) {
				r.Get("/", s.handleScopeStatus)
				r.Get("/clusters", s.handleListClusters)
				r.Get("/groups", s.handleListGroups)
				r.Get("/dashboard", s.handleScopeDashboard)
			})
		})

		r.Get("/clusters/{id}", s.handleGetCluster)
	})
}

// Start serves until Shutdown is called
func (s *Server) Start() error {
	s.log.Info().
		Str("addr", s.httpServer.Addr).
		Dur("read_timeout", s.httpServer.ReadTimeout).
		Dur("write_timeout", s.httpServer.WriteTimeout).
		Msg("Starting dashboard API")

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed to start: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down dashboard API...")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.log.Info().Msg("Dashboard API stopped")
	return nil
}

// Router returns the chi router instance (useful for testing)
func (s *Server) Router() *chi.Mux {
	return s.router
}

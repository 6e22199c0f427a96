// Package server exposes the optimizer, backtests and operational endpoints
// over HTTP.
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

	"github.com/aristath/rebalancer/internal/config"
	"github.com/aristath/rebalancer/internal/database"
	"github.com/aristath/rebalancer/internal/modules/backtest"
	rebalancehandlers "github.com/aristath/rebalancer/internal/modules/rebalance/handlers"
	"github.com/aristath/rebalancer/internal/modules/scenarios"
	"github.com/aristath/rebalancer/internal/modules/tuning"
)

// Deps are the services the server exposes.
type Deps struct {
	Cfg       *config.Config
	Optimize  *rebalancehandlers.Handler
	Backtests *backtest.Service
	Results   *backtest.Repository
	Tuner     *tuning.Service
	History   *scenarios.Repository
	Databases []*database.DB
	Log       zerolog.Logger
}

// Server is the HTTP front of the rebalancer.
type Server struct {
	router *chi.Mux
	server *http.Server
	deps   Deps
	log    zerolog.Logger
}

// New creates the server with middleware and routes configured.
func New(deps Deps) *Server {
	s := &Server{
		router: chi.NewRouter(),
		deps:   deps,
		log:    deps.Log.With().Str("component", "server").Logger(),
	}

	s.setupMiddleware(deps.Cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", deps.Cfg.Port),
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // Long-running backtest responses manage their own deadlines
		IdleTimeout:  120 * time.Second,
	}
	return s
}

func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	backtestHandlers := NewBacktestHandlers(s.deps.Backtests, s.deps.Results, s.deps.Tuner, s.log)
	historyHandlers := NewHistoryHandlers(s.deps.History, s.log)
	systemHandlers := NewSystemHandlers(s.deps.Databases, s.log)

	s.router.Route("/api", func(r chi.Router) {
		s.deps.Optimize.RegisterRoutes(r)
		backtestHandlers.RegisterRoutes(r)
		historyHandlers.RegisterRoutes(r)

		r.Route("/system", func(r chi.Router) {
			r.Get("/status", systemHandlers.HandleStatus)
		})
	})
}

// Start runs the server until Shutdown or a listener error.
func (s *Server) Start() error {
	s.log.Info().Int("port", s.deps.Cfg.Port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// Router returns the mux, primarily for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// handleHealth pings every database.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	for _, db := range s.deps.Databases {
		if err := db.HealthCheck(ctx); err != nil {
			s.log.Error().Err(err).Str("database", db.Name()).Msg("Health check failed")
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintf(w, `{"status":"unhealthy","database":%q}`, db.Name())
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}

// Package server exposes the engine over HTTP: rebalance preview and
// execution, portfolio and lifecycle state, the event log, a websocket
// event stream, and prometheus metrics.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/config"
	"github.com/aristath/helmsman/internal/events"
	"github.com/aristath/helmsman/internal/protection/coreasset"
	"github.com/aristath/helmsman/internal/protection/grace"
	"github.com/aristath/helmsman/internal/protection/holding"
	"github.com/aristath/helmsman/internal/rebalancer"
)

// Config holds server wiring.
type Config struct {
	Port      int
	Log       zerolog.Logger
	Engine    *rebalancer.Engine
	Portfolio *rebalancer.Portfolio
	EngineCfg config.Config
	Grace     *grace.Manager
	Holding   *holding.Manager
	Core      *coreasset.Manager
	Bus       *events.Bus
	EventLog  *events.SQLiteSink
	Registry  prometheus.Gatherer
	Persist   func(*rebalancer.Result) error
}

// Server is the HTTP front end.
type Server struct {
	router *chi.Mux
	server *http.Server
	log    zerolog.Logger
	cfg    Config
}

// New creates the HTTP server.
func New(cfg Config) *Server {
	s := &Server{
		router: chi.NewRouter(),
		log:    cfg.Log.With().Str("component", "server").Logger(),
		cfg:    cfg,
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	if s.cfg.Registry != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.cfg.Registry, promhttp.HandlerOpts{}))
	}

	s.router.Route("/api", func(r chi.Router) {
		r.Route("/rebalance", func(r chi.Router) {
			r.Get("/preview", s.handleRebalancePreview)
			r.Post("/execute", s.handleRebalanceExecute)
		})
		r.Get("/portfolio", s.handlePortfolio)
		r.Get("/config", s.handleConfig)
		r.Get("/state", s.handleState)
		r.Get("/events/recent", s.handleRecentEvents)
	})

	s.router.Get("/ws/events", s.handleEventStream)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}

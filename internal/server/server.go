// Package server exposes the graph queries, search and extraction over HTTP.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/tejnc/threat-intel-pipeline/internal/app"
)

// Server is the HTTP server for the threat graph API.
type Server struct {
	app    *app.App
	logger *zap.Logger
	server *http.Server
}

// NewServer creates a server over the application components.
func NewServer(a *app.App) *Server {
	logger := a.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{app: a, logger: logger}
}

// Handler returns the router with every route mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/search", s.handleSearch)
		r.Get("/indicators/{type}", s.handleIndicators)
		r.Get("/context/{indicator}", s.handleContext)
		r.Get("/relationships/{indicator}", s.handleRelationships)
		r.Get("/network/{indicator}", s.handleNetwork)
		r.Get("/timeline/{indicator}", s.handleTimeline)
		r.Get("/clusters", s.handleClusters)
		r.Get("/across-campaigns", s.handleAcrossCampaigns)
		r.Post("/extract", s.handleExtract)
		r.Post("/intents", s.handleIntent)
		r.Get("/status", s.handleStatus)
	})
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := s.app.Config.Server.Addr()
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

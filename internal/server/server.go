// Package server exposes the job and cache APIs over HTTP, with a
// websocket channel for per-job progress streaming.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/julianshen/repowiki/internal/cache"
	"github.com/julianshen/repowiki/internal/job"
	"github.com/julianshen/repowiki/internal/progress"
)

// Server wires the HTTP mux over the job manager, progress broker, and
// cache coordinator.
type Server struct {
	manager *job.Manager
	broker  *progress.Broker
	cache   *cache.Coordinator
	logger  *slog.Logger

	http *http.Server
}

// New creates a Server listening on addr.
func New(addr string, manager *job.Manager, broker *progress.Broker, coordinator *cache.Coordinator, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		manager: manager,
		broker:  broker,
		cache:   coordinator,
		logger:  logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/jobs", s.handleCreateJob)
	mux.HandleFunc("GET /api/jobs", s.handleListJobs)
	mux.HandleFunc("GET /api/jobs/{id}", s.handleGetJob)
	mux.HandleFunc("POST /api/jobs/{id}/pause", s.handlePauseJob)
	mux.HandleFunc("POST /api/jobs/{id}/resume", s.handleResumeJob)
	mux.HandleFunc("POST /api/jobs/{id}/retry", s.handleRetryJob)
	mux.HandleFunc("POST /api/jobs/{id}/pages/{pageID}/retry", s.handleRetryPage)
	mux.HandleFunc("DELETE /api/jobs/{id}", s.handleCancelJob)
	mux.HandleFunc("DELETE /api/jobs/{id}/permanent", s.handleDeleteJob)
	mux.HandleFunc("GET /api/jobs/{id}/progress", s.handleProgress)
	mux.HandleFunc("GET /api/wiki/cache", s.handleListCache)
	mux.HandleFunc("POST /api/wiki/cache", s.handleGetCache)
	mux.HandleFunc("DELETE /api/wiki/cache", s.handleDeleteCache)
	mux.HandleFunc("GET /health", s.handleHealth)

	s.http = &http.Server{
		Addr:        addr,
		Handler:     logRequests(logger, mux),
		ReadTimeout: 10 * time.Second,
		// Write timeout stays unset: progress websockets are long-lived.
		IdleTimeout: 120 * time.Second,
	}
	return s
}

// ListenAndServe runs the server until Shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.Info("http server listening", "addr", s.http.Addr)
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Handler returns the configured handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

func logRequests(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug("http request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Package api exposes the patient-facing HTTP API: readings, forecasts,
// similar-episode lookup and alert management.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/halcyon-care/cgm-platform/internal/directory"
	"github.com/halcyon-care/cgm-platform/internal/glucose"
	"github.com/halcyon-care/cgm-platform/internal/store"
	"github.com/halcyon-care/cgm-platform/pkg/config"
)

// Ingestor accepts readings submitted through the API. Satisfied by the
// pipeline agent; the API never reaches into the pipeline directly.
type Ingestor interface {
	HandleReading(ctx context.Context, r glucose.Reading) error
}

// Server serves the HTTP API
type Server struct {
	cfg       *config.Config
	store     store.Store
	directory directory.Directory
	ingestor  Ingestor
	logger    *slog.Logger

	httpServer *http.Server
}

// NewServer creates the API server
func NewServer(cfg *config.Config, st store.Store, dir directory.Directory, ing Ingestor, logger *slog.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		store:     st,
		directory: dir,
		ingestor:  ing,
		logger:    logger.With("component", "api"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/patients/{id}", s.handlePatient)
	mux.HandleFunc("GET /api/patients/{id}/glucose", s.handleGetGlucose)
	mux.HandleFunc("POST /api/patients/{id}/glucose", s.handlePostGlucose)
	mux.HandleFunc("GET /api/patients/{id}/predictions", s.handlePredictions)
	mux.HandleFunc("GET /api/patients/{id}/predictions/similar", s.handleSimilarPredictions)
	mux.HandleFunc("GET /api/patients/{id}/alerts", s.handleGetAlerts)
	mux.HandleFunc("PUT /api/patients/{id}/alerts/{alert_id}", s.handleUpdateAlert)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.APIPort),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Handler returns the route handler, used directly in tests
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins serving in the background
func (s *Server) Start() {
	go func() {
		s.logger.Info("API server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("API server failed", "error", err)
		}
	}()
}

// Stop shuts the server down gracefully
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

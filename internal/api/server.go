// Package api provides the thin HTTP status façade: a health check, the
// Prometheus scrape endpoint, a read-only per-run progress endpoint, and a
// per-run cancel endpoint, both backed by internal/observer.Registry. Trimmed from the teacher's full
// trading-order HTTP/WebSocket surface (live order placement, symbol
// browsing, streaming trade/fill events) — see DESIGN.md for what was
// dropped and why.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/ktrdr/ktrdr/internal/observer"
	"github.com/ktrdr/ktrdr/pkg/types"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

// Server is the thin status/metrics HTTP façade.
type Server struct {
	logger     *zap.Logger
	config     *types.ServerConfig
	router     *mux.Router
	httpServer *http.Server
	runs       *observer.Registry
}

// NewServer creates a new API server bound to runs, the same registry
// train/backtest operations register their observer.Run in.
func NewServer(logger *zap.Logger, config *types.ServerConfig, runs *observer.Registry) *Server {
	server := &Server{
		logger: logger,
		config: config,
		router: mux.NewRouter(),
		runs:   runs,
	}
	server.setupRoutes()
	return server
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/api/v1/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/api/v1/runs/{id}", s.handleGetRun).Methods("GET")
	s.router.HandleFunc("/api/v1/runs/{id}/cancel", s.handleCancelRun).Methods("POST")

	if s.config.EnableMetrics {
		s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	}
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := s.config.Host + ":" + strconv.Itoa(s.config.Port)

	handler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.router)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("starting API server", zap.String("addr", addr))
	return s.httpServer.ListenAndServe()
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// handleGetRun returns a train/backtest run's live or final status.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	run, ok := s.runs.Get(id)
	if !ok {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}

	json.NewEncoder(w).Encode(run.Status())
}

// handleCancelRun requests cooperative cancellation of a running run.
func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	run, ok := s.runs.Get(id)
	if !ok {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}

	run.Cancel()
	json.NewEncoder(w).Encode(map[string]string{"id": id, "status": "cancelling"})
}

// Package api exposes the ops HTTP surface: a health endpoint reporting
// sync progress and a Prometheus metrics endpoint. Query surfaces live in
// downstream services that read the database directly.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/0xmhha/staking-indexer-go/types"
)

// SyncStatus is the persistence surface the health endpoint reads.
type SyncStatus interface {
	LatestCheckpoint(ctx context.Context) (*types.EpochSyncState, error)
	CheckpointCount(ctx context.Context) (int64, error)
}

// Server is the ops HTTP server.
type Server struct {
	config   *Config
	logger   *zap.Logger
	status   SyncStatus
	gatherer prometheus.Gatherer
	router   *chi.Mux
	server   *http.Server
}

// NewServer creates the ops server. gatherer may be nil, in which case the
// default Prometheus registry is exposed.
func NewServer(config *Config, logger *zap.Logger, status SyncStatus, gatherer prometheus.Gatherer) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		config:   config,
		logger:   logger,
		status:   status,
		gatherer: gatherer,
		router:   chi.NewRouter(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         config.Address(),
		Handler:      s.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	return s, nil
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)
}

// requestLogger logs each request with its duration and status.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/version", s.handleVersion)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
}

// HealthResponse reports liveness plus the indexer's sync position.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp string    `json:"timestamp"`
	Sync      *SyncInfo `json:"sync,omitempty"`
	SyncError string    `json:"sync_error,omitempty"`
}

// SyncInfo summarizes the checkpoint log.
type SyncInfo struct {
	LastSyncedBlock uint64 `json:"last_synced_block"`
	EpochID         string `json:"epoch_id"`
	Checkpoints     int64  `json:"checkpoints"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	if s.status != nil {
		info, err := s.syncInfo(r.Context())
		if err != nil {
			// The server is still alive; report the read failure rather
			// than failing the probe.
			response.SyncError = err.Error()
		} else {
			response.Sync = info
		}
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)
}

func (s *Server) syncInfo(ctx context.Context) (*SyncInfo, error) {
	cp, err := s.status.LatestCheckpoint(ctx)
	if err != nil {
		return nil, fmt.Errorf("latest checkpoint: %w", err)
	}
	count, err := s.status.CheckpointCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("checkpoint count: %w", err)
	}

	info := &SyncInfo{Checkpoints: count}
	if cp != nil {
		info.LastSyncedBlock = cp.EndBlock
		info.EpochID = cp.EpochID
	}
	return info, nil
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"version":"1.0.0","name":"staking-indexer-go"}`)
}

// Start starts the ops server and blocks until it stops.
func (s *Server) Start() error {
	s.logger.Info("starting ops server", zap.String("address", s.config.Address()))

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Stop gracefully stops the ops server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping ops server")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}

// Router returns the underlying chi router (for testing)
func (s *Server) Router() *chi.Mux {
	return s.router
}

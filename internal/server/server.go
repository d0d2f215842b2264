// Package server exposes batch status, container records and manual edits over
// HTTP. Uploads run the pipeline in the background so counters can be polled
// while a batch is processing.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/rpattn/shiprecon/internal/config"
	"github.com/rpattn/shiprecon/internal/logging"
	"github.com/rpattn/shiprecon/internal/pipeline"
	"github.com/rpattn/shiprecon/internal/reconcile"
	"github.com/rpattn/shiprecon/internal/repository"
)

// maxUploadBytes caps multipart uploads.
const maxUploadBytes = 32 << 20

// BatchRunner runs one table through the pipeline.
type BatchRunner interface {
	Run(ctx context.Context, in pipeline.Input) (pipeline.Report, error)
}

// Server serves the batch status surface.
type Server struct {
	store  repository.Store
	runner BatchRunner
	editor *reconcile.Editor
	cfg    config.ServerConfig
	logger *zerolog.Logger
	now    func() time.Time

	// runs tracks background pipeline runs started by uploads.
	runs sync.WaitGroup
}

// New creates a server. A nil runner disables uploads.
func New(store repository.Store, runner BatchRunner, cfg config.ServerConfig, logger *zerolog.Logger) *Server {
	if logger == nil {
		logger = logging.Default()
	}
	return &Server{
		store:  store,
		runner: runner,
		editor: reconcile.NewEditor(store),
		cfg:    cfg,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Handler returns the routed handler wrapped in CORS, logging and recovery.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /batches", s.handleListBatches)
	mux.HandleFunc("POST /batches", s.handleUpload)
	mux.HandleFunc("GET /batches/{id}", s.handleGetBatch)
	mux.HandleFunc("GET /batches/{id}/rows", s.handleListRows)
	mux.HandleFunc("GET /containers/{number}", s.handleGetContainer)
	mux.HandleFunc("PATCH /containers/{number}", s.handleEditContainer)
	mux.HandleFunc("POST /containers/{number}/unlock", s.handleUnlockContainer)
	mux.HandleFunc("PATCH /shipments/{reference}", s.handleEditShipment)
	mux.HandleFunc("POST /shipments/{reference}/unlock", s.handleUnlockShipment)

	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	corsHandler := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	})

	return corsHandler.Handler(LoggingMiddleware(s.logger)(RecoveryMiddleware(mux)))
}

// Run serves until ctx is cancelled, then shuts down and waits for
// background batches to finish.
func (s *Server) Run(ctx context.Context) error {
	addr := s.cfg.Addr
	if addr == "" {
		addr = ":8080"
	}
	server := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("Starting batch status server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info().Msg("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	s.Wait()
	s.logger.Info().Msg("Server exited")
	return nil
}

// Wait blocks until every background batch has finished.
func (s *Server) Wait() {
	s.runs.Wait()
}

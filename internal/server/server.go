// Package server exposes the diagram pipeline over HTTP: a JSON render
// API, a document scan API, the headless render route, and transcript
// browsing endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/euforicio/diagramflow/internal/config"
	"github.com/euforicio/diagramflow/internal/export"
	"github.com/euforicio/diagramflow/internal/pipeline"
	"github.com/euforicio/diagramflow/internal/transcripts"
)

// Server wraps the HTTP server and the pipeline services behind it.
type Server struct {
	mux         *http.ServeMux
	httpServer  *http.Server
	logger      *slog.Logger
	pipeline    *pipeline.Pipeline
	transcripts *transcripts.Service // nil when no transcripts dir configured
	exporter    *export.Exporter
	cfg         config.Config
}

// New constructs a server over the given pipeline. The transcripts service
// is optional.
func New(cfg config.Config, logger *slog.Logger, p *pipeline.Pipeline, ts *transcripts.Service) (*Server, error) {
	if p == nil {
		return nil, errors.New("pipeline must be provided")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		mux:         http.NewServeMux(),
		logger:      logger.With("component", "http"),
		pipeline:    p,
		transcripts: ts,
		exporter:    export.New(p, logger),
		cfg:         cfg,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)

	s.mux.HandleFunc("POST /api/render", s.handleRender)
	s.mux.HandleFunc("POST /api/scan", s.handleScan)
	s.mux.HandleFunc("GET /api/transcripts", s.handleTranscriptList)
	s.mux.HandleFunc("GET /api/transcripts/{path...}", s.handleTranscriptDetail)
	s.mux.HandleFunc("GET /api/export", s.handleExport)

	// Render-only route for the headless tier and manual debugging.
	s.mux.HandleFunc("GET /render", s.handleRenderPage)
}

// Start runs the HTTP server until ctx is canceled. Port 0 allocates a
// dynamic port.
func (s *Server) Start(ctx context.Context) error {
	handler := chain(s.mux,
		recoveryMiddleware(s.logger),
		gzipMiddleware,
		loggingMiddleware(s.logger, s.cfg.Verbose),
	)

	s.httpServer = &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	tcpAddr, ok := listener.Addr().(*net.TCPAddr)
	if !ok {
		return errors.New("unexpected listener address type")
	}
	serverURL := fmt.Sprintf("http://localhost:%d", tcpAddr.Port)

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stdout, "diagramflow listening on %s\n", serverURL)
		errCh <- s.httpServer.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Shutdown(shutdownCtx); err != nil {
			s.logger.ErrorContext(ctx, "graceful shutdown failed", slog.Any("err", err))
			return err
		}
		return ctx.Err()
	case err := <-errCh:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the route mux for tests.
func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

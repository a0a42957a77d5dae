// Package server is the HTTP boundary: it accepts ingestion requests, reports
// ingestion status and answers queries.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"ragweb/config"
	"ragweb/internal/metrics"
	"ragweb/internal/port"
	"ragweb/internal/usecase"
)

// Dependencies holds the services the handlers call.
type Dependencies struct {
	Ingest  *usecase.IngestUseCase
	Query   *usecase.QueryService
	Store   port.MetadataStore
	Index   port.VectorIndex
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

type Server struct {
	config config.ServerConfig
	router *gin.Engine
	deps   Dependencies
	logger *slog.Logger
}

// New builds the router. It does not start listening.
func New(cfg config.ServerConfig, deps Dependencies) (*Server, error) {
	if deps.Ingest == nil || deps.Query == nil {
		return nil, fmt.Errorf("server needs ingest and query services")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	if cfg.Mode == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		config: cfg,
		router: gin.New(),
		deps:   deps,
		logger: deps.Logger,
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupMiddleware() {
	s.router.Use(recoveryMiddleware(s.logger))
	s.router.Use(requestIDMiddleware())
	s.router.Use(loggingMiddleware(s.logger))
	s.router.Use(s.deps.Metrics.Middleware())
}

// Router returns the underlying gin engine, mainly for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.ListenAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.config.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.logger.Info("shutting down http server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return <-errc
}

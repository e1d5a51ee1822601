// ABOUTME: Server orchestrator wiring store, registry, tool façade, and HTTP API
// ABOUTME: Manages startup and graceful shutdown of the whole process

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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/74587/MuMuAINovel/internal/api"
	"github.com/74587/MuMuAINovel/internal/auth"
	"github.com/74587/MuMuAINovel/internal/config"
	"github.com/74587/MuMuAINovel/internal/registry"
	"github.com/74587/MuMuAINovel/internal/store"
	"github.com/74587/MuMuAINovel/internal/tools"
)

// Server owns the process-wide components and their lifecycles.
type Server struct {
	config     *config.Config
	store      store.Store
	registry   *registry.Registry
	tools      *tools.Service
	httpServer *http.Server
	logger     *slog.Logger
}

// initStore creates the store from config, honoring MUMU_DB_PATH.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("MUMU_DB_PATH"); envPath != "" {
		dbPath = envPath
	}
	return store.NewSQLiteStore(dbPath)
}

// New wires all components from config. The returned server is ready to
// Run; nothing is listening yet.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	reg := registry.New(registry.Options{
		MaxClients:      cfg.Registry.MaxClients,
		ClientTTL:       cfg.Registry.ClientTTL,
		CleanupInterval: cfg.Registry.CleanupInterval,
		CallTimeout:     cfg.Registry.CallTimeout,
	}, logger)

	toolSvc := tools.NewService(reg, s, cfg.Registry.CallTimeout, logger)

	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	handler := api.NewHandler(s, reg, toolSvc, logger)

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux, verifier)

	if cfg.Metrics.Enabled {
		registry.RegisterMetrics(prometheus.DefaultRegisterer)
		path := cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		mux.Handle(path, promhttp.Handler())
		logger.Info("metrics endpoint enabled", "path", path)
	}

	srv := &Server{
		config:   cfg,
		store:    s,
		registry: reg,
		tools:    toolSvc,
		logger:   logger.With("component", "server"),
		httpServer: &http.Server{
			Addr:              cfg.Server.HTTPAddr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
	return srv, nil
}

// Run serves HTTP until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.config.Server.HTTPAddr, err)
	}
	s.logger.Info("server listening", "addr", s.config.Server.HTTPAddr)

	serveErr := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err, ok := <-serveErr:
		if ok && err != nil {
			return fmt.Errorf("serving HTTP: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown stops the HTTP server, tears down every live plugin client,
// and closes the store.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	var errs []error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}

	s.registry.CleanupAll()

	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	s.logger.Info("shutdown complete")
	return nil
}

package metric

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/SoutrikMukherjee/Distributed-Control-System-Architecture/errors"
)

// Server serves Prometheus exposition over HTTP
type Server struct {
	addr     string
	path     string
	registry *Registry
	logger   *slog.Logger

	mu     sync.Mutex
	server *http.Server
}

// NewServer creates a metrics server for the given registry
func NewServer(addr, path string, registry *Registry, logger *slog.Logger) *Server {
	if path == "" {
		path = "/metrics"
	}
	if addr == "" {
		addr = ":9090"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:     addr,
		path:     path,
		registry: registry,
		logger:   logger.With("component", "metrics-server"),
	}
}

// Start begins serving in a background goroutine
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "metric.Server", "Start", "start exposition server")
	}

	mux := http.NewServeMux()
	mux.Handle(s.path, promhttp.HandlerFor(s.registry.PrometheusRegistry(), promhttp.HandlerOpts{}))

	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		s.logger.Info("metrics server listening", "addr", s.addr, "path", s.path)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("metrics server failed", "error", err)
		}
	}()
	return nil
}

// Stop shuts the server down gracefully
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return nil
	}
	err := s.server.Shutdown(ctx)
	s.server = nil
	if err != nil {
		return errors.Wrap(err, "metric.Server", "Stop", "shut down exposition server")
	}
	return nil
}

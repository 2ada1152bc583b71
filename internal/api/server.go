package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/influx-north/internal/forwarder"
	"github.com/nerrad567/influx-north/internal/infrastructure/config"
	"github.com/nerrad567/influx-north/internal/infrastructure/logging"
	"github.com/nerrad567/influx-north/internal/ingest"
	"github.com/nerrad567/influx-north/internal/north"
)

const (
	gracefulShutdownTimeout = 10 * time.Second
	healthCheckTimeout      = 2 * time.Second
)

// HealthChecker is implemented by every component with a HealthCheck method.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ForwarderStatus exposes the forwarder's connection state and totals.
type ForwarderStatus interface {
	State() forwarder.State
	Stats() forwarder.Stats
	LastError() error
}

// NorthStatus exposes the north task's progress.
type NorthStatus interface {
	Status(ctx context.Context) (north.Status, error)
}

// IngestStatus exposes ingest counters.
type IngestStatus interface {
	Stats() ingest.Stats
}

// Deps holds the server's dependencies. Ingest and Checks are optional.
type Deps struct {
	Config    config.APIConfig
	Logger    *logging.Logger
	Version   string
	Forwarder ForwarderStatus
	North     NorthStatus
	Ingest    IngestStatus
	Checks    map[string]HealthChecker
	Gatherer  prometheus.Gatherer
}

// Server is the HTTP status server.
type Server struct {
	cfg       config.APIConfig
	logger    *logging.Logger
	version   string
	forwarder ForwarderStatus
	north     NorthStatus
	ingest    IngestStatus
	checks    map[string]HealthChecker
	gatherer  prometheus.Gatherer
	hub       *Hub
	startTime time.Time

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	cancel   context.CancelFunc
}

// New validates deps and creates a server. Nothing listens until Start.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Forwarder == nil {
		return nil, fmt.Errorf("forwarder is required")
	}
	if deps.North == nil {
		return nil, fmt.Errorf("north task is required")
	}

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	logger := deps.Logger.With("component", "api")
	return &Server{
		cfg:       deps.Config,
		logger:    logger,
		version:   deps.Version,
		forwarder: deps.Forwarder,
		north:     deps.North,
		ingest:    deps.Ingest,
		checks:    deps.Checks,
		gatherer:  gatherer,
		hub:       NewHub(deps.Config.WebSocket, logger),
		startTime: time.Now(),
	}, nil
}

// Handler returns the router. Exposed for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start binds the listen address and serves in the background. Bind errors
// (port in use) are returned directly. The WebSocket hub runs until ctx is
// cancelled or Close is called.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	s.listener = ln
	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go s.hub.Run(runCtx)
	go s.pushStatus(runCtx)

	srv := s.server
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	s.logger.Info("API server listening", "address", ln.Addr().String())
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close waits up to 10 seconds for in-flight requests, then closes.
func (s *Server) Close() error {
	s.mu.Lock()
	srv := s.server
	cancel := s.cancel
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	cancel()

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck reports whether the server has been started.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}

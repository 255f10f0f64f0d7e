package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"tadeval/internal/logging"
	"tadeval/internal/metrics"
)

// ServerConfig wires the HTTP server to its data sources.
type ServerConfig struct {
	Bind      string
	Runs      *RunService
	Results   *ResultService
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
	StartTime time.Time
	// RunID names the run in progress when the server runs alongside an
	// evaluation.
	RunID string
}

// Server serves the read-only API.
type Server struct {
	httpServer *http.Server
	listener   net.Listener
	logger     *slog.Logger
}

// NewServer binds cfg.Bind immediately so callers learn the address, and
// any bind error, before serving.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.StartTime.IsZero() {
		cfg.StartTime = time.Now()
	}
	cfg.Logger = logging.NewComponentLogger(cfg.Logger, "api")
	listener, err := net.Listen("tcp", cfg.Bind)
	if err != nil {
		return nil, err
	}
	return &Server{
		httpServer: &http.Server{
			Handler:           NewRouter(cfg),
			ReadHeaderTimeout: 15 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		listener: listener,
		logger:   cfg.Logger,
	}, nil
}

// Serve blocks until the server is shut down.
func (s *Server) Serve() error {
	s.logger.Info("starting HTTP server", logging.String("addr", s.Addr()))
	err := s.httpServer.Serve(s.listener)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/veldt-labs/stagehand/internal/history"
	"github.com/veldt-labs/stagehand/internal/infrastructure/config"
	"github.com/veldt-labs/stagehand/internal/infrastructure/database"
	"github.com/veldt-labs/stagehand/internal/infrastructure/logging"
	"github.com/veldt-labs/stagehand/internal/progress"
	"github.com/veldt-labs/stagehand/internal/taskqueue"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	WS      config.WebSocketConfig
	Logger  *logging.Logger
	Queue   *taskqueue.Queue
	Worker  *taskqueue.Worker
	Bus     *progress.Bus
	History history.Repository
	DB      *database.DB // optional: pool stats for /metrics
	Version string
}

// Server is the HTTP API server for Stagehand.
//
// It exposes task submission, task history, system metrics, and the
// WebSocket event streams. Created with New(), started with Start().
//
// Thread Safety: all methods are safe for concurrent use.
type Server struct {
	cfg     config.APIConfig
	wsCfg   config.WebSocketConfig
	logger  *logging.Logger
	queue   *taskqueue.Queue
	worker  *taskqueue.Worker
	bus     *progress.Bus
	history history.Repository
	db      *database.DB
	version string

	server    *http.Server
	streams   *streamRegistry
	startTime time.Time
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Queue == nil || deps.Worker == nil {
		return nil, fmt.Errorf("task queue and worker are required")
	}
	if deps.Bus == nil {
		return nil, fmt.Errorf("progress bus is required")
	}
	if deps.History == nil {
		return nil, fmt.Errorf("history repository is required")
	}

	return &Server{
		cfg:     deps.Config,
		wsCfg:   deps.WS,
		logger:  deps.Logger,
		queue:   deps.Queue,
		worker:  deps.Worker,
		bus:     deps.Bus,
		history: deps.History,
		db:      deps.DB,
		version: deps.Version,
		streams: newStreamRegistry(),
	}, nil
}

// Start begins listening for HTTP connections in a background
// goroutine. The server is stopped with Close().
func (s *Server) Start(_ context.Context) error {
	s.startTime = time.Now()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete, then
// forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	s.streams.closeAll()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}

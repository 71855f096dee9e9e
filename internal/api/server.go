package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/deviceguard/internal/audit"
	"github.com/nerrad567/deviceguard/internal/auth"
	"github.com/nerrad567/deviceguard/internal/infrastructure/config"
	"github.com/nerrad567/deviceguard/internal/infrastructure/logging"
	"github.com/nerrad567/deviceguard/internal/registry"
	"github.com/nerrad567/deviceguard/internal/settings"
	"github.com/nerrad567/deviceguard/internal/whitelist"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Registry is the registry service surface the API exposes.
// Implemented by *registry.Service.
type Registry interface {
	ListDevices(ctx context.Context) (registry.DeviceList, error)
	ListRegistered(ctx context.Context) ([]registry.RecordView, error)
	State(ctx context.Context, id string) (whitelist.State, error)
	Register(ctx context.Context, req registry.RegisterRequest) (registry.Result, error)
	Verify(ctx context.Context, id string, cred auth.Credential) (registry.VerifyResult, error)
	Remove(ctx context.Context, id string, cred auth.Credential) (registry.Result, error)
	ClearAll(ctx context.Context, cred auth.Credential) (registry.Result, error)
	GetLogs(ctx context.Context, q registry.LogQuery) ([]audit.Entry, error)
	ClearLogs(ctx context.Context, cred auth.Credential) (registry.Result, error)
	Settings() settings.Settings
	UpdateSettings(ctx context.Context, cred auth.Credential, next settings.Settings) (registry.Result, error)
	Export(ctx context.Context, cred auth.Credential) (registry.ExportResult, error)
}

// HealthChecker is a component whose health is reported by /health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Logger   *logging.Logger
	Registry Registry
	// Gate authorises WebSocket ticket requests.
	Gate registry.Authorizer
	// Health lists optional components reported by /health, by name.
	Health map[string]HealthChecker
	// Hub, if set, is used instead of a hub created in Start. main creates
	// it up front so audit and presence listeners can feed it.
	Hub     *Hub
	Version string
}

// Server is the HTTP API server for deviceguard.
type Server struct {
	cfg      config.APIConfig
	wsCfg    config.WebSocketConfig
	logger   *logging.Logger
	registry Registry
	gate     registry.Authorizer
	health   map[string]HealthChecker
	version  string
	tickets  *ticketStore
	server   *http.Server
	hub      *Hub
	cancel   context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("device registry is required")
	}
	if deps.Gate == nil {
		return nil, fmt.Errorf("authentication gate is required")
	}

	return &Server{
		cfg:      deps.Config,
		wsCfg:    deps.WS,
		logger:   deps.Logger,
		registry: deps.Registry,
		gate:     deps.Gate,
		health:   deps.Health,
		version:  deps.Version,
		tickets:  newTicketStore(),
		hub:      deps.Hub,
	}, nil
}

// Start begins listening for HTTP connections in a background goroutine.
// The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
	}
	go s.hub.Run(srvCtx)
	go s.cleanTicketsLoop(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
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

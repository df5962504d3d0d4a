// Package sharedcontext wires the context store, subscription registry,
// REST/WebSocket API and MCP adapter into a runnable service.
package sharedcontext

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/localrivet/sharedcontext/internal/api"
	"github.com/localrivet/sharedcontext/internal/client"
	"github.com/localrivet/sharedcontext/internal/config"
	"github.com/localrivet/sharedcontext/internal/contextstore"
	"github.com/localrivet/sharedcontext/internal/errortypes"
	"github.com/localrivet/sharedcontext/internal/gateway"
	"github.com/localrivet/sharedcontext/internal/logger"
	"github.com/localrivet/sharedcontext/internal/server"
	"github.com/localrivet/sharedcontext/internal/service"
	"github.com/localrivet/sharedcontext/internal/subscription"
	"github.com/localrivet/sharedcontext/internal/telemetry"
)

// ShutdownTimeout bounds how long Start waits for in-flight requests.
const ShutdownTimeout = 10 * time.Second

// Config represents the configuration for the SharedContext service.
type Config = config.Config

// Components are the long-lived collaborators behind the REST server.
type Components struct {
	Store    contextstore.ContextStore
	Service  *service.ContextService
	Registry *subscription.Registry
	Gateway  *gateway.Gateway
	Metrics  *telemetry.MetricsCollector
}

// Server represents the SharedContext REST/WebSocket service.
type Server struct {
	config     *config.Config
	components *Components
	handler    http.Handler
	logger     *slog.Logger
	stopOnce   sync.Once
	stopErr    error
}

// ServerOptions defines the options for creating a new Server.
type ServerOptions struct {
	Config     *Config      // Pre-filled config. If nil, ConfigPath is used.
	ConfigPath string       // Path to config file. Used if Config is nil. If both are empty, DefaultConfig() is used.
	Logger     *slog.Logger // External logger. If nil, slog.Default() is used.
}

func resolveConfig(opts ServerOptions, logger *slog.Logger) (*Config, error) {
	switch {
	case opts.Config != nil:
		logger.Info("Using provided Config object for server initialization")
		return opts.Config, nil
	case opts.ConfigPath != "":
		logger.Info("Loading configuration for server initialization", "path", opts.ConfigPath)
		cfg, err := config.LoadConfigWithPath(opts.ConfigPath)
		if err != nil {
			return nil, errortypes.ConfigError(err, "Failed to load configuration from path: "+opts.ConfigPath)
		}
		return cfg, nil
	default:
		logger.Warn("No Config object or ConfigPath provided, using default configuration for server initialization")
		return DefaultConfig(), nil
	}
}

// NewServer creates a new SharedContext Server with the given options.
// The store is opened here; call Stop to release it.
func NewServer(opts ServerOptions) (*Server, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	cfg, err := resolveConfig(opts, log)
	if err != nil {
		errortypes.LogError(log, err)
		return nil, err
	}

	comps, err := CreateComponents(cfg, log)
	if err != nil {
		log.Error("Failed to create components during server initialization", "error", err)
		return nil, err
	}

	handler := api.NewHandler(api.Options{
		Service:     comps.Service,
		Gateway:     comps.Gateway,
		Registry:    comps.Registry,
		Metrics:     comps.Metrics,
		Logger:      logger.WithComponent(log, "api"),
		MaxPageSize: cfg.Server.MaxPageSize,
	})

	log.Info("SharedContext server successfully initialized", "addr", cfg.Server.Addr)
	return &Server{
		config:     cfg,
		components: comps,
		handler:    handler,
		logger:     log,
	}, nil
}

// DefaultConfig returns the default configuration for the SharedContext service.
func DefaultConfig() *Config {
	return config.NewConfig()
}

// SaveConfig writes the configuration to path as JSON.
func SaveConfig(cfg *Config, path string) error {
	if err := cfg.SaveToFile(path); err != nil {
		return errortypes.ConfigError(err, "failed to save configuration")
	}
	return nil
}

// CreateComponents opens the store and builds the service, registry and
// WebSocket gateway around it without starting a listener.
func CreateComponents(cfg *Config, log *slog.Logger) (*Components, error) {
	if log == nil {
		log = slog.Default()
	}

	metrics := telemetry.NewMetricsCollector()

	log.Info("Initializing SQLite context store", "path", cfg.Store.SQLitePath, "pool_size", cfg.Store.PoolSize)
	store := contextstore.NewSQLiteContextStore(
		contextstore.WithPoolSize(cfg.Store.PoolSize),
		contextstore.WithMetrics(metrics),
		contextstore.WithLogger(logger.WithComponent(log, "store")),
	)
	if err := store.Initialize(cfg.Store.SQLitePath); err != nil {
		log.Error("Failed to initialize SQLite context store", "path", cfg.Store.SQLitePath, "error", err)
		return nil, errortypes.DatabaseError(err, "Failed to initialize SQLite context store")
	}

	svc := service.NewContextService(store, logger.WithComponent(log, "service"))
	registry := subscription.NewRegistry(
		subscription.WithLogger(logger.WithComponent(log, "subscription")),
		subscription.WithMetrics(metrics),
	)
	gw := gateway.New(registry, svc,
		gateway.WithWriteTimeout(cfg.WriteTimeout()),
		gateway.WithLogger(logger.WithComponent(log, "gateway")),
	)

	log.Info("Components successfully initialized")
	return &Components{
		Store:    store,
		Service:  svc,
		Registry: registry,
		Gateway:  gw,
		Metrics:  metrics,
	}, nil
}

// Handler returns the REST/WebSocket handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Components returns the server's collaborators.
func (s *Server) Components() *Components {
	return s.components
}

// Start listens on the configured address until ctx is cancelled or the
// listener fails. Subscribers are disconnected before the HTTP server drains.
func (s *Server) Start(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.config.Server.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("Starting SharedContext server", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errortypes.NetworkError(err, "HTTP server failed").WithField("addr", httpServer.Addr)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("Shutting down SharedContext server")
		s.components.Gateway.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Stop disconnects subscribers and closes the store. It is safe to call twice.
func (s *Server) Stop() error {
	s.stopOnce.Do(func() {
		s.logger.Info("Stopping SharedContext service")
		s.components.Gateway.Close()

		if err := s.components.Store.Close(); err != nil {
			s.logger.Error("Failed to close store", "error", err)
			s.stopErr = err
			return
		}
		s.logger.Info("SharedContext service stopped")
	})
	return s.stopErr
}

// NewMCPServer builds an initialized MCP adapter that forwards to the REST
// server at cfg.MCP.ServerURL and serves on cfg.MCP.Transport.
func NewMCPServer(cfg *Config, log *slog.Logger) (*server.MCPContextToolServer, error) {
	if log == nil {
		log = slog.Default()
	}

	c := client.New(cfg.MCP.ServerURL)
	mcp := server.NewContextToolServer(c, logger.WithComponent(log, "mcp"),
		server.WithTransport(cfg.MCP.Transport, cfg.MCP.HTTPAddr))
	if err := mcp.Initialize(); err != nil {
		return nil, errortypes.ConfigError(err, "Failed to initialize MCP context tool server")
	}
	return mcp, nil
}

package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/localrivet/configurator"
)

// Config represents the SharedContext configuration
type Config struct {
	// Store contains storage-related configuration.
	Store struct {
		// SQLitePath is the path to the SQLite database file.
		SQLitePath string `json:"sqlite_path" env:"SQLITE_PATH" validate:"required"`

		// PoolSize is the number of pooled SQLite connections.
		PoolSize int `json:"pool_size" env:"POOL_SIZE" validate:"min:1"`
	} `json:"store"`

	// Server contains REST/WebSocket server configuration.
	Server struct {
		// Addr is the listen address, e.g. ":3000".
		Addr string `json:"addr" env:"ADDR" validate:"required"`

		// MaxPageSize clamps the limit accepted by paginated endpoints.
		MaxPageSize int `json:"max_page_size" env:"MAX_PAGE_SIZE" validate:"min:1"`

		// WriteTimeoutMs bounds a single WebSocket write to a subscriber.
		WriteTimeoutMs int `json:"write_timeout_ms" env:"WRITE_TIMEOUT_MS" validate:"min:1"`
	} `json:"server"`

	// MCP contains configuration for the MCP adapter.
	MCP struct {
		// ServerURL is the base URL of the REST server the adapter talks to.
		ServerURL string `json:"server_url" env:"SERVER_URL" validate:"required"`

		// Transport is "stdio" or "http".
		Transport string `json:"transport" env:"MCP_TRANSPORT"`

		// HTTPAddr is the listen address used by the http transport.
		HTTPAddr string `json:"http_addr" env:"MCP_HTTP_ADDR"`
	} `json:"mcp"`

	// Logging contains logging-related configuration.
	Logging struct {
		// Level is the minimum log level to display ("debug", "info", "warn", "error").
		Level string `json:"level" env:"LOG_LEVEL" validate:"required"`

		// Format is the log format to use ("text", "json").
		Format string `json:"format" env:"LOG_FORMAT"`
	} `json:"logging"`

	// Internal state (not saved to config file)
	configPath     string       `json:"-"`
	mutex          sync.RWMutex `json:"-"`
	lastModifiedAt time.Time    `json:"-"`
}

// Default configuration values
const (
	DefaultConfigFilename = ".sharedcontextconfig"
	DefaultSQLitePath     = ".sharedcontext.db"
	DefaultPoolSize       = 8
	DefaultAddr           = ":3000"
	DefaultMaxPageSize    = 100
	DefaultWriteTimeoutMs = 5000
	DefaultServerURL      = "http://localhost:3000"
	DefaultMCPTransport   = "stdio"
	DefaultMCPHTTPAddr    = ":3001"
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "text"

	// EnvPrefix prefixes every environment override, e.g. SHAREDCONTEXT_ADDR.
	EnvPrefix = "SHAREDCONTEXT"
)

// NewConfig creates a new Config instance with default values
func NewConfig() *Config {
	config := &Config{}
	config.Store.SQLitePath = DefaultSQLitePath
	config.Store.PoolSize = DefaultPoolSize
	config.Server.Addr = DefaultAddr
	config.Server.MaxPageSize = DefaultMaxPageSize
	config.Server.WriteTimeoutMs = DefaultWriteTimeoutMs
	config.MCP.ServerURL = DefaultServerURL
	config.MCP.Transport = DefaultMCPTransport
	config.MCP.HTTPAddr = DefaultMCPHTTPAddr
	config.Logging.Level = DefaultLogLevel
	config.Logging.Format = DefaultLogFormat
	return config
}

// LoadConfig loads the configuration from the default path
func LoadConfig() (*Config, error) {
	return LoadConfigWithPath(DefaultConfigFilename)
}

// LoadConfigWithPath loads the configuration from a specific path.
// A missing file is not an error: defaults plus environment overrides are returned.
func LoadConfigWithPath(configPath string) (*Config, error) {
	// stdout belongs to the MCP protocol in adapter mode
	stdLogger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg := NewConfig()

	if configPath == DefaultConfigFilename {
		foundPath, err := configurator.FindConfigFile(configPath)
		if err == nil {
			configPath = foundPath
			stdLogger.Debug("Found config file at " + foundPath)
		}
	}

	config := configurator.New(stdLogger).
		WithProvider(configurator.NewDefaultProvider())

	// Env overrides apply with or without a file.
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		stdLogger.Info("Config file not found, using defaults and environment", "path", configPath)
	} else {
		stdLogger.Info("Loading configuration", "path", configPath)
		config = config.WithProvider(configurator.NewFileProvider(configPath))
	}

	config = config.
		WithProvider(configurator.NewEnvProvider(EnvPrefix)).
		WithValidator(configurator.NewDefaultValidator())

	if err := config.Load(context.Background(), cfg); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	cfg.configPath = configPath
	cfg.lastModifiedAt = time.Now()

	return cfg, nil
}

// SaveToFile saves the configuration to the specified file
func (c *Config) SaveToFile(path string) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	if err := configurator.SaveToFile(c, path, configurator.FormatJSON); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	c.configPath = path
	c.lastModifiedAt = time.Now()

	return nil
}

// Save saves the configuration to the last used file path
func (c *Config) Save() error {
	if c.configPath == "" {
		c.configPath = DefaultConfigFilename
	}
	return c.SaveToFile(c.configPath)
}

// GetConfigPath returns the path of the currently loaded configuration file
func (c *Config) GetConfigPath() string {
	return c.configPath
}

// WriteTimeout returns Server.WriteTimeoutMs as a duration, falling back to the default.
func (c *Config) WriteTimeout() time.Duration {
	ms := c.Server.WriteTimeoutMs
	if ms <= 0 {
		ms = DefaultWriteTimeoutMs
	}
	return time.Duration(ms) * time.Millisecond
}

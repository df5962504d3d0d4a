package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	sharedcontext "github.com/localrivet/sharedcontext"
	"github.com/localrivet/sharedcontext/internal/client"
	"github.com/localrivet/sharedcontext/internal/config"
	"github.com/localrivet/sharedcontext/internal/errortypes"
	"github.com/localrivet/sharedcontext/internal/logger"
	"github.com/localrivet/sharedcontext/internal/subscription"
)

// rootOptions holds global flags for all commands.
type rootOptions struct {
	ConfigPath string
	LogLevel   string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "sharedcontext",
		Short: "SharedContext - shared, append-only context for collaborating agents",
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", config.DefaultConfigFilename, "path to config file")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "override the configured log level")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newMCPCommand(opts))
	cmd.AddCommand(newWatchCommand(opts))
	cmd.AddCommand(newInitConfigCommand())

	return cmd
}

// load reads the config and builds the process logger from it.
func (o *rootOptions) load() (*config.Config, *slog.Logger, error) {
	cfg, err := config.LoadConfigWithPath(o.ConfigPath)
	if err != nil {
		return nil, nil, errortypes.ConfigError(err, "failed to load configuration")
	}
	level := cfg.Logging.Level
	if o.LogLevel != "" {
		level = o.LogLevel
	}
	log := logger.FromSettings(level, cfg.Logging.Format, os.Stderr)
	slog.SetDefault(log)
	return cfg, log, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:          "serve",
		Short:        "Run the REST/WebSocket server",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}

			srv, err := sharedcontext.NewServer(sharedcontext.ServerOptions{Config: cfg, Logger: log})
			if err != nil {
				return err
			}
			defer srv.Stop()

			ctx, stop := signalContext()
			defer stop()
			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	return cmd
}

func newMCPCommand(opts *rootOptions) *cobra.Command {
	var serverURL, transport, httpAddr string

	cmd := &cobra.Command{
		Use:          "mcp",
		Short:        "Run the MCP adapter (stdio or http) against a running server",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			if serverURL != "" {
				cfg.MCP.ServerURL = serverURL
			}
			if transport != "" {
				cfg.MCP.Transport = transport
			}
			if httpAddr != "" {
				cfg.MCP.HTTPAddr = httpAddr
			}

			mcp, err := sharedcontext.NewMCPServer(cfg, log)
			if err != nil {
				return err
			}
			defer mcp.Stop()

			log.Info("MCP adapter forwarding to REST server", "server_url", cfg.MCP.ServerURL, "transport", cfg.MCP.Transport)
			return mcp.Start()
		},
	}

	cmd.Flags().StringVar(&serverURL, "server-url", "", "REST server base URL (overrides config)")
	cmd.Flags().StringVar(&transport, "transport", "", "MCP transport: stdio or http (overrides config)")
	cmd.Flags().StringVar(&httpAddr, "http-addr", "", "listen address for the http transport (overrides config)")
	return cmd
}

func newWatchCommand(opts *rootOptions) *cobra.Command {
	var serverURL string

	cmd := &cobra.Command{
		Use:          "watch <contextId>",
		Short:        "Print entries appended to a context as JSON lines",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			if serverURL != "" {
				cfg.MCP.ServerURL = serverURL
			}

			ctx, stop := signalContext()
			defer stop()

			enc := json.NewEncoder(cmd.OutOrStdout())
			c := client.New(cfg.MCP.ServerURL)
			log.Info("Watching context", "context_id", args[0], "server_url", c.BaseURL())
			return c.Subscribe(ctx, args[0], func(msg subscription.Message) {
				if err := enc.Encode(msg); err != nil {
					log.Warn("Failed to write update", "error", err)
				}
			})
		},
	}

	cmd.Flags().StringVar(&serverURL, "server-url", "", "REST server base URL (overrides config)")
	return cmd
}

func newInitConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:          "init-config <path>",
		Short:        "Write a config file with default values",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := sharedcontext.SaveConfig(sharedcontext.DefaultConfig(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote default configuration to %s\n", args[0])
			return nil
		},
	}
}

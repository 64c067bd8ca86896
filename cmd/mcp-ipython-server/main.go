// Package main implements the IPython MCP server executable.
// It provides a Model Context Protocol server that runs Python code in a
// persistent IPython kernel.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/kreijstal/mcp-ipython/internal/cmd"
	"github.com/kreijstal/mcp-ipython/internal/config"
	"github.com/kreijstal/mcp-ipython/internal/kernel"
	"github.com/kreijstal/mcp-ipython/internal/logging"
	"github.com/kreijstal/mcp-ipython/internal/security"
	"github.com/kreijstal/mcp-ipython/internal/server"
	"github.com/kreijstal/mcp-ipython/internal/storage"
	"github.com/kreijstal/mcp-ipython/pkg/version"
)

const shutdownTimeout = 5 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &serverFlags{}

	rootCmd := &cobra.Command{
		Use:   "mcp-ipython-server",
		Short: "IPython MCP server",
		Long: `mcp-ipython-server provides a Model Context Protocol server that executes
Python code in a persistent IPython kernel and returns its output.`,
		SilenceUsage: true,
		RunE: func(c *cobra.Command, args []string) error {
			return runServer(c, flags)
		},
	}

	rootCmd.Flags().BoolP("version", "v", false, "Print version information and exit")
	flags.register(rootCmd)

	rootCmd.AddCommand(cmd.NewVersionCmd())
	rootCmd.AddCommand(cmd.NewCheckCmd(nil))

	return rootCmd
}

// runServer starts the MCP server
func runServer(c *cobra.Command, flags *serverFlags) error {
	if versionFlag, _ := c.Flags().GetBool("version"); versionFlag {
		fmt.Fprintln(c.OutOrStdout(), version.GetVersion().String())
		return nil
	}

	cfg, err := loadConfig(c, flags)
	if err != nil {
		return err
	}

	logger := logging.NewLoggerWithOptions(logging.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	defer func() { _ = logger.Close() }()

	srv, manager, err := buildServer(cfg, logger)
	if err != nil {
		logger.Error("Failed to create server", logging.Err(err))
		return fmt.Errorf("failed to create server: %w", err)
	}

	// The kernel is shut down on every exit path.
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		manager.Shutdown(shutdownCtx, true)
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := srv.Start(ctx); err != nil {
		logger.Error("Failed to start server", logging.Err(err))
		return fmt.Errorf("failed to start server: %w", err)
	}

	logger.Info("IPython MCP Server starting",
		slog.String("version", version.GetVersion().Version),
		slog.String("transport", cfg.Server.Transport),
		slog.Int("tools_available", srv.GetRegistry().Count()))

	serverDone := make(chan error, 1)
	go func() {
		if cfg.Server.Transport == config.TransportHTTP {
			serverDone <- srv.ServeHTTP(ctx, cfg.Server.HTTPAddr)
			return
		}
		serverDone <- srv.Serve(ctx, mcp.NewStdioTransport())
	}()

	select {
	case err := <-serverDone:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Server error", logging.Err(err))
		}
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping server", logging.Err(err))
	}

	logger.Info("IPython MCP Server stopped")
	return nil
}

// loadConfig layers the config file, .env, the environment and flags.
func loadConfig(c *cobra.Command, flags *serverFlags) (config.Config, error) {
	path := flags.configPath
	if path == "" {
		path = config.DefaultPath()
	}

	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	if err := config.LoadDotEnv(".env"); err != nil {
		return config.Config{}, err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return config.Config{}, err
	}

	flags.apply(c, &cfg)

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// buildServer wires storage, the kernel manager and the MCP server.
func buildServer(cfg config.Config, logger *logging.Logger) (*server.Server, *kernel.Manager, error) {
	validator := security.NewDefaultValidator().
		WithMaxCodeBytes(cfg.Execution.MaxCodeBytes).
		WithAllowedPaths(cfg.History.AllowedDirs)

	runtimeDir := cfg.Kernel.RuntimeDir
	if runtimeDir == "" {
		runtimeDir = storage.DefaultRuntimeDir()
	}
	store, err := storage.NewConnectionStore(runtimeDir)
	if err != nil {
		return nil, nil, err
	}
	logger.Debug("Kernel connection files", slog.String("dir", store.BaseDir()))

	launcher := kernel.NewLauncher(kernel.LauncherOptions{
		Python:    cfg.Kernel.Python,
		ExtraArgs: cfg.Kernel.ExtraArgs,
		Store:     store,
		Logger:    logger,
	})

	manager := kernel.NewManager(kernel.ManagerOptions{
		Launcher:        launcher,
		Existing:        cfg.Kernel.Existing,
		IP:              cfg.Kernel.IP,
		StartupTimeout:  cfg.Kernel.StartupTimeout,
		ShutdownTimeout: cfg.Kernel.ShutdownTimeout,
		Executor: kernel.ExecutorOptions{
			IOPubTimeout:      cfg.Execution.IOPubTimeout,
			PollInterval:      cfg.Execution.PollInterval,
			RetryDelay:        cfg.Execution.RetryDelay,
			ShellReplyTimeout: cfg.Execution.ShellReplyTimeout,
			ReadyTimeout:      cfg.Execution.ReadyTimeout,
		},
		Logger: logger,
	})

	history := openHistory(cfg.History, validator, logger)

	srv, err := server.New(&server.Options{
		Logger:    logger,
		Validator: validator,
		Kernel:    manager,
		History:   history,
		Format: kernel.FormatOptions{
			StripANSI: cfg.Execution.StripANSI,
			MaxChars:  cfg.Execution.MaxOutputChars,
		},
	})
	if err != nil {
		return nil, nil, err
	}
	return srv, manager, nil
}

// openHistory opens the history file. A file that cannot be used only
// disables history; the server still starts.
func openHistory(cfg config.HistoryConfig, validator security.Validator, logger *logging.Logger) *storage.HistoryStore {
	if !cfg.Enabled || cfg.File == "" {
		logger.Info("Command history disabled")
		return storage.NewDisabledHistoryStore()
	}

	path, err := validator.SanitizePath(cfg.File)
	if err != nil {
		logger.Warn("History file rejected, command history disabled", slog.String("file", cfg.File), logging.Err(err))
		return storage.NewDisabledHistoryStore()
	}

	history, err := storage.NewHistoryStore(path)
	if err != nil {
		logger.Warn("Could not open history file, command history disabled", slog.String("file", path), logging.Err(err))
		return storage.NewDisabledHistoryStore()
	}
	logger.Info("Recording command history", slog.String("file", history.Path()))
	return history
}

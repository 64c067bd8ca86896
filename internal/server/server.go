// Package server implements the MCP server that exposes the IPython kernel.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/kreijstal/mcp-ipython/internal/kernel"
	"github.com/kreijstal/mcp-ipython/internal/logging"
	"github.com/kreijstal/mcp-ipython/internal/prompts"
	"github.com/kreijstal/mcp-ipython/internal/security"
	"github.com/kreijstal/mcp-ipython/internal/tools"
	"github.com/kreijstal/mcp-ipython/internal/tools/ipython"
	"github.com/kreijstal/mcp-ipython/pkg/version"
)

// Name is the MCP implementation name.
const Name = "mcp-ipython"

// httpShutdownTimeout bounds graceful shutdown of the HTTP listener.
const httpShutdownTimeout = 5 * time.Second

// loggerAdapter wraps logging.Logger to implement tools.Logger interface.
// This avoids circular dependency between logging and tools packages.
type loggerAdapter struct {
	*logging.Logger
}

// WithTool implements tools.Logger interface.
func (a *loggerAdapter) WithTool(toolName string) tools.Logger {
	return &loggerAdapter{Logger: a.Logger.WithTool(toolName)}
}

// WithSession implements tools.Logger interface.
func (a *loggerAdapter) WithSession(sessionID string) tools.Logger {
	return &loggerAdapter{Logger: a.Logger.WithSession(sessionID)}
}

// Kernel is the kernel lifecycle the server drives. kernel.Manager
// implements it.
type Kernel interface {
	ipython.Kernel
	Shutdown(ctx context.Context, now bool)
}

var _ Kernel = (*kernel.Manager)(nil)

// Server represents the IPython MCP server.
type Server struct {
	mcpServer *mcp.Server
	registry  *tools.Registry
	logger    *logging.Logger
	validator security.Validator
	kernel    Kernel
}

// Options configures the server instance.
type Options struct {
	Logger    *logging.Logger
	Validator security.Validator
	Kernel    Kernel
	History   ipython.History
	Format    kernel.FormatOptions
	Prompts   *prompts.ToolPrompts
}

// New creates a new server with the given options.
func New(opts *Options) (*Server, error) {
	if opts.Kernel == nil {
		return nil, fmt.Errorf("kernel is required")
	}

	if opts.Logger == nil {
		logLevel := os.Getenv("LOG_LEVEL")
		if logLevel == "" {
			logLevel = "info"
		}
		opts.Logger = logging.NewLogger(logLevel)
	}

	if opts.Validator == nil {
		opts.Validator = security.NewDefaultValidator()
	}

	toolCtx := &tools.Context{
		Logger:    &loggerAdapter{Logger: opts.Logger},
		Validator: opts.Validator,
	}

	registry := tools.NewRegistry(toolCtx)

	mcpServer := mcp.NewServer(&mcp.Implementation{
		Name:    Name,
		Version: version.GetVersion().Version,
	}, nil)

	server := &Server{
		mcpServer: mcpServer,
		registry:  registry,
		logger:    opts.Logger,
		validator: opts.Validator,
		kernel:    opts.Kernel,
	}

	if err := server.registerTools(opts); err != nil {
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}

	return server, nil
}

// Start validates the tool registry and starts the kernel.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting IPython MCP server",
		slog.String("version", version.GetVersion().Version),
		slog.Int("tools", s.registry.Count()),
	)

	if err := s.registry.Validate(); err != nil {
		return fmt.Errorf("tool registry validation failed: %w", err)
	}

	if err := s.kernel.Start(ctx); err != nil {
		return fmt.Errorf("failed to start IPython kernel: %w", err)
	}

	return nil
}

// Stop shuts the kernel down immediately.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping IPython MCP server")

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.kernel.Shutdown(ctx, true)
	}()

	select {
	case <-done:
		s.logger.Info("Server stopped successfully")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Server stop timed out")
		return ctx.Err()
	}
}

// GetRegistry returns the tool registry.
func (s *Server) GetRegistry() *tools.Registry {
	return s.registry
}

// registerTools registers the IPython tools with the server.
func (s *Server) registerTools(opts *Options) error {
	s.logger.Debug("Registering tools with MCP server")

	allTools := ipython.CreateTools(s.registry.Context(), ipython.Options{
		Kernel:  opts.Kernel,
		History: opts.History,
		Format:  opts.Format,
		Prompts: opts.Prompts,
	})

	if err := s.registry.RegisterAll(allTools); err != nil {
		return err
	}

	toolNames := s.registry.Install(s.mcpServer)
	for _, name := range toolNames {
		s.logger.Debug("Registered tool", "name", name)
	}

	s.logger.Info("Successfully registered tools",
		slog.Int("count", len(toolNames)),
		slog.Any("tools", s.toolsByCategory()),
	)

	return nil
}

// toolsByCategory returns registered tool names grouped by category.
func (s *Server) toolsByCategory() map[string][]string {
	grouped := make(map[string][]string, len(tools.Categories))
	for _, category := range tools.Categories {
		for _, tool := range s.registry.GetToolsByCategory(category) {
			grouped[category] = append(grouped[category], tool.Name())
		}
	}
	return grouped
}

// Serve runs the MCP server with the specified transport.
// It connects the MCP server to the transport and waits for either
// the session to complete or the context to be cancelled.
func (s *Server) Serve(ctx context.Context, transport mcp.Transport) error {
	s.logger.Info("Starting MCP server transport",
		slog.String("transport", fmt.Sprintf("%T", transport)),
	)

	session, err := s.mcpServer.Connect(ctx, transport)
	if err != nil {
		return fmt.Errorf("failed to connect MCP server: %w", err)
	}

	sessionDone := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("MCP session goroutine panicked",
					slog.Any("panic", r))
				sessionDone <- fmt.Errorf("session panicked: %v", r)
			}
		}()
		sessionDone <- session.Wait()
	}()

	select {
	case err := <-sessionDone:
		s.logger.Info("MCP session finished")
		return err
	case <-ctx.Done():
		s.logger.Info("MCP server shutting down due to context cancellation")
		_ = session.Close()
		return ctx.Err()
	}
}

// Handler returns the HTTP routes: the SSE transport under /sse and a
// health endpoint under /healthz.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	sse := mcp.NewSSEHandler(func(*http.Request) *mcp.Server { return s.mcpServer })
	r.Handle("/sse", sse)
	r.Get("/healthz", s.handleHealth)

	return r
}

// ServeHTTP listens on addr until ctx is cancelled.
func (s *Server) ServeHTTP(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Serving MCP over HTTP", slog.String("addr", addr), slog.String("endpoint", "/sse"))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("HTTP server shutdown failed", logging.Err(err))
		}
		return ctx.Err()
	}
}

type healthResponse struct {
	Status  string               `json:"status"`
	Version string               `json:"version"`
	Kernel  ipython.StatusReport `json:"kernel"`
	Tools   map[string][]string  `json:"tools"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.kernel.Status(r.Context())

	resp := healthResponse{
		Status:  "ok",
		Version: version.GetVersion().Version,
		Kernel:  ipython.NewStatusReport(st, time.Now()),
		Tools:   s.toolsByCategory(),
	}
	code := http.StatusOK
	if !st.Running {
		resp.Status = "unavailable"
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Debug("Failed to write health response", logging.Err(err))
	}
}

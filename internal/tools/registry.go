package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Registry manages the collection of available tools.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*ServerTool
	ctx   *Context
}

// NewRegistry creates a new tool registry with the given context.
func NewRegistry(ctx *Context) *Registry {
	return &Registry{
		tools: make(map[string]*ServerTool),
		ctx:   ctx,
	}
}

// Context returns the context tools are created with.
func (r *Registry) Context() *Context {
	return r.ctx
}

// Register registers a tool with the registry.
func (r *Registry) Register(tool *ServerTool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := tool.Name()
	if name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}

	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %s is already registered", name)
	}

	r.tools[name] = tool
	return nil
}

// RegisterAll registers every tool, stopping at the first failure.
func (r *Registry) RegisterAll(tools []*ServerTool) error {
	for _, tool := range tools {
		if err := r.Register(tool); err != nil {
			return err
		}
	}
	return nil
}

// List returns all registered tool names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}

	sort.Strings(names)
	return names
}

// GetToolsByCategory returns tools filtered by category.
func (r *Registry) GetToolsByCategory(category string) []*ServerTool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var categoryTools []*ServerTool
	for _, tool := range r.tools {
		if tool.Category == category {
			categoryTools = append(categoryTools, tool)
		}
	}

	sort.Slice(categoryTools, func(i, j int) bool { return categoryTools[i].Name() < categoryTools[j].Name() })
	return categoryTools
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.tools)
}

// Validate checks if all registered tools are properly configured.
func (r *Registry) Validate() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for name, tool := range r.tools {
		if tool.Name() != name {
			return fmt.Errorf("tool name mismatch: registered as %s but reports name %s", name, tool.Name())
		}

		if tool.Tool.Description == "" {
			return fmt.Errorf("tool %s has empty description", name)
		}

		if tool.RegisterFunc == nil {
			return fmt.Errorf("tool %s has nil register function", name)
		}
	}

	return nil
}

// Install adds every registered tool to server.
func (r *Registry) Install(server *mcp.Server) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name, tool := range r.tools {
		tool.RegisterFunc(server)
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ToolBuilder provides a fluent interface for building tools with type safety.
type ToolBuilder[T any] struct {
	name        string
	description string
	category    string
	handler     func(context.Context, *mcp.ServerSession, *mcp.CallToolParamsFor[T]) (*mcp.CallToolResultFor[any], error)
	ctx         *Context
}

// NewToolBuilder creates a new tool builder with type-safe parameter validation.
func NewToolBuilder[T any](name, description string, ctx *Context) *ToolBuilder[T] {
	return &ToolBuilder[T]{
		name:        name,
		description: description,
		category:    "unknown",
		ctx:         ctx,
	}
}

// WithCategory sets the tool category for organization.
func (b *ToolBuilder[T]) WithCategory(category string) *ToolBuilder[T] {
	b.category = category
	return b
}

// WithHandler sets the tool handler function with proper MCP SDK typing.
func (b *ToolBuilder[T]) WithHandler(handler func(context.Context, *mcp.ServerSession, *mcp.CallToolParamsFor[T]) (*mcp.CallToolResultFor[any], error)) *ToolBuilder[T] {
	b.handler = handler
	return b
}

// Build creates the ServerTool with all configured options.
func (b *ToolBuilder[T]) Build() *ServerTool {
	if b.handler == nil {
		panic(fmt.Sprintf("handler not set for tool %s", b.name))
	}

	tool := &mcp.Tool{
		Name:        b.name,
		Description: b.description,
	}
	handler := b.handler

	return &ServerTool{
		Tool:     tool,
		Category: b.category,
		RegisterFunc: func(server *mcp.Server) {
			mcp.AddTool(server, tool, handler)
		},
	}
}

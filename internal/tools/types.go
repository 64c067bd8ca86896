// Package tools provides the tool registry and common types for MCP tools.
package tools

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ServerTool is a tool definition together with the function that adds
// it, with its typed handler, to an MCP server.
type ServerTool struct {
	Tool         *mcp.Tool
	Category     string
	RegisterFunc func(*mcp.Server)
}

// Name returns the tool name.
func (t *ServerTool) Name() string {
	if t == nil || t.Tool == nil {
		return ""
	}
	return t.Tool.Name
}

// Context contains common dependencies needed by tools.
type Context struct {
	Logger    Logger
	Validator Validator
}

// Logger defines the logging interface for tools.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	WithTool(toolName string) Logger
	WithSession(sessionID string) Logger
}

// Validator defines the security validation interface.
type Validator interface {
	ValidateCode(code string) error
	ValidatePath(path string) error
	SanitizePath(path string) (string, error)
}

// Tool categories.
const (
	CategoryExecution = "execution"
	CategoryLifecycle = "lifecycle"
)

// Categories lists every tool category.
var Categories = []string{CategoryExecution, CategoryLifecycle}

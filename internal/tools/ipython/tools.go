// Package ipython provides the MCP tools that drive the IPython kernel.
package ipython

import (
	"context"

	"github.com/kreijstal/mcp-ipython/internal/kernel"
	"github.com/kreijstal/mcp-ipython/internal/prompts"
)

// Kernel is the part of kernel.Manager the tools depend on.
type Kernel interface {
	IsAlive(ctx context.Context) bool
	Start(ctx context.Context) error
	Restart(ctx context.Context) error
	Interrupt(ctx context.Context) error
	Execute(ctx context.Context, code string) (*kernel.ExecutionResult, error)
	Status(ctx context.Context) kernel.Status
}

// History records executed commands.
type History interface {
	Save(command string) error
}

// Options wires the tools to a kernel.
type Options struct {
	Kernel  Kernel
	History History
	Format  kernel.FormatOptions
	Prompts *prompts.ToolPrompts
}

func (o Options) prompts() *prompts.ToolPrompts {
	if o.Prompts == nil {
		return prompts.Default()
	}
	return o.Prompts
}

// SendCommandArgs represents the arguments for the send_command tool.
type SendCommandArgs struct {
	Command string `json:"command" jsonschema:"The Python code or IPython magic to execute"`
}

// ClearKernelArgs represents the arguments for the clear_kernel tool.
type ClearKernelArgs struct{}

// RestartKernelArgs represents the arguments for the restart_kernel tool.
type RestartKernelArgs struct{}

// InterruptKernelArgs represents the arguments for the interrupt_kernel tool.
type InterruptKernelArgs struct{}

// KernelStatusArgs represents the arguments for the kernel_status tool.
type KernelStatusArgs struct {
	Format string `json:"format,omitempty" jsonschema:"Output format: text (default) or json"`
}

// Tool names.
const (
	SendCommandToolName     = "send_command"
	ClearKernelToolName     = "clear_kernel"
	RestartKernelToolName   = "restart_kernel"
	InterruptKernelToolName = "interrupt_kernel"
	KernelStatusToolName    = "kernel_status"
)

// ResetCommand empties the user namespace without prompting.
const ResetCommand = "%reset -f"

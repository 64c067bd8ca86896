package ipython

import (
	"github.com/kreijstal/mcp-ipython/internal/collections"
	"github.com/kreijstal/mcp-ipython/internal/tools"
)

// CreateExecutionTools creates the tools that run code on the kernel.
func CreateExecutionTools(ctx *tools.Context, opts Options) []*tools.ServerTool {
	return []*tools.ServerTool{
		CreateSendCommandTool(ctx, opts),
		CreateClearKernelTool(ctx, opts),
	}
}

// CreateLifecycleTools creates the tools that manage the kernel process.
func CreateLifecycleTools(ctx *tools.Context, opts Options) []*tools.ServerTool {
	return []*tools.ServerTool{
		CreateRestartKernelTool(ctx, opts),
		CreateInterruptKernelTool(ctx, opts),
		CreateKernelStatusTool(ctx, opts),
	}
}

// CreateTools creates every IPython tool.
func CreateTools(ctx *tools.Context, opts Options) []*tools.ServerTool {
	return collections.Concat(CreateExecutionTools(ctx, opts), CreateLifecycleTools(ctx, opts))
}

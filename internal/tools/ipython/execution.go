package ipython

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/kreijstal/mcp-ipython/internal/errors"
	"github.com/kreijstal/mcp-ipython/internal/kernel"
	"github.com/kreijstal/mcp-ipython/internal/prompts"
	"github.com/kreijstal/mcp-ipython/internal/tools"
)

// CreateSendCommandTool creates the send_command tool.
func CreateSendCommandTool(ctx *tools.Context, opts Options) *tools.ServerTool {
	handler := func(ctxReq context.Context, session *mcp.ServerSession, params *mcp.CallToolParamsFor[SendCommandArgs]) (*mcp.CallToolResultFor[any], error) {
		logger := ctx.Logger.WithTool(SendCommandToolName)
		command := params.Arguments.Command

		if ctx.Validator != nil {
			if err := ctx.Validator.ValidateCode(command); err != nil {
				logger.Warn("Rejected command", "error", err)
				return tools.ValidationError("command", err), nil
			}
		}

		return sendCommand(ctxReq, opts, logger, command), nil
	}

	return tools.NewToolBuilder[SendCommandArgs](SendCommandToolName, opts.prompts().SendCommand, ctx).
		WithCategory(tools.CategoryExecution).
		WithHandler(handler).
		Build()
}

// CreateClearKernelTool creates the clear_kernel tool.
func CreateClearKernelTool(ctx *tools.Context, opts Options) *tools.ServerTool {
	handler := func(ctxReq context.Context, session *mcp.ServerSession, params *mcp.CallToolParamsFor[ClearKernelArgs]) (*mcp.CallToolResultFor[any], error) {
		logger := ctx.Logger.WithTool(ClearKernelToolName)
		logger.Info("Attempting to clear IPython kernel environment", "command", ResetCommand)

		result := sendCommand(ctxReq, opts, logger, ResetCommand)
		output := tools.TextOf(result)

		if clearSucceeded(output) {
			return tools.SuccessResponsef(prompts.ClearSuccessTemplate, output), nil
		}
		logger.Warn("Kernel clear reported issues")
		return tools.SuccessResponsef(prompts.ClearIssuesTemplate, output), nil
	}

	return tools.NewToolBuilder[ClearKernelArgs](ClearKernelToolName, opts.prompts().ClearKernel, ctx).
		WithCategory(tools.CategoryExecution).
		WithHandler(handler).
		Build()
}

// sendCommand runs command on the kernel, reviving the kernel first when
// it is not running. A revived kernel does not run the command; the
// caller is asked to send it again.
func sendCommand(ctx context.Context, opts Options, logger tools.Logger, command string) *mcp.CallToolResultFor[any] {
	if !opts.Kernel.IsAlive(ctx) {
		logger.Error("IPython kernel is not running or client not connected")
		logger.Info("Attempting to restart IPython kernel...")
		if err := opts.Kernel.Start(ctx); err != nil {
			logger.Error("Failed to restart IPython kernel", "error", err)
			return tools.TextErrorResponse(fmt.Sprintf(prompts.KernelRestartFailedTemplate, err))
		}
		logger.Info("IPython kernel restarted")
		return tools.TextErrorResponse(prompts.KernelRestartedTemplate)
	}

	if opts.History != nil {
		if err := opts.History.Save(command); err != nil {
			logger.Warn("Failed to save command to history", "error", err)
		}
	}

	logger.Info("Executing command in IPython", "bytes", len(command))
	logger.Debug("Command source", "command", command)

	result, err := opts.Kernel.Execute(ctx, command)
	if err != nil {
		if errors.Is(err, kernel.ErrClientNotReady) {
			logger.Error("Failed to re-establish connection with kernel", "error", err)
			return tools.TextErrorResponse(prompts.ClientNotReadyTemplate)
		}
		logger.Error("Command execution failed", "error", err)
		return tools.WrapError(err, "Failed to execute command")
	}

	logger.Info("Command finished", "status", result.Status, "outputs", len(result.Outputs), "duration", result.Duration)
	return tools.SuccessResponse(kernel.Format(result, opts.Format))
}

// clearSucceeded reports whether a reset produced a clean ok reply.
func clearSucceeded(output string) bool {
	return strings.Contains(output, "Status: ok") && !strings.Contains(strings.ToLower(output), "error")
}

package ipython

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/kreijstal/mcp-ipython/internal/errors"
	"github.com/kreijstal/mcp-ipython/internal/kernel"
	"github.com/kreijstal/mcp-ipython/internal/tools"
)

// StatusReport is the JSON form of the kernel_status answer.
type StatusReport struct {
	Running               bool   `json:"running"`
	Attached              bool   `json:"attached"`
	Pid                   int    `json:"pid,omitempty"`
	StartedAt             string `json:"started_at,omitempty"`
	UptimeSeconds         int64  `json:"uptime_seconds"`
	Restarts              int    `json:"restarts"`
	HeartbeatOK           bool   `json:"heartbeat_ok"`
	ConnectionFile        string `json:"connection_file,omitempty"`
	Session               string `json:"session,omitempty"`
	Implementation        string `json:"implementation,omitempty"`
	ImplementationVersion string `json:"implementation_version,omitempty"`
	ProtocolVersion       string `json:"protocol_version,omitempty"`
	Language              string `json:"language,omitempty"`
	LanguageVersion       string `json:"language_version,omitempty"`
}

// NewStatusReport converts a kernel status snapshot taken at now.
func NewStatusReport(st kernel.Status, now time.Time) StatusReport {
	report := StatusReport{
		Running:               st.Running,
		Attached:              st.Attached,
		Pid:                   st.Pid,
		Restarts:              st.Restarts,
		HeartbeatOK:           st.HeartbeatOK,
		ConnectionFile:        st.ConnectionFile,
		Session:               st.Session,
		Implementation:        st.Implementation,
		ImplementationVersion: st.ImplementationVersion,
		ProtocolVersion:       st.ProtocolVersion,
		Language:              st.Language,
		LanguageVersion:       st.LanguageVersion,
	}
	if !st.StartedAt.IsZero() {
		report.StartedAt = st.StartedAt.UTC().Format(time.RFC3339)
		report.UptimeSeconds = int64(now.Sub(st.StartedAt) / time.Second)
	}
	return report
}

// FormatStatus renders a status snapshot for humans.
func FormatStatus(st kernel.Status, now time.Time) string {
	var b strings.Builder

	state := "stopped"
	if st.Running {
		state = "running"
	}
	mode := "owned"
	if st.Attached {
		mode = "attached"
	}
	fmt.Fprintf(&b, "IPython kernel: %s (%s)\n", state, mode)

	if st.Pid > 0 {
		fmt.Fprintf(&b, "  PID: %d\n", st.Pid)
	}
	if !st.StartedAt.IsZero() {
		uptime := strings.TrimSpace(humanize.RelTime(st.StartedAt, now, "", ""))
		fmt.Fprintf(&b, "  Uptime: %s (started %s)\n", uptime, st.StartedAt.Format(time.RFC3339))
	}
	fmt.Fprintf(&b, "  Restarts: %d\n", st.Restarts)

	heartbeat := "no answer"
	if st.HeartbeatOK {
		heartbeat = "ok"
	}
	fmt.Fprintf(&b, "  Heartbeat: %s\n", heartbeat)

	if st.Language != "" {
		fmt.Fprintf(&b, "  Language: %s %s\n", st.Language, st.LanguageVersion)
	}
	if st.Implementation != "" {
		fmt.Fprintf(&b, "  Implementation: %s %s (protocol %s)\n", st.Implementation, st.ImplementationVersion, st.ProtocolVersion)
	}
	if st.ConnectionFile != "" {
		fmt.Fprintf(&b, "  Connection file: %s\n", st.ConnectionFile)
	}

	return strings.TrimRight(b.String(), "\n")
}

// CreateRestartKernelTool creates the restart_kernel tool.
func CreateRestartKernelTool(ctx *tools.Context, opts Options) *tools.ServerTool {
	handler := func(ctxReq context.Context, session *mcp.ServerSession, params *mcp.CallToolParamsFor[RestartKernelArgs]) (*mcp.CallToolResultFor[any], error) {
		logger := ctx.Logger.WithTool(RestartKernelToolName)
		logger.Info("Restarting IPython kernel")

		if err := opts.Kernel.Restart(ctxReq); err != nil {
			logger.Error("Failed to restart IPython kernel", "error", err)
			return tools.WrapError(err, "Failed to restart IPython kernel"), nil
		}

		st := opts.Kernel.Status(ctxReq)
		return tools.SuccessResponse("IPython kernel restarted. All variables have been cleared.\n" + FormatStatus(st, time.Now())), nil
	}

	return tools.NewToolBuilder[RestartKernelArgs](RestartKernelToolName, opts.prompts().RestartKernel, ctx).
		WithCategory(tools.CategoryLifecycle).
		WithHandler(handler).
		Build()
}

// CreateInterruptKernelTool creates the interrupt_kernel tool.
func CreateInterruptKernelTool(ctx *tools.Context, opts Options) *tools.ServerTool {
	handler := func(ctxReq context.Context, session *mcp.ServerSession, params *mcp.CallToolParamsFor[InterruptKernelArgs]) (*mcp.CallToolResultFor[any], error) {
		logger := ctx.Logger.WithTool(InterruptKernelToolName)

		if err := opts.Kernel.Interrupt(ctxReq); err != nil {
			if errors.Is(err, errors.ErrKernelNotRunning) {
				return tools.ErrorResponse("IPython kernel is not running."), nil
			}
			logger.Error("Failed to interrupt IPython kernel", "error", err)
			return tools.WrapError(err, "Failed to interrupt IPython kernel"), nil
		}

		logger.Info("Interrupt sent to IPython kernel")
		return tools.SuccessResponse("Interrupt sent to IPython kernel."), nil
	}

	return tools.NewToolBuilder[InterruptKernelArgs](InterruptKernelToolName, opts.prompts().InterruptKernel, ctx).
		WithCategory(tools.CategoryLifecycle).
		WithHandler(handler).
		Build()
}

// CreateKernelStatusTool creates the kernel_status tool.
func CreateKernelStatusTool(ctx *tools.Context, opts Options) *tools.ServerTool {
	handler := func(ctxReq context.Context, session *mcp.ServerSession, params *mcp.CallToolParamsFor[KernelStatusArgs]) (*mcp.CallToolResultFor[any], error) {
		st := opts.Kernel.Status(ctxReq)
		now := time.Now()

		switch strings.ToLower(params.Arguments.Format) {
		case "", "text":
			return tools.SuccessResponse(FormatStatus(st, now)), nil
		case "json":
			return tools.JSONResponse(NewStatusReport(st, now)), nil
		default:
			return tools.ErrorResponsef("unsupported format %q (use text or json)", params.Arguments.Format), nil
		}
	}

	return tools.NewToolBuilder[KernelStatusArgs](KernelStatusToolName, opts.prompts().KernelStatus, ctx).
		WithCategory(tools.CategoryLifecycle).
		WithHandler(handler).
		Build()
}

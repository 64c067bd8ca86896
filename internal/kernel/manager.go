package kernel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kreijstal/mcp-ipython/internal/errors"
	"github.com/kreijstal/mcp-ipython/internal/jupyter"
	"github.com/kreijstal/mcp-ipython/internal/logging"
)

// heartbeatTimeout bounds liveness pings to attached kernels.
const heartbeatTimeout = time.Second

// channelRetryDelay spaces channel connection attempts while a kernel is
// still binding its ports.
const channelRetryDelay = 250 * time.Millisecond

// KernelProcess is a kernel process started by a ProcessLauncher.
type KernelProcess interface {
	Pid() int
	StartedAt() time.Time
	ConnectionFile() string
	Alive() bool
	Done() <-chan struct{}
	Wait(timeout time.Duration) error
	Kill() error
	Interrupt() error
	Stderr() string
}

// ProcessLauncher starts kernel processes for a connection description.
type ProcessLauncher interface {
	Start(ctx context.Context, kernelID string, info *jupyter.ConnectionInfo) (KernelProcess, error)
	Cleanup(kernelID string) error
}

var _ KernelProcess = (*Process)(nil)
var _ ProcessLauncher = (*Launcher)(nil)

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	// Launcher starts owned kernels. Unused when Existing is set.
	Launcher ProcessLauncher
	Dialer   Dialer
	// Existing is the connection file of a kernel to attach to instead
	// of launching one.
	Existing string
	// IP is the address launched kernels bind.
	IP              string
	StartupTimeout  time.Duration
	ShutdownTimeout time.Duration
	Executor        ExecutorOptions
	Logger          *logging.Logger
}

// Status is a snapshot of the kernel state.
type Status struct {
	Running        bool
	Attached       bool
	Pid            int
	StartedAt      time.Time
	Restarts       int
	ConnectionFile string
	Session        string
	HeartbeatOK    bool

	Implementation        string
	ImplementationVersion string
	ProtocolVersion       string
	Language              string
	LanguageVersion       string
}

// Manager owns the lifecycle of one kernel.
type Manager struct {
	mu       sync.Mutex
	opts     ManagerOptions
	launcher ProcessLauncher
	logger   *logging.Logger

	kernelID   string
	info       *jupyter.ConnectionInfo
	proc       KernelProcess
	client     *Client
	executor   *Executor
	kernelInfo *jupyter.KernelInfoReply
	startedAt  time.Time
	restarts   int
}

// NewManager creates a manager. No kernel is started until Start.
func NewManager(opts ManagerOptions) *Manager {
	if opts.StartupTimeout <= 0 {
		opts.StartupTimeout = 30 * time.Second
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}
	if opts.IP == "" {
		opts.IP = "127.0.0.1"
	}
	if opts.Dialer == nil {
		opts.Dialer = ZMQDialer{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Executor.Logger == nil {
		opts.Executor.Logger = opts.Logger
	}
	return &Manager{
		opts:     opts,
		launcher: opts.Launcher,
		logger:   opts.Logger,
	}
}

// Attached reports whether the manager attaches to an existing kernel
// rather than launching its own.
func (m *Manager) Attached() bool {
	return m.opts.Existing != ""
}

// Start launches (or attaches to) the kernel and waits until it answers
// kernel_info_request. It is a no-op when the kernel is alive.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startLocked(ctx)
}

func (m *Manager) startLocked(ctx context.Context) error {
	if m.aliveLocked(ctx) {
		m.logger.Info("IPython kernel already running.")
		return nil
	}
	// Clear whatever is left of a dead kernel.
	m.shutdownLocked(ctx, true)

	m.logger.Info("Starting IPython kernel...")
	if err := m.connectLocked(ctx); err != nil {
		m.shutdownLocked(ctx, true)
		return err
	}
	if err := m.waitReadyLocked(ctx); err != nil {
		m.shutdownLocked(ctx, true)
		return err
	}

	m.startedAt = time.Now()
	m.executor = NewExecutor(m.client, m.opts.Executor)
	m.logger.Info("IPython kernel client connected and ready.")
	return nil
}

// connectLocked resolves connection info, launches the process when the
// kernel is owned and creates the client. Channels are opened by
// waitReadyLocked.
func (m *Manager) connectLocked(ctx context.Context) error {
	if m.Attached() {
		info, err := jupyter.ReadConnectionFile(m.opts.Existing)
		if err != nil {
			return errors.ConfigurationWithCause("cannot attach to existing kernel", err)
		}
		m.info = info
	} else {
		if m.launcher == nil {
			return errors.Configuration("no kernel launcher configured")
		}
		info, err := jupyter.NewConnectionInfo(m.opts.IP, uuid.NewString())
		if err != nil {
			return errors.Wrap(err, "failed to allocate kernel ports")
		}
		m.kernelID = uuid.NewString()
		proc, err := m.launcher.Start(ctx, m.kernelID, info)
		if err != nil {
			return err
		}
		m.info = info
		m.proc = proc
		m.logger.Info("IPython kernel process started.", "pid", proc.Pid())
	}

	client, err := NewClient(m.info, ClientOptions{Dialer: m.opts.Dialer, Logger: m.logger})
	if err != nil {
		return err
	}
	m.client = client
	return nil
}

// waitReadyLocked opens the channels and waits for kernel_info_reply, all
// within StartupTimeout. It gives up early if an owned process exits.
func (m *Manager) waitReadyLocked(ctx context.Context) error {
	deadline := time.Now().Add(m.opts.StartupTimeout)
	waitCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	if m.proc != nil {
		done := m.proc.Done()
		go func() {
			select {
			case <-done:
				cancel()
			case <-waitCtx.Done():
			}
		}()
	}

	err := m.startChannelsLocked(waitCtx)
	if err == nil {
		var info *jupyter.KernelInfoReply
		info, err = m.client.WaitForReady(waitCtx, time.Until(deadline))
		if err == nil {
			m.kernelInfo = info
			return nil
		}
	}

	if m.proc != nil && !m.proc.Alive() {
		m.logger.Error("Kernel process exited during startup", "stderr", m.proc.Stderr())
		return &KernelStartError{Stderr: m.proc.Stderr(), Err: errors.New("kernel process exited during startup")}
	}

	m.logger.Error("Timeout waiting for IPython kernel to be ready.", logging.Err(err))
	if errors.Is(err, errors.ErrKernelNotReady) {
		return err
	}
	return fmt.Errorf("%w: %v", errors.ErrKernelNotReady, err)
}

// startChannelsLocked connects the client, retrying until ctx is done. A
// freshly launched kernel refuses connections until it has bound its ports.
func (m *Manager) startChannelsLocked(ctx context.Context) error {
	for attempt := 1; ; attempt++ {
		err := m.client.StartChannels(ctx)
		if err == nil {
			m.logger.Info("IPython kernel client channels started.", "attempts", attempt)
			return nil
		}
		m.logger.Debug("Kernel channels not reachable yet", "attempt", attempt, logging.Err(err))

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", errors.ErrKernelNotReady, err)
		case <-time.After(channelRetryDelay):
		}
	}
}

// IsAlive reports whether the kernel can take requests: an owned kernel's
// process is running, an attached kernel answers heartbeats.
func (m *Manager) IsAlive(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.aliveLocked(ctx)
}

func (m *Manager) aliveLocked(ctx context.Context) bool {
	if m.client == nil || m.executor == nil {
		return false
	}
	if m.proc != nil {
		return m.proc.Alive()
	}
	return m.client.Ping(ctx, heartbeatTimeout) == nil
}

// Execute runs code on the kernel. The manager lock is not held while the
// code runs so Interrupt and Status stay responsive.
func (m *Manager) Execute(ctx context.Context, code string) (*ExecutionResult, error) {
	m.mu.Lock()
	executor := m.executor
	m.mu.Unlock()

	if executor == nil {
		return nil, errors.ErrKernelNotRunning
	}
	return executor.Run(ctx, code)
}

// Restart restarts the kernel in place. Owned kernels are relaunched on
// the same ports; attached kernels are asked to restart by their manager.
func (m *Manager) Restart(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client == nil {
		return m.startLocked(ctx)
	}

	m.logger.Info("Restarting IPython kernel...")

	if m.client.ChannelsRunning() {
		if err := m.client.Shutdown(ctx, true, m.opts.ShutdownTimeout); err != nil {
			m.logger.Warn("Kernel did not acknowledge restart request", logging.Err(err))
		}
	}
	m.client.StopChannels()

	if m.proc != nil {
		m.stopProcessLocked(false)
		proc, err := m.launcher.Start(ctx, m.kernelID, m.info)
		if err != nil {
			m.resetLocked()
			return err
		}
		m.proc = proc
	}

	if err := m.waitReadyLocked(ctx); err != nil {
		m.shutdownLocked(ctx, true)
		return err
	}

	m.restarts++
	m.startedAt = time.Now()
	m.logger.Info("IPython kernel restarted.", "restarts", m.restarts)
	return nil
}

// Interrupt interrupts the running execution. Owned kernels get SIGINT;
// attached kernels, or platforms without signals, get interrupt_request.
func (m *Manager) Interrupt(ctx context.Context) error {
	m.mu.Lock()
	proc, client := m.proc, m.client
	m.mu.Unlock()

	if client == nil {
		return errors.ErrKernelNotRunning
	}
	if proc != nil {
		err := proc.Interrupt()
		if err == nil {
			return nil
		}
		m.logger.Debug("Signal interrupt failed, using interrupt_request", logging.Err(err))
	}
	return client.Interrupt(ctx, m.opts.ShutdownTimeout)
}

// Shutdown stops the channels and, for owned kernels, the process. With
// now set the process is killed immediately; otherwise it is asked to
// exit first. Attached kernels are only disconnected. Calling Shutdown
// again is a no-op.
func (m *Manager) Shutdown(ctx context.Context, now bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdownLocked(ctx, now)
}

func (m *Manager) shutdownLocked(ctx context.Context, now bool) {
	if m.client == nil && m.proc == nil {
		return
	}
	m.logger.Info("Attempting to shutdown IPython kernel...")

	if m.client != nil {
		if !now && m.proc != nil && m.client.ChannelsRunning() {
			if err := m.client.Shutdown(ctx, false, m.opts.ShutdownTimeout); err != nil {
				m.logger.Warn("Kernel did not acknowledge shutdown request", logging.Err(err))
			}
		}
		m.client.StopChannels()
		m.logger.Info("IPython kernel client channels stopped.")
	}

	if m.proc != nil {
		m.stopProcessLocked(now)
		if err := m.launcher.Cleanup(m.kernelID); err != nil {
			m.logger.Warn("Failed to remove connection file", logging.Err(err))
		}
	}

	m.resetLocked()
	m.logger.Info("IPython kernel shutdown process complete.")
}

// stopProcessLocked waits for the process to exit, killing it right away
// when now is set or after the shutdown timeout otherwise.
func (m *Manager) stopProcessLocked(now bool) {
	if !m.proc.Alive() {
		return
	}
	if !now {
		if err := m.proc.Wait(m.opts.ShutdownTimeout); !errors.Is(err, errors.ErrTimeout) {
			return
		}
	}
	if err := m.proc.Kill(); err != nil {
		m.logger.Warn("Failed to kill kernel process", logging.Err(err))
		return
	}
	if err := m.proc.Wait(m.opts.ShutdownTimeout); errors.Is(err, errors.ErrTimeout) {
		m.logger.Warn("Timeout waiting for kernel process to terminate.")
		return
	}
	m.logger.Info("IPython kernel process terminated.")
}

func (m *Manager) resetLocked() {
	m.client = nil
	m.executor = nil
	m.proc = nil
	m.kernelInfo = nil
	m.startedAt = time.Time{}
}

// Status returns a snapshot of the kernel state. Attached or running
// kernels are pinged on the heartbeat channel.
func (m *Manager) Status(ctx context.Context) Status {
	m.mu.Lock()
	st := Status{
		Attached:  m.Attached(),
		StartedAt: m.startedAt,
		Restarts:  m.restarts,
	}
	client, proc, kinfo := m.client, m.proc, m.kernelInfo
	if m.Attached() {
		st.ConnectionFile = m.opts.Existing
	}
	m.mu.Unlock()

	if proc != nil {
		st.Pid = proc.Pid()
		st.ConnectionFile = proc.ConnectionFile()
		st.Running = proc.Alive()
	}
	if client != nil {
		st.Session = client.Session()
		st.HeartbeatOK = client.Ping(ctx, heartbeatTimeout) == nil
		if proc == nil {
			st.Running = st.HeartbeatOK
		}
	}
	if kinfo != nil {
		st.Implementation = kinfo.Implementation
		st.ImplementationVersion = kinfo.ImplementationVersion
		st.ProtocolVersion = kinfo.ProtocolVersion
		st.Language = kinfo.LanguageInfo.Name
		st.LanguageVersion = kinfo.LanguageInfo.Version
	}
	return st
}

package kernel

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kerrors "github.com/kreijstal/mcp-ipython/internal/errors"
	"github.com/kreijstal/mcp-ipython/internal/jupyter"
)

func newTestManager(t *testing.T) (*Manager, *fakeLauncher, *fakeKernel) {
	t.Helper()
	k := newFakeKernel(t)
	launcher := &fakeLauncher{kernel: k}
	m := NewManager(ManagerOptions{
		Launcher:        launcher,
		Dialer:          k,
		StartupTimeout:  2 * time.Second,
		ShutdownTimeout: 50 * time.Millisecond,
		Executor: ExecutorOptions{
			IOPubTimeout:      2 * time.Second,
			PollInterval:      50 * time.Millisecond,
			RetryDelay:        5 * time.Millisecond,
			ShellReplyTimeout: time.Second,
		},
	})
	t.Cleanup(func() { m.Shutdown(context.Background(), true) })
	return m, launcher, k
}

func TestManager_StartExecuteShutdown(t *testing.T) {
	m, launcher, _ := newTestManager(t)
	ctx := context.Background()

	assert.False(t, m.IsAlive(ctx))
	_, err := m.Execute(ctx, "1")
	assert.ErrorIs(t, err, kerrors.ErrKernelNotRunning)

	require.NoError(t, m.Start(ctx))
	assert.True(t, m.IsAlive(ctx))

	// Start on a live kernel is a no-op.
	require.NoError(t, m.Start(ctx))
	assert.Len(t, launcher.procs, 1)

	result, err := m.Execute(ctx, "print(1)")
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Status)
	assert.Contains(t, Format(result, FormatOptions{}), "  Stdout: print(1)")

	proc := launcher.last()
	m.Shutdown(ctx, true)
	assert.False(t, m.IsAlive(ctx))
	assert.False(t, proc.Alive())
	assert.Equal(t, 1, proc.kills)
	assert.Len(t, launcher.cleanups, 1)

	// Shutdown is idempotent.
	m.Shutdown(ctx, true)
	assert.Len(t, launcher.cleanups, 1)
}

func TestManager_GracefulShutdown(t *testing.T) {
	m, launcher, k := newTestManager(t)
	ctx := context.Background()
	require.NoError(t, m.Start(ctx))

	proc := launcher.last()
	proc.exitOnWait = true
	m.Shutdown(ctx, false)

	assert.Contains(t, k.requestTypes(), jupyter.MsgShutdownRequest)
	assert.Equal(t, 0, proc.kills)
	assert.False(t, proc.Alive())
}

func TestManager_GracefulShutdownKillsStuckProcess(t *testing.T) {
	m, launcher, _ := newTestManager(t)
	ctx := context.Background()
	require.NoError(t, m.Start(ctx))

	proc := launcher.last()
	m.Shutdown(ctx, false)
	assert.Equal(t, 1, proc.kills)
}

func TestManager_StartNotReady(t *testing.T) {
	m, launcher, k := newTestManager(t)
	m.opts.StartupTimeout = 100 * time.Millisecond
	k.setSilent(true)

	err := m.Start(context.Background())
	assert.ErrorIs(t, err, kerrors.ErrKernelNotReady)
	assert.Equal(t, "failed to connect to IPython kernel in time", kerrors.ErrKernelNotReady.Error())

	proc := launcher.last()
	require.NotNil(t, proc)
	assert.False(t, proc.Alive())
	assert.False(t, m.IsAlive(context.Background()))
}

func TestManager_ProcessExitsDuringStartup(t *testing.T) {
	m, launcher, k := newTestManager(t)
	k.setSilent(true)

	go func() {
		for launcher.last() == nil {
			time.Sleep(time.Millisecond)
		}
		launcher.last().exit()
	}()

	start := time.Now()
	err := m.Start(context.Background())
	var startErr *KernelStartError
	require.True(t, errors.As(err, &startErr), "got %v", err)
	assert.Equal(t, "fake stderr", startErr.Stderr)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestManager_LaunchFailure(t *testing.T) {
	m, launcher, _ := newTestManager(t)
	launcher.startErr = &InterpreterNotFoundError{SearchedPaths: []string{"$PATH/python3"}}

	err := m.Start(context.Background())
	var notFound *InterpreterNotFoundError
	assert.True(t, errors.As(err, &notFound))
	assert.False(t, m.IsAlive(context.Background()))
}

func TestManager_DeadKernelIsRestartedByStart(t *testing.T) {
	m, launcher, _ := newTestManager(t)
	ctx := context.Background()
	require.NoError(t, m.Start(ctx))

	launcher.last().exit()
	assert.False(t, m.IsAlive(ctx))

	require.NoError(t, m.Start(ctx))
	assert.True(t, m.IsAlive(ctx))
	assert.Len(t, launcher.procs, 2)
}

func TestManager_Restart(t *testing.T) {
	m, launcher, k := newTestManager(t)
	ctx := context.Background()
	require.NoError(t, m.Start(ctx))
	first := launcher.last()
	first.exitOnWait = true

	require.NoError(t, m.Restart(ctx))

	assert.Len(t, launcher.procs, 2)
	assert.False(t, first.Alive())
	assert.Same(t, launcher.infos[0], launcher.infos[1])
	assert.Contains(t, k.requestTypes(), jupyter.MsgShutdownRequest)

	st := m.Status(ctx)
	assert.Equal(t, 1, st.Restarts)
	assert.Equal(t, launcher.last().Pid(), st.Pid)

	result, err := m.Execute(ctx, "x = 1")
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Status)
}

func TestManager_RestartWithoutKernelStarts(t *testing.T) {
	m, launcher, _ := newTestManager(t)
	require.NoError(t, m.Restart(context.Background()))
	assert.Len(t, launcher.procs, 1)
	assert.True(t, m.IsAlive(context.Background()))
}

func TestManager_StartWaitsForLateBind(t *testing.T) {
	m, _, k := newTestManager(t)
	k.bindAfter(700 * time.Millisecond)

	start := time.Now()
	require.NoError(t, m.Start(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 700*time.Millisecond)
	assert.Greater(t, k.refusedDials(), 1)
	assert.True(t, m.IsAlive(context.Background()))

	result, err := m.Execute(context.Background(), "print(2)")
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Status)
}

func TestManager_StartGivesUpWhenPortsNeverBind(t *testing.T) {
	m, launcher, k := newTestManager(t)
	m.opts.StartupTimeout = 300 * time.Millisecond
	k.bindAfter(time.Hour)

	err := m.Start(context.Background())
	assert.ErrorIs(t, err, kerrors.ErrKernelNotReady)
	require.NotNil(t, launcher.last())
	assert.False(t, launcher.last().Alive())
	assert.False(t, m.IsAlive(context.Background()))
}

func TestManager_RestartWaitsForLateBind(t *testing.T) {
	m, launcher, k := newTestManager(t)
	ctx := context.Background()
	require.NoError(t, m.Start(ctx))
	launcher.last().exitOnWait = true

	k.bindAfter(500 * time.Millisecond)
	require.NoError(t, m.Restart(ctx))
	assert.Greater(t, k.refusedDials(), 0)
	assert.Equal(t, 1, m.Status(ctx).Restarts)
}

func TestManager_Interrupt(t *testing.T) {
	m, launcher, k := newTestManager(t)
	ctx := context.Background()

	assert.ErrorIs(t, m.Interrupt(ctx), kerrors.ErrKernelNotRunning)

	require.NoError(t, m.Start(ctx))
	proc := launcher.last()
	require.NoError(t, m.Interrupt(ctx))
	assert.Equal(t, 1, proc.interrupts)
	assert.NotContains(t, k.requestTypes(), jupyter.MsgInterruptRequest)

	// Without signal support the control channel is used.
	proc.interruptFn = func() error { return errors.New("unsupported") }
	require.NoError(t, m.Interrupt(ctx))
	assert.Contains(t, k.requestTypes(), jupyter.MsgInterruptRequest)
}

func TestManager_Status(t *testing.T) {
	m, launcher, _ := newTestManager(t)
	ctx := context.Background()

	st := m.Status(ctx)
	assert.False(t, st.Running)

	require.NoError(t, m.Start(ctx))
	st = m.Status(ctx)
	assert.True(t, st.Running)
	assert.False(t, st.Attached)
	assert.True(t, st.HeartbeatOK)
	assert.Equal(t, launcher.last().Pid(), st.Pid)
	assert.Equal(t, "ipython", st.Implementation)
	assert.Equal(t, "python", st.Language)
	assert.Equal(t, "3.12.1", st.LanguageVersion)
	assert.NotEmpty(t, st.Session)
	assert.False(t, st.StartedAt.IsZero())
}

func TestManager_AttachExisting(t *testing.T) {
	k := newFakeKernel(t)
	data, err := json.Marshal(k.info)
	require.NoError(t, err)
	connFile := filepath.Join(t.TempDir(), "kernel-existing.json")
	require.NoError(t, os.WriteFile(connFile, data, 0o600))

	m := NewManager(ManagerOptions{
		Dialer:          k,
		Existing:        connFile,
		StartupTimeout:  2 * time.Second,
		ShutdownTimeout: 50 * time.Millisecond,
	})
	ctx := context.Background()
	require.True(t, m.Attached())

	require.NoError(t, m.Start(ctx))
	assert.True(t, m.IsAlive(ctx))

	st := m.Status(ctx)
	assert.True(t, st.Attached)
	assert.Equal(t, connFile, st.ConnectionFile)
	assert.Zero(t, st.Pid)

	// A kernel that stops answering heartbeats is not alive.
	k.setHeartbeat(false)
	assert.False(t, m.IsAlive(ctx))
	k.setHeartbeat(true)

	// Shutting down only disconnects.
	m.Shutdown(ctx, false)
	assert.NotContains(t, k.requestTypes(), jupyter.MsgShutdownRequest)
	assert.False(t, m.IsAlive(ctx))
}

func TestManager_AttachMissingFile(t *testing.T) {
	m := NewManager(ManagerOptions{Existing: filepath.Join(t.TempDir(), "missing.json")})
	err := m.Start(context.Background())
	assert.True(t, kerrors.Is(err, kerrors.ErrConfiguration))
}

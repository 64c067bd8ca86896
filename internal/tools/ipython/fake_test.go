package ipython

import (
	"context"
	"sync"
	"time"

	"github.com/kreijstal/mcp-ipython/internal/kernel"
	"github.com/kreijstal/mcp-ipython/internal/security"
	"github.com/kreijstal/mcp-ipython/internal/tools"
)

type nopLogger struct{}

func (nopLogger) Debug(string, ...any)              {}
func (nopLogger) Info(string, ...any)               {}
func (nopLogger) Warn(string, ...any)               {}
func (nopLogger) Error(string, ...any)              {}
func (l nopLogger) WithTool(string) tools.Logger    { return l }
func (l nopLogger) WithSession(string) tools.Logger { return l }

func newToolContext() *tools.Context {
	return &tools.Context{
		Logger:    nopLogger{},
		Validator: security.NewDefaultValidator(),
	}
}

// fakeKernel records calls and answers with canned results.
type fakeKernel struct {
	mu sync.Mutex

	alive      bool
	startErr   error
	restartErr error
	interrupt  error
	result     *kernel.ExecutionResult
	execErr    error
	status     kernel.Status

	starts     int
	restarts   int
	interrupts int
	executed   []string
}

func (k *fakeKernel) IsAlive(context.Context) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.alive
}

func (k *fakeKernel) Start(context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.starts++
	if k.startErr != nil {
		return k.startErr
	}
	k.alive = true
	return nil
}

func (k *fakeKernel) Restart(context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.restarts++
	if k.restartErr != nil {
		return k.restartErr
	}
	k.alive = true
	k.status.Restarts++
	return nil
}

func (k *fakeKernel) Interrupt(context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.interrupts++
	return k.interrupt
}

func (k *fakeKernel) Execute(_ context.Context, code string) (*kernel.ExecutionResult, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.executed = append(k.executed, code)
	if k.execErr != nil {
		return nil, k.execErr
	}
	if k.result != nil {
		return k.result, nil
	}
	return &kernel.ExecutionResult{Status: "ok", ExecutionCount: len(k.executed), Duration: time.Millisecond}, nil
}

func (k *fakeKernel) Status(context.Context) kernel.Status {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.status
}

type memHistory struct {
	mu       sync.Mutex
	commands []string
	err      error
}

func (h *memHistory) Save(command string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return h.err
	}
	h.commands = append(h.commands, command)
	return nil
}

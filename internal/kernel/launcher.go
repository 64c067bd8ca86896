package kernel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/kreijstal/mcp-ipython/internal/errors"
	"github.com/kreijstal/mcp-ipython/internal/jupyter"
	"github.com/kreijstal/mcp-ipython/internal/logging"
	"github.com/kreijstal/mcp-ipython/internal/storage"
)

// maxStderrBufferSize caps the stderr kept for error reports. Reading
// continues past the cap; only the buffer stops growing.
const maxStderrBufferSize = 64 * 1024

// LauncherOptions configures a Launcher.
type LauncherOptions struct {
	// Python is an explicit interpreter path that skips discovery.
	Python string
	// ExtraArgs are appended to the ipykernel_launcher command line.
	ExtraArgs []string
	// Store receives the connection file. Required for Launch.
	Store  *storage.ConnectionStore
	Logger *logging.Logger
}

// Launcher starts ipykernel processes.
type Launcher struct {
	python    string
	extraArgs []string
	store     *storage.ConnectionStore
	logger    *logging.Logger

	lookPath func(string) (string, error)
	stat     func(string) (os.FileInfo, error)
}

// NewLauncher creates a launcher.
func NewLauncher(opts LauncherOptions) *Launcher {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Launcher{
		python:    opts.Python,
		extraArgs: append([]string(nil), opts.ExtraArgs...),
		store:     opts.Store,
		logger:    logger,
		lookPath:  exec.LookPath,
		stat:      os.Stat,
	}
}

// FindPython locates the interpreter used to run the kernel.
func (l *Launcher) FindPython() (string, error) {
	// If explicit path provided, use it and only it
	if l.python != "" {
		if filepath.Base(l.python) == l.python {
			if path, err := l.lookPath(l.python); err == nil {
				return path, nil
			}
		} else if _, err := l.stat(l.python); err == nil {
			return l.python, nil
		}
		return "", &InterpreterNotFoundError{SearchedPaths: []string{l.python}}
	}

	searchedPaths := make([]string, 0, 8)

	for _, name := range []string{"python3", "python"} {
		if path, err := l.lookPath(name); err == nil {
			l.logger.Debug("Found interpreter in PATH", "name", name, "path", path)
			return path, nil
		}
		searchedPaths = append(searchedPaths, "$PATH/"+name)
	}

	for _, path := range commonPythonPaths() {
		searchedPaths = append(searchedPaths, path)
		if _, err := l.stat(path); err == nil {
			l.logger.Debug("Found interpreter at common path", "path", path)
			return path, nil
		}
	}

	l.logger.Warn("Python interpreter not found", "searched_paths", searchedPaths)
	return "", &InterpreterNotFoundError{SearchedPaths: searchedPaths}
}

func commonPythonPaths() []string {
	if runtime.GOOS == "windows" {
		return nil
	}

	paths := []string{
		"/usr/local/bin/python3",
		"/usr/bin/python3",
		"/opt/homebrew/bin/python3",
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		paths = append(paths,
			filepath.Join(homeDir, ".local/bin/python3"),
			filepath.Join(homeDir, "miniconda3/bin/python3"),
			filepath.Join(homeDir, "anaconda3/bin/python3"),
		)
	}
	return paths
}

// Command returns the argv used to start a kernel for connFile.
func (l *Launcher) Command(python, connFile string) []string {
	args := []string{python, "-m", "ipykernel_launcher", "-f", connFile}
	return append(args, l.extraArgs...)
}

// Launch writes the connection file for kernelID and starts the kernel.
// The process is not tied to ctx; it lives until killed.
func (l *Launcher) Launch(ctx context.Context, kernelID string, info *jupyter.ConnectionInfo) (*Process, error) {
	if l.store == nil {
		return nil, errors.Configuration("launcher has no connection store")
	}

	python, err := l.FindPython()
	if err != nil {
		return nil, err
	}

	connFile, err := l.store.Write(kernelID, info)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		_ = l.store.Remove(kernelID)
		return nil, err
	}

	argv := l.Command(python, connFile)
	l.logger.Info("Starting IPython kernel", "python", python, "connection_file", connFile)

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdout = io.Discard

	stderr, err := cmd.StderrPipe()
	if err != nil {
		_ = l.store.Remove(kernelID)
		return nil, &KernelStartError{Python: python, Err: fmt.Errorf("stderr pipe: %w", err)}
	}

	if err := cmd.Start(); err != nil {
		_ = l.store.Remove(kernelID)
		return nil, &KernelStartError{Python: python, Err: err}
	}

	proc := &Process{
		cmd:            cmd,
		python:         python,
		connectionFile: connFile,
		started:        time.Now(),
		done:           make(chan struct{}),
	}

	logger := l.logger.WithKernel(kernelID)
	var stderrWg sync.WaitGroup
	stderrWg.Add(1)
	go func() {
		defer stderrWg.Done()
		proc.readStderr(stderr, logger)
	}()

	go func() {
		// Stderr must be drained before Wait closes the pipe.
		stderrWg.Wait()
		err := cmd.Wait()

		proc.mu.Lock()
		proc.waitErr = err
		proc.mu.Unlock()
		close(proc.done)

		logger.Debug("Kernel process exited", "pid", proc.Pid(), logging.Err(err))
	}()

	logger.Info("IPython kernel process started", "pid", proc.Pid())
	return proc, nil
}

// Start implements ProcessLauncher.
func (l *Launcher) Start(ctx context.Context, kernelID string, info *jupyter.ConnectionInfo) (KernelProcess, error) {
	proc, err := l.Launch(ctx, kernelID, info)
	if err != nil {
		return nil, err
	}
	return proc, nil
}

// Cleanup removes the connection file written for kernelID.
func (l *Launcher) Cleanup(kernelID string) error {
	if l.store == nil {
		return nil
	}
	return l.store.Remove(kernelID)
}

// CheckIPyKernel runs the interpreter and reports the installed ipykernel
// version.
func (l *Launcher) CheckIPyKernel(ctx context.Context) (python, version string, err error) {
	python, err = l.FindPython()
	if err != nil {
		return "", "", err
	}

	out, err := exec.CommandContext(ctx, python, "-c", "import ipykernel; print(ipykernel.__version__)").CombinedOutput()
	if err != nil {
		return python, "", fmt.Errorf("ipykernel is not importable by %s: %w\n%s", python, err, strings.TrimSpace(string(out)))
	}
	return python, strings.TrimSpace(string(out)), nil
}

// Process is a running kernel process.
type Process struct {
	cmd            *exec.Cmd
	python         string
	connectionFile string
	started        time.Time
	done           chan struct{}

	mu      sync.Mutex
	waitErr error
	stderr  strings.Builder
}

// Pid returns the process id.
func (p *Process) Pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// StartedAt returns when the process was started.
func (p *Process) StartedAt() time.Time {
	return p.started
}

// ConnectionFile returns the connection file passed to the kernel.
func (p *Process) ConnectionFile() string {
	return p.connectionFile
}

// Alive reports whether the process has not exited yet.
func (p *Process) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// Done is closed when the process exits.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Wait waits up to timeout for the process to exit and returns its exit
// error, or an ErrTimeout error if it is still running.
func (p *Process) Wait(timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-p.done:
		return p.ExitErr()
	case <-timer.C:
		return errors.Timeout(fmt.Sprintf("kernel process %d still running after %s", p.Pid(), timeout))
	}
}

// ExitErr returns the error from the process exit, if it has exited.
func (p *Process) ExitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waitErr
}

// Kill terminates the process immediately. Killing an exited process is
// not an error.
func (p *Process) Kill() error {
	if !p.Alive() {
		return nil
	}
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill kernel process %d: %w", p.Pid(), err)
	}
	return nil
}

// Interrupt sends SIGINT, which ipykernel turns into KeyboardInterrupt.
func (p *Process) Interrupt() error {
	if runtime.GOOS == "windows" {
		return errors.New("interrupt signals are not supported on %s", runtime.GOOS)
	}
	if !p.Alive() {
		return errors.ErrKernelNotRunning
	}
	return p.cmd.Process.Signal(os.Interrupt)
}

// Stderr returns the buffered stderr output.
func (p *Process) Stderr() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stderr.String()
}

func (p *Process) readStderr(r io.Reader, logger *logging.Logger) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()

		p.mu.Lock()
		if p.stderr.Len() < maxStderrBufferSize {
			if p.stderr.Len() > 0 {
				p.stderr.WriteString("\n")
			}
			p.stderr.WriteString(line)
		}
		p.mu.Unlock()

		logger.Debug("kernel stderr", "line", line)
	}
	if err := scanner.Err(); err != nil {
		logger.Debug("Stderr scanner error", logging.Err(err))
	}
}

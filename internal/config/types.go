// Package config loads server settings from defaults, a YAML file, the
// environment and command line flags, in that order of precedence.
package config

import "time"

// Transport names accepted by Server.Transport.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

// Config is the top-level configuration structure.
type Config struct {
	Kernel    KernelConfig    `yaml:"kernel"`
	Execution ExecutionConfig `yaml:"execution"`
	History   HistoryConfig   `yaml:"history"`
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// KernelConfig controls how the IPython kernel is launched or attached.
type KernelConfig struct {
	Python          string        `yaml:"python,omitempty"`          // Interpreter path (default: discovered)
	ExtraArgs       []string      `yaml:"extraArgs,omitempty"`       // Appended to the ipykernel_launcher command line
	Existing        string        `yaml:"existing,omitempty"`        // Connection file of an already running kernel
	IP              string        `yaml:"ip,omitempty"`              // Address the kernel binds (default: 127.0.0.1)
	RuntimeDir      string        `yaml:"runtimeDir,omitempty"`      // Where connection files are written
	StartupTimeout  time.Duration `yaml:"startupTimeout,omitempty"`  // kernel_info wait after launch (default: 30s)
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout,omitempty"` // Wait for process exit (default: 5s)
}

// ExecutionConfig tunes the IOPub/shell collection loop used by send_command.
type ExecutionConfig struct {
	IOPubTimeout      time.Duration `yaml:"iopubTimeout,omitempty"`      // Overall IOPub budget per command (default: 10s)
	PollInterval      time.Duration `yaml:"pollInterval,omitempty"`      // Single IOPub poll (default: 500ms)
	RetryDelay        time.Duration `yaml:"retryDelay,omitempty"`        // Pause after an empty poll (default: 100ms)
	ShellReplyTimeout time.Duration `yaml:"shellReplyTimeout,omitempty"` // execute_reply wait (default: 10s)
	ReadyTimeout      time.Duration `yaml:"readyTimeout,omitempty"`      // Wait after restarting channels (default: 10s)
	MaxOutputChars    int           `yaml:"maxOutputChars,omitempty"`    // Truncation limit for tool output (default: 30000)
	MaxCodeBytes      int           `yaml:"maxCodeBytes,omitempty"`      // Largest accepted command (default: 1MiB)
	StripANSI         bool          `yaml:"stripAnsi"`                   // Remove terminal colors from tracebacks (default: true)
}

// HistoryConfig controls the automatic command history file.
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	File    string `yaml:"file,omitempty"`
	// AllowedDirs restricts where the history file may be written; empty
	// allows any directory outside the system ones.
	AllowedDirs []string `yaml:"allowedDirs,omitempty"`
}

// ServerConfig selects the MCP transport.
type ServerConfig struct {
	Transport string `yaml:"transport,omitempty"`
	HTTPAddr  string `yaml:"httpAddr,omitempty"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level      string `yaml:"level,omitempty"`
	File       string `yaml:"file,omitempty"`
	MaxSizeMB  int    `yaml:"maxSizeMB,omitempty"`
	MaxBackups int    `yaml:"maxBackups,omitempty"`
	MaxAgeDays int    `yaml:"maxAgeDays,omitempty"`
}

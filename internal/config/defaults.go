package config

import "time"

const (
	// DefaultHistoryFile is relative to the server's working directory.
	DefaultHistoryFile = "ipython_auto_history.py"

	// DefaultHTTPAddr is used when the HTTP transport is selected without an address.
	DefaultHTTPAddr = "127.0.0.1:8765"

	// DefaultKernelIP is the loopback address the kernel binds to.
	DefaultKernelIP = "127.0.0.1"
)

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Kernel: KernelConfig{
			IP:              DefaultKernelIP,
			StartupTimeout:  30 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		},
		Execution: ExecutionConfig{
			IOPubTimeout:      10 * time.Second,
			PollInterval:      500 * time.Millisecond,
			RetryDelay:        100 * time.Millisecond,
			ShellReplyTimeout: 10 * time.Second,
			ReadyTimeout:      10 * time.Second,
			MaxOutputChars:    30000,
			MaxCodeBytes:      1 << 20,
			StripANSI:         true,
		},
		History: HistoryConfig{
			Enabled: true,
			File:    DefaultHistoryFile,
		},
		Server: ServerConfig{
			Transport: TransportStdio,
			HTTPAddr:  DefaultHTTPAddr,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

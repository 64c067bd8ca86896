package main

import (
	"github.com/spf13/cobra"

	"github.com/kreijstal/mcp-ipython/internal/config"
)

// serverFlags holds the flags for the server command
type serverFlags struct {
	configPath  string
	python      string
	existing    string
	historyFile string
	noHistory   bool
	logLevel    string
	logFile     string
	httpAddr    string
}

func (f *serverFlags) register(c *cobra.Command) {
	c.Flags().StringVarP(&f.configPath, "config", "c", "", "Config file (default: ~/.config/mcp-ipython/config.yaml)")
	c.Flags().StringVar(&f.python, "python", "", "Python interpreter used to launch the kernel")
	c.Flags().StringVar(&f.existing, "existing", "", "Attach to a running kernel through its connection file")
	c.Flags().StringVar(&f.historyFile, "history-file", "", "File that records executed commands")
	c.Flags().BoolVar(&f.noHistory, "no-history", false, "Do not record executed commands")
	c.Flags().StringVar(&f.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	c.Flags().StringVar(&f.logFile, "log-file", "", "Also write logs to this file, rotated by size")
	c.Flags().StringVar(&f.httpAddr, "http", "", "Serve MCP over HTTP/SSE on this address (e.g., :8080)")
}

// apply overlays flags that were set on the command line.
func (f *serverFlags) apply(c *cobra.Command, cfg *config.Config) {
	changed := c.Flags().Changed

	if changed("python") {
		cfg.Kernel.Python = f.python
	}
	if changed("existing") {
		cfg.Kernel.Existing = f.existing
	}
	if changed("history-file") {
		cfg.History.File = f.historyFile
		cfg.History.Enabled = true
	}
	if f.noHistory {
		cfg.History.Enabled = false
	}
	if changed("log-level") {
		cfg.Logging.Level = f.logLevel
	}
	if changed("log-file") {
		cfg.Logging.File = f.logFile
	}
	if changed("http") {
		cfg.Server.Transport = config.TransportHTTP
		if f.httpAddr != "" {
			cfg.Server.HTTPAddr = f.httpAddr
		}
	}
}

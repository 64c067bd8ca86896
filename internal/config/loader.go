package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/kreijstal/mcp-ipython/internal/errors"
)

const (
	userConfigDir  = ".config/mcp-ipython"
	configFileName = "config.yaml"

	// EnvPrefix prefixes every environment variable read by ApplyEnv,
	// except LOG_LEVEL which is shared with other tools.
	EnvPrefix = "MCP_IPYTHON_"
)

// DefaultPath returns ~/.config/mcp-ipython/config.yaml, or "" when the
// home directory cannot be determined.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, userConfigDir, configFileName)
}

// Load reads path over the defaults. A missing file yields the defaults;
// an explicit path that cannot be parsed is an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, errors.ConfigurationWithCause("read "+path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.ConfigurationWithCause("parse "+path, err)
	}

	return cfg, nil
}

// LoadDotEnv loads variables from the given .env files into the process
// environment without overriding variables that are already set. Files
// that do not exist are skipped.
func LoadDotEnv(files ...string) error {
	var existing []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return errors.ConfigurationWithCause("load .env", err)
	}
	return nil
}

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overlays environment variables on cfg.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) error {
		v, ok := lookup(EnvPrefix + key)
		if !ok || v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return errors.ConfigurationWithCause(EnvPrefix+key, err)
		}
		*dst = d
		return nil
	}

	str("PYTHON", &c.Kernel.Python)
	str("EXISTING", &c.Kernel.Existing)
	str("RUNTIME_DIR", &c.Kernel.RuntimeDir)
	str("HISTORY_FILE", &c.History.File)
	str("TRANSPORT", &c.Server.Transport)
	str("HTTP_ADDR", &c.Server.HTTPAddr)
	str("LOG_FILE", &c.Logging.File)

	if v, ok := lookup("LOG_LEVEL"); ok && v != "" {
		c.Logging.Level = v
	}

	if v, ok := lookup(EnvPrefix + "HISTORY"); ok && v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return errors.ConfigurationWithCause(EnvPrefix+"HISTORY", err)
		}
		c.History.Enabled = enabled
	}

	for key, dst := range map[string]*time.Duration{
		"STARTUP_TIMEOUT":     &c.Kernel.StartupTimeout,
		"IOPUB_TIMEOUT":       &c.Execution.IOPubTimeout,
		"SHELL_REPLY_TIMEOUT": &c.Execution.ShellReplyTimeout,
	} {
		if err := dur(key, dst); err != nil {
			return err
		}
	}

	return nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	c.Server.Transport = strings.ToLower(c.Server.Transport)
	switch c.Server.Transport {
	case TransportStdio:
	case TransportHTTP:
		if c.Server.HTTPAddr == "" {
			return errors.Configuration("http transport requires server.httpAddr")
		}
	default:
		return errors.Configuration(fmt.Sprintf("unknown transport %q (want %s or %s)",
			c.Server.Transport, TransportStdio, TransportHTTP))
	}

	durations := []struct {
		name string
		d    time.Duration
	}{
		{"kernel.startupTimeout", c.Kernel.StartupTimeout},
		{"kernel.shutdownTimeout", c.Kernel.ShutdownTimeout},
		{"execution.iopubTimeout", c.Execution.IOPubTimeout},
		{"execution.pollInterval", c.Execution.PollInterval},
		{"execution.shellReplyTimeout", c.Execution.ShellReplyTimeout},
		{"execution.readyTimeout", c.Execution.ReadyTimeout},
	}
	for _, d := range durations {
		if d.d <= 0 {
			return errors.Configuration(d.name + " must be positive")
		}
	}

	if c.Execution.MaxCodeBytes <= 0 {
		return errors.Configuration("execution.maxCodeBytes must be positive")
	}

	if c.History.Enabled && c.History.File == "" {
		return errors.Configuration("history.file is required when history is enabled")
	}

	return nil
}

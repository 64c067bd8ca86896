package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.input), "ParseLevel(%q)", tt.input)
	}
}

func TestLoggerAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithOptions(Options{Level: "debug", Output: &buf})

	logger.WithTool("send_command").WithKernel("abc").Info("executing", Err(errors.New("boom")))

	out := buf.String()
	for _, want := range []string{"tool=send_command", "kernel=abc", "error=boom", "msg=executing"} {
		assert.Contains(t, out, want)
	}
}

func TestLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithOptions(Options{Level: "warn", Output: &buf})

	logger.Info("hidden")
	logger.Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestLoggerFileOutput(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "server.log")

	var buf bytes.Buffer
	logger := NewLoggerWithOptions(Options{Level: "info", File: file, MaxSizeMB: 1, Output: &buf})
	logger.Info("to both")
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to both")
	assert.Contains(t, buf.String(), "to both")
}

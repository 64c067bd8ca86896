package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/kreijstal/mcp-ipython/internal/jupyter"
)

// ConnectionStore keeps kernel connection files. They hold the HMAC key,
// so files are written with owner-only permissions.
type ConnectionStore struct {
	mu      sync.Mutex
	baseDir string
}

// DefaultRuntimeDir returns $XDG_RUNTIME_DIR/mcp-ipython, falling back to
// the OS temp directory.
func DefaultRuntimeDir() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "mcp-ipython")
	}
	return filepath.Join(os.TempDir(), "mcp-ipython")
}

// NewConnectionStore creates a store rooted at baseDir, or at
// DefaultRuntimeDir when baseDir is empty.
func NewConnectionStore(baseDir string) (*ConnectionStore, error) {
	if baseDir == "" {
		baseDir = DefaultRuntimeDir()
	}
	store := &ConnectionStore{baseDir: baseDir}
	if err := store.ensureDir(); err != nil {
		return nil, err
	}
	return store, nil
}

// Path returns the file path used for a kernel id.
func (s *ConnectionStore) Path(kernelID string) string {
	return filepath.Join(s.baseDir, fmt.Sprintf("kernel-%s.json", kernelID))
}

// Write stores info for kernelID and returns the file path. The write is
// atomic: a temp file is renamed into place.
func (s *ConnectionStore) Write(kernelID string, info *jupyter.ConnectionInfo) (string, error) {
	if info == nil {
		return "", fmt.Errorf("connection info cannot be nil")
	}

	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal connection info: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureDir(); err != nil {
		return "", err
	}

	path := s.Path(kernelID)
	tempFile := path + ".tmp"
	if err := os.WriteFile(tempFile, data, 0o600); err != nil {
		return "", fmt.Errorf("failed to write connection file: %w", err)
	}
	if err := os.Rename(tempFile, path); err != nil {
		_ = os.Remove(tempFile)
		return "", fmt.Errorf("failed to rename connection file: %w", err)
	}
	return path, nil
}

// Remove deletes the connection file for kernelID. Removing a missing
// file is not an error.
func (s *ConnectionStore) Remove(kernelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.Path(kernelID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete connection file: %w", err)
	}
	return nil
}

// BaseDir returns the directory holding connection files.
func (s *ConnectionStore) BaseDir() string {
	return s.baseDir
}

func (s *ConnectionStore) ensureDir() error {
	if err := os.MkdirAll(s.baseDir, 0o700); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", s.baseDir, err)
	}
	return nil
}

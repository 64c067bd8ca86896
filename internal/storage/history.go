// Package storage provides the on-disk stores used by the server: the
// automatic command history and kernel connection files.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// HistoryHeader is the first line of every history file.
const HistoryHeader = "# Automatic IPython Command History\n"

// HistoryStore appends executed commands to a Python file that can be
// replayed later with `%run`.
type HistoryStore struct {
	mu      sync.Mutex
	path    string
	enabled bool
	saved   int
}

// NewHistoryStore opens (creating if needed) the history file at path.
// The header is written only when the file is empty.
func NewHistoryStore(path string) (*HistoryStore, error) {
	if path == "" {
		return nil, fmt.Errorf("history file path cannot be empty")
	}

	store := &HistoryStore{path: path, enabled: true}
	if err := store.ensureFile(); err != nil {
		return nil, err
	}
	return store, nil
}

// NewDisabledHistoryStore returns a store whose Save is a no-op.
func NewDisabledHistoryStore() *HistoryStore {
	return &HistoryStore{}
}

// ShouldRecord reports whether command belongs in the history. IPython
// magics and get_ipython() calls are not replayable as plain Python, and
// blank commands carry nothing.
func ShouldRecord(command string) bool {
	if strings.TrimSpace(command) == "" {
		return false
	}
	return !strings.HasPrefix(command, "get_ipython") && !strings.HasPrefix(command, "%")
}

// Save appends command followed by a newline if ShouldRecord allows it.
func (h *HistoryStore) Save(command string) error {
	if h == nil || !h.enabled || !ShouldRecord(command) {
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	f, err := os.OpenFile(h.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open history file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	if _, err := f.WriteString(command + "\n"); err != nil {
		return fmt.Errorf("write history file: %w", err)
	}

	h.saved++
	return nil
}

// Path returns the history file path, or "" for a disabled store.
func (h *HistoryStore) Path() string {
	if h == nil {
		return ""
	}
	return h.path
}

// Enabled reports whether Save writes anything.
func (h *HistoryStore) Enabled() bool {
	return h != nil && h.enabled
}

// Saved returns how many commands this store has appended.
func (h *HistoryStore) Saved() int {
	if h == nil {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.saved
}

func (h *HistoryStore) ensureFile() error {
	if dir := filepath.Dir(h.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	f, err := os.OpenFile(h.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to initialize history file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat history file: %w", err)
	}
	if info.Size() == 0 {
		if _, err := f.WriteString(HistoryHeader); err != nil {
			return fmt.Errorf("failed to write history header: %w", err)
		}
	}
	return nil
}

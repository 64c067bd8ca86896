// Package security validates the inputs that reach the kernel and the
// filesystem.
package security

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/kreijstal/mcp-ipython/internal/errors"
)

// DefaultMaxCodeBytes is the largest command accepted by ValidateCode
// unless WithMaxCodeBytes overrides it.
const DefaultMaxCodeBytes = 1 << 20

// Validator defines the security validation interface.
type Validator interface {
	ValidateCode(code string) error
	ValidatePath(path string) error
	SanitizePath(path string) (string, error)
}

// DefaultValidator provides default security validation implementation.
type DefaultValidator struct {
	allowedPaths []string
	blockedPaths []string
	maxCodeBytes int
}

// NewDefaultValidator creates a new default validator with secure defaults.
func NewDefaultValidator() *DefaultValidator {
	return &DefaultValidator{
		allowedPaths: []string{},
		blockedPaths: []string{
			"/etc",
			"/usr/bin",
			"/usr/sbin",
			"/sbin",
			"/bin",
			"/sys",
			"/proc",
		},
		maxCodeBytes: DefaultMaxCodeBytes,
	}
}

// WithAllowedPaths sets the directories files may be written to.
func (v *DefaultValidator) WithAllowedPaths(paths []string) *DefaultValidator {
	v.allowedPaths = make([]string, len(paths))
	copy(v.allowedPaths, paths)
	return v
}

// WithMaxCodeBytes sets the size limit for commands. Non-positive values
// keep the current limit.
func (v *DefaultValidator) WithMaxCodeBytes(n int) *DefaultValidator {
	if n > 0 {
		v.maxCodeBytes = n
	}
	return v
}

// ValidateCode checks a command before it is sent to the kernel. The
// code itself is not inspected.
func (v *DefaultValidator) ValidateCode(code string) error {
	if strings.TrimSpace(code) == "" {
		return errors.Validation("command cannot be empty")
	}

	if len(code) > v.maxCodeBytes {
		return errors.ValidationWithDetails(
			"command too large",
			fmt.Sprintf("%d bytes exceeds the limit of %d", len(code), v.maxCodeBytes),
		)
	}

	if !utf8.ValidString(code) {
		return errors.Validation("command must be valid UTF-8")
	}

	if strings.ContainsRune(code, 0) {
		return errors.Validation("command cannot contain NUL bytes")
	}

	return nil
}

// ValidatePath validates and checks if a file path is allowed.
func (v *DefaultValidator) ValidatePath(path string) error {
	if !filepath.IsAbs(path) {
		return errors.Security("path must be absolute")
	}

	cleanPath := filepath.Clean(path)
	resolvedPath, err := filepath.EvalSymlinks(cleanPath)
	if err != nil {
		resolvedPath = cleanPath
	}

	for _, blocked := range v.blockedPaths {
		if hasPathPrefix(resolvedPath, blocked) {
			return errors.SecurityWithDetails(
				"path is blocked",
				"path accesses restricted system directory",
			)
		}
	}

	if len(v.allowedPaths) > 0 {
		allowed := false
		for _, allowedPath := range v.allowedPaths {
			if hasPathPrefix(resolvedPath, allowedPath) {
				allowed = true
				break
			}
		}
		if !allowed {
			return errors.SecurityWithDetails(
				"path not allowed",
				"path is not in allowed directories",
			)
		}
	}

	return nil
}

// SanitizePath makes path absolute, cleans it and validates the result.
func (v *DefaultValidator) SanitizePath(path string) (string, error) {
	if path == "" {
		return "", errors.Validation("path cannot be empty")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", errors.ValidationWithDetails("invalid path", err.Error())
	}

	if err := v.ValidatePath(absPath); err != nil {
		return "", err
	}
	return filepath.Clean(absPath), nil
}

// hasPathPrefix reports whether path is dir or lies below it.
func hasPathPrefix(path, dir string) bool {
	dir = filepath.Clean(dir)
	if path == dir {
		return true
	}
	return strings.HasPrefix(path, strings.TrimSuffix(dir, string(filepath.Separator))+string(filepath.Separator))
}

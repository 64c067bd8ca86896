// Package errors provides structured error types and error handling utilities.
package errors

import (
	"errors"
	"fmt"
)

// Wrap creates a new error by wrapping an existing error with additional context.
// This uses fmt.Errorf with %w verb for proper error chain support.
func Wrap(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	msg := fmt.Sprintf(format, args...)
	return fmt.Errorf("%s: %w", msg, err)
}

// New creates a new error using fmt.Errorf.
func New(format string, args ...any) error {
	return fmt.Errorf(format, args...)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// Join wraps multiple errors into a single error.
func Join(errs ...error) error {
	return errors.Join(errs...)
}

// Error categories. Helpers below wrap one of these so callers can test with Is.
var (
	ErrValidation    = errors.New("validation error")
	ErrSecurity      = errors.New("security error")
	ErrConfiguration = errors.New("configuration error")
	ErrExecution     = errors.New("execution error")
	ErrTimeout       = errors.New("timeout error")
	ErrNotFound      = errors.New("not found error")
	ErrInternal      = errors.New("internal error")
)

// Kernel state errors shared between the kernel and tool layers.
var (
	// ErrKernelNotRunning indicates no live kernel is attached.
	ErrKernelNotRunning = errors.New("IPython kernel is not running or client not connected")

	// ErrKernelNotReady indicates the kernel did not answer kernel_info in time.
	ErrKernelNotReady = errors.New("failed to connect to IPython kernel in time")

	// ErrChannelsClosed indicates the kernel client channels are stopped.
	ErrChannelsClosed = errors.New("kernel client channels are not running")
)

func Validation(message string) error {
	return fmt.Errorf("%w: %s", ErrValidation, message)
}

func ValidationWithDetails(message, details string) error {
	return fmt.Errorf("%w: %s (%s)", ErrValidation, message, details)
}

func Security(message string) error {
	return fmt.Errorf("%w: %s", ErrSecurity, message)
}

func SecurityWithDetails(message, details string) error {
	return fmt.Errorf("%w: %s (%s)", ErrSecurity, message, details)
}

func Configuration(message string) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, message)
}

func ConfigurationWithCause(message string, cause error) error {
	return fmt.Errorf("%w: %s: %w", ErrConfiguration, message, cause)
}

func ExecutionWithCause(message string, cause error) error {
	return fmt.Errorf("%w: %s: %w", ErrExecution, message, cause)
}

func Timeout(message string) error {
	return fmt.Errorf("%w: %s", ErrTimeout, message)
}

func NotFound(message string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, message)
}

package kernel

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoMessage is returned by Client.IOPubMessage and Client.ShellMessage
// when nothing arrives before the timeout.
var ErrNoMessage = errors.New("no message received before timeout")

// InterpreterNotFoundError is returned when no Python interpreter can be found.
type InterpreterNotFoundError struct {
	SearchedPaths []string
}

func (e *InterpreterNotFoundError) Error() string {
	if len(e.SearchedPaths) == 0 {
		return "python interpreter not found"
	}
	return fmt.Sprintf("python interpreter not found (searched: %s)", strings.Join(e.SearchedPaths, ", "))
}

// KernelStartError reports a kernel process that could not be started or
// exited during startup.
type KernelStartError struct {
	Python string
	Stderr string
	Err    error
}

func (e *KernelStartError) Error() string {
	msg := fmt.Sprintf("failed to start kernel: %v", e.Err)
	if e.Python != "" {
		msg = fmt.Sprintf("failed to start kernel with %s: %v", e.Python, e.Err)
	}
	if e.Stderr != "" {
		msg += "\nstderr: " + e.Stderr
	}
	return msg
}

func (e *KernelStartError) Unwrap() error {
	return e.Err
}

package process

import (
	"errors"
	"fmt"
)

// ErrKilled is the result error of a process or batch that was stopped.
var ErrKilled = errors.New("process was stopped")

// LaunchError reports that the executable could not be spawned.
type LaunchError struct {
	Path string
	Err  error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("failed to launch %s: %v", e.Path, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// ExitError reports that the engine rejected the operation with a non-zero
// exit code. Stderr holds the tail of the captured standard error.
type ExitError struct {
	Path   string
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("%s exited with code %d", e.Path, e.Code)
	}
	return fmt.Sprintf("%s exited with code %d (stderr: %s)", e.Path, e.Code, e.Stderr)
}

// ExitCode returns the exit code carried by err, if err is (or wraps) an *ExitError.
func ExitCode(err error) (int, bool) {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code, true
	}
	return 0, false
}

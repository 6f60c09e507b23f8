package orchestrator

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyRunning = errors.New("a backup is already running")
	ErrNotRunning     = errors.New("no backup is running")
	ErrNoTargets      = errors.New("no backup targets specified")
	ErrNotMounted     = errors.New("not mounted")
)

// PathTimeoutError is returned when a mount never materializes its path.
type PathTimeoutError struct {
	Path     string
	Attempts int
}

func (e *PathTimeoutError) Error() string {
	return fmt.Sprintf("mount path %s did not appear after %d attempts", e.Path, e.Attempts)
}

// NotDirectoryError is returned when the mount path exists but is not a
// directory.
type NotDirectoryError struct {
	Path string
}

func (e *NotDirectoryError) Error() string {
	return fmt.Sprintf("is not a directory: %s", e.Path)
}

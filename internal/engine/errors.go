package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/blackwell-systems/resticgx/internal/process"
)

// InvalidScopeError is returned by BuildForget when the scope names neither
// or both of targets and a snapshot id.
type InvalidScopeError struct {
	Reason string
}

func (e *InvalidScopeError) Error() string {
	return "invalid forget scope: " + e.Reason
}

// UnsupportedOperationError is returned when an engine lacks a capability.
type UnsupportedOperationError struct {
	Engine    Kind
	Operation string
}

func (e *UnsupportedOperationError) Error() string {
	return fmt.Sprintf("%s does not support %s", e.Engine, e.Operation)
}

// ParseError reports engine output that did not match the expected JSON shape.
type ParseError struct {
	Op  string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse %s output: %v", e.Op, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Exit code restic uses when the repository does not exist (0.17+).
const exitRepoNotFound = 10

var repoNotFoundPatterns = []string{
	"repository does not exist",
	"config file not found",
	"no repository config file found",
	"repository not found",
}

// restic reports any failed stat of the config file with the same header,
// network errors included. Only the not-exist causes mean a missing repo.
const configOpenFailed = "unable to open config file"

var notExistCauses = []string{
	"no such file or directory",
	"does not exist",
	"not found",
}

// IsRepoNotFound reports whether err is an engine exit caused by a missing
// repository, as opposed to a wrong password, a lock or a network failure.
func IsRepoNotFound(err error) bool {
	var exitErr *process.ExitError
	if !errors.As(err, &exitErr) {
		return false
	}
	if exitErr.Code == exitRepoNotFound {
		return true
	}
	stderr := strings.ToLower(exitErr.Stderr)
	for _, pattern := range repoNotFoundPatterns {
		if strings.Contains(stderr, pattern) {
			return true
		}
	}
	for _, line := range strings.Split(stderr, "\n") {
		if !strings.Contains(line, configOpenFailed) {
			continue
		}
		for _, cause := range notExistCauses {
			if strings.Contains(line, cause) {
				return true
			}
		}
	}
	return false
}

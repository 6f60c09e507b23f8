package orchestrator

import (
	"io/fs"
	"os"
	"time"

	"github.com/blackwell-systems/resticgx/internal/lg"
)

// Recorder keeps run history and per-target timestamps. Failures are
// logged and never fail the operation.
type Recorder interface {
	StartRun(profile, kind, target string, at time.Time) (string, error)
	FinishRun(id, state, errMsg string, at time.Time) error
	MarkBackupStart(profile, path string, at time.Time) error
	MarkBackupFinished(profile, path string, at time.Time) error
	MarkCleanup(profile, path string, at time.Time) error
}

// Credentials hands out password commands for a secret. The command may
// be run uses times; release forgets the secret early.
type Credentials interface {
	Issue(secret string, uses int) (command string, release func())
}

// FS is the filesystem the mount poll observes.
type FS interface {
	Stat(name string) (fs.FileInfo, error)
	MkdirAll(path string, perm fs.FileMode) error
	Remove(name string) error
}

type osFS struct{}

func (osFS) Stat(name string) (fs.FileInfo, error) { return os.Stat(name) }
func (osFS) MkdirAll(path string, perm fs.FileMode) error { return os.MkdirAll(path, perm) }
func (osFS) Remove(name string) error                      { return os.Remove(name) }

// Opener presents a materialized mount path to the user.
type Opener func(path string) error

// Option configures an Orchestrator.
type Option func(*Orchestrator)

func WithLogger(l lg.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

// WithSettle sets the delay between backup entries.
func WithSettle(d time.Duration) Option {
	return func(o *Orchestrator) { o.settle = d }
}

func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithCredentials passes passwords through password commands instead of
// the engine's password variable.
func WithCredentials(c Credentials) Option {
	return func(o *Orchestrator) { o.creds = c }
}

func WithFS(fsys FS) Option {
	return func(o *Orchestrator) { o.fs = fsys }
}

func WithOpener(open Opener) Option {
	return func(o *Orchestrator) { o.opener = open }
}

// WithMountPoll bounds the wait for a mount path to appear.
func WithMountPoll(attempts int, interval time.Duration) Option {
	return func(o *Orchestrator) {
		if attempts > 0 {
			o.mountAttempts = attempts
		}
		if interval > 0 {
			o.mountInterval = interval
		}
	}
}

// WithUnmountWait bounds how long Unmount waits for the mount to exit.
func WithUnmountWait(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.unmountWait = d
		}
	}
}

// WithMountRoot sets where mount directories are created. Defaults to
// os.TempDir().
func WithMountRoot(dir string) Option {
	return func(o *Orchestrator) { o.mountRoot = dir }
}

func withClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

type nopRecorder struct{}

func (nopRecorder) StartRun(string, string, string, time.Time) (string, error) { return "", nil }
func (nopRecorder) FinishRun(string, string, string, time.Time) error { return nil }
func (nopRecorder) MarkBackupStart(string, string, time.Time) error { return nil }
func (nopRecorder) MarkBackupFinished(string, string, time.Time) error { return nil }
func (nopRecorder) MarkCleanup(string, string, time.Time) error { return nil }

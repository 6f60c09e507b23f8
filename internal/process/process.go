// Package process supervises external engine invocations.
//
// A Process wraps one spawned command and maps its exit into a Result.
// A Batch runs several processes one after another as a single operation.
package process

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"syscall"
)

// State is the lifecycle state of a process or batch. Transitions are
// monotonic: once a terminal state is reached it never changes.
type State int

const (
	Idle State = iota
	Running
	Succeeded
	PartialSuccess
	Failed
	Killed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Succeeded:
		return "succeeded"
	case PartialSuccess:
		return "partial"
	case Failed:
		return "failed"
	case Killed:
		return "killed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether s is an absorbing state.
func (s State) Terminal() bool {
	return s >= Succeeded
}

// Spec describes one command invocation.
type Spec struct {
	Path string
	Args []string
	// Env overrides the ambient environment; these entries win on conflict.
	Env map[string]string
	// Tag attributes the invocation to the source path it operates on.
	Tag string
	// PartialCode is the exit code that means "usable but incomplete".
	// Zero disables it.
	PartialCode int
}

// String renders the command line for logs. Env is never included.
func (s Spec) String() string {
	return strings.Join(append([]string{s.Path}, s.Args...), " ")
}

// Result is the outcome of a finished process.
type Result struct {
	State    State
	ExitCode int
	// Err is non-nil only when State is Failed or Killed.
	Err error
}

// OK reports whether the result counts as success (including partial).
func (r Result) OK() bool {
	return r.State == Succeeded || r.State == PartialSuccess
}

const stderrTailSize = 16 * 1024

// Process owns exactly one OS process.
type Process struct {
	spec Spec

	mu      sync.Mutex
	state   State
	stopped bool
	cmd     *exec.Cmd
	stdout  io.Writer
	stderr  io.Writer
	tail    *tailBuffer
	result  Result
	done    chan struct{}
}

// New creates an idle process for spec.
func New(spec Spec) *Process {
	return &Process{
		spec: spec,
		tail: newTailBuffer(stderrTailSize),
		done: make(chan struct{}),
	}
}

// Spec returns the invocation this process was built from.
func (p *Process) Spec() Spec { return p.spec }

// Tag returns the source path this process is attributed to.
func (p *Process) Tag() string { return p.spec.Tag }

// State returns the current lifecycle state.
func (p *Process) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Pid returns the OS process id, or 0 if the process never started.
func (p *Process) Pid() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Attach sets the live sinks for standard output and standard error.
// It must be called before Start; later calls are ignored.
func (p *Process) Attach(stdout, stderr io.Writer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != Idle {
		return
	}
	p.stdout = stdout
	p.stderr = stderr
}

// Start launches the command. A spawn failure is returned as *LaunchError
// and leaves the process Failed.
func (p *Process) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != Idle {
		return fmt.Errorf("process %s already started", p.spec.Path)
	}

	cmd := exec.Command(p.spec.Path, p.spec.Args...)
	cmd.Env = MergeEnv(os.Environ(), p.spec.Env)
	cmd.Stdout = orDiscard(p.stdout)
	if p.stderr != nil {
		cmd.Stderr = io.MultiWriter(p.stderr, p.tail)
	} else {
		cmd.Stderr = p.tail
	}

	if err := cmd.Start(); err != nil {
		launchErr := &LaunchError{Path: p.spec.Path, Err: err}
		p.state = Failed
		p.result = Result{State: Failed, ExitCode: -1, Err: launchErr}
		close(p.done)
		return launchErr
	}

	p.cmd = cmd
	p.state = Running
	go p.wait()
	return nil
}

// wait reaps the process and publishes its result.
func (p *Process) wait() {
	waitErr := p.cmd.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()

	exitCode := 0
	if waitErr != nil {
		exitCode = exitCodeForError(waitErr)
	}

	switch {
	case p.stopped:
		p.result = Result{State: Killed, ExitCode: exitCode, Err: ErrKilled}
	case waitErr == nil:
		p.result = Result{State: Succeeded}
	case p.spec.PartialCode != 0 && exitCode == p.spec.PartialCode:
		p.result = Result{State: PartialSuccess, ExitCode: exitCode}
	default:
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			p.result = Result{State: Failed, ExitCode: exitCode, Err: &ExitError{
				Path:   p.spec.Path,
				Code:   exitCode,
				Stderr: strings.TrimSpace(p.tail.String()),
			}}
		} else {
			p.result = Result{State: Failed, ExitCode: exitCode, Err: fmt.Errorf("wait for %s: %w", p.spec.Path, waitErr)}
		}
	}
	p.state = p.result.State
	close(p.done)
}

// Done is closed once the process has reached a terminal state.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the process finishes and returns its result. Waiting on
// a process that was never started blocks until it is started and exits.
func (p *Process) Wait() Result {
	<-p.done
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.result
}

// Stop sends SIGTERM to the running process and returns without waiting for
// it to exit. Stopping an idle or finished process is a no-op.
func (p *Process) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != Running || p.stopped {
		return nil
	}
	p.stopped = true
	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to send SIGTERM to process %d: %w", p.cmd.Process.Pid, err)
	}
	return nil
}

// Stderr returns the captured tail of standard error.
func (p *Process) Stderr() string {
	return p.tail.String()
}

// MergeEnv overlays overrides onto base ("KEY=VALUE" entries). Overrides win;
// the result is sorted for stable logging and tests.
func MergeEnv(base []string, overrides map[string]string) []string {
	merged := make(map[string]string, len(base)+len(overrides))
	for _, kv := range base {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}

	env := make([]string, 0, len(merged))
	for k, v := range merged {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)
	return env
}

func orDiscard(w io.Writer) io.Writer {
	if w == nil {
		return io.Discard
	}
	return w
}

func exitCodeForError(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if status.Signaled() {
				return 128 + int(status.Signal())
			}
			return status.ExitStatus()
		}
		return exitErr.ExitCode()
	}
	return 1
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (t *tailBuffer) Write(b []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, b...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(b), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}

package process

import (
	"io"
	"sync"
	"time"
)

// DefaultSettle is the pause after each successful entry. Engines release
// their repository lock asynchronously after exit; starting the next
// invocation immediately can fail with "repository is already locked".
const DefaultSettle = 300 * time.Millisecond

// BatchOptions configures a Batch.
type BatchOptions struct {
	// Stdout and Stderr receive the output of every entry in emission order.
	Stdout io.Writer
	Stderr io.Writer
	// Settle is the delay after each successful entry. Zero uses
	// DefaultSettle; a negative value disables the delay.
	Settle time.Duration
	// OnStart is called before each entry is started.
	OnStart func(index int, p *Process)
	// OnFinish is called after each entry finishes, unless the batch was stopped.
	OnFinish func(index int, p *Process, res Result)
}

// Batch runs an ordered list of processes one at a time as one logical
// operation. It settles exactly once: Succeeded, Failed or Killed.
type Batch struct {
	procs  []*Process
	opts   BatchOptions
	stdout *gate
	stderr *gate

	mu      sync.Mutex
	state   State
	cursor  int
	err     error
	results []Result
	stop    chan struct{}
	done    chan struct{}
}

// NewBatch creates an idle batch over procs.
func NewBatch(procs []*Process, opts BatchOptions) *Batch {
	if opts.Settle == 0 {
		opts.Settle = DefaultSettle
	}
	return &Batch{
		procs:   procs,
		opts:    opts,
		stdout:  newGate(opts.Stdout),
		stderr:  newGate(opts.Stderr),
		results: make([]Result, len(procs)),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start begins the first entry. Calling Start on a batch that already
// started is a no-op.
func (b *Batch) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != Idle {
		return
	}
	b.state = Running
	go b.run()
}

func (b *Batch) run() {
	for i, p := range b.procs {
		b.mu.Lock()
		if b.state != Running {
			b.mu.Unlock()
			return
		}
		b.cursor = i
		p.Attach(b.stdout, b.stderr)
		err := p.Start()
		b.mu.Unlock()

		if b.opts.OnStart != nil {
			b.opts.OnStart(i, p)
		}
		if err != nil {
			b.record(i, p, p.Wait())
			b.finish(Failed, err)
			return
		}

		res := p.Wait()
		if b.State() != Running {
			return
		}
		b.record(i, p, res)
		if !res.OK() {
			b.finish(Failed, res.Err)
			return
		}

		if b.opts.Settle > 0 {
			timer := time.NewTimer(b.opts.Settle)
			select {
			case <-timer.C:
			case <-b.stop:
				timer.Stop()
				return
			}
		}
	}

	b.mu.Lock()
	b.cursor = len(b.procs)
	b.mu.Unlock()
	b.finish(Succeeded, nil)
}

func (b *Batch) record(i int, p *Process, res Result) {
	b.mu.Lock()
	b.results[i] = res
	b.mu.Unlock()
	if b.opts.OnFinish != nil {
		b.opts.OnFinish(i, p, res)
	}
}

// finish moves the batch to a terminal state. Only the first call wins.
func (b *Batch) finish(state State, err error) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.finishLocked(state, err)
}

func (b *Batch) finishLocked(state State, err error) bool {
	if b.state.Terminal() {
		return false
	}
	b.state = state
	b.err = err
	b.stdout.close()
	b.stderr.close()
	close(b.done)
	return true
}

// Stop marks the batch Killed, stops the entry that is currently executing
// and settles immediately without waiting for the OS process to exit.
// Later entries never start.
func (b *Batch) Stop() {
	b.mu.Lock()
	wasRunning := b.state == Running
	if !b.finishLocked(Killed, ErrKilled) {
		b.mu.Unlock()
		return
	}
	var current *Process
	if wasRunning && b.cursor < len(b.procs) {
		current = b.procs[b.cursor]
	}
	close(b.stop)
	b.mu.Unlock()

	if current != nil {
		_ = current.Stop()
	}
}

// Done is closed when the batch settles.
func (b *Batch) Done() <-chan struct{} {
	return b.done
}

// Wait blocks until the batch settles. The error is nil for Succeeded,
// ErrKilled for Killed and the failing entry's error for Failed.
func (b *Batch) Wait() (State, error) {
	<-b.done
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state, b.err
}

// State returns the aggregate state.
func (b *Batch) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Current returns the entry at the cursor, or nil once all entries ran.
func (b *Batch) Current() *Process {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cursor >= len(b.procs) {
		return nil
	}
	return b.procs[b.cursor]
}

// Cursor returns the index of the entry being run.
func (b *Batch) Cursor() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cursor
}

// Len returns the number of entries.
func (b *Batch) Len() int { return len(b.procs) }

// Processes returns the entries in order.
func (b *Batch) Processes() []*Process {
	return append([]*Process(nil), b.procs...)
}

// Results returns per-entry outcomes. Entries that never finished have the
// zero Result (State Idle).
func (b *Batch) Results() []Result {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Result(nil), b.results...)
}

// gate forwards writes to w until closed; afterwards writes are dropped.
// Entries share the batch's gates, so output never outlives the batch.
type gate struct {
	mu     sync.Mutex
	w      io.Writer
	closed bool
}

func newGate(w io.Writer) *gate {
	return &gate{w: w}
}

func (g *gate) Write(b []byte) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed || g.w == nil {
		return len(b), nil
	}
	if _, err := g.w.Write(b); err != nil {
		// a broken sink must not fail the engine process
		g.w = nil
	}
	return len(b), nil
}

func (g *gate) close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
}

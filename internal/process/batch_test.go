package process

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncBuffer is a bytes.Buffer safe for concurrent writers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

func waitBatch(t *testing.T, b *Batch) (State, error) {
	t.Helper()
	select {
	case <-b.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("batch did not settle")
	}
	return b.Wait()
}

func TestBatchRunsInOrder(t *testing.T) {
	var out syncBuffer
	procs := []*Process{
		New(shell(t, "echo one")),
		New(shell(t, "echo two")),
		New(shell(t, "echo three")),
	}
	b := NewBatch(procs, BatchOptions{Stdout: &out, Settle: time.Millisecond})
	b.Start()

	state, err := waitBatch(t, b)
	require.NoError(t, err)
	assert.Equal(t, Succeeded, state)
	assert.Equal(t, "one\ntwo\nthree\n", out.String())
	assert.Nil(t, b.Current())
	for _, res := range b.Results() {
		assert.Equal(t, Succeeded, res.State)
	}
}

func TestBatchPartialCountsAsSuccess(t *testing.T) {
	first := shell(t, "exit 3")
	first.PartialCode = 3
	b := NewBatch([]*Process{New(first), New(shell(t, "exit 0"))}, BatchOptions{Settle: -1})
	b.Start()

	state, err := waitBatch(t, b)
	require.NoError(t, err)
	assert.Equal(t, Succeeded, state)
	assert.Equal(t, PartialSuccess, b.Results()[0].State)
}

func TestBatchFailureSkipsRemaining(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "third-ran")
	procs := []*Process{
		New(shell(t, "exit 0")),
		New(shell(t, "echo fatal >&2; exit 1")),
		New(shell(t, "touch "+marker)),
	}
	b := NewBatch(procs, BatchOptions{Settle: -1})
	b.Start()

	state, err := waitBatch(t, b)
	assert.Equal(t, Failed, state)
	code, ok := ExitCode(err)
	require.True(t, ok)
	assert.Equal(t, 1, code)

	_, statErr := os.Stat(marker)
	assert.True(t, os.IsNotExist(statErr), "third entry must not start")
	assert.Equal(t, Idle, procs[2].State())
	assert.Equal(t, Idle, b.Results()[2].State)
}

func TestBatchLaunchErrorFails(t *testing.T) {
	b := NewBatch([]*Process{New(Spec{Path: "/nonexistent/rustic"})}, BatchOptions{})
	b.Start()

	state, err := waitBatch(t, b)
	assert.Equal(t, Failed, state)
	var launchErr *LaunchError
	assert.ErrorAs(t, err, &launchErr)
}

func TestBatchStopDuringSecondEntry(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "third-ran")
	procs := []*Process{
		New(shell(t, "exit 0")),
		New(shell(t, "exec sleep 10")),
		New(shell(t, "touch "+marker)),
	}

	var finishes atomic.Int32
	started := make(chan int, 3)
	b := NewBatch(procs, BatchOptions{
		Settle:   -1,
		OnStart:  func(i int, _ *Process) { started <- i },
		OnFinish: func(int, *Process, Result) { finishes.Add(1) },
	})
	b.Start()

	require.Equal(t, 0, <-started)
	require.Equal(t, 1, <-started)
	require.Eventually(t, func() bool { return procs[1].State() == Running }, 5*time.Second, 10*time.Millisecond)

	b.Stop()
	state, err := b.Wait()
	assert.Equal(t, Killed, state)
	assert.ErrorIs(t, err, ErrKilled)

	// second Stop is a no-op and the state never changes again
	b.Stop()
	assert.Equal(t, Killed, b.State())

	<-procs[1].Done()
	assert.Equal(t, Killed, procs[1].Wait().State)
	time.Sleep(100 * time.Millisecond)
	_, statErr := os.Stat(marker)
	assert.True(t, os.IsNotExist(statErr), "third entry must not start")
	assert.Equal(t, int32(1), finishes.Load())
}

func TestBatchStopBeforeStart(t *testing.T) {
	p := New(shell(t, "exit 0"))
	b := NewBatch([]*Process{p}, BatchOptions{})
	b.Stop()

	state, err := b.Wait()
	assert.Equal(t, Killed, state)
	assert.ErrorIs(t, err, ErrKilled)

	b.Start()
	assert.Equal(t, Idle, p.State())
}

func TestBatchStartIdempotent(t *testing.T) {
	var out syncBuffer
	b := NewBatch([]*Process{New(shell(t, "echo once"))}, BatchOptions{Stdout: &out, Settle: -1})
	b.Start()
	b.Start()

	state, err := waitBatch(t, b)
	require.NoError(t, err)
	assert.Equal(t, Succeeded, state)
	assert.Equal(t, "once\n", out.String())
}

func TestBatchEmptySucceeds(t *testing.T) {
	b := NewBatch(nil, BatchOptions{})
	b.Start()
	state, err := waitBatch(t, b)
	require.NoError(t, err)
	assert.Equal(t, Succeeded, state)
}

func TestGateDropsAfterClose(t *testing.T) {
	var buf bytes.Buffer
	g := newGate(&buf)
	_, _ = g.Write([]byte("a"))
	g.close()
	n, err := g.Write([]byte("b"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "a", buf.String())
}

package output

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/dustin/go-humanize"

	"github.com/blackwell-systems/resticgx/internal/engine"
)

// BackupReporter renders the merged stdout of a backup batch. It is an
// io.Writer fed by the batch; StartTarget and FinishTarget bracket the
// output of each target.
type BackupReporter struct {
	mu      sync.Mutex
	writer  io.Writer
	partial []byte
	bar     *ProgressBar
	target  string
	verbose bool

	// Summary holds the final event of each target that reported one.
	Summary map[string]engine.BackupEvent
}

// NewBackupReporter writes to stdout.
func NewBackupReporter() *BackupReporter {
	return &BackupReporter{writer: os.Stdout, Summary: make(map[string]engine.BackupEvent)}
}

// SetWriter sets the output writer (useful for testing).
func (r *BackupReporter) SetWriter(w io.Writer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writer = w
}

// SetVerbose passes non-JSON engine lines through.
func (r *BackupReporter) SetVerbose(v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.verbose = v
}

// StartTarget begins progress output for path.
func (r *BackupReporter) StartTarget(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushLocked()
	r.target = path
	r.bar = NewProgress(ShortenPath(path, 40))
	r.bar.SetWriter(r.writer)
}

// FinishTarget closes the progress line of path and prints the outcome.
func (r *BackupReporter) FinishTarget(path string, ok, partial bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushLocked()
	if r.bar != nil {
		if ok {
			r.bar.Finish()
		} else {
			r.bar.Abort()
		}
	}
	r.bar = nil
	r.target = ""

	summary, hasSummary := r.Summary[path]
	switch {
	case err != nil:
		fmt.Fprintf(r.writer, "%s %s: %v\n", colorize(colorRed, "✗"), path, err)
	case partial:
		fmt.Fprintf(r.writer, "%s %s: snapshot created, some files could not be read\n", colorize(colorYellow, "!"), path)
	case hasSummary:
		fmt.Fprintf(r.writer, "%s %s: snapshot %s, %d new files, %s added\n",
			colorize(colorGreen, "✓"), path, truncate(summary.SnapshotID, 8), summary.FilesNew, humanize.IBytes(summary.DataAdded))
	default:
		fmt.Fprintf(r.writer, "%s %s\n", colorize(colorGreen, "✓"), path)
	}
}

// Write consumes engine output; incomplete lines are buffered.
func (r *BackupReporter) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.partial = append(r.partial, p...)
	for {
		i := bytes.IndexByte(r.partial, '\n')
		if i < 0 {
			break
		}
		line := r.partial[:i]
		r.handleLine(line)
		r.partial = r.partial[i+1:]
	}
	return len(p), nil
}

func (r *BackupReporter) flushLocked() {
	if len(r.partial) > 0 {
		r.handleLine(r.partial)
		r.partial = nil
	}
}

// handleLine must be called with the lock held.
func (r *BackupReporter) handleLine(line []byte) {
	ev, err := engine.ParseBackupEvent(line)
	if err != nil {
		if r.verbose && len(bytes.TrimSpace(line)) > 0 {
			fmt.Fprintf(r.writer, "%s\n", bytes.TrimSpace(line))
		}
		return
	}

	switch ev.MessageType {
	case engine.MessageStatus:
		if r.bar != nil {
			r.bar.SetPercent(ev.PercentDone)
		}
	case engine.MessageSummary:
		if r.target != "" {
			r.Summary[r.target] = ev
		}
	case engine.MessageError:
		if ev.Error != nil {
			fmt.Fprintf(r.writer, "%s %s: %s\n", colorize(colorYellow, "!"), ev.Item, ev.Error.Message)
		}
	}
}

package output

import (
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
)

// writerIsTTY returns true if the given writer exposes an Fd() method
// (e.g. *os.File) and that fd is a terminal. Plain io.Writer values such as
// *bytes.Buffer are never terminals.
func writerIsTTY(w io.Writer) bool {
	type fder interface {
		Fd() uintptr
	}
	if f, ok := w.(fder); ok {
		return isatty.IsTerminal(f.Fd())
	}
	return false
}

// ProgressBar displays fractional progress with a remaining-time estimate.
// Example: [=========>          ]  45% /home/user/docs (2m10s left)
type ProgressBar struct {
	percent     float64
	description string
	width       int
	mu          sync.Mutex
	writer      io.Writer
	eta         *Estimator
	remaining   time.Duration
	hasETA      bool
	finished    bool
}

// NewProgress creates a progress bar and starts its estimator.
func NewProgress(description string) *ProgressBar {
	return &ProgressBar{
		description: description,
		width:       30,
		writer:      os.Stdout,
		eta:         NewEstimator(),
	}
}

// SetWidth sets the width of the bar in characters.
func (p *ProgressBar) SetWidth(width int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.width = width
}

// SetWriter sets the output writer (useful for testing).
func (p *ProgressBar) SetWriter(w io.Writer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writer = w
}

// SetDescription replaces the text shown after the bar.
func (p *ProgressBar) SetDescription(description string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.description = description
}

// SetPercent records progress as a fraction in [0, 1] and redraws.
func (p *ProgressBar) SetPercent(percent float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.finished {
		return
	}
	p.percent = clamp01(percent)
	p.remaining, p.hasETA = p.eta.Update(p.percent)
	p.render()
}

// Percent returns the last recorded fraction.
func (p *ProgressBar) Percent() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.percent
}

// Finish draws the bar at 100% and ends the line.
func (p *ProgressBar) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.finished {
		return
	}
	p.percent = 1
	p.hasETA = false
	p.render()
	if writerIsTTY(p.writer) {
		fmt.Fprintln(p.writer)
	}
	p.finished = true
}

// Abort ends the line without claiming completion.
func (p *ProgressBar) Abort() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.finished {
		return
	}
	if writerIsTTY(p.writer) {
		fmt.Fprintln(p.writer)
	}
	p.finished = true
}

// render draws the bar (must be called with lock held). On a non-TTY only
// the completed bar is written so logs get one line per target.
func (p *ProgressBar) render() {
	tty := writerIsTTY(p.writer)
	if !tty && p.percent < 1 {
		return
	}

	filled := int(math.Floor(p.percent * float64(p.width)))
	var bar strings.Builder
	bar.WriteString("[")
	for i := 0; i < p.width; i++ {
		switch {
		case i < filled-1:
			bar.WriteString("=")
		case i == filled-1:
			bar.WriteString(">")
		default:
			bar.WriteString(" ")
		}
	}
	bar.WriteString("]")

	line := fmt.Sprintf("%s %3d%% %s", bar.String(), int(p.percent*100), p.description)
	if p.hasETA && p.percent < 1 {
		line += fmt.Sprintf(" (%s left)", formatDuration(p.remaining))
	}

	if tty {
		fmt.Fprintf(p.writer, "\r%s\033[K", line)
	} else {
		fmt.Fprintln(p.writer, line)
	}
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// formatDuration renders d with second precision: 45s, 2m10s, 1h5m0s.
func formatDuration(d time.Duration) string {
	return d.Round(time.Second).String()
}

// Spinner displays an animated spinner with a message.
// Example: |  Waiting for mount...
type Spinner struct {
	message   string
	running   bool
	chars     []string
	mu        sync.Mutex
	writer    io.Writer
	ticker    *time.Ticker
	done      chan struct{}
	startTime time.Time
	elapsed   bool
}

// NewSpinner creates a spinner. If the writer is not a TTY the animation
// is skipped and the message is printed once when started.
func NewSpinner(message string) *Spinner {
	return &Spinner{
		message: message,
		chars:   []string{"|", "/", "-", "\\"},
		writer:  os.Stdout,
		done:    make(chan struct{}),
	}
}

// WithElapsed shows the elapsed time after the message. Call before Start.
func (s *Spinner) WithElapsed() *Spinner {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.elapsed = true
	return s
}

// SetWriter sets the output writer (useful for testing).
func (s *Spinner) SetWriter(w io.Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writer = w
}

// Start begins the animation.
func (s *Spinner) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.running = true
	s.startTime = time.Now()

	if !writerIsTTY(s.writer) {
		fmt.Fprintf(s.writer, "%s...\n", s.message)
		return
	}

	s.ticker = time.NewTicker(100 * time.Millisecond)
	go func() {
		idx := 0
		for {
			select {
			case <-s.ticker.C:
				s.mu.Lock()
				if !s.running {
					s.mu.Unlock()
					return
				}
				fmt.Fprintf(s.writer, "\r%s  %s", s.chars[idx], s.formatMessage())
				idx = (idx + 1) % len(s.chars)
				s.mu.Unlock()
			case <-s.done:
				return
			}
		}
	}()
}

// formatMessage must be called with lock held.
func (s *Spinner) formatMessage() string {
	if !s.elapsed {
		return s.message
	}
	return fmt.Sprintf("%s (%ds elapsed)", s.message, int(time.Since(s.startTime).Seconds()))
}

// UpdateMessage updates the message while running.
func (s *Spinner) UpdateMessage(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.message = message
}

// Stop stops the animation and clears the line.
func (s *Spinner) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.running = false
	if s.ticker != nil {
		s.ticker.Stop()
	}
	close(s.done)

	if writerIsTTY(s.writer) {
		fmt.Fprintf(s.writer, "\r%s\r", strings.Repeat(" ", len(s.message)+20))
	}
}

// StopWithMessage stops the spinner and prints a final line.
func (s *Spinner) StopWithMessage(message string) {
	s.Stop()
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.writer, message)
}

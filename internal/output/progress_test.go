package output

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestProgressBar_NonTTYOnlyPrintsCompletion(t *testing.T) {
	buf := &bytes.Buffer{}
	p := NewProgress("/home/user/docs")
	p.SetWriter(buf)

	p.SetPercent(0.25)
	p.SetPercent(0.5)
	if buf.Len() != 0 {
		t.Errorf("non-TTY writer should not receive intermediate frames, got: %q", buf.String())
	}

	p.Finish()
	output := buf.String()
	if !strings.Contains(output, "100%") {
		t.Errorf("Finish() should show 100%%, got: %q", output)
	}
	if !strings.HasSuffix(strings.TrimSpace(output), "/home/user/docs") {
		t.Errorf("Finish() should end with description, got: %q", output)
	}
	if strings.Count(output, "\n") != 1 {
		t.Errorf("Finish() should print exactly one line, got: %q", output)
	}
}

func TestProgressBar_FinishTwice(t *testing.T) {
	buf := &bytes.Buffer{}
	p := NewProgress("x")
	p.SetWriter(buf)

	p.Finish()
	p.Finish()
	p.SetPercent(0.3)
	if strings.Count(buf.String(), "100%") != 1 {
		t.Errorf("Finish() should render once, got: %q", buf.String())
	}
}

func TestProgressBar_Clamp(t *testing.T) {
	p := NewProgress("x")
	p.SetWriter(&bytes.Buffer{})

	tests := []struct {
		in   float64
		want float64
	}{
		{-1, 0},
		{0.4, 0.4},
		{1.7, 1},
	}
	for _, tt := range tests {
		p.SetPercent(tt.in)
		if got := p.Percent(); got != tt.want {
			t.Errorf("SetPercent(%v) -> Percent() = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestProgressBar_Abort(t *testing.T) {
	buf := &bytes.Buffer{}
	p := NewProgress("x")
	p.SetWriter(buf)
	p.SetPercent(0.5)
	p.Abort()
	p.Finish()
	if buf.Len() != 0 {
		t.Errorf("aborted bar on non-TTY should print nothing, got: %q", buf.String())
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{45 * time.Second, "45s"},
		{130*time.Second + 400*time.Millisecond, "2m10s"},
		{time.Hour + 5*time.Minute, "1h5m0s"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.in); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSpinner_NonTTY(t *testing.T) {
	buf := &bytes.Buffer{}
	s := NewSpinner("Waiting for mount")
	s.SetWriter(buf)

	s.Start()
	s.Start()
	s.StopWithMessage("Mounted")

	want := "Waiting for mount...\nMounted\n"
	if buf.String() != want {
		t.Errorf("spinner output = %q, want %q", buf.String(), want)
	}
}

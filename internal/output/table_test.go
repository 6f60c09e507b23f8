package output

import (
	"strings"
	"testing"
	"time"

	"github.com/blackwell-systems/resticgx/internal/engine"
	"github.com/blackwell-systems/resticgx/internal/store"
)

func TestRenderSnapshotTable(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	snaps := []engine.Snapshot{
		{ID: "bbbbbbbbbbbb", Time: time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC), Hostname: "laptop", Paths: []string{"/home/user/photos"}},
		{ID: "aaaaaaaaaaaa", ShortID: "aaaaaaaa", Time: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), Hostname: "laptop", Paths: []string{"/home/user/docs"}},
	}

	out := RenderSnapshotTable(snaps)
	first := strings.Index(out, "aaaaaaaa")
	second := strings.Index(out, "bbbbbbbb")
	if first < 0 || second < 0 || first > second {
		t.Errorf("snapshots should be listed oldest first, got:\n%s", out)
	}
	if !strings.Contains(out, "2 snapshots") {
		t.Errorf("missing count footer, got:\n%s", out)
	}

	if got := RenderSnapshotTable(nil); got != "No snapshots found.\n" {
		t.Errorf("empty table = %q", got)
	}
}

func TestRenderForgetTable(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	ts := time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC)
	decisions := []engine.ForgetDecision{{
		Tags:    []string{"/home/user/docs"},
		Host:    "laptop",
		Keep:    []engine.Snapshot{{ID: "keep1234abcd", Time: ts}},
		Remove:  []engine.Snapshot{{ID: "gone1234abcd", Time: ts.Add(-24 * time.Hour)}},
		Reasons: []engine.KeepReason{{Snapshot: engine.Snapshot{ID: "keep1234abcd"}, Matches: []string{"last snapshot"}}},
	}}

	out := RenderForgetTable(decisions, true)
	for _, want := range []string{"/home/user/docs on laptop", "keep1234", "last snapshot", "gone1234", "1 kept, 1 would remove"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	if !strings.Contains(RenderForgetTable(decisions, false), "1 kept, 1 removed") {
		t.Errorf("non-dry-run footer should say removed")
	}
	if got := RenderForgetTable(nil, true); got != "Nothing to forget.\n" {
		t.Errorf("empty table = %q", got)
	}
}

func TestRenderTargetTable(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	finished := time.Now().Add(-3 * 24 * time.Hour)
	out := RenderTargetTable([]engine.BackupTarget{
		{Path: "/home/user/docs", LastBackupFinished: &finished},
		{Path: "/home/user/photos"},
	})
	if !strings.Contains(out, "3 days ago") {
		t.Errorf("expected relative time, got:\n%s", out)
	}
	if !strings.Contains(out, "never") {
		t.Errorf("expected never for missing timestamps, got:\n%s", out)
	}
}

func TestRenderStats(t *testing.T) {
	out := RenderStats("/srv/repo", engine.Stats{TotalSize: 1048576, TotalFileCount: 12345, SnapshotsCount: 3})
	for _, want := range []string{"/srv/repo", "1.0 MiB", "12,345", "Snapshots:   3"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRenderStatsWithoutFileCount(t *testing.T) {
	out := RenderStats("/srv/repo", engine.Stats{TotalSize: 2048, SnapshotsCount: 7})
	if strings.Contains(out, "Files:") {
		t.Errorf("expected no Files line when the count is unknown:\n%s", out)
	}
	if !strings.Contains(out, "Snapshots:   7") {
		t.Errorf("output missing snapshot count:\n%s", out)
	}
}

func TestRenderRunTable(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	runs := []*store.Run{
		{ID: "0f8e7d6c-1111", Kind: "backup", Target: "/home/user/docs", StartedAt: time.Now().Add(-2 * time.Hour), State: "succeeded"},
		{ID: "1a2b3c4d-2222", Kind: "forget", StartedAt: time.Now().Add(-time.Hour), State: "failed", Error: "exit code 1"},
	}
	out := RenderRunTable(runs)
	for _, want := range []string{"0f8e7d6c", "backup", "/home/user/docs", "failed", "exit code 1", "2 hours ago"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestShortenPath(t *testing.T) {
	tests := []struct {
		path string
		max  int
		want string
	}{
		{"/home/user/docs", 40, "/home/user/docs"},
		{"/home/user/projects/backup", 22, "/h/u/projects/backup"},
		{"/home/user/projects/backup", 23, "/h/user/projects/backup"},
		{"/home/user/projects/backup", 12, "backup"},
		{"/home/user/averyveryverylongname", 10, "averyveryv"},
	}
	for _, tt := range tests {
		if got := ShortenPath(tt.path, tt.max); got != tt.want {
			t.Errorf("ShortenPath(%q, %d) = %q, want %q", tt.path, tt.max, got, tt.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"exactly10c", 10, "exactly10c"},
		{"this is too long", 10, "this is..."},
		{"abcdef", 3, "abc"},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.max); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}

func TestFormatRelativeTime(t *testing.T) {
	if got := formatRelativeTime(time.Time{}); got != "never" {
		t.Errorf("zero time = %q, want never", got)
	}
	if got := formatRelativeTime(time.Now()); got != "just now" {
		t.Errorf("now = %q, want just now", got)
	}
	if got := formatTimePtr(nil); got != "never" {
		t.Errorf("nil = %q, want never", got)
	}
}

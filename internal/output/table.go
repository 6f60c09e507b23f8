// Package output provides terminal output utilities for resticgx.
//
// This package includes:
//   - Table rendering for snapshots, forget decisions, targets, stats and run history
//   - A progress bar with remaining-time estimate and a spinner
//   - A reporter that turns engine backup events into progress output
//
// Tables use plain box-drawing rules and ANSI colors only when stdout is a terminal.
package output

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"github.com/blackwell-systems/resticgx/internal/engine"
	"github.com/blackwell-systems/resticgx/internal/store"
)

const (
	colorReset  = "\033[0m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorRed    = "\033[31m"
	colorGray   = "\033[90m"
)

// IsColorEnabled returns true if ANSI color codes should be emitted.
// It checks that os.Stdout is a TTY and that NO_COLOR is not set.
func IsColorEnabled() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return isatty.IsTerminal(os.Stdout.Fd())
}

func colorize(color, text string) string {
	if !IsColorEnabled() {
		return text
	}
	return color + text + colorReset
}

// RenderSnapshotTable renders snapshots oldest first.
func RenderSnapshotTable(snapshots []engine.Snapshot) string {
	if len(snapshots) == 0 {
		return "No snapshots found.\n"
	}

	sorted := make([]engine.Snapshot, len(snapshots))
	copy(sorted, snapshots)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Time.Before(sorted[j].Time)
	})

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%-10s %-20s %-16s %s\n", "ID", "Time", "Host", "Paths"))
	sb.WriteString(strings.Repeat("─", 80))
	sb.WriteString("\n")
	for _, s := range sorted {
		sb.WriteString(fmt.Sprintf("%-10s %-20s %-16s %s\n",
			s.Short(),
			s.Time.Local().Format("2006-01-02 15:04:05"),
			truncate(s.Hostname, 16),
			ShortenPath(strings.Join(s.Paths, ", "), 40)))
	}
	sb.WriteString(fmt.Sprintf("\n%d snapshots\n", len(sorted)))
	return sb.String()
}

// RenderForgetTable renders the keep/remove decision of each group.
func RenderForgetTable(decisions []engine.ForgetDecision, dryRun bool) string {
	if len(decisions) == 0 {
		return "Nothing to forget.\n"
	}

	removeVerb := "removed"
	if dryRun {
		removeVerb = "would remove"
	}

	var sb strings.Builder
	var kept, removed int
	for _, d := range decisions {
		label := strings.Join(d.Tags, ", ")
		if label == "" {
			label = strings.Join(d.Paths, ", ")
		}
		sb.WriteString(fmt.Sprintf("%s on %s\n", ShortenPath(label, 50), d.Host))
		sb.WriteString(strings.Repeat("─", 60))
		sb.WriteString("\n")

		reasons := make(map[string][]string, len(d.Reasons))
		for _, r := range d.Reasons {
			reasons[r.Snapshot.ID] = r.Matches
		}
		for _, s := range d.Keep {
			why := strings.Join(reasons[s.ID], ", ")
			sb.WriteString(fmt.Sprintf("  %s %-10s %-20s %s\n",
				colorize(colorGreen, "keep  "), s.Short(), s.Time.Local().Format("2006-01-02 15:04:05"), colorize(colorGray, why)))
		}
		for _, s := range d.Remove {
			sb.WriteString(fmt.Sprintf("  %s %-10s %s\n",
				colorize(colorRed, "remove"), s.Short(), s.Time.Local().Format("2006-01-02 15:04:05")))
		}
		sb.WriteString("\n")
		kept += len(d.Keep)
		removed += len(d.Remove)
	}
	sb.WriteString(fmt.Sprintf("%d kept, %d %s\n", kept, removed, removeVerb))
	return sb.String()
}

// RenderTargetTable renders the backup targets of a profile with their
// last known timestamps.
func RenderTargetTable(targets []engine.BackupTarget) string {
	if len(targets) == 0 {
		return "No targets configured.\n"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%-40s %-16s %-16s %-16s\n", "Path", "Last Backup", "Last Started", "Last Cleanup"))
	sb.WriteString(strings.Repeat("─", 90))
	sb.WriteString("\n")
	for _, t := range targets {
		finished := formatTimePtr(t.LastBackupFinished)
		if t.LastBackupFinished == nil {
			finished = colorize(colorYellow, finished)
		}
		sb.WriteString(fmt.Sprintf("%-40s %-16s %-16s %-16s\n",
			ShortenPath(t.Path, 40),
			finished,
			formatTimePtr(t.LastBackupStart),
			formatTimePtr(t.LastCleanup)))
	}
	return sb.String()
}

// RenderStats renders repository statistics.
func RenderStats(repo string, stats engine.Stats) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Repository:  %s\n", repo))
	sb.WriteString(fmt.Sprintf("Total size:  %s\n", formatSize(stats.TotalSize)))
	if stats.TotalFileCount > 0 {
		sb.WriteString(fmt.Sprintf("Files:       %s\n", humanize.Comma(int64(stats.TotalFileCount))))
	}
	sb.WriteString(fmt.Sprintf("Snapshots:   %d\n", stats.SnapshotsCount))
	return sb.String()
}

// RenderRunTable renders run history, newest first.
func RenderRunTable(runs []*store.Run) string {
	if len(runs) == 0 {
		return "No runs recorded.\n"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%-8s %-10s %-16s %-10s %s\n", "Run", "Kind", "Started", "State", "Detail"))
	sb.WriteString(strings.Repeat("─", 80))
	sb.WriteString("\n")
	for _, r := range runs {
		detail := r.Target
		if r.Error != "" {
			detail = colorize(colorRed, truncate(r.Error, 40))
		}
		sb.WriteString(fmt.Sprintf("%-8s %-10s %-16s %-10s %s\n",
			shortID(r.ID),
			r.Kind,
			formatRelativeTime(r.StartedAt),
			formatState(r.State),
			detail))
	}
	return sb.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatState(state string) string {
	switch state {
	case "succeeded":
		return colorize(colorGreen, state)
	case "partial", "killed":
		return colorize(colorYellow, state)
	case "failed":
		return colorize(colorRed, state)
	default:
		return state
	}
}

// formatSize renders bytes with binary units (e.g. "1.5 GiB").
func formatSize(bytes uint64) string {
	return humanize.IBytes(bytes)
}

// formatRelativeTime converts a timestamp to relative time (e.g. "2 days ago").
func formatRelativeTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	if time.Since(t) < time.Minute {
		return "just now"
	}
	return humanize.Time(t)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return formatRelativeTime(*t)
}

// truncate shortens s to maxLen characters with a trailing ellipsis.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

// ShortenPath fits path into maxLen characters for display by reducing
// directory names to their first letter, left to right. If that is not
// enough only the last element is kept, cut to maxLen.
// Example: /home/user/projects/backup -> /h/u/projects/backup
func ShortenPath(path string, maxLen int) string {
	if len(path) <= maxLen {
		return path
	}
	sep := string(filepath.Separator)
	parts := strings.Split(path, sep)
	for i := 1; i < len(parts)-1; i++ {
		if len(parts[i]) > 1 {
			parts[i] = parts[i][:1]
			if cut := strings.Join(parts, sep); len(cut) <= maxLen {
				return cut
			}
		}
	}
	last := parts[len(parts)-1]
	if len(last) > maxLen {
		return last[:maxLen]
	}
	return last
}

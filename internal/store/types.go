package store

import "time"

// Run kinds.
const (
	KindBackup  = "backup"
	KindForget  = "forget"
	KindRestore = "restore"
	KindInit    = "init"
	KindUnlock  = "unlock"
)

// StateRunning marks a run that has not finished.
const StateRunning = "running"

// Run is one recorded engine invocation.
type Run struct {
	ID         string
	Profile    string
	Kind       string
	Target     string
	StartedAt  time.Time
	FinishedAt *time.Time
	State      string
	Error      string
}

// TargetTimes holds the tracked timestamps of one backup target.
type TargetTimes struct {
	Profile            string
	Path               string
	LastBackupStart    *time.Time
	LastBackupFinished *time.Time
	LastCleanup        *time.Time
}

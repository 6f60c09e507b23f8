package engine

import (
	"strings"
	"time"
)

// Profile is a named backup configuration: one repository and the
// directories backed up into it.
type Profile struct {
	Name        string            `yaml:"name" validate:"required,profilename"`
	Repo        string            `yaml:"repo" validate:"required"`
	RepoEnv     map[string]string `yaml:"repo_env,omitempty"`
	Targets     []BackupTarget    `yaml:"targets,omitempty" validate:"dive"`
	Exclude     ExcludeRule       `yaml:"exclude,omitempty"`
	Retention   RetentionPolicy   `yaml:"retention,omitempty"`
	IgnoreCtime bool              `yaml:"ignore_ctime,omitempty"`
	IgnoreInode bool              `yaml:"ignore_inode,omitempty"`

	// Auth is supplied at runtime and never persisted.
	Auth Auth `yaml:"-"`
}

// IsLocalRepo reports whether the profile's repository lives on a local path.
func (p *Profile) IsLocalRepo() bool {
	return IsLocalRepo(p.Repo)
}

// LocalRepoPath returns the repository's filesystem path. Only meaningful
// when IsLocalRepo is true.
func (p *Profile) LocalRepoPath() string {
	return LocalPath(p.Repo)
}

// Target returns the target with the given path.
func (p *Profile) Target(path string) (BackupTarget, bool) {
	for _, t := range p.Targets {
		if t.Path == path {
			return t, true
		}
	}
	return BackupTarget{}, false
}

// BackupTarget is one source directory of a profile. The timestamps are
// tracked in the local store; only the path is part of the profile file.
type BackupTarget struct {
	Path               string     `yaml:"path" validate:"required"`
	LastBackupStart    *time.Time `yaml:"-"`
	LastBackupFinished *time.Time `yaml:"-"`
	LastCleanup        *time.Time `yaml:"-"`
}

// RetentionPolicy holds keep-rules for forget. Zero means the rule does not
// constrain retention.
type RetentionPolicy struct {
	KeepLast    int `yaml:"keep_last,omitempty" validate:"gte=0"`
	KeepHourly  int `yaml:"keep_hourly,omitempty" validate:"gte=0"`
	KeepDaily   int `yaml:"keep_daily,omitempty" validate:"gte=0"`
	KeepWeekly  int `yaml:"keep_weekly,omitempty" validate:"gte=0"`
	KeepMonthly int `yaml:"keep_monthly,omitempty" validate:"gte=0"`
}

// IsZero reports whether no keep-rule is set.
func (r RetentionPolicy) IsZero() bool {
	return r == RetentionPolicy{}
}

// ExcludeMethod selects where exclude patterns come from.
type ExcludeMethod string

const (
	ExcludeNone ExcludeMethod = "none"
	ExcludeList ExcludeMethod = "list"
	ExcludeFile ExcludeMethod = "file"
)

// ExcludeRule configures what a backup skips. List and File are mutually
// exclusive by Method; the size threshold applies whenever it is positive.
type ExcludeRule struct {
	Method        ExcludeMethod `yaml:"method,omitempty" validate:"omitempty,oneof=none list file"`
	List          []string      `yaml:"list,omitempty"`
	File          string        `yaml:"file,omitempty" validate:"required_if=Method file"`
	SizeThreshold int           `yaml:"size_threshold,omitempty" validate:"gte=0"`
	SizeUnit      string        `yaml:"size_unit,omitempty" validate:"omitempty,oneof=k K m M g G t T"`
}

// Snapshot is a snapshot as reported by an engine.
type Snapshot struct {
	ID       string    `json:"id"`
	ShortID  string    `json:"short_id,omitempty"`
	Time     time.Time `json:"time"`
	Hostname string    `json:"hostname"`
	Username string    `json:"username,omitempty"`
	UID      int       `json:"uid,omitempty"`
	GID      int       `json:"gid,omitempty"`
	Paths    []string  `json:"paths"`
	Tags     []string  `json:"tags,omitempty"`
	Parent   string    `json:"parent,omitempty"`
	Tree     string    `json:"tree,omitempty"`
	Original string    `json:"original,omitempty"`
}

// HasTag reports whether tag is one of the snapshot's tags.
func (s Snapshot) HasTag(tag string) bool {
	for _, t := range s.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Short returns the abbreviated id.
func (s Snapshot) Short() string {
	if s.ShortID != "" {
		return s.ShortID
	}
	if len(s.ID) > 8 {
		return s.ID[:8]
	}
	return s.ID
}

// KeepReason explains why forget keeps a snapshot.
type KeepReason struct {
	Snapshot Snapshot       `json:"snapshot"`
	Matches  []string       `json:"matches"`
	Counters map[string]int `json:"counters,omitempty"`
}

// ForgetDecision is the forget outcome for one group of snapshots.
type ForgetDecision struct {
	Tags    []string     `json:"tags"`
	Host    string       `json:"host"`
	Paths   []string     `json:"paths"`
	Keep    []Snapshot   `json:"keep"`
	Remove  []Snapshot   `json:"remove"`
	Reasons []KeepReason `json:"reasons"`
}

// Stats summarizes a repository. TotalFileCount is zero when the engine
// does not report a source file count.
type Stats struct {
	TotalSize      uint64 `json:"total_size"`
	TotalFileCount uint64 `json:"total_file_count"`
	SnapshotsCount int    `json:"snapshots_count"`
}

// Auth carries the repository password for one invocation. When Command is
// set the engine runs it to obtain the password and Password is not passed.
type Auth struct {
	Password string
	Command  string
}

// Scope selects what forget operates on: the snapshots of some targets, or
// one explicit snapshot. Exactly one must be set.
type Scope struct {
	Targets    []BackupTarget
	SnapshotID string
}

// Validate checks that exactly one of Targets and SnapshotID is set.
func (s Scope) Validate() error {
	hasTargets := len(s.Targets) > 0
	hasID := s.SnapshotID != ""
	switch {
	case hasTargets && hasID:
		return &InvalidScopeError{Reason: "both targets and a snapshot id were given"}
	case !hasTargets && !hasID:
		return &InvalidScopeError{Reason: "must provide targets or a snapshot id"}
	}
	return nil
}

var remoteBackends = []string{"s3", "sftp", "rest", "rclone", "b2", "azure", "gs", "swift", "opendal"}

// IsLocalRepo reports whether repo is a filesystem path rather than a
// "<backend>:" location.
func IsLocalRepo(repo string) bool {
	for _, b := range remoteBackends {
		if strings.HasPrefix(repo, b+":") {
			return false
		}
	}
	return true
}

const localPrefix = "local:"

// LocalPath returns the filesystem path of a local repository, dropping
// the explicit "local:" backend prefix.
func LocalPath(repo string) string {
	return strings.TrimPrefix(repo, localPrefix)
}

// Reconcile sets each target's LastBackupFinished to the time of the newest
// snapshot taken on host and tagged with the target path. Targets without a
// matching snapshot keep their current value.
func Reconcile(targets []BackupTarget, snapshots []Snapshot, host string) []BackupTarget {
	out := make([]BackupTarget, len(targets))
	copy(out, targets)
	for i := range out {
		var newest *time.Time
		for _, s := range snapshots {
			if s.Hostname != host || !s.HasTag(out[i].Path) {
				continue
			}
			if newest == nil || s.Time.After(*newest) {
				t := s.Time
				newest = &t
			}
		}
		if newest != nil {
			out[i].LastBackupFinished = newest
		}
	}
	return out
}

// Package engine translates engine-independent operations into invocations
// of a backup engine CLI and decodes the engine's JSON output.
package engine

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"

	"github.com/blackwell-systems/resticgx/internal/process"
)

// Kind names a supported engine.
type Kind string

const (
	Restic Kind = "restic"
	Rustic Kind = "rustic"
)

// ParseKind parses an engine name.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case Restic, Rustic:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("unknown engine %q (want restic or rustic)", s)
	}
}

// Exit code the engines use for a snapshot that was created but could not
// read every file.
const PartialExitCode = 3

// Adapter builds engine invocations and parses their output. Builders never
// start anything except where they return a *process.Process, which is
// still idle.
type Adapter interface {
	Kind() Kind
	Binary() string
	SupportsMount() bool

	BuildInit(repo string, repoEnv map[string]string, auth Auth) process.Spec
	BuildSnapshotsQuery(repo string, repoEnv map[string]string, auth Auth) process.Spec
	BuildBackup(p *Profile, targets []BackupTarget) ([]*process.Process, error)
	BuildForget(p *Profile, policy RetentionPolicy, dryRun bool, scope Scope) (process.Spec, error)
	BuildMount(p *Profile, tag, mountDir string) (*process.Process, error)
	BuildRestore(p *Profile, tag, targetDir string) (*process.Process, error)
	BuildUnlock(repo string, auth Auth) process.Spec
	BuildStats(p *Profile) process.Spec

	ParseSnapshots(stdout []byte) ([]Snapshot, error)
	ParseForgetResult(stdout []byte) ([]ForgetDecision, error)
	ParseStats(stdout []byte) (Stats, error)
}

// Options configures binary resolution.
type Options struct {
	// BinDir holds the engine binaries. Empty means look the binary up on PATH.
	BinDir string
	// LookPath overrides exec.LookPath in tests.
	LookPath func(file string) (string, error)
}

// New returns the adapter for kind.
func New(kind Kind, opts Options) (Adapter, error) {
	switch kind {
	case Restic:
		return &restic{base: newBase(Restic, "RESTIC", opts)}, nil
	case Rustic:
		return &rustic{base: newBase(Rustic, "RUSTIC", opts)}, nil
	default:
		return nil, fmt.Errorf("unknown engine %q", kind)
	}
}

// ResolveBinary returns the path of the engine executable. When it cannot
// be found the bare name is returned and starting it yields a LaunchError.
func ResolveBinary(kind Kind, opts Options) string {
	file := string(kind)
	if runtime.GOOS == "windows" {
		file += ".exe"
	}
	if opts.BinDir != "" {
		return filepath.Join(opts.BinDir, file)
	}
	lookPath := opts.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	if path, err := lookPath(file); err == nil {
		return path
	}
	return file
}

// base holds what both engines share: binary, env var prefix and the
// retention flag grammar.
type base struct {
	kind   Kind
	bin    string
	prefix string
}

func newBase(kind Kind, prefix string, opts Options) base {
	return base{kind: kind, bin: ResolveBinary(kind, opts), prefix: prefix}
}

func (b *base) Kind() Kind     { return b.kind }
func (b *base) Binary() string { return b.bin }

// authEnv returns the variables that pass the password to the engine.
func (b *base) authEnv(auth Auth) map[string]string {
	env := make(map[string]string, 1)
	b.addAuth(env, auth)
	return env
}

func (b *base) addAuth(env map[string]string, auth Auth) {
	switch {
	case auth.Command != "":
		env[b.prefix+"_PASSWORD_COMMAND"] = auth.Command
	case auth.Password != "":
		env[b.prefix+"_PASSWORD"] = auth.Password
	}
}

// env merges the repository environment with the auth variables; auth wins.
func (b *base) env(repoEnv map[string]string, auth Auth) map[string]string {
	env := make(map[string]string, len(repoEnv)+1)
	for k, v := range repoEnv {
		env[k] = v
	}
	b.addAuth(env, auth)
	return env
}

func (b *base) spec(args []string, env map[string]string) process.Spec {
	return process.Spec{Path: b.bin, Args: args, Env: env}
}

func repoFlag(repo string) string {
	return "-r=" + repo
}

// keepFlags renders the non-zero keep rules in a fixed order.
func keepFlags(policy RetentionPolicy) []string {
	rules := []struct {
		name  string
		value int
	}{
		{"last", policy.KeepLast},
		{"hourly", policy.KeepHourly},
		{"daily", policy.KeepDaily},
		{"weekly", policy.KeepWeekly},
		{"monthly", policy.KeepMonthly},
	}
	var flags []string
	for _, r := range rules {
		if r.value > 0 {
			flags = append(flags, "--keep-"+r.name+"="+strconv.Itoa(r.value))
		}
	}
	return flags
}

// forgetArgs renders forget for both engines; only the tag filter spelling
// differs.
func forgetArgs(repo string, policy RetentionPolicy, dryRun bool, scope Scope, tagFlag string) ([]string, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	args := []string{"forget", "--json", repoFlag(repo)}
	if dryRun {
		args = append(args, "--dry-run")
	} else {
		args = append(args, "--prune")
	}
	args = append(args, keepFlags(policy)...)
	if len(scope.Targets) > 0 {
		for _, t := range scope.Targets {
			args = append(args, tagFlag+"="+t.Path)
		}
	} else {
		args = append(args, scope.SnapshotID)
	}
	return args, nil
}

// excludeArgs renders the repository self-exclusion and the profile's
// exclude rule using the engine's pattern flag and file flag.
func excludeArgs(p *Profile, pattern func(string) string, fileFlag string) ([]string, error) {
	var args []string
	if p.IsLocalRepo() {
		args = append(args, pattern(p.LocalRepoPath()))
	}
	rule := p.Exclude
	if rule.SizeThreshold > 0 {
		args = append(args, fmt.Sprintf("--exclude-larger-than=%d%s", rule.SizeThreshold, rule.SizeUnit))
	}
	switch rule.Method {
	case "", ExcludeNone:
	case ExcludeList:
		for _, item := range rule.List {
			if item == "" {
				continue
			}
			args = append(args, pattern(item))
		}
	case ExcludeFile:
		if rule.File == "" {
			return nil, fmt.Errorf("exclude method %q requires a file", rule.Method)
		}
		args = append(args, fileFlag+"="+rule.File)
	default:
		return nil, fmt.Errorf("unknown exclude method %q", rule.Method)
	}
	return args, nil
}

func backupToggles(p *Profile) []string {
	var args []string
	if p.IgnoreCtime {
		args = append(args, "--ignore-ctime")
	}
	if p.IgnoreInode {
		args = append(args, "--ignore-inode")
	}
	return args
}

// backupProcesses builds one tagged process per target.
func (b *base) backupProcesses(p *Profile, targets []BackupTarget, exclude []string) []*process.Process {
	procs := make([]*process.Process, 0, len(targets))
	for _, t := range targets {
		args := []string{"backup", "--json", "--exclude-caches", "--tag=" + t.Path, repoFlag(p.Repo), t.Path}
		args = append(args, exclude...)
		args = append(args, backupToggles(p)...)
		spec := b.spec(args, b.env(p.RepoEnv, p.Auth))
		spec.Tag = t.Path
		spec.PartialCode = PartialExitCode
		procs = append(procs, process.New(spec))
	}
	return procs
}

// EnvKeys returns the sorted variable names of env, for logging without values.
func EnvKeys(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

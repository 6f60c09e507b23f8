package app

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/blackwell-systems/resticgx/internal/profile"
	"github.com/blackwell-systems/resticgx/internal/store"
)

// fakeRestic stands in for the restic binary. It records its arguments
// and password and answers each subcommand with canned JSON.
const fakeRestic = `#!/bin/sh
echo "$*" >> "$FAKE_ENGINE_DIR/calls"
printf '%s' "$RESTIC_PASSWORD" > "$FAKE_ENGINE_DIR/password"
case "$1" in
snapshots)
	if [ -f "$FAKE_ENGINE_DIR/no-repo" ]; then
		echo "Fatal: repository does not exist: unable to open config file" >&2
		exit 10
	fi
	if [ -f "$FAKE_ENGINE_DIR/snapshots.json" ]; then
		cat "$FAKE_ENGINE_DIR/snapshots.json"
	else
		echo '[]'
	fi
	;;
init)
	rm -f "$FAKE_ENGINE_DIR/no-repo"
	echo '{"message_type":"initialized","id":"0123456789"}'
	;;
backup)
	echo '{"message_type":"status","percent_done":0.5}'
	echo '{"message_type":"summary","files_new":3,"data_added":2048,"snapshot_id":"abcdef0123456789"}'
	;;
forget)
	echo '[{"tags":["t"],"host":"h","paths":["/p"],"keep":[{"id":"1111111111","time":"2024-01-01T00:00:00Z","hostname":"h","paths":["/p"]}],"remove":[{"id":"2222222222","time":"2023-01-01T00:00:00Z","hostname":"h","paths":["/p"]}],"reasons":[]}]'
	;;
stats)
	echo '{"total_size":1048576,"total_file_count":1234,"snapshots_count":2}'
	;;
unlock|restore)
	;;
*)
	echo "unknown command $1" >&2
	exit 1
	;;
esac
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
	return path
}

// resetFlags restores every flag to its default so one test's flags do
// not leak into the next run of the shared command tree.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		switch f.Value.Type() {
		case "stringArray", "stringSlice":
			// reset through the bound variables in resetGlobals
		default:
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}

func resetGlobals(t *testing.T) {
	t.Helper()
	restore := func() {
		resetFlags(RootCmd)
		profileFlagEnv = nil
		setFlagExclude = nil
		configPath, dbPath, engineName, passwordFile = "", "", "", ""
		debugFlag = false
	}
	restore()
	t.Cleanup(restore)
}

type harness struct {
	t       *testing.T
	root    string
	config  string
	dataDir string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake engine is a shell script")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	resetGlobals(t)

	root := t.TempDir()
	bin := filepath.Join(root, "bin")
	if err := os.MkdirAll(bin, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(bin, "restic"), []byte(fakeRestic), 0o755); err != nil {
		t.Fatal(err)
	}

	dataDir := filepath.Join(root, "data")
	cfg := fmt.Sprintf("engine: restic\nbin_dir: %s\ndata_dir: %s\nsettle_delay: 1ms\n", bin, dataDir)
	t.Setenv("FAKE_ENGINE_DIR", root)
	t.Setenv(PasswordEnv, "hunter2")

	return &harness{
		t:       t,
		root:    root,
		config:  writeFile(t, root, "config.yaml", cfg),
		dataDir: dataDir,
	}
}

// run executes the CLI with args and returns its stdout.
func (h *harness) run(args ...string) (string, error) {
	h.t.Helper()
	resetGlobals(h.t)

	var stdout, stderr bytes.Buffer
	RootCmd.SetOut(&stdout)
	RootCmd.SetErr(&stderr)
	RootCmd.SetArgs(append([]string{"--config", h.config}, args...))
	defer RootCmd.SetArgs(nil)

	err := RootCmd.Execute()
	return stdout.String(), err
}

func (h *harness) mustRun(args ...string) string {
	h.t.Helper()
	out, err := h.run(args...)
	if err != nil {
		h.t.Fatalf("resticgx %s: %v\noutput:\n%s", strings.Join(args, " "), err, out)
	}
	return out
}

func (h *harness) calls() string {
	data, _ := os.ReadFile(filepath.Join(h.root, "calls"))
	return string(data)
}

func (h *harness) store() *store.Store {
	h.t.Helper()
	st, err := store.Open(filepath.Join(h.dataDir, "resticgx.db"))
	if err != nil {
		h.t.Fatalf("failed to open store: %v", err)
	}
	h.t.Cleanup(func() { st.Close() })
	return st
}

// newProfile creates a profile with one existing target directory.
func (h *harness) newProfile(name, repo string) string {
	h.t.Helper()
	target := h.t.TempDir()
	h.mustRun("profile", "create", name, repo)
	h.mustRun("profile", "add-target", name, target)
	return target
}

func TestProfileLifecycle(t *testing.T) {
	h := newHarness(t)
	target := t.TempDir()

	out := h.mustRun("profile", "list")
	if !strings.Contains(out, "No profiles") {
		t.Errorf("expected empty list message, got:\n%s", out)
	}

	h.mustRun("profile", "create", "cloud", "s3:example.com/bucket", "--env", "AWS_SECRET_ACCESS_KEY=topsecret")
	out = h.mustRun("profile", "add-target", "cloud", target)
	if !strings.Contains(out, "Added "+target) {
		t.Errorf("expected target to be added, got:\n%s", out)
	}
	out = h.mustRun("profile", "add-target", "cloud", target)
	if !strings.Contains(out, "already a target") {
		t.Errorf("expected duplicate notice, got:\n%s", out)
	}

	h.mustRun("profile", "set", "cloud", "--keep-daily", "7", "--exclude-method", "list", "--exclude", "*.tmp")

	out = h.mustRun("profile", "show", "cloud")
	for _, want := range []string{"repo: s3:example.com/bucket", "keep_daily: 7", "*.tmp", target, "AWS_SECRET_ACCESS_KEY"} {
		if !strings.Contains(out, want) {
			t.Errorf("show output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "topsecret") {
		t.Errorf("show must not print repository environment values:\n%s", out)
	}

	out = h.mustRun("profile", "list")
	if !strings.Contains(out, "cloud") || !strings.Contains(out, "1 target(s)") {
		t.Errorf("unexpected list output:\n%s", out)
	}

	h.mustRun("profile", "remove-target", "cloud", target)
	out = h.mustRun("profile", "show", "cloud")
	if !strings.Contains(out, "No targets configured") {
		t.Errorf("expected no targets, got:\n%s", out)
	}

	h.mustRun("profile", "delete", "cloud")
	out = h.mustRun("profile", "list")
	if !strings.Contains(out, "No profiles") {
		t.Errorf("expected profile to be deleted, got:\n%s", out)
	}
}

func TestProfileCreateErrors(t *testing.T) {
	h := newHarness(t)
	h.mustRun("profile", "create", "home", "/srv/backup")

	if _, err := h.run("profile", "create", "home", "/srv/other"); !errors.Is(err, profile.ErrExists) {
		t.Errorf("expected ErrExists, got %v", err)
	}
	if _, err := h.run("profile", "create", "No Spaces", "/srv/other"); !errors.Is(err, profile.ErrInvalidName) {
		t.Errorf("expected ErrInvalidName, got %v", err)
	}
	if _, err := h.run("profile", "show", "missing"); !errors.Is(err, profile.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := h.run("profile", "add-target", "home", filepath.Join(h.root, "does-not-exist")); err == nil {
		t.Error("expected error adding a missing directory")
	}
	if _, err := h.run("profile", "set", "home"); err == nil || !strings.Contains(err.Error(), "nothing to change") {
		t.Errorf("expected nothing-to-change error, got %v", err)
	}
	if _, err := h.run("profile", "set", "home", "--exclude-method", "bogus"); err == nil {
		t.Error("expected validation error for unknown exclude method")
	}
}

func TestBackupCommand(t *testing.T) {
	h := newHarness(t)
	target := h.newProfile("home", filepath.Join(h.root, "repo"))

	out := h.mustRun("backup", "home")
	if !strings.Contains(out, "snapshot abcdef01") {
		t.Errorf("expected snapshot summary, got:\n%s", out)
	}
	if !strings.Contains(out, "Backed up 1 target(s)") {
		t.Errorf("expected completion line, got:\n%s", out)
	}

	calls := h.calls()
	if !strings.Contains(calls, "backup --json") || !strings.Contains(calls, "--tag="+target) {
		t.Errorf("unexpected engine calls:\n%s", calls)
	}
	if strings.Contains(calls, "hunter2") {
		t.Error("password must not appear in engine arguments")
	}
	password, _ := os.ReadFile(filepath.Join(h.root, "password"))
	if string(password) != "hunter2" {
		t.Errorf("engine password = %q, want %q", password, "hunter2")
	}

	times, err := h.store().TargetTimes("home")
	if err != nil {
		t.Fatalf("TargetTimes: %v", err)
	}
	tt := times[target]
	if tt == nil || tt.LastBackupStart == nil || tt.LastBackupFinished == nil {
		t.Fatalf("expected backup times for %s, got %+v", target, tt)
	}

	out = h.mustRun("status", "home")
	if !strings.Contains(out, "backup") || !strings.Contains(out, "succeeded") {
		t.Errorf("expected recorded run in status, got:\n%s", out)
	}
}

func TestBackupTargetSelection(t *testing.T) {
	h := newHarness(t)
	h.newProfile("home", filepath.Join(h.root, "repo"))

	_, err := h.run("backup", "home", filepath.Join(h.root, "elsewhere"))
	if err == nil || !strings.Contains(err.Error(), "is not a target") {
		t.Errorf("expected not-a-target error, got %v", err)
	}

	h.mustRun("profile", "create", "empty", filepath.Join(h.root, "repo2"))
	_, err = h.run("backup", "empty")
	if err == nil || !strings.Contains(err.Error(), "has no targets") {
		t.Errorf("expected no-targets error, got %v", err)
	}
}

func TestMissingPassword(t *testing.T) {
	h := newHarness(t)
	h.newProfile("home", filepath.Join(h.root, "repo"))
	t.Setenv(PasswordEnv, "")

	if _, err := h.run("backup", "home"); !errors.Is(err, errNoPassword) {
		t.Errorf("expected errNoPassword, got %v", err)
	}
}

func TestSnapshotsReconcilesTargetTimes(t *testing.T) {
	h := newHarness(t)
	target := h.newProfile("home", filepath.Join(h.root, "repo"))

	host, err := os.Hostname()
	if err != nil {
		t.Skip("no hostname")
	}
	snaps := fmt.Sprintf(`[
  {"id":"aaaaaaaaaaaa","time":"2024-03-01T10:00:00Z","hostname":%q,"paths":[%q],"tags":[%q]},
  {"id":"bbbbbbbbbbbb","time":"2024-03-02T10:00:00Z","hostname":%q,"paths":[%q],"tags":[%q]},
  {"id":"cccccccccccc","time":"2024-03-05T10:00:00Z","hostname":"other-host","paths":[%q],"tags":[%q]}
]`, host, target, target, host, target, target, target, target)
	writeFile(t, h.root, "snapshots.json", snaps)

	out := h.mustRun("snapshots", "home")
	if !strings.Contains(out, "3 snapshots") {
		t.Errorf("expected snapshot table, got:\n%s", out)
	}

	times, err := h.store().TargetTimes("home")
	if err != nil {
		t.Fatalf("TargetTimes: %v", err)
	}
	want := time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC)
	tt := times[target]
	if tt == nil || tt.LastBackupFinished == nil || !tt.LastBackupFinished.Equal(want) {
		t.Errorf("LastBackupFinished = %+v, want %v", tt, want)
	}
}

func TestSnapshotsInitializesMissingRepo(t *testing.T) {
	h := newHarness(t)
	h.newProfile("home", filepath.Join(h.root, "repo"))
	writeFile(t, h.root, "no-repo", "")

	_, err := h.run("snapshots", "home")
	if err == nil || !strings.Contains(err.Error(), "resticgx init home") {
		t.Errorf("expected hint to initialize, got %v", err)
	}
	if strings.Contains(h.calls(), "init --json") {
		t.Error("snapshots without --init must not initialize")
	}

	out := h.mustRun("snapshots", "home", "--init")
	if !strings.Contains(out, "No snapshots found") {
		t.Errorf("expected empty snapshot table, got:\n%s", out)
	}
	if !strings.Contains(h.calls(), "init --json") {
		t.Error("expected repository to be initialized")
	}
}

func TestForgetCommand(t *testing.T) {
	h := newHarness(t)
	target := h.newProfile("home", filepath.Join(h.root, "repo"))

	_, err := h.run("forget", "home")
	if err == nil || !strings.Contains(err.Error(), "no retention policy") {
		t.Fatalf("expected missing policy error, got %v", err)
	}

	h.mustRun("profile", "set", "home", "--keep-last", "3")

	out := h.mustRun("forget", "home", "--dry-run")
	if !strings.Contains(out, "1 kept, 1 would remove") {
		t.Errorf("unexpected dry-run output:\n%s", out)
	}
	if !strings.Contains(h.calls(), "--dry-run --keep-last=3 --tag="+target) {
		t.Errorf("unexpected forget arguments:\n%s", h.calls())
	}
	times, _ := h.store().TargetTimes("home")
	if tt := times[target]; tt != nil && tt.LastCleanup != nil {
		t.Error("dry run must not record a cleanup")
	}

	out = h.mustRun("forget", "home")
	if !strings.Contains(out, "1 kept, 1 removed") {
		t.Errorf("unexpected forget output:\n%s", out)
	}
	if !strings.Contains(h.calls(), "--prune") {
		t.Errorf("expected prune, got:\n%s", h.calls())
	}
	times, _ = h.store().TargetTimes("home")
	if tt := times[target]; tt == nil || tt.LastCleanup == nil {
		t.Error("expected cleanup time to be recorded")
	}

	_, err = h.run("forget", "home", target, "--snapshot", "abc")
	if err == nil {
		t.Error("expected error combining --snapshot with paths")
	}
}

func TestStatsCommand(t *testing.T) {
	h := newHarness(t)
	h.newProfile("cloud", "s3:example.com/bucket")

	out := h.mustRun("stats", "cloud")
	for _, want := range []string{"s3:example.com/bucket", "1.0 MiB", "1,234", "Snapshots:   2"} {
		if !strings.Contains(out, want) {
			t.Errorf("stats output missing %q:\n%s", want, out)
		}
	}
}

func TestUnlockRestoreInit(t *testing.T) {
	h := newHarness(t)
	target := h.newProfile("home", filepath.Join(h.root, "repo"))

	out := h.mustRun("init", "home")
	if !strings.Contains(out, "Initialized repository") {
		t.Errorf("unexpected init output:\n%s", out)
	}

	out = h.mustRun("unlock", "home")
	if !strings.Contains(out, "Unlocked repository") {
		t.Errorf("unexpected unlock output:\n%s", out)
	}

	restoreDir := filepath.Join(h.root, "restored", "nested")
	out = h.mustRun("restore", "home", target, restoreDir)
	if !strings.Contains(out, "Restored "+target) {
		t.Errorf("unexpected restore output:\n%s", out)
	}
	if info, err := os.Stat(restoreDir); err != nil || !info.IsDir() {
		t.Errorf("expected restore directory to be created: %v", err)
	}
	if !strings.Contains(h.calls(), "--target="+restoreDir) {
		t.Errorf("unexpected restore arguments:\n%s", h.calls())
	}

	out = h.mustRun("status")
	for _, kind := range []string{"init", "unlock", "restore"} {
		if !strings.Contains(out, kind) {
			t.Errorf("status missing %s run:\n%s", kind, out)
		}
	}
}

func TestMountRequiresMountSupport(t *testing.T) {
	h := newHarness(t)
	target := h.newProfile("home", filepath.Join(h.root, "repo"))

	_, err := h.run("--engine", "rustic", "mount", "home", target)
	if err == nil || !strings.Contains(err.Error(), "mount") {
		t.Errorf("expected unsupported mount error, got %v", err)
	}
}

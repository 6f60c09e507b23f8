// Package orchestrator runs engine operations for a profile. It owns the
// single running backup batch and the single active mount, and turns
// adapter invocations into engine-independent results.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/blackwell-systems/resticgx/internal/du"
	"github.com/blackwell-systems/resticgx/internal/engine"
	"github.com/blackwell-systems/resticgx/internal/lg"
	"github.com/blackwell-systems/resticgx/internal/process"
	"github.com/blackwell-systems/resticgx/internal/store"
)

// Orchestrator exposes engine-independent operations over one adapter.
type Orchestrator struct {
	adapter  engine.Adapter
	log      lg.Logger
	settle   time.Duration
	recorder Recorder
	creds    Credentials
	fs       FS
	opener   Opener
	now      func() time.Time

	mountAttempts int
	mountInterval time.Duration
	mountRoot     string
	unmountWait   time.Duration

	mu           sync.Mutex
	currentBatch *process.Batch
	currentMount *mount

	// serializes Mount calls across the stop-and-wait of a previous mount
	mountMu sync.Mutex
}

// New returns an Orchestrator driving adapter.
func New(adapter engine.Adapter, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		adapter:       adapter,
		log:           lg.Discard,
		recorder:      nopRecorder{},
		fs:            osFS{},
		now:           time.Now,
		mountAttempts: 5,
		mountInterval: 500 * time.Millisecond,
		mountRoot:     os.TempDir(),
		unmountWait:   10 * time.Second,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.log = o.log.With(lg.String("engine", string(adapter.Kind())))
	return o
}

// NewForKind selects the adapter for kind.
func NewForKind(kind engine.Kind, engineOpts engine.Options, opts ...Option) (*Orchestrator, error) {
	adapter, err := engine.New(kind, engineOpts)
	if err != nil {
		return nil, err
	}
	return New(adapter, opts...), nil
}

// Adapter returns the selected engine adapter.
func (o *Orchestrator) Adapter() engine.Adapter {
	return o.adapter
}

// auth swaps a password for a password command when credentials are
// configured. The returned release must be called once the invocations
// are done.
func (o *Orchestrator) auth(a engine.Auth, uses int) (engine.Auth, func()) {
	if o.creds == nil || a.Password == "" || a.Command != "" {
		return a, func() {}
	}
	command, release := o.creds.Issue(a.Password, uses)
	return engine.Auth{Command: command}, release
}

func withAuth(p *engine.Profile, a engine.Auth) *engine.Profile {
	cp := *p
	cp.Auth = a
	return &cp
}

// run executes a short engine command.
func (o *Orchestrator) run(ctx context.Context, spec process.Spec) (process.Output, error) {
	o.log.Debug("running engine command", lg.String("cmd", spec.String()))
	out, err := process.Run(ctx, spec)
	if err != nil {
		o.log.Debug("engine command failed", lg.String("cmd", spec.String()), lg.Err(err))
	}
	return out, err
}

func (o *Orchestrator) startRun(profile, kind, target string) string {
	id, err := o.recorder.StartRun(profile, kind, target, o.now())
	if err != nil {
		o.log.Warn("failed to record run start", lg.String("kind", kind), lg.Err(err))
	}
	return id
}

func (o *Orchestrator) finishRun(id string, state process.State, runErr error) {
	if id == "" {
		return
	}
	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}
	if err := o.recorder.FinishRun(id, state.String(), msg, o.now()); err != nil {
		o.log.Warn("failed to record run finish", lg.String("run", id), lg.Err(err))
	}
}

func stateOf(err error) process.State {
	switch {
	case err == nil:
		return process.Succeeded
	case errors.Is(err, context.Canceled), errors.Is(err, process.ErrKilled):
		return process.Killed
	default:
		return process.Failed
	}
}

// BackupOptions receives the output and per-target progress of a backup.
type BackupOptions struct {
	Stdout io.Writer
	Stderr io.Writer
	// OnStart is called when the process for target has started.
	OnStart func(target string)
	// OnFinish is called when the process for target has finished, unless
	// the backup was stopped.
	OnFinish func(target string, res process.Result)
}

// Backup starts one backup per target, one after another. It fails with
// ErrAlreadyRunning while another backup is live and with ErrNoTargets for
// an empty target list. The returned batch is already running; cancelling
// ctx stops it.
func (o *Orchestrator) Backup(ctx context.Context, p *engine.Profile, targets []engine.BackupTarget, opts BackupOptions) (*process.Batch, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.liveBatchLocked() != nil {
		return nil, ErrAlreadyRunning
	}
	if len(targets) == 0 {
		return nil, ErrNoTargets
	}

	auth, release := o.auth(p.Auth, len(targets))
	procs, err := o.adapter.BuildBackup(withAuth(p, auth), targets)
	if err != nil {
		release()
		return nil, fmt.Errorf("failed to build backup: %w", err)
	}

	runs := newRunLog(len(procs))

	batch := process.NewBatch(procs, process.BatchOptions{
		Stdout: opts.Stdout,
		Stderr: opts.Stderr,
		Settle: o.settle,
		OnStart: func(i int, proc *process.Process) {
			now := o.now()
			if err := o.recorder.MarkBackupStart(p.Name, proc.Tag(), now); err != nil {
				o.log.Warn("failed to record backup start", lg.String("target", proc.Tag()), lg.Err(err))
			}
			id := o.startRun(p.Name, store.KindBackup, proc.Tag())
			if !runs.started(i, id) {
				o.finishRun(id, process.Killed, process.ErrKilled)
			}
			o.log.Info("backup started", lg.String("profile", p.Name), lg.String("target", proc.Tag()))
			if opts.OnStart != nil {
				opts.OnStart(proc.Tag())
			}
		},
		OnFinish: func(i int, proc *process.Process, res process.Result) {
			if id, ok := runs.finished(i); ok {
				o.finishRun(id, res.State, res.Err)
			}
			if res.OK() {
				if err := o.recorder.MarkBackupFinished(p.Name, proc.Tag(), o.now()); err != nil {
					o.log.Warn("failed to record backup finish", lg.String("target", proc.Tag()), lg.Err(err))
				}
			}
			o.log.Info("backup finished",
				lg.String("profile", p.Name),
				lg.String("target", proc.Tag()),
				lg.String("state", res.State.String()),
				lg.Int("exit_code", res.ExitCode))
			if opts.OnFinish != nil {
				opts.OnFinish(proc.Tag(), res)
			}
		},
	})

	o.currentBatch = batch
	batch.Start()

	go func() {
		select {
		case <-batch.Done():
		case <-ctx.Done():
			batch.Stop()
		}
		state, err := batch.Wait()

		// an entry that was running when the batch was stopped never
		// reaches OnFinish
		for _, id := range runs.open() {
			o.finishRun(id, state, err)
		}

		o.mu.Lock()
		if o.currentBatch == batch {
			o.currentBatch = nil
		}
		o.mu.Unlock()
		release()
		o.log.Debug("backup batch settled", lg.String("state", state.String()))
	}()

	return batch, nil
}

// Running returns the live backup batch, or nil.
func (o *Orchestrator) Running() *process.Batch {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.liveBatchLocked()
}

// liveBatchLocked returns currentBatch unless it has settled. The slot is
// free as soon as the batch settles, before the cleanup goroutine runs.
func (o *Orchestrator) liveBatchLocked() *process.Batch {
	if o.currentBatch == nil || o.currentBatch.State().Terminal() {
		return nil
	}
	return o.currentBatch
}

// StopBackup kills the live backup batch.
func (o *Orchestrator) StopBackup() error {
	o.mu.Lock()
	batch := o.liveBatchLocked()
	o.mu.Unlock()
	if batch == nil {
		return ErrNotRunning
	}
	batch.Stop()
	return nil
}

// Init creates a repository.
func (o *Orchestrator) Init(ctx context.Context, repo string, repoEnv map[string]string, auth engine.Auth) error {
	auth, release := o.auth(auth, 1)
	defer release()

	// init and unlock act on a repository, not a profile
	id := o.startRun("", store.KindInit, repo)
	_, err := o.run(ctx, o.adapter.BuildInit(repo, repoEnv, auth))
	o.finishRun(id, stateOf(err), err)
	if err != nil {
		return fmt.Errorf("failed to initialize repository %s: %w", repo, err)
	}
	o.log.Info("repository initialized", lg.String("repo", repo))
	return nil
}

func (o *Orchestrator) snapshots(ctx context.Context, repo string, repoEnv map[string]string, auth engine.Auth) ([]engine.Snapshot, error) {
	auth, release := o.auth(auth, 1)
	defer release()

	out, err := o.run(ctx, o.adapter.BuildSnapshotsQuery(repo, repoEnv, auth))
	if err != nil {
		return nil, err
	}
	snaps, err := o.adapter.ParseSnapshots(out.Stdout)
	if err != nil {
		o.log.Warn("unreadable snapshot list", lg.String("repo", repo), lg.Err(err))
		return []engine.Snapshot{}, nil
	}
	return snaps, nil
}

// Snapshots lists the snapshots in p's repository.
func (o *Orchestrator) Snapshots(ctx context.Context, p *engine.Profile) ([]engine.Snapshot, error) {
	snaps, err := o.snapshots(ctx, p.Repo, p.RepoEnv, p.Auth)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	return snaps, nil
}

// AssertRepoExists lists the repository's snapshots, initializing the
// repository first when the engine reports that it does not exist. Any
// other query failure is returned as is.
func (o *Orchestrator) AssertRepoExists(ctx context.Context, repo string, repoEnv map[string]string, auth engine.Auth) ([]engine.Snapshot, error) {
	snaps, err := o.snapshots(ctx, repo, repoEnv, auth)
	if err == nil {
		return snaps, nil
	}
	if !engine.IsRepoNotFound(err) {
		return nil, fmt.Errorf("failed to query repository %s: %w", repo, err)
	}

	o.log.Info("repository not found, initializing", lg.String("repo", repo))
	if err := o.Init(ctx, repo, repoEnv, auth); err != nil {
		return nil, err
	}
	return []engine.Snapshot{}, nil
}

// Forget applies policy to the snapshots selected by scope. A real run
// (not dryRun) also prunes and records the cleanup time of each target.
func (o *Orchestrator) Forget(ctx context.Context, p *engine.Profile, policy engine.RetentionPolicy, dryRun bool, scope engine.Scope) ([]engine.ForgetDecision, error) {
	auth, release := o.auth(p.Auth, 1)
	defer release()

	spec, err := o.adapter.BuildForget(withAuth(p, auth), policy, dryRun, scope)
	if err != nil {
		return nil, err
	}

	target := scope.SnapshotID
	if len(scope.Targets) > 0 {
		paths := make([]string, len(scope.Targets))
		for i, t := range scope.Targets {
			paths[i] = t.Path
		}
		target = strings.Join(paths, ",")
	}
	var id string
	if !dryRun {
		id = o.startRun(p.Name, store.KindForget, target)
	}

	out, err := o.run(ctx, spec)
	o.finishRun(id, stateOf(err), err)
	if err != nil {
		return nil, fmt.Errorf("failed to forget snapshots: %w", err)
	}

	decisions, err := o.adapter.ParseForgetResult(out.Stdout)
	if err != nil {
		o.log.Warn("unreadable forget result", lg.String("profile", p.Name), lg.Err(err))
		decisions = []engine.ForgetDecision{}
	}

	if !dryRun {
		now := o.now()
		for _, t := range scope.Targets {
			if err := o.recorder.MarkCleanup(p.Name, t.Path, now); err != nil {
				o.log.Warn("failed to record cleanup", lg.String("target", t.Path), lg.Err(err))
			}
		}
	}
	return decisions, nil
}

// Restore restores the latest snapshot tagged tag into targetDir, which is
// created if needed. Engine output is copied to out when it is non-nil.
func (o *Orchestrator) Restore(ctx context.Context, p *engine.Profile, tag, targetDir string, out io.Writer) error {
	if err := o.fs.MkdirAll(targetDir, 0o755); err != nil {
		return fmt.Errorf("failed to create restore target %s: %w", targetDir, err)
	}

	auth, release := o.auth(p.Auth, 1)
	defer release()

	proc, err := o.adapter.BuildRestore(withAuth(p, auth), tag, targetDir)
	if err != nil {
		return err
	}
	proc.Attach(out, nil)

	id := o.startRun(p.Name, store.KindRestore, tag)
	if err := proc.Start(); err != nil {
		o.finishRun(id, process.Failed, err)
		return err
	}

	var res process.Result
	select {
	case <-proc.Done():
		res = proc.Wait()
	case <-ctx.Done():
		_ = proc.Stop()
		res = proc.Wait()
		res.Err = ctx.Err()
	}
	o.finishRun(id, res.State, res.Err)
	if !res.OK() {
		return fmt.Errorf("failed to restore %s: %w", tag, res.Err)
	}
	return nil
}

// Unlock removes stale repository locks.
func (o *Orchestrator) Unlock(ctx context.Context, repo string, auth engine.Auth) error {
	auth, release := o.auth(auth, 1)
	defer release()

	id := o.startRun("", store.KindUnlock, repo)
	_, err := o.run(ctx, o.adapter.BuildUnlock(repo, auth))
	o.finishRun(id, stateOf(err), err)
	if err != nil {
		return fmt.Errorf("failed to unlock repository %s: %w", repo, err)
	}
	return nil
}

// Stats reports repository statistics. For a local repository the total
// size is the on-disk size of the repository directory.
func (o *Orchestrator) Stats(ctx context.Context, p *engine.Profile) (engine.Stats, error) {
	auth, release := o.auth(p.Auth, 1)
	defer release()

	var stats engine.Stats
	var diskSize uint64
	local := p.IsLocalRepo()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		out, err := o.run(gctx, o.adapter.BuildStats(withAuth(p, auth)))
		if err != nil {
			return fmt.Errorf("failed to query stats: %w", err)
		}
		stats, err = o.adapter.ParseStats(out.Stdout)
		return err
	})
	if local {
		g.Go(func() error {
			size, err := du.Size(gctx, p.LocalRepoPath())
			if err != nil {
				return err
			}
			diskSize = size
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return engine.Stats{}, err
	}

	if local {
		stats.TotalSize = diskSize
	}
	return stats, nil
}

// Close stops the live backup and mount, if any.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	batch := o.currentBatch
	m := o.currentMount
	o.mu.Unlock()

	if batch != nil {
		batch.Stop()
	}
	if m != nil {
		_ = m.proc.Stop()
	}
}

// runLog tracks the history ids of batch entries so a stopped entry can
// still be closed out.
type runLog struct {
	mu     sync.Mutex
	ids    []string
	done   []bool
	closed bool
}

func newRunLog(n int) *runLog {
	return &runLog{ids: make([]string, n), done: make([]bool, n)}
}

// started records id for entry i. It returns false once the batch has
// settled and the run must be closed out by the caller.
func (r *runLog) started(i int, id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.ids[i] = id
	return true
}

func (r *runLog) finished(i int) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done[i] {
		return "", false
	}
	r.done[i] = true
	return r.ids[i], true
}

func (r *runLog) open() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	var ids []string
	for i, id := range r.ids {
		if id != "" && !r.done[i] {
			r.done[i] = true
			ids = append(ids, id)
		}
	}
	return ids
}

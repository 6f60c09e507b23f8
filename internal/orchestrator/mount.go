package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/blackwell-systems/resticgx/internal/engine"
	"github.com/blackwell-systems/resticgx/internal/lg"
	"github.com/blackwell-systems/resticgx/internal/process"
)

type mount struct {
	proc *process.Process
	tag  string
	dir  string
	path string
	// exited is closed once the process exited and dir was removed.
	exited chan struct{}
}

// MountPath returns where the latest snapshot tagged tag appears under a
// mount directory.
func MountPath(dir, tag string) string {
	rel := strings.TrimLeft(filepath.ToSlash(tag), "/")
	rel = filepath.FromSlash(rel)
	return filepath.Join(dir, "tags", rel, "latest", rel)
}

// Mount exposes the latest snapshot tagged tag as a directory and returns
// its path. An active mount of a different tag is stopped and its exit
// awaited first; an active mount of the same tag is reused.
func (o *Orchestrator) Mount(ctx context.Context, p *engine.Profile, tag string) (string, error) {
	if !o.adapter.SupportsMount() {
		return "", &engine.UnsupportedOperationError{Engine: o.adapter.Kind(), Operation: "mount"}
	}

	o.mountMu.Lock()
	defer o.mountMu.Unlock()

	o.mu.Lock()
	cur := o.currentMount
	if cur != nil && cur.proc.State().Terminal() {
		o.currentMount = nil
		cur = nil
	}
	o.mu.Unlock()

	if cur != nil && cur.tag != tag {
		o.log.Info("replacing mount", lg.String("old", cur.tag), lg.String("new", tag))
		_ = cur.proc.Stop()
		select {
		case <-cur.proc.Done():
		case <-ctx.Done():
			return "", ctx.Err()
		}
		o.mu.Lock()
		if o.currentMount == cur {
			o.currentMount = nil
		}
		o.mu.Unlock()
		cur = nil
	}

	if cur == nil {
		m, err := o.startMount(p, tag)
		if err != nil {
			return "", err
		}
		cur = m
	}

	if err := o.waitForPath(ctx, cur); err != nil {
		var timeout *PathTimeoutError
		if errors.As(err, &timeout) {
			o.log.Warn("mount path never appeared, stopping mount", lg.String("path", cur.path))
			_ = cur.proc.Stop()
		}
		return "", err
	}

	if o.opener != nil {
		if err := o.opener(cur.path); err != nil {
			return cur.path, fmt.Errorf("failed to open %s: %w", cur.path, err)
		}
	}
	return cur.path, nil
}

func (o *Orchestrator) startMount(p *engine.Profile, tag string) (*mount, error) {
	dir := filepath.Join(o.mountRoot, fmt.Sprintf("restic-mount-%d", o.now().UnixNano()))
	if err := o.fs.MkdirAll(dir, 0o770); err != nil {
		return nil, fmt.Errorf("failed to create mount directory: %w", err)
	}

	auth, release := o.auth(p.Auth, 1)
	proc, err := o.adapter.BuildMount(withAuth(p, auth), tag, dir)
	if err != nil {
		release()
		return nil, err
	}
	if err := proc.Start(); err != nil {
		release()
		return nil, err
	}

	m := &mount{proc: proc, tag: tag, dir: dir, path: MountPath(dir, tag), exited: make(chan struct{})}
	o.mu.Lock()
	o.currentMount = m
	o.mu.Unlock()
	o.log.Info("mount started", lg.String("tag", tag), lg.String("dir", dir), lg.Int("pid", proc.Pid()))

	go func() {
		res := proc.Wait()
		release()
		o.mu.Lock()
		if o.currentMount == m {
			o.currentMount = nil
		}
		o.mu.Unlock()
		// only succeeds once the filesystem is unmounted and dir is empty
		if err := o.fs.Remove(dir); err != nil && !errors.Is(err, fs.ErrNotExist) {
			o.log.Warn("failed to remove mount directory", lg.String("dir", dir), lg.Err(err))
		}
		o.log.Info("mount exited", lg.String("tag", tag), lg.String("state", res.State.String()))
		close(m.exited)
	}()
	return m, nil
}

// errPathMissing marks a poll attempt that should be retried.
var errPathMissing = errors.New("path missing")

// waitForPath polls for m.path until it exists, the attempts run out, the
// mount process exits or ctx is done.
func (o *Orchestrator) waitForPath(ctx context.Context, m *mount) error {
	attempts := 0
	operation := func() error {
		attempts++
		select {
		case <-m.proc.Done():
			res := m.proc.Wait()
			if res.Err != nil {
				return backoff.Permanent(fmt.Errorf("mount exited: %w", res.Err))
			}
			return backoff.Permanent(fmt.Errorf("mount exited before %s appeared", m.path))
		default:
		}

		info, err := o.fs.Stat(m.path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			return errPathMissing
		case err != nil:
			return backoff.Permanent(err)
		case !info.IsDir():
			return backoff.Permanent(&NotDirectoryError{Path: m.path})
		}
		return nil
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(o.mountInterval), uint64(o.mountAttempts-1)),
		ctx,
	)
	err := backoff.Retry(operation, b)
	if errors.Is(err, errPathMissing) {
		return &PathTimeoutError{Path: m.path, Attempts: attempts}
	}
	return err
}

// Unmount stops the active mount and waits for it to exit and its
// directory to be removed. It fails with ErrNotMounted when there is none
// or its process already exited.
func (o *Orchestrator) Unmount() error {
	o.mu.Lock()
	m := o.currentMount
	o.mu.Unlock()

	if m == nil || m.proc.State().Terminal() {
		return ErrNotMounted
	}
	if err := m.proc.Stop(); err != nil {
		return fmt.Errorf("failed to stop mount: %w", err)
	}

	timer := time.NewTimer(o.unmountWait)
	defer timer.Stop()
	select {
	case <-m.exited:
		return nil
	case <-timer.C:
		return fmt.Errorf("mount of %s did not exit within %s", m.tag, o.unmountWait)
	}
}

// Mounted returns the tag and path of the active mount.
func (o *Orchestrator) Mounted() (tag, path string, ok bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.currentMount == nil || o.currentMount.proc.State().Terminal() {
		return "", "", false
	}
	return o.currentMount.tag, o.currentMount.path, true
}

package engine

import (
	"encoding/json"

	"github.com/blackwell-systems/resticgx/internal/process"
)

// restic drives the restic CLI.
type restic struct {
	base
}

func (r *restic) SupportsMount() bool { return true }

func (r *restic) BuildInit(repo string, repoEnv map[string]string, auth Auth) process.Spec {
	return r.spec([]string{"init", "--json", repoFlag(repo)}, r.env(repoEnv, auth))
}

func (r *restic) BuildSnapshotsQuery(repo string, repoEnv map[string]string, auth Auth) process.Spec {
	return r.spec([]string{"snapshots", repoFlag(repo), "--json"}, r.env(repoEnv, auth))
}

func (r *restic) BuildBackup(p *Profile, targets []BackupTarget) ([]*process.Process, error) {
	exclude, err := excludeArgs(p, func(s string) string { return "--iexclude=" + s }, "--iexclude-file")
	if err != nil {
		return nil, err
	}
	return r.backupProcesses(p, targets, exclude), nil
}

func (r *restic) BuildForget(p *Profile, policy RetentionPolicy, dryRun bool, scope Scope) (process.Spec, error) {
	args, err := forgetArgs(p.Repo, policy, dryRun, scope, "--tag")
	if err != nil {
		return process.Spec{}, err
	}
	return r.spec(args, r.env(p.RepoEnv, p.Auth)), nil
}

func (r *restic) BuildMount(p *Profile, tag, mountDir string) (*process.Process, error) {
	spec := r.spec([]string{"mount", "--json", "--tag=" + tag, repoFlag(p.Repo), mountDir}, r.env(p.RepoEnv, p.Auth))
	spec.Tag = tag
	return process.New(spec), nil
}

func (r *restic) BuildRestore(p *Profile, tag, targetDir string) (*process.Process, error) {
	spec := r.spec([]string{"restore", "--json", "--tag=" + tag, repoFlag(p.Repo), "--target=" + targetDir, "latest"}, r.env(p.RepoEnv, p.Auth))
	spec.Tag = tag
	return process.New(spec), nil
}

func (r *restic) BuildUnlock(repo string, auth Auth) process.Spec {
	return r.spec([]string{"unlock", repoFlag(repo)}, r.authEnv(auth))
}

func (r *restic) BuildStats(p *Profile) process.Spec {
	return r.spec([]string{"stats", "--json", repoFlag(p.Repo)}, r.env(p.RepoEnv, p.Auth))
}

func (r *restic) ParseSnapshots(stdout []byte) ([]Snapshot, error) {
	return parseSnapshotList(stdout)
}

func (r *restic) ParseForgetResult(stdout []byte) ([]ForgetDecision, error) {
	line := forgetLine(stdout)
	if line == nil {
		return []ForgetDecision{}, nil
	}
	var decisions []ForgetDecision
	if err := json.Unmarshal(line, &decisions); err != nil {
		return nil, &ParseError{Op: "forget", Err: err}
	}
	return decisions, nil
}

func (r *restic) ParseStats(stdout []byte) (Stats, error) {
	var raw struct {
		TotalSize      *uint64 `json:"total_size"`
		TotalFileCount uint64  `json:"total_file_count"`
		SnapshotsCount int     `json:"snapshots_count"`
	}
	if err := json.Unmarshal(trimOutput(stdout), &raw); err != nil {
		return Stats{}, &ParseError{Op: "stats", Err: err}
	}
	if raw.TotalSize == nil {
		return Stats{}, &ParseError{Op: "stats", Err: errMissingField("total_size")}
	}
	return Stats{
		TotalSize:      *raw.TotalSize,
		TotalFileCount: raw.TotalFileCount,
		SnapshotsCount: raw.SnapshotsCount,
	}, nil
}

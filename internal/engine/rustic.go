package engine

import (
	"encoding/json"

	"github.com/blackwell-systems/resticgx/internal/process"
)

// rustic drives the rustic CLI. It has no mount command.
type rustic struct {
	base
}

func (r *rustic) SupportsMount() bool { return false }

func (r *rustic) BuildInit(repo string, repoEnv map[string]string, auth Auth) process.Spec {
	return r.spec([]string{"init", "--json", repoFlag(repo)}, r.env(repoEnv, auth))
}

func (r *rustic) BuildSnapshotsQuery(repo string, repoEnv map[string]string, auth Auth) process.Spec {
	return r.spec([]string{"snapshots", repoFlag(repo), "--json"}, r.env(repoEnv, auth))
}

func (r *rustic) BuildBackup(p *Profile, targets []BackupTarget) ([]*process.Process, error) {
	exclude, err := excludeArgs(p, func(s string) string { return "--iglob=!" + s }, "--iglob-file")
	if err != nil {
		return nil, err
	}
	return r.backupProcesses(p, targets, exclude), nil
}

func (r *rustic) BuildForget(p *Profile, policy RetentionPolicy, dryRun bool, scope Scope) (process.Spec, error) {
	args, err := forgetArgs(p.Repo, policy, dryRun, scope, "--filter-tags")
	if err != nil {
		return process.Spec{}, err
	}
	return r.spec(args, r.env(p.RepoEnv, p.Auth)), nil
}

func (r *rustic) BuildMount(p *Profile, tag, mountDir string) (*process.Process, error) {
	return nil, &UnsupportedOperationError{Engine: Rustic, Operation: "mount"}
}

func (r *rustic) BuildRestore(p *Profile, tag, targetDir string) (*process.Process, error) {
	spec := r.spec([]string{"restore", "--filter-tags=" + tag, repoFlag(p.Repo), "latest", targetDir}, r.env(p.RepoEnv, p.Auth))
	spec.Tag = tag
	return process.New(spec), nil
}

func (r *rustic) BuildUnlock(repo string, auth Auth) process.Spec {
	return r.spec([]string{"unlock", repoFlag(repo)}, r.authEnv(auth))
}

func (r *rustic) BuildStats(p *Profile) process.Spec {
	return r.spec([]string{"repoinfo", "--json", repoFlag(p.Repo)}, r.env(p.RepoEnv, p.Auth))
}

func (r *rustic) ParseSnapshots(stdout []byte) ([]Snapshot, error) {
	return parseSnapshotList(stdout)
}

// rusticForgetGroup is one entry of `rustic forget --json`.
type rusticForgetGroup struct {
	Group struct {
		Hostname string     `json:"hostname"`
		Paths    stringList `json:"paths"`
		Tags     stringList `json:"tags"`
	} `json:"group"`
	Snapshots []struct {
		Snapshot Snapshot `json:"snapshot"`
		Keep     bool     `json:"keep"`
		Reasons  []string `json:"reasons"`
	} `json:"snapshots"`
}

func (r *rustic) ParseForgetResult(stdout []byte) ([]ForgetDecision, error) {
	line := forgetLine(stdout)
	if line == nil {
		return []ForgetDecision{}, nil
	}
	var groups []rusticForgetGroup
	if err := json.Unmarshal(line, &groups); err != nil {
		return nil, &ParseError{Op: "forget", Err: err}
	}

	decisions := make([]ForgetDecision, 0, len(groups))
	for _, g := range groups {
		d := ForgetDecision{
			Tags:  g.Group.Tags,
			Host:  g.Group.Hostname,
			Paths: g.Group.Paths,
		}
		for _, s := range g.Snapshots {
			if s.Keep {
				d.Keep = append(d.Keep, s.Snapshot)
				d.Reasons = append(d.Reasons, KeepReason{Snapshot: s.Snapshot, Matches: s.Reasons})
			} else {
				d.Remove = append(d.Remove, s.Snapshot)
			}
		}
		decisions = append(decisions, d)
	}
	return decisions, nil
}

// rusticRepoInfo is the subset of `rustic repoinfo --json` used for Stats.
type rusticRepoInfo struct {
	Files *struct {
		Repo []struct {
			Tpe   string `json:"tpe"`
			Count uint64 `json:"count"`
			Size  uint64 `json:"size"`
		} `json:"repo"`
		Total struct {
			Count uint64 `json:"count"`
			Size  uint64 `json:"size"`
		} `json:"total"`
	} `json:"files"`
}

func (r *rustic) ParseStats(stdout []byte) (Stats, error) {
	var info rusticRepoInfo
	if err := json.Unmarshal(trimOutput(stdout), &info); err != nil {
		return Stats{}, &ParseError{Op: "repoinfo", Err: err}
	}
	if info.Files == nil {
		return Stats{}, &ParseError{Op: "repoinfo", Err: errMissingField("files")}
	}

	// files.total counts repository files (packs, index, keys), not
	// backed-up files, so TotalFileCount stays zero.
	stats := Stats{TotalSize: info.Files.Total.Size}
	for _, f := range info.Files.Repo {
		if f.Tpe == "Snapshot" {
			stats.SnapshotsCount = int(f.Count)
		}
	}
	return stats, nil
}

package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/blackwell-systems/resticgx/internal/engine"
)

// fixed width so stored values sort chronologically as text
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := time.Parse(timeFormat, ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Run operations

// StartRun records the start of an engine invocation and returns its id.
func (s *Store) StartRun(profile, kind, target string, at time.Time) (string, error) {
	id := uuid.NewString()
	_, err := s.db.Exec(`
		INSERT INTO runs (id, profile, kind, target, started_at, state)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id, profile, kind, target, formatTime(at), StateRunning)
	if err != nil {
		return "", wrap(err, "failed to record %s run for %s", kind, profile)
	}
	return id, nil
}

// FinishRun records the outcome of a run.
func (s *Store) FinishRun(id, state, errMsg string, at time.Time) error {
	res, err := s.db.Exec(`
		UPDATE runs SET finished_at = ?, state = ?, error = ?
		WHERE id = ?
	`, formatTime(at), state, errMsg, id)
	if err != nil {
		return wrap(err, "failed to finish run %s", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s not found", id)
	}
	return nil
}

// GetRun retrieves a run by id.
func (s *Store) GetRun(id string) (*Run, error) {
	row := s.db.QueryRow(`
		SELECT id, profile, kind, target, started_at, finished_at, state, error
		FROM runs WHERE id = ?
	`, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %s not found", id)
	}
	if err != nil {
		return nil, wrap(err, "failed to get run %s", id)
	}
	return run, nil
}

// ListRuns returns the newest runs first. An empty profile lists all
// profiles; limit <= 0 means no limit.
func (s *Store) ListRuns(profile string, limit int) ([]*Run, error) {
	query := `
		SELECT id, profile, kind, target, started_at, finished_at, state, error
		FROM runs
		WHERE (? = '' OR profile = ?)
		ORDER BY started_at DESC
	`
	args := []any{profile, profile}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, wrap(err, "failed to list runs")
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var run Run
	var target, errMsg sql.NullString
	var startedAt string
	var finishedAt sql.NullString

	if err := row.Scan(&run.ID, &run.Profile, &run.Kind, &target, &startedAt, &finishedAt, &run.State, &errMsg); err != nil {
		return nil, err
	}
	run.Target = target.String
	run.Error = errMsg.String

	t, err := time.Parse(timeFormat, startedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse started_at for run %s: %w", run.ID, err)
	}
	run.StartedAt = t
	if run.FinishedAt, err = parseTime(finishedAt); err != nil {
		return nil, fmt.Errorf("failed to parse finished_at for run %s: %w", run.ID, err)
	}
	return &run, nil
}

// Target timestamp operations

func (s *Store) setTargetTime(column, profile, path string, at time.Time) error {
	// column is one of a fixed set, never user input
	query := fmt.Sprintf(`
		INSERT INTO targets (profile, path, %[1]s) VALUES (?, ?, ?)
		ON CONFLICT(profile, path) DO UPDATE SET %[1]s = excluded.%[1]s
	`, column)
	if _, err := s.db.Exec(query, profile, path, formatTime(at)); err != nil {
		return wrap(err, "failed to update %s for %s", column, path)
	}
	return nil
}

// MarkBackupStart records when a backup of path began.
func (s *Store) MarkBackupStart(profile, path string, at time.Time) error {
	return s.setTargetTime("last_backup_start", profile, path, at)
}

// MarkBackupFinished records a successful (or partial) backup of path.
func (s *Store) MarkBackupFinished(profile, path string, at time.Time) error {
	return s.setTargetTime("last_backup_finished", profile, path, at)
}

// MarkCleanup records a completed forget for path.
func (s *Store) MarkCleanup(profile, path string, at time.Time) error {
	return s.setTargetTime("last_cleanup", profile, path, at)
}

// TargetTimes returns the tracked timestamps of a profile keyed by path.
func (s *Store) TargetTimes(profile string) (map[string]*TargetTimes, error) {
	rows, err := s.db.Query(`
		SELECT profile, path, last_backup_start, last_backup_finished, last_cleanup
		FROM targets WHERE profile = ?
	`, profile)
	if err != nil {
		return nil, wrap(err, "failed to query targets of %s", profile)
	}
	defer rows.Close()

	times := make(map[string]*TargetTimes)
	for rows.Next() {
		var tt TargetTimes
		var start, finished, cleanup sql.NullString
		if err := rows.Scan(&tt.Profile, &tt.Path, &start, &finished, &cleanup); err != nil {
			return nil, fmt.Errorf("failed to scan target row: %w", err)
		}
		if tt.LastBackupStart, err = parseTime(start); err != nil {
			return nil, fmt.Errorf("failed to parse last_backup_start for %s: %w", tt.Path, err)
		}
		if tt.LastBackupFinished, err = parseTime(finished); err != nil {
			return nil, fmt.Errorf("failed to parse last_backup_finished for %s: %w", tt.Path, err)
		}
		if tt.LastCleanup, err = parseTime(cleanup); err != nil {
			return nil, fmt.Errorf("failed to parse last_cleanup for %s: %w", tt.Path, err)
		}
		times[tt.Path] = &tt
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating targets: %w", err)
	}
	return times, nil
}

// ApplyTargetTimes fills the timestamps of p's targets from the store.
func (s *Store) ApplyTargetTimes(p *engine.Profile) error {
	times, err := s.TargetTimes(p.Name)
	if err != nil {
		return err
	}
	for i := range p.Targets {
		tt, ok := times[p.Targets[i].Path]
		if !ok {
			continue
		}
		p.Targets[i].LastBackupStart = tt.LastBackupStart
		p.Targets[i].LastBackupFinished = tt.LastBackupFinished
		p.Targets[i].LastCleanup = tt.LastCleanup
	}
	return nil
}

// SaveTargetTimes stores the non-nil timestamps of targets, for example
// after reconciling them against the repository's snapshots.
func (s *Store) SaveTargetTimes(profile string, targets []engine.BackupTarget) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, t := range targets {
		_, err := tx.Exec(`
			INSERT INTO targets (profile, path, last_backup_start, last_backup_finished, last_cleanup)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(profile, path) DO UPDATE SET
				last_backup_start = COALESCE(excluded.last_backup_start, last_backup_start),
				last_backup_finished = COALESCE(excluded.last_backup_finished, last_backup_finished),
				last_cleanup = COALESCE(excluded.last_cleanup, last_cleanup)
		`, profile, t.Path, nullTime(t.LastBackupStart), nullTime(t.LastBackupFinished), nullTime(t.LastCleanup))
		if err != nil {
			return wrap(err, "failed to save times for %s", t.Path)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit target times: %w", err)
	}
	return nil
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

// DeleteProfile removes all rows belonging to profile.
func (s *Store) DeleteProfile(profile string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM targets WHERE profile = ?`, profile); err != nil {
		return wrap(err, "failed to delete targets of %s", profile)
	}
	if _, err := tx.Exec(`DELETE FROM runs WHERE profile = ?`, profile); err != nil {
		return wrap(err, "failed to delete runs of %s", profile)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete: %w", err)
	}
	return nil
}

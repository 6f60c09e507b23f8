package store

const schema = `
CREATE TABLE IF NOT EXISTS targets (
    profile TEXT NOT NULL,
    path TEXT NOT NULL,
    last_backup_start TEXT,
    last_backup_finished TEXT,
    last_cleanup TEXT,
    PRIMARY KEY (profile, path)
);

CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    profile TEXT NOT NULL,
    kind TEXT NOT NULL,
    target TEXT,
    started_at TEXT NOT NULL,
    finished_at TEXT,
    state TEXT NOT NULL,
    error TEXT
);

CREATE INDEX IF NOT EXISTS idx_runs_profile ON runs(profile);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
`

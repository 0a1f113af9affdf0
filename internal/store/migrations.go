package store

import "fmt"

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS snapshots (
    snapshot_id  INTEGER PRIMARY KEY AUTOINCREMENT,
    captured_at  DATETIME NOT NULL,
    total_issues INTEGER NOT NULL DEFAULT 0,
    note         TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_snapshots_captured_at ON snapshots(captured_at);

CREATE TABLE IF NOT EXISTS issues (
    snapshot_id     INTEGER NOT NULL REFERENCES snapshots(snapshot_id) ON DELETE CASCADE,
    issue_key       TEXT NOT NULL,
    summary         TEXT NOT NULL DEFAULT '',
    status          TEXT NOT NULL DEFAULT '',
    priority        TEXT NOT NULL DEFAULT '',
    issue_type      TEXT NOT NULL DEFAULT '',
    assignee        TEXT NOT NULL DEFAULT '',
    reporter        TEXT NOT NULL DEFAULT '',
    created_date    TEXT NOT NULL DEFAULT '',
    resolution_date TEXT,
    updated_date    TEXT NOT NULL DEFAULT '',
    labels          TEXT NOT NULL DEFAULT '',
    component       TEXT NOT NULL DEFAULT '',
    latest_comment  TEXT NOT NULL DEFAULT '',
    llm_summary     TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (snapshot_id, issue_key)
);

CREATE INDEX IF NOT EXISTS idx_issues_type_status ON issues(snapshot_id, issue_type, status);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS snapshots (
    snapshot_id  BIGSERIAL PRIMARY KEY,
    captured_at  TIMESTAMPTZ NOT NULL,
    total_issues INTEGER NOT NULL DEFAULT 0,
    note         TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_snapshots_captured_at ON snapshots(captured_at);

CREATE TABLE IF NOT EXISTS issues (
    snapshot_id     BIGINT NOT NULL REFERENCES snapshots(snapshot_id) ON DELETE CASCADE,
    issue_key       TEXT NOT NULL,
    summary         TEXT NOT NULL DEFAULT '',
    status          TEXT NOT NULL DEFAULT '',
    priority        TEXT NOT NULL DEFAULT '',
    issue_type      TEXT NOT NULL DEFAULT '',
    assignee        TEXT NOT NULL DEFAULT '',
    reporter        TEXT NOT NULL DEFAULT '',
    created_date    TEXT NOT NULL DEFAULT '',
    resolution_date TEXT,
    updated_date    TEXT NOT NULL DEFAULT '',
    labels          TEXT NOT NULL DEFAULT '',
    component       TEXT NOT NULL DEFAULT '',
    latest_comment  TEXT NOT NULL DEFAULT '',
    llm_summary     TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (snapshot_id, issue_key)
);

CREATE INDEX IF NOT EXISTS idx_issues_type_status ON issues(snapshot_id, issue_type, status);
`

// dialect captures the few statements that differ between SQL backends.
type dialect struct {
	driver string
	schema string
	// substring test on a text column, bound to one parameter
	containsFunc string
}

var (
	sqliteDialect   = dialect{driver: "sqlite", schema: sqliteSchema, containsFunc: "instr"}
	postgresDialect = dialect{driver: "pgx", schema: postgresSchema, containsFunc: "strpos"}
)

func (d dialect) contains(column string) string {
	return fmt.Sprintf("%s(%s, ?) > 0", d.containsFunc, column)
}

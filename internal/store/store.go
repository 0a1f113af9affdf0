package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/elonfeng/bugradar/internal/config"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// NoteBackfill marks snapshots synthesized by history reconstruction.
const NoteBackfill = "Weekly Backfill"

// Snapshot is one capture event.
type Snapshot struct {
	ID          int64     `db:"snapshot_id" json:"snapshot_id"`
	Timestamp   time.Time `db:"captured_at" json:"timestamp"`
	TotalIssues int       `db:"total_issues" json:"total_issues"`
	Note        string    `db:"note" json:"note"`
}

// Reconstructed reports whether the snapshot was synthesized by a backfill
// rather than captured from the tracker.
func (s Snapshot) Reconstructed() bool {
	return s.Note == NoteBackfill
}

// Date returns the calendar date of the capture in UTC.
func (s Snapshot) Date() time.Time {
	t := s.Timestamp.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// IssueInput is the state of one issue to be written into a snapshot.
// An empty ResolutionDate is stored as NULL.
type IssueInput struct {
	Key            string
	Summary        string
	Status         string
	Priority       string
	Type           string
	Assignee       string
	Reporter       string
	CreatedDate    string
	ResolutionDate string
	UpdatedDate    string
	Labels         string
	Component      string
	LatestComment  string
	LLMSummary     string
}

// IssueRecord is the state of one issue as observed at one snapshot.
type IssueRecord struct {
	SnapshotID     int64          `db:"snapshot_id"`
	Key            string         `db:"issue_key"`
	Summary        string         `db:"summary"`
	Status         string         `db:"status"`
	Priority       string         `db:"priority"`
	Type           string         `db:"issue_type"`
	Assignee       string         `db:"assignee"`
	Reporter       string         `db:"reporter"`
	CreatedDate    string         `db:"created_date"`
	ResolutionDate sql.NullString `db:"resolution_date"`
	UpdatedDate    string         `db:"updated_date"`
	Labels         string         `db:"labels"`
	Component      string         `db:"component"`
	LatestComment  string         `db:"latest_comment"`
	LLMSummary     string         `db:"llm_summary"`
}

// Resolved returns the resolution date if the issue was resolved in this snapshot.
func (r IssueRecord) Resolved() (string, bool) {
	if !r.ResolutionDate.Valid || r.ResolutionDate.String == "" {
		return "", false
	}
	return r.ResolutionDate.String, true
}

// SnapshotInput is one snapshot header plus its records.
type SnapshotInput struct {
	Timestamp time.Time // zero means now
	Note      string
	Issues    []IssueInput
}

// IssueFilter narrows IssuesIn. Zero values disable a clause.
// Date bounds are inclusive and compare the date portion only.
type IssueFilter struct {
	Statuses     []string
	Type         string
	Priority     string
	Label        string // case-sensitive substring of the labels string
	CreatedFrom  time.Time
	CreatedTo    time.Time
	ResolvedFrom time.Time
	ResolvedTo   time.Time
}

// Store is the persistence interface. Records are append-only; the only
// destructive primitive is the whole-store ReplaceAll.
type Store interface {
	Append(ctx context.Context, in SnapshotInput) (int64, error)
	ReplaceAll(ctx context.Context, inputs []SnapshotInput) (int, error)
	ListSnapshots(ctx context.Context) ([]Snapshot, error)
	LatestSnapshot(ctx context.Context) (*Snapshot, error)
	IssuesIn(ctx context.Context, snapshotID int64, f IssueFilter) ([]IssueRecord, error)
	CountSnapshots(ctx context.Context) (int, error)
	Close() error
}

// SQLStore implements Store on SQLite or PostgreSQL.
type SQLStore struct {
	db      *sqlx.DB
	dialect dialect

	// serializes Append and ReplaceAll within the process
	writeMu sync.Mutex
}

const issueColumns = `snapshot_id, issue_key, summary, status, priority, issue_type, assignee, reporter,
	created_date, resolution_date, updated_date, labels, component, latest_comment, llm_summary`

// Open opens the store selected by cfg.Driver.
func Open(cfg config.DatabaseConfig) (*SQLStore, error) {
	switch cfg.Driver {
	case "", "sqlite":
		return New(cfg.Path)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

// New opens a SQLite database and runs migrations.
func New(path string) (*SQLStore, error) {
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_txlock=immediate&_time_format=sqlite"
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	return initStore(db, sqliteDialect)
}

// NewPostgres opens a PostgreSQL database through the pgx stdlib driver and runs migrations.
func NewPostgres(dsn string) (*SQLStore, error) {
	if dsn == "" {
		return nil, errors.New("open postgres: empty dsn")
	}
	db, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return initStore(db, postgresDialect)
}

func initStore(db *sqlx.DB, d dialect) (*SQLStore, error) {
	if _, err := db.Exec(d.schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &SQLStore{db: db, dialect: d}, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Append writes a snapshot header and all of its records in one transaction.
func (s *SQLStore) Append(ctx context.Context, in SnapshotInput) (int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	id, err := s.appendTx(ctx, tx, in)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit snapshot %d: %w", id, err)
	}
	return id, nil
}

// ReplaceAll deletes every snapshot and record, then appends inputs in order.
// Either the whole rebuild is committed or the previous contents survive.
func (s *SQLStore) ReplaceAll(ctx context.Context, inputs []SnapshotInput) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin reset: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, "DELETE FROM issues"); err != nil {
		return 0, fmt.Errorf("clear issues: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM snapshots"); err != nil {
		return 0, fmt.Errorf("clear snapshots: %w", err)
	}

	for _, in := range inputs {
		if _, err := s.appendTx(ctx, tx, in); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit reset: %w", err)
	}
	return len(inputs), nil
}

func (s *SQLStore) appendTx(ctx context.Context, tx *sqlx.Tx, in SnapshotInput) (int64, error) {
	ts := in.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	var id int64
	err := tx.QueryRowxContext(ctx, tx.Rebind(`
		INSERT INTO snapshots (captured_at, total_issues, note)
		VALUES (?, ?, ?)
		RETURNING snapshot_id
	`), ts.UTC(), len(in.Issues), in.Note).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert snapshot: %w", err)
	}

	if len(in.Issues) == 0 {
		return id, nil
	}

	stmt, err := tx.PreparexContext(ctx, tx.Rebind(`
		INSERT INTO issues (`+issueColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`))
	if err != nil {
		return 0, fmt.Errorf("prepare issue insert: %w", err)
	}
	defer stmt.Close()

	for _, is := range in.Issues {
		var resolution sql.NullString
		if is.ResolutionDate != "" {
			resolution = sql.NullString{String: is.ResolutionDate, Valid: true}
		}
		_, err := stmt.ExecContext(ctx,
			id, is.Key, is.Summary, is.Status, is.Priority, is.Type, is.Assignee, is.Reporter,
			is.CreatedDate, resolution, is.UpdatedDate, is.Labels, is.Component,
			is.LatestComment, is.LLMSummary)
		if err != nil {
			return 0, fmt.Errorf("insert issue %s into snapshot %d: %w", is.Key, id, err)
		}
	}
	return id, nil
}

func (s *SQLStore) ListSnapshots(ctx context.Context) ([]Snapshot, error) {
	var snaps []Snapshot
	err := s.db.SelectContext(ctx, &snaps, `
		SELECT snapshot_id, captured_at, total_issues, note
		FROM snapshots
		ORDER BY captured_at ASC, snapshot_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	return snaps, nil
}

func (s *SQLStore) LatestSnapshot(ctx context.Context) (*Snapshot, error) {
	var snap Snapshot
	err := s.db.GetContext(ctx, &snap, `
		SELECT snapshot_id, captured_at, total_issues, note
		FROM snapshots
		ORDER BY captured_at DESC, snapshot_id DESC
		LIMIT 1
	`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest snapshot: %w", err)
	}
	return &snap, nil
}

func (s *SQLStore) CountSnapshots(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM snapshots"); err != nil {
		return 0, fmt.Errorf("count snapshots: %w", err)
	}
	return n, nil
}

func (s *SQLStore) IssuesIn(ctx context.Context, snapshotID int64, f IssueFilter) ([]IssueRecord, error) {
	query := "SELECT " + issueColumns + " FROM issues WHERE snapshot_id = ?"
	args := []any{snapshotID}

	clauses, filterArgs := f.clauses(s.dialect)
	for _, c := range clauses {
		query += " AND " + c
	}
	args = append(args, filterArgs...)
	query += " ORDER BY issue_key"

	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return nil, fmt.Errorf("expand issue filter: %w", err)
	}

	var records []IssueRecord
	if err := s.db.SelectContext(ctx, &records, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("issues in snapshot %d: %w", snapshotID, err)
	}
	return records, nil
}

// clauses renders the filter as parameterized predicates.
func (f IssueFilter) clauses(d dialect) ([]string, []any) {
	var (
		clauses []string
		args    []any
	)
	if len(f.Statuses) > 0 {
		clauses = append(clauses, "status IN (?)")
		args = append(args, f.Statuses)
	}
	if f.Type != "" {
		clauses = append(clauses, "issue_type = ?")
		args = append(args, f.Type)
	}
	if f.Priority != "" {
		clauses = append(clauses, "priority = ?")
		args = append(args, f.Priority)
	}
	if f.Label != "" {
		clauses = append(clauses, d.contains("labels"))
		args = append(args, f.Label)
	}
	dateBound := func(column, op string, t time.Time) {
		if t.IsZero() {
			return
		}
		clauses = append(clauses, fmt.Sprintf("substr(%s, 1, 10) %s ?", column, op))
		args = append(args, t.Format(time.DateOnly))
	}
	dateBound("created_date", ">=", f.CreatedFrom)
	dateBound("created_date", "<=", f.CreatedTo)
	dateBound("resolution_date", ">=", f.ResolvedFrom)
	dateBound("resolution_date", "<=", f.ResolvedTo)
	return clauses, args
}

// String renders the filter for log lines.
func (f IssueFilter) String() string {
	var parts []string
	if len(f.Statuses) > 0 {
		parts = append(parts, "status in "+strings.Join(f.Statuses, "|"))
	}
	if f.Type != "" {
		parts = append(parts, "type="+f.Type)
	}
	if f.Priority != "" {
		parts = append(parts, "priority="+f.Priority)
	}
	if f.Label != "" {
		parts = append(parts, "label~"+f.Label)
	}
	return strings.Join(parts, ",")
}

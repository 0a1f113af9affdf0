package trend

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/elonfeng/bugradar/internal/config"
	"github.com/elonfeng/bugradar/internal/store"
	"github.com/elonfeng/bugradar/pkg/tracker"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	issues []tracker.RawIssue
	err    error
	jql    string
}

func (f *fakeFetcher) FetchIssues(_ context.Context, jql string) ([]tracker.RawIssue, error) {
	f.jql = jql
	return f.issues, f.err
}

func newTestEngine(t *testing.T, f Fetcher) (*Engine, *store.SQLStore) {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	tc := config.TrackerConfig{BaseURL: "https://jira.example.com", JQL: "project = ABC AND type = Bug"}
	return NewEngine(s, f, tc, zerolog.Nop()), s
}

func input(key, status, priority, created, resolved, labels string) store.IssueInput {
	return store.IssueInput{
		Key: key, Summary: "summary " + key, Status: status, Priority: priority, Type: DefectType,
		Assignee: "Unassigned", CreatedDate: created, ResolutionDate: resolved, Labels: labels,
	}
}

func appendAt(t *testing.T, s store.Store, ts time.Time, note string, issues ...store.IssueInput) int64 {
	t.Helper()
	id, err := s.Append(context.Background(), store.SnapshotInput{Timestamp: ts, Note: note, Issues: issues})
	require.NoError(t, err)
	return id
}

func TestEngine_History(t *testing.T) {
	e, s := newTestEngine(t, nil)
	ctx := context.Background()

	d0 := time.Date(2024, 3, 3, 10, 0, 0, 0, time.UTC)
	a := appendAt(t, s, d0, store.NoteBackfill,
		input("ABC-1", "Open", "Critical", "2024-02-28T00:00:00.000+0000", "", "OS_FCS"),
		input("ABC-2", "New", "High", "2024-01-01T00:00:00.000+0000", "", ""),
	)
	appendAt(t, s, d0.AddDate(0, 0, 3), "",
		input("ABC-1", "Open", "Critical", "2024-02-28T00:00:00.000+0000", "", "OS_FCS"),
	)
	c := appendAt(t, s, d0.AddDate(0, 0, 7),
		"",
		input("ABC-1", "Closed", "Critical", "2024-02-28T00:00:00.000+0000", "2024-03-08T00:00:00.000+0000", "OS_FCS"),
		input("ABC-2", "In Progress", "High", "2024-01-01T00:00:00.000+0000", "", ""),
		input("ABC-3", "New", "Medium", "2024-03-09T00:00:00.000+0000", "", "OS_FCS"),
	)

	points, err := e.History(ctx, "")
	require.NoError(t, err)
	require.Len(t, points, 2)

	assert.Equal(t, Point{
		SnapshotID: a, Date: "2024-03-03", Open: 2, Critical: 1, High: 1, New: 1, Reconstructed: true,
	}, points[0])
	assert.Equal(t, Point{
		SnapshotID: c, Date: "2024-03-10", Open: 2, High: 1, Medium: 1, New: 1, Fixed: 1,
	}, points[1])

	scoped, err := e.History(ctx, "OS_FCS")
	require.NoError(t, err)
	require.Len(t, scoped, 2)
	assert.Equal(t, 1, scoped[0].Open)
	assert.Equal(t, 1, scoped[1].Open)
	assert.Equal(t, 1, scoped[1].Medium)
}

func TestEngine_BreakdownAndBugs(t *testing.T) {
	e, s := newTestEngine(t, nil)
	ctx := context.Background()

	empty, err := e.Breakdown(ctx, "")
	require.NoError(t, err)
	assert.NotNil(t, empty.Priority)
	assert.Empty(t, empty.Priority)

	bugs, err := e.Bugs(ctx, BugQuery{})
	require.NoError(t, err)
	assert.Empty(t, bugs)

	appendAt(t, s, time.Now(), "",
		input("ABC-1", "Open", "Low", "2024-01-01", "", ""),
		input("ABC-2", "Closed", "Critical", "2024-01-01", "2024-01-05", "OS_FCS"),
		input("ABC-3", "In Progress", "Critical", "2024-01-01", "", "OS_FCS"),
		input("ABC-4", "New", "Critical", "2024-01-01", "", ""),
	)

	bd, err := e.Breakdown(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []Group{{"Critical", 2}, {"Low", 1}}, bd.Priority)
	assert.Equal(t, []Group{{"New", 1}, {"Open", 1}, {"In Progress", 1}}, bd.Status)

	bugs, err = e.Bugs(ctx, BugQuery{})
	require.NoError(t, err)
	var keys []string
	for _, b := range bugs {
		keys = append(keys, b.Key)
	}
	assert.Equal(t, []string{"ABC-4", "ABC-3", "ABC-1"}, keys)
	assert.Equal(t, "https://jira.example.com/browse/ABC-4", bugs[0].Link)

	all, err := e.Bugs(ctx, BugQuery{Label: "OS_FCS", IncludeClosed: true})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "ABC-3", all[0].Key)
	assert.Equal(t, "ABC-2", all[1].Key)
}

func TestEngine_Forecast(t *testing.T) {
	e, s := newTestEngine(t, nil)
	ctx := context.Background()

	p, err := e.Forecast(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, ForecastKind, p.Kind)
	assert.False(t, p.Converging)

	d := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	appendAt(t, s, d, "",
		input("ABC-1", "Open", "High", "2024-01-01", "", ""),
		input("ABC-2", "Closed", "High", "2024-01-01", "2024-03-09", ""),
		input("ABC-3", "Closed", "High", "2024-01-01", "2024-03-08", ""),
	)

	p, err = e.Forecast(ctx, "")
	require.NoError(t, err)
	require.True(t, p.Converging)
	assert.Equal(t, 1, p.CurrentOpen)
	assert.InDelta(t, -2, p.AvgNetChange, 1e-9)
	assert.InDelta(t, 0.5, p.DaysToZero, 1e-9)
}

func TestEngine_Capture(t *testing.T) {
	f := &fakeFetcher{issues: []tracker.RawIssue{
		{Key: "ABC-1", Fields: tracker.Fields{Summary: "crash", IssueType: &tracker.Named{Name: "Bug"}, Status: &tracker.Named{Name: "Open"}}},
		{Key: "ABC-2", Fields: tracker.Fields{Summary: "hang"}},
	}}
	e, s := newTestEngine(t, f)
	ctx := context.Background()

	res, err := e.Capture(ctx)
	require.NoError(t, err)
	assert.NotZero(t, res.SnapshotID)
	assert.Equal(t, 2, res.Issues)
	assert.Equal(t, "project = ABC AND type = Bug", f.jql)

	recs, err := s.IssuesIn(ctx, res.SnapshotID, store.IssueFilter{})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "Unknown", recs[1].Status)
}

func TestEngine_CaptureUpstreamFailure(t *testing.T) {
	f := &fakeFetcher{err: fmt.Errorf("%w: search status 502", tracker.ErrUpstream)}
	e, s := newTestEngine(t, f)
	ctx := context.Background()

	res, err := e.Capture(ctx)
	require.NoError(t, err, "upstream failures are logged, not returned")
	assert.Zero(t, res.SnapshotID)

	n, err := s.CountSnapshots(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "a failed fetch stores nothing")

	f.err = nil
	res, err = e.Capture(ctx)
	require.NoError(t, err)
	assert.NotZero(t, res.SnapshotID, "an empty fetch is a valid snapshot")
	assert.Zero(t, res.Issues)

	latest, err := s.LatestSnapshot(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, res.SnapshotID, latest.ID)

	points, err := e.History(ctx, "")
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Zero(t, points[0].Open)
}

func TestEngine_CaptureConfigError(t *testing.T) {
	f := &fakeFetcher{err: fmt.Errorf("%w: api_token", config.ErrMissingTracker)}
	e, _ := newTestEngine(t, f)

	_, err := e.Capture(context.Background())
	require.ErrorIs(t, err, config.ErrMissingTracker)

	readOnly, _ := newTestEngine(t, nil)
	_, err = readOnly.Capture(context.Background())
	require.True(t, errors.Is(err, config.ErrMissingTracker))
}

func TestEngine_AppendSnapshot(t *testing.T) {
	e, s := newTestEngine(t, nil)
	ctx := context.Background()

	id, err := e.AppendSnapshot(ctx, []store.IssueInput{input("ABC-1", "Open", "High", "2024-01-01", "", "")}, "manual")
	require.NoError(t, err)

	latest, err := s.LatestSnapshot(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, id, latest.ID)
	assert.Equal(t, "manual", latest.Note)
}

func TestEngine_ReconstructHistory(t *testing.T) {
	e, s := newTestEngine(t, nil)
	ctx := context.Background()

	raw := []tracker.RawIssue{{Key: "ABC-1", Fields: tracker.Fields{
		Created:   time.Now().UTC().AddDate(0, 0, -30).Format(time.DateOnly),
		IssueType: &tracker.Named{Name: "Bug"},
	}}}
	n, err := e.ReconstructHistory(ctx, raw, 14, 7)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	points, err := e.History(ctx, "")
	require.NoError(t, err)
	require.NotEmpty(t, points)
	for _, p := range points {
		assert.True(t, p.Reconstructed)
		assert.Equal(t, 1, p.Open)
	}

	count, err := s.CountSnapshots(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

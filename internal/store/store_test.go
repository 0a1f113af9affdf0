package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/elonfeng/bugradar/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openTestStore creates a migrated SQLite store in a temp dir.
func openTestStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func bug(key, status, priority, created, resolved string) IssueInput {
	return IssueInput{
		Key:            key,
		Summary:        "summary of " + key,
		Status:         status,
		Priority:       priority,
		Type:           "Bug",
		Assignee:       "Unassigned",
		CreatedDate:    created,
		ResolutionDate: resolved,
	}
}

func TestAppend_ListAndLatest(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	t1 := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	t2 := time.Date(2024, 1, 8, 17, 0, 0, 0, time.UTC)

	id1, err := s.Append(ctx, SnapshotInput{Timestamp: t1, Issues: []IssueInput{
		bug("ABC-1", "Open", "High", "2023-12-30T10:00:00.000+0000", ""),
	}})
	require.NoError(t, err)
	id2, err := s.Append(ctx, SnapshotInput{Timestamp: t2, Note: "manual", Issues: []IssueInput{
		bug("ABC-1", "Closed", "High", "2023-12-30T10:00:00.000+0000", "2024-01-05T08:00:00.000+0000"),
		bug("ABC-2", "New", "Low", "2024-01-07T10:00:00.000+0000", ""),
	}})
	require.NoError(t, err)
	assert.Greater(t, id2, id1, "ids are monotonic")

	snaps, err := s.ListSnapshots(ctx)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, id1, snaps[0].ID)
	assert.True(t, snaps[0].Timestamp.Equal(t1))
	assert.Equal(t, 1, snaps[0].TotalIssues)
	assert.Equal(t, 2, snaps[1].TotalIssues)
	assert.Equal(t, "manual", snaps[1].Note)

	latest, err := s.LatestSnapshot(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, id2, latest.ID)

	n, err := s.CountSnapshots(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestLatestSnapshot_Empty(t *testing.T) {
	s := openTestStore(t)
	latest, err := s.LatestSnapshot(context.Background())
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestListSnapshots_OrderedByTimestampNotID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	late, err := s.Append(ctx, SnapshotInput{Timestamp: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	early, err := s.Append(ctx, SnapshotInput{Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)})
	require.NoError(t, err)

	snaps, err := s.ListSnapshots(ctx)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, early, snaps[0].ID)
	assert.Equal(t, late, snaps[1].ID)
}

func TestAppend_RecordsRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	in := IssueInput{
		Key:           "ABC-7",
		Summary:       "Crash on boot",
		Status:        "In Progress",
		Priority:      "Critical",
		Type:          "Bug",
		Assignee:      "Dana",
		Reporter:      "Lee",
		CreatedDate:   "2024-03-01T10:00:00.000+0000",
		UpdatedDate:   "2024-03-05T11:00:00.000+0000",
		Labels:        "OS_FCS, regression",
		Component:     "kernel",
		LatestComment: "looking into it",
	}
	id, err := s.Append(ctx, SnapshotInput{Issues: []IssueInput{in}})
	require.NoError(t, err)

	recs, err := s.IssuesIn(ctx, id, IssueFilter{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	r := recs[0]
	assert.Equal(t, id, r.SnapshotID)
	assert.Equal(t, "ABC-7", r.Key)
	assert.Equal(t, "Critical", r.Priority)
	assert.Equal(t, "Dana", r.Assignee)
	assert.Equal(t, "Lee", r.Reporter)
	assert.Equal(t, "2024-03-01T10:00:00.000+0000", r.CreatedDate)
	assert.Equal(t, "OS_FCS, regression", r.Labels)
	assert.Equal(t, "kernel", r.Component)
	_, resolved := r.Resolved()
	assert.False(t, resolved, "empty resolution is stored as NULL")
}

func TestAppend_AllOrNothing(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// The duplicate natural key fails the second insert mid-batch.
	_, err := s.Append(ctx, SnapshotInput{Issues: []IssueInput{
		bug("ABC-1", "Open", "High", "2024-01-01", ""),
		bug("ABC-1", "Open", "High", "2024-01-01", ""),
	}})
	require.Error(t, err)

	n, err := s.CountSnapshots(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "no snapshot header may be visible")

	var issues int
	require.NoError(t, s.db.Get(&issues, "SELECT COUNT(*) FROM issues"))
	assert.Equal(t, 0, issues, "no issue record may be visible")
}

func TestAppend_CancelledContext(t *testing.T) {
	s := openTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Append(ctx, SnapshotInput{Issues: []IssueInput{bug("ABC-1", "Open", "High", "2024-01-01", "")}})
	require.Error(t, err)

	n, err := s.CountSnapshots(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestIssuesIn_Filters(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	story := bug("ABC-5", "Open", "High", "2024-03-05T00:00:00.000+0000", "")
	story.Type = "Story"
	labelled := bug("ABC-2", "New", "Low", "2024-03-04T23:59:00.000+0000", "")
	labelled.Labels = "OS_FCS, ui"
	quoted := bug("ABC-6", "New", "Low", "2024-03-01T00:00:00.000+0000", "")
	quoted.Labels = "it's 100%"

	id, err := s.Append(ctx, SnapshotInput{Issues: []IssueInput{
		bug("ABC-1", "Open", "Critical", "2024-03-01T10:00:00.000+0000", ""),
		labelled,
		bug("ABC-3", "Closed", "High", "2024-02-01T10:00:00.000+0000", "2024-03-10T18:30:00.000+0000"),
		bug("ABC-4", "In Progress", "Medium", "2024-03-11T10:00:00.000+0000", ""),
		story,
		quoted,
	}})
	require.NoError(t, err)

	keys := func(f IssueFilter) []string {
		t.Helper()
		recs, err := s.IssuesIn(ctx, id, f)
		require.NoError(t, err)
		var out []string
		for _, r := range recs {
			out = append(out, r.Key)
		}
		return out
	}

	assert.Equal(t, []string{"ABC-1", "ABC-2", "ABC-4", "ABC-6"},
		keys(IssueFilter{Statuses: []string{"New", "Open", "In Progress"}, Type: "Bug"}))
	assert.Equal(t, []string{"ABC-5"}, keys(IssueFilter{Type: "Story"}))
	assert.Equal(t, []string{"ABC-3"}, keys(IssueFilter{Priority: "High", Type: "Bug"}))
	assert.Equal(t, []string{"ABC-2"}, keys(IssueFilter{Label: "OS_FCS"}))
	assert.Empty(t, keys(IssueFilter{Label: "os_fcs"}), "label match is case-sensitive")
	assert.Equal(t, []string{"ABC-6"}, keys(IssueFilter{Label: "'s 100%"}), "label is bound, not interpolated")

	from := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 3, 10, 23, 0, 0, 0, time.UTC)
	assert.Equal(t, []string{"ABC-2", "ABC-5"}, keys(IssueFilter{CreatedFrom: from, CreatedTo: to}))
	assert.Equal(t, []string{"ABC-3"}, keys(IssueFilter{ResolvedFrom: from, ResolvedTo: to}))
}

func TestReplaceAll(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Append(ctx, SnapshotInput{Issues: []IssueInput{bug("OLD-1", "Open", "High", "2024-01-01", "")}})
	require.NoError(t, err)

	n, err := s.ReplaceAll(ctx, []SnapshotInput{
		{Timestamp: time.Date(2024, 1, 1, 23, 59, 59, 0, time.UTC), Note: NoteBackfill,
			Issues: []IssueInput{bug("NEW-1", "Open", "High", "2023-12-01", "")}},
		{Timestamp: time.Date(2024, 1, 8, 23, 59, 59, 0, time.UTC), Note: NoteBackfill},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	snaps, err := s.ListSnapshots(ctx)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	for _, snap := range snaps {
		assert.True(t, snap.Reconstructed())
	}

	var oldRecords int
	require.NoError(t, s.db.Get(&oldRecords, "SELECT COUNT(*) FROM issues WHERE issue_key = 'OLD-1'"))
	assert.Equal(t, 0, oldRecords)
}

func TestReplaceAll_FailureKeepsPreviousContents(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.Append(ctx, SnapshotInput{Issues: []IssueInput{bug("OLD-1", "Open", "High", "2024-01-01", "")}})
	require.NoError(t, err)

	_, err = s.ReplaceAll(ctx, []SnapshotInput{
		{Issues: []IssueInput{
			bug("DUP-1", "Open", "High", "2024-01-01", ""),
			bug("DUP-1", "Open", "High", "2024-01-01", ""),
		}},
	})
	require.Error(t, err)

	snaps, err := s.ListSnapshots(ctx)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, id, snaps[0].ID)
}

func TestSnapshotDate(t *testing.T) {
	snap := Snapshot{Timestamp: time.Date(2024, 1, 1, 23, 30, 0, 0, time.FixedZone("X", -3*3600))}
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), snap.Date(), "dates are taken in UTC")
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(config.DatabaseConfig{Driver: "oracle"})
	require.Error(t, err)

	_, err = Open(config.DatabaseConfig{Driver: "postgres"})
	require.Error(t, err, "postgres needs a dsn")
}

package report

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/elonfeng/bugradar/internal/config"
	"github.com/elonfeng/bugradar/pkg/tracker"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubFetcher struct {
	issues []tracker.RawIssue
	err    error
	jql    string
}

func (s *stubFetcher) FetchIssues(_ context.Context, jql string) ([]tracker.RawIssue, error) {
	s.jql = jql
	return s.issues, s.err
}

// stubSummarizer records calls and can cancel the run after n of them.
type stubSummarizer struct {
	calls    []string
	cancelAt int
	cancel   context.CancelFunc
}

func (s *stubSummarizer) Summarize(_ context.Context, key, _ string, comments []tracker.Comment) string {
	s.calls = append(s.calls, key)
	if s.cancel != nil && len(s.calls) == s.cancelAt {
		s.cancel()
	}
	return "summary of " + key
}

type stubActivity map[string]time.Time

func (a stubActivity) RecentKeys(context.Context, time.Time) (map[string]time.Time, error) {
	return a, nil
}

var now = time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

func raw(key, priority, status, updated string) tracker.RawIssue {
	return tracker.RawIssue{Key: key, Fields: tracker.Fields{
		Summary:  "summary | " + key,
		Priority: &tracker.Named{Name: priority},
		Status:   &tracker.Named{Name: status},
		Updated:  updated,
		Comment:  &tracker.CommentPage{Comments: []tracker.Comment{{Body: "latest\nnote"}}},
	}}
}

func newGenerator(f *stubFetcher, s *stubSummarizer, a ActivitySource) *Generator {
	tc := config.TrackerConfig{BaseURL: "https://jira.example.com", JQL: "project = ABC AND created >= -30d"}
	g := NewGenerator(f, s, a, tc, zerolog.Nop())
	g.now = func() time.Time { return now }
	return g
}

func TestReportJQL(t *testing.T) {
	assert.Equal(t, `project = ABC AND status IN ("New", "Open", "In Progress")`,
		ReportJQL(config.TrackerConfig{JQL: "project = ABC AND created >= -30d"}))
	assert.Equal(t, "custom", ReportJQL(config.TrackerConfig{JQL: "project = ABC", ReportJQL: "custom"}))
	assert.Empty(t, ReportJQL(config.TrackerConfig{}))
}

func TestGenerate(t *testing.T) {
	f := &stubFetcher{issues: []tracker.RawIssue{
		raw("ABC-1", "Low", "Open", "2024-03-14T09:30:00.000+0000"),
		raw("ABC-2", "Blocker", "New", "2024-03-01T09:30:00.000+0000"),
		raw("ABC-3", "High", "In Progress", "2024-02-01T09:30:00.000+0000"),
	}}
	s := &stubSummarizer{}
	activity := stubActivity{"ABC-3": now.Add(-time.Hour)}

	var events []Progress
	rep, err := newGenerator(f, s, activity).Generate(context.Background(), func(p Progress) { events = append(events, p) })
	require.NoError(t, err)

	assert.Equal(t, `project = ABC AND status IN ("New", "Open", "In Progress")`, f.jql)
	assert.Equal(t, "weekly_report_2024-03-15.md", rep.Filename)
	assert.Equal(t, 3, rep.IssueCount)
	assert.NotEmpty(t, rep.RunID)
	assert.Equal(t, []string{"ABC-1", "ABC-2", "ABC-3"}, s.calls)

	require.Len(t, events, 6)
	assert.Equal(t, 0, events[0].Total)
	assert.Equal(t, 3, events[1].Total)
	assert.Equal(t, "ABC-1", events[2].IssueKey)
	assert.Equal(t, 3, events[4].Current)
	assert.Equal(t, "Generating report...", events[5].Status)
	for _, e := range events {
		assert.Equal(t, rep.RunID, e.RunID)
	}

	c := rep.Content
	assert.Contains(t, c, "# Weekly Jira Update Report - 2024-03-15")
	assert.Contains(t, c, "`2024-03-08` to `2024-03-15`")
	assert.Contains(t, c, "[ABC-2](https://jira.example.com/browse/ABC-2)")
	assert.Contains(t, c, `summary \| ABC-2`)
	assert.Contains(t, c, "_latest note_")
	assert.Contains(t, c, "Updated: 2024-03-14 09:30")

	// Sorted by priority: Blocker, High, Low.
	i2, i3, i1 := strings.Index(c, "[ABC-2]"), strings.Index(c, "[ABC-3]"), strings.Index(c, "[ABC-1]")
	assert.Less(t, i2, i3)
	assert.Less(t, i3, i1)

	lines := strings.Split(c, "\n")
	for _, l := range lines {
		switch {
		case strings.HasPrefix(l, "| [ABC-2]"):
			assert.Contains(t, l, "No recent update", "not updated within a week")
		case strings.HasPrefix(l, "| [ABC-3]"):
			assert.NotContains(t, l, "No recent update", "feed activity overrides the updated date")
		case strings.HasPrefix(l, "| [ABC-1]"):
			assert.NotContains(t, l, "No recent update")
		}
	}
}

func TestGenerate_NoIssues(t *testing.T) {
	var events []Progress
	rep, err := newGenerator(&stubFetcher{}, &stubSummarizer{}, nil).Generate(context.Background(), func(p Progress) { events = append(events, p) })
	require.NoError(t, err)
	assert.Zero(t, rep.IssueCount)
	assert.Contains(t, rep.Content, "No issues matching")
	require.Len(t, events, 2)
	assert.Equal(t, "No issues found", events[1].Status)
}

func TestGenerate_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := &stubFetcher{issues: []tracker.RawIssue{
		raw("ABC-1", "Low", "Open", ""),
		raw("ABC-2", "Low", "Open", ""),
		raw("ABC-3", "Low", "Open", ""),
	}}
	s := &stubSummarizer{cancelAt: 2, cancel: cancel}

	var keys []string
	_, err := newGenerator(f, s, nil).Generate(ctx, func(p Progress) {
		if p.IssueKey != "" {
			keys = append(keys, p.IssueKey)
		}
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"ABC-1", "ABC-2"}, keys, "progress already emitted stays emitted")
	assert.Equal(t, []string{"ABC-1", "ABC-2"}, s.calls, "no call after cancellation")
}

func TestGenerate_FetchError(t *testing.T) {
	f := &stubFetcher{err: errors.New("boom")}
	_, err := newGenerator(f, &stubSummarizer{}, nil).Generate(context.Background(), nil)
	require.Error(t, err)
}

func TestReportSave(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reports")
	rep := &Report{Filename: Filename(now), Content: "# hi\n"}
	path, err := rep.Save(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "weekly_report_2024-03-15.md"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "# hi\n", string(data))
}

func TestRow_TruncatesComment(t *testing.T) {
	r := row(Entry{Key: "ABC-1", LatestComment: strings.Repeat("x", 150), Priority: "Critical"})
	assert.Contains(t, r, strings.Repeat("x", 97)+"...")
	assert.NotContains(t, r, strings.Repeat("x", 98))
	assert.Contains(t, r, "**Critical**")
	assert.Contains(t, r, "*(No summary available)*")
	assert.Contains(t, r, "[ABC-1](ABC-1)")
}

func TestRow_TruncatesMultibyteComment(t *testing.T) {
	r := row(Entry{Key: "ABC-1", LatestComment: strings.Repeat("é", 80) + strings.Repeat("界", 40)})
	assert.True(t, utf8.ValidString(r))
	assert.Contains(t, r, strings.Repeat("é", 80)+strings.Repeat("界", 17)+"...")
	assert.NotContains(t, r, strings.Repeat("界", 18))

	short := row(Entry{Key: "ABC-2", LatestComment: strings.Repeat("é", 100)})
	assert.Contains(t, short, strings.Repeat("é", 100)+"_")
}

// Package report builds the weekly markdown report over open issues.
package report

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/elonfeng/bugradar/internal/config"
	"github.com/elonfeng/bugradar/pkg/summary"
	"github.com/elonfeng/bugradar/pkg/tracker"
	"github.com/elonfeng/bugradar/pkg/trend"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// StaleAfter is how long an issue may go without activity before it is flagged.
const StaleAfter = 7 * 24 * time.Hour

// Progress is emitted while a report is generated.
type Progress struct {
	RunID    string `json:"run_id"`
	Current  int    `json:"current"`
	Total    int    `json:"total"`
	Status   string `json:"status"`
	IssueKey string `json:"issue_key,omitempty"`
}

// Report is a finished weekly report.
type Report struct {
	RunID       string    `json:"run_id"`
	Filename    string    `json:"filename"`
	Content     string    `json:"content"`
	IssueCount  int       `json:"issue_count"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Entry is one issue in the report.
type Entry struct {
	Key           string
	Link          string
	Summary       string
	Status        string
	Priority      string
	Assignee      string
	Updated       string
	LLMSummary    string
	LatestComment string
	Stale         bool
}

// ActivitySource reports recent tracker activity per issue key.
type ActivitySource interface {
	RecentKeys(ctx context.Context, since time.Time) (map[string]time.Time, error)
}

// Generator produces weekly reports.
type Generator struct {
	fetcher    trend.Fetcher
	summarizer summary.Summarizer
	activity   ActivitySource // optional
	jql        string
	baseURL    string
	now        func() time.Time
	log        zerolog.Logger
}

// NewGenerator creates a report generator. activity may be nil.
func NewGenerator(f trend.Fetcher, s summary.Summarizer, activity ActivitySource, tc config.TrackerConfig, log zerolog.Logger) *Generator {
	return &Generator{
		fetcher:    f,
		summarizer: s,
		activity:   activity,
		jql:        ReportJQL(tc),
		baseURL:    tc.BaseURL,
		now:        time.Now,
		log:        log.With().Str("component", "report").Logger(),
	}
}

// ReportJQL returns the open-issue query used for the report.
func ReportJQL(tc config.TrackerConfig) string {
	if tc.ReportJQL != "" {
		return tc.ReportJQL
	}
	base := tc.EffectiveHistoryJQL()
	if base == "" {
		return ""
	}
	return base + ` AND status IN ("New", "Open", "In Progress")`
}

// Generate fetches the open issues, summarizes each one and renders the report.
// emit is called before the fetch, after it, and once per issue before it is
// summarized. Cancellation is checked between issues; it returns ctx.Err().
func (g *Generator) Generate(ctx context.Context, emit func(Progress)) (*Report, error) {
	if emit == nil {
		emit = func(Progress) {}
	}
	runID := uuid.NewString()
	now := g.now()
	since := now.Add(-StaleAfter)
	log := g.log.With().Str("run_id", runID).Logger()

	emit(Progress{RunID: runID, Status: "Fetching issues from tracker..."})
	raws, err := g.fetcher.FetchIssues(ctx, g.jql)
	if err != nil {
		return nil, fmt.Errorf("fetch report issues: %w", err)
	}

	total := len(raws)
	if total == 0 {
		emit(Progress{RunID: runID, Status: "No issues found"})
	} else {
		emit(Progress{RunID: runID, Total: total, Status: fmt.Sprintf("Found %d issues. Starting analysis...", total)})
	}

	recent := g.recentActivity(ctx, since, log)

	entries := make([]Entry, 0, total)
	for i, raw := range raws {
		if err := ctx.Err(); err != nil {
			log.Info().Int("processed", i).Int("total", total).Msg("report cancelled")
			return nil, err
		}
		emit(Progress{RunID: runID, Current: i + 1, Total: total, Status: "Analyzing " + raw.Key + "...", IssueKey: raw.Key})

		entries = append(entries, Entry{
			Key:           raw.Key,
			Link:          tracker.BrowseURL(g.baseURL, raw.Key),
			Summary:       raw.Fields.Summary,
			Status:        raw.StatusName(),
			Priority:      raw.PriorityName(),
			Assignee:      raw.AssigneeName(),
			Updated:       raw.Fields.Updated,
			LLMSummary:    g.summarizer.Summarize(ctx, raw.Key, raw.Fields.Summary, raw.Comments()),
			LatestComment: raw.LatestComment(),
			Stale:         isStale(raw.Fields.Updated, recent[raw.Key], since),
		})
	}

	if total > 0 {
		emit(Progress{RunID: runID, Current: total, Total: total, Status: "Generating report..."})
	}
	trend.SortIssues(entries, func(e Entry) string { return e.Priority }, func(e Entry) string { return e.Status })

	date := now.Format(time.DateOnly)
	log.Info().Int("issues", total).Msg("report generated")
	return &Report{
		RunID:       runID,
		Filename:    Filename(now),
		Content:     Render(entries, since.Format(time.DateOnly), date),
		IssueCount:  total,
		GeneratedAt: now.UTC(),
	}, nil
}

// recentActivity reads the activity feed; failures only disable the override.
func (g *Generator) recentActivity(ctx context.Context, since time.Time, log zerolog.Logger) map[string]time.Time {
	if g.activity == nil {
		return nil
	}
	recent, err := g.activity.RecentKeys(ctx, since)
	if err != nil {
		log.Warn().Err(err).Msg("activity feed unavailable, staleness from updated dates only")
		return nil
	}
	return recent
}

// isStale reports whether neither the updated date nor feed activity falls after since.
func isStale(updated string, activity, since time.Time) bool {
	if !activity.IsZero() && activity.After(since) {
		return false
	}
	if len(updated) < len(time.DateOnly) {
		return false
	}
	day, err := time.Parse(time.DateOnly, updated[:len(time.DateOnly)])
	if err != nil {
		return false
	}
	sinceDay := time.Date(since.Year(), since.Month(), since.Day(), 0, 0, 0, 0, time.UTC)
	return day.Before(sinceDay)
}

// Filename returns the report file name for a generation date.
func Filename(at time.Time) string {
	return "weekly_report_" + at.Format(time.DateOnly) + ".md"
}

// Save writes the report into dir and returns its path.
func (r *Report) Save(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create report dir: %w", err)
	}
	path := filepath.Join(dir, r.Filename)
	if err := os.WriteFile(path, []byte(r.Content), 0o644); err != nil {
		return "", fmt.Errorf("write report %s: %w", path, err)
	}
	return path, nil
}

// Render formats entries as the markdown report.
func Render(entries []Entry, from, to string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Weekly Jira Update Report - %s\n\n", to)
	b.WriteString("> [!NOTE]\n")
	b.WriteString("> This report includes issues in **New**, **Open**, or **In Progress** status.\n\n")

	b.WriteString("## Summary\n")
	fmt.Fprintf(&b, "- **Reporting Period**: `%s` to `%s`\n", from, to)
	fmt.Fprintf(&b, "- **Total Active Issues**: %d\n\n", len(entries))

	counts := make(map[string]int)
	for _, e := range entries {
		counts[e.Status]++
	}
	b.WriteString("### Status Distribution\n")
	b.WriteString("| Status | Count |\n|---|---|\n")
	for _, status := range trend.OpenStatuses {
		if counts[status] > 0 {
			fmt.Fprintf(&b, "| **%s** | %d |\n", status, counts[status])
		}
	}
	b.WriteString("\n---\n\n")

	b.WriteString("## Detailed Issue List\n\n")
	if len(entries) == 0 {
		b.WriteString("*No issues matching the criteria.*\n")
	} else {
		b.WriteString("| Key | Priority | Status | Summary | Latest Update / Comment | Assignee |\n")
		b.WriteString("|---|---|---|---|---|---|\n")
		for _, e := range entries {
			b.WriteString(row(e))
		}
	}

	b.WriteString("\n---\n")
	b.WriteString("*Report generated by bugradar*\n")
	return b.String()
}

func row(e Entry) string {
	link := e.Link
	if link == "" {
		link = e.Key
	}

	llm := e.LLMSummary
	if llm == "" {
		llm = "*(No summary available)*"
	}
	llm = strings.ReplaceAll(llm, "\n", "<br>")

	comment := strings.ReplaceAll(strings.ReplaceAll(e.LatestComment, "\r", ""), "\n", " ")
	if r := []rune(comment); len(r) > 100 {
		comment = string(r[:97]) + "..."
	}
	if comment == "" {
		comment = "N/A"
	}

	updated := "N/A"
	if len(e.Updated) >= 16 {
		updated = strings.Replace(e.Updated[:16], "T", " ", 1)
	} else if e.Updated != "" {
		updated = e.Updated
	}

	stale := ""
	if e.Stale {
		stale = "_No recent update_<br><br>"
	}

	priority := e.Priority
	if trend.PriorityRank(priority) == 1 {
		priority = "**" + priority + "**"
	}

	return fmt.Sprintf("| [%s](%s) | %s | %s | **%s** | %s**Summary:**<br>%s<br><br>**Latest Team Update:**<br>_%s_ <br><small>Updated: %s</small> | %s |\n",
		e.Key, link, priority, e.Status, escapeCell(e.Summary), stale, llm, escapeCell(comment), updated, e.Assignee)
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

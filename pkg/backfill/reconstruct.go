// Package backfill synthesizes historical snapshots from one full-history fetch.
//
// Reconstruction is approximate. Without a change log the open sub-state of
// an issue at a past date is unknown, so every unresolved issue is recorded
// as "Open" and every resolved issue carries its current status name.
// Reconstructed snapshots carry store.NoteBackfill so readers can tell them
// apart from real captures.
package backfill

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/elonfeng/bugradar/internal/store"
	"github.com/elonfeng/bugradar/pkg/tracker"
	"github.com/rs/zerolog"
)

// Defaults for a reconstruction run.
const (
	DefaultLookbackDays = 180
	DefaultCadenceDays  = 7
)

// ErrNoIssues is returned when there is nothing to reconstruct from.
// The store is left untouched.
var ErrNoIssues = errors.New("no issues to reconstruct from")

// StatusAt returns the reconstructed status of issue at t, or ok=false when
// the issue did not exist yet. Only the date portion of t and of the issue
// dates is compared.
func StatusAt(issue tracker.RawIssue, t time.Time) (status string, ok bool) {
	created, ok := parseDay(issue.Fields.Created)
	if !ok {
		return "", false
	}
	day := truncateDay(t)
	if created.After(day) {
		return "", false
	}

	if resolved, ok := parseDay(issue.Fields.ResolutionDate); ok && !resolved.After(day) {
		return issue.StatusNameOr("Closed"), true
	}
	return "Open", true
}

// Reconstructor rebuilds the snapshot store from full issue history.
type Reconstructor struct {
	store store.Store
	log   zerolog.Logger
	now   func() time.Time
}

// New creates a reconstructor writing into s.
func New(s store.Store, log zerolog.Logger) *Reconstructor {
	return &Reconstructor{
		store: s,
		log:   log.With().Str("component", "backfill").Logger(),
		now:   time.Now,
	}
}

// Grid returns the reconstruction dates: from now-lookback to now every
// cadence days, each at 23:59:59 UTC.
func Grid(now time.Time, lookbackDays, cadenceDays int) []time.Time {
	end := now.UTC()
	var grid []time.Time
	for d := end.AddDate(0, 0, -lookbackDays); !d.After(end); d = d.AddDate(0, 0, cadenceDays) {
		grid = append(grid, time.Date(d.Year(), d.Month(), d.Day(), 23, 59, 59, 0, time.UTC))
	}
	return grid
}

// Build produces one snapshot input per grid date.
func Build(issues []tracker.RawIssue, grid []time.Time) []store.SnapshotInput {
	inputs := make([]store.SnapshotInput, 0, len(grid))
	for _, at := range grid {
		var records []store.IssueInput
		for _, issue := range issues {
			status, ok := StatusAt(issue, at)
			if !ok {
				continue
			}
			records = append(records, record(issue, status, at))
		}
		inputs = append(inputs, store.SnapshotInput{
			Timestamp: at,
			Note:      store.NoteBackfill,
			Issues:    records,
		})
	}
	return inputs
}

// Run clears the store and writes one reconstructed snapshot per grid date.
// It is destructive; callers are responsible for confirming it.
func (r *Reconstructor) Run(ctx context.Context, issues []tracker.RawIssue, lookbackDays, cadenceDays int) (int, error) {
	if lookbackDays <= 0 || cadenceDays <= 0 {
		return 0, fmt.Errorf("invalid backfill window: lookback %d days, cadence %d days", lookbackDays, cadenceDays)
	}
	if len(issues) == 0 {
		return 0, ErrNoIssues
	}

	grid := Grid(r.now(), lookbackDays, cadenceDays)
	inputs := Build(issues, grid)

	r.log.Warn().
		Int("issues", len(issues)).
		Int("snapshots", len(inputs)).
		Msg("replacing all snapshots with reconstructed history")

	n, err := r.store.ReplaceAll(ctx, inputs)
	if err != nil {
		return 0, fmt.Errorf("write reconstructed history: %w", err)
	}
	return n, nil
}

// record copies the issue with its reconstructed status. The resolution
// date is kept only when the issue was already resolved at the grid date.
func record(issue tracker.RawIssue, status string, at time.Time) store.IssueInput {
	in := tracker.Convert(issue)
	in.Status = status
	in.LatestComment = ""
	in.LLMSummary = ""
	if resolved, ok := parseDay(issue.Fields.ResolutionDate); !ok || resolved.After(truncateDay(at)) {
		in.ResolutionDate = ""
	}
	return in
}

func parseDay(stamp string) (time.Time, bool) {
	if len(stamp) < len(time.DateOnly) {
		return time.Time{}, false
	}
	d, err := time.Parse(time.DateOnly, stamp[:len(time.DateOnly)])
	if err != nil {
		return time.Time{}, false
	}
	return d, true
}

func truncateDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

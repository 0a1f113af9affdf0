package trend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/elonfeng/bugradar/internal/config"
	"github.com/elonfeng/bugradar/internal/store"
	"github.com/elonfeng/bugradar/pkg/backfill"
	"github.com/elonfeng/bugradar/pkg/tracker"
	"github.com/rs/zerolog"
)

// Fetcher runs a tracker query.
type Fetcher interface {
	FetchIssues(ctx context.Context, jql string) ([]tracker.RawIssue, error)
}

// Engine derives trend metrics from the snapshot store and feeds it from the tracker.
type Engine struct {
	store    store.Store
	fetcher  Fetcher // optional, nil = capture disabled
	jql      string
	baseURL  string
	backfill *backfill.Reconstructor
	log      zerolog.Logger
}

// NewEngine creates a trend engine. fetcher may be nil for read-only use.
func NewEngine(s store.Store, fetcher Fetcher, tc config.TrackerConfig, log zerolog.Logger) *Engine {
	return &Engine{
		store:    s,
		fetcher:  fetcher,
		jql:      tc.JQL,
		baseURL:  tc.BaseURL,
		backfill: backfill.New(s, log),
		log:      log.With().Str("component", "trend").Logger(),
	}
}

// Bug is one row of the defect listing.
type Bug struct {
	Key      string `json:"key"`
	Summary  string `json:"summary"`
	Priority string `json:"priority"`
	Status   string `json:"status"`
	Assignee string `json:"assignee"`
	Created  string `json:"created"`
	Reporter string `json:"reporter"`
	Updated  string `json:"updated"`
	Labels   string `json:"labels"`
	Link     string `json:"link"`
}

// BugQuery selects the defect listing.
type BugQuery struct {
	Label         string
	IncludeClosed bool
}

// CaptureResult describes one capture from the tracker.
// A zero SnapshotID means nothing was written.
type CaptureResult struct {
	SnapshotID int64     `json:"snapshot_id"`
	Issues     int       `json:"issues"`
	CapturedAt time.Time `json:"captured_at"`
}

// History returns one point per selected snapshot, oldest first.
func (e *Engine) History(ctx context.Context, label string) ([]Point, error) {
	snaps, err := e.store.ListSnapshots(ctx)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}

	byID := make(map[int64]store.Snapshot, len(snaps))
	for _, s := range snaps {
		byID[s.ID] = s
	}

	ids := SelectCadence(snaps)
	points := make([]Point, 0, len(ids))
	for _, id := range ids {
		snap := byID[id]
		records, err := e.store.IssuesIn(ctx, id, store.IssueFilter{Type: DefectType, Label: label})
		if err != nil {
			return nil, fmt.Errorf("load snapshot %d: %w", id, err)
		}

		c := Counts(records)
		v := Velocity(snap.Timestamp, records)
		points = append(points, Point{
			SnapshotID:    id,
			Date:          snap.Date().Format(time.DateOnly),
			Open:          c.Open,
			Critical:      c.Critical,
			High:          c.High,
			Medium:        c.Medium,
			Low:           c.Low,
			New:           v.New,
			Fixed:         v.Fixed,
			Reconstructed: snap.Reconstructed(),
		})
	}

	e.log.Debug().Int("snapshots", len(snaps)).Int("points", len(points)).Str("label", label).Msg("history")
	return points, nil
}

// Breakdown groups the open defects of the latest snapshot.
func (e *Engine) Breakdown(ctx context.Context, label string) (BreakdownResult, error) {
	empty := BreakdownResult{Priority: []Group{}, Status: []Group{}}

	latest, err := e.store.LatestSnapshot(ctx)
	if err != nil {
		return empty, fmt.Errorf("latest snapshot: %w", err)
	}
	if latest == nil {
		return empty, nil
	}

	records, err := e.store.IssuesIn(ctx, latest.ID, store.IssueFilter{
		Type:     DefectType,
		Statuses: OpenStatuses,
		Label:    label,
	})
	if err != nil {
		return empty, fmt.Errorf("load snapshot %d: %w", latest.ID, err)
	}
	return Breakdown(records), nil
}

// Bugs lists the defects of the latest snapshot sorted by priority, then status.
// Closed defects are listed only when q.IncludeClosed is set.
func (e *Engine) Bugs(ctx context.Context, q BugQuery) ([]Bug, error) {
	latest, err := e.store.LatestSnapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("latest snapshot: %w", err)
	}
	if latest == nil {
		return []Bug{}, nil
	}

	filter := store.IssueFilter{Type: DefectType, Label: q.Label}
	if !q.IncludeClosed {
		filter.Statuses = OpenStatuses
	}
	records, err := e.store.IssuesIn(ctx, latest.ID, filter)
	if err != nil {
		return nil, fmt.Errorf("load snapshot %d: %w", latest.ID, err)
	}

	bugs := make([]Bug, 0, len(records))
	for _, r := range records {
		bugs = append(bugs, Bug{
			Key:      r.Key,
			Summary:  r.Summary,
			Priority: r.Priority,
			Status:   r.Status,
			Assignee: r.Assignee,
			Created:  r.CreatedDate,
			Reporter: r.Reporter,
			Updated:  r.UpdatedDate,
			Labels:   r.Labels,
			Link:     tracker.BrowseURL(e.baseURL, r.Key),
		})
	}
	SortIssues(bugs, func(b Bug) string { return b.Priority }, func(b Bug) string { return b.Status })
	return bugs, nil
}

// Forecast projects the open backlog from the history series.
func (e *Engine) Forecast(ctx context.Context, label string) (*Projection, error) {
	points, err := e.History(ctx, label)
	if err != nil {
		return nil, err
	}
	current := 0
	if len(points) > 0 {
		current = points[len(points)-1].Open
	}
	p := Forecast(points, current)
	return &p, nil
}

// AppendSnapshot stores issues as a new snapshot and returns its id.
func (e *Engine) AppendSnapshot(ctx context.Context, issues []store.IssueInput, note string) (int64, error) {
	id, err := e.store.Append(ctx, store.SnapshotInput{Note: note, Issues: issues})
	if err != nil {
		return 0, fmt.Errorf("append snapshot: %w", err)
	}
	e.log.Info().Int64("snapshot_id", id).Int("issues", len(issues)).Msg("snapshot stored")
	return id, nil
}

// Capture fetches the configured query and stores it as a snapshot.
// A failed fetch is logged and stores nothing; a successful fetch with no
// matches stores an empty snapshot. Configuration errors are returned.
func (e *Engine) Capture(ctx context.Context) (*CaptureResult, error) {
	if e.fetcher == nil {
		return nil, fmt.Errorf("%w: tracker client not configured", config.ErrMissingTracker)
	}

	raws, err := e.fetcher.FetchIssues(ctx, e.jql)
	if err != nil {
		if errors.Is(err, config.ErrMissingTracker) || ctx.Err() != nil {
			return nil, err
		}
		e.log.Error().Err(err).Msg("fetch issues failed, no snapshot taken")
		return &CaptureResult{}, nil
	}
	if len(raws) == 0 {
		e.log.Warn().Str("jql", e.jql).Msg("query matched no issues, storing empty snapshot")
	}

	now := time.Now().UTC()
	id, err := e.store.Append(ctx, store.SnapshotInput{
		Timestamp: now,
		Issues:    tracker.ConvertAll(raws),
	})
	if err != nil {
		return nil, fmt.Errorf("append snapshot: %w", err)
	}

	e.log.Info().Int64("snapshot_id", id).Int("issues", len(raws)).Msg("snapshot captured")
	return &CaptureResult{SnapshotID: id, Issues: len(raws), CapturedAt: now}, nil
}

// ReconstructHistory replaces the store with snapshots reconstructed from raw.
func (e *Engine) ReconstructHistory(ctx context.Context, raw []tracker.RawIssue, lookbackDays, cadenceDays int) (int, error) {
	return e.backfill.Run(ctx, raw, lookbackDays, cadenceDays)
}

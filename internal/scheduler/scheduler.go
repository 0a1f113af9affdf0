package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/elonfeng/bugradar/internal/config"
	"github.com/elonfeng/bugradar/pkg/alert"
	"github.com/elonfeng/bugradar/pkg/trend"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// tickTimeout bounds one capture plus digest.
const tickTimeout = 5 * time.Minute

// Engine is the part of the trend engine the scheduler drives.
type Engine interface {
	Capture(ctx context.Context) (*trend.CaptureResult, error)
	History(ctx context.Context, label string) ([]trend.Point, error)
	Bugs(ctx context.Context, q trend.BugQuery) ([]trend.Bug, error)
}

// Scheduler captures snapshots on a cron schedule and broadcasts a digest after each capture.
type Scheduler struct {
	engine     Engine
	alerts     *alert.Manager
	schedule   cron.Schedule
	spec       string
	loc        *time.Location
	label      string
	runOnStart bool
	log        zerolog.Logger
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// New validates the cron spec and creates a scheduler.
func New(cfg config.ScheduleConfig, engine Engine, alerts *alert.Manager, log zerolog.Logger) (*Scheduler, error) {
	schedule, err := parser.Parse(cfg.SnapshotCron)
	if err != nil {
		return nil, fmt.Errorf("parse snapshot_cron %q: %w", cfg.SnapshotCron, err)
	}
	if alerts == nil {
		alerts = alert.NewManager(nil)
	}
	return &Scheduler{
		engine:     engine,
		alerts:     alerts,
		schedule:   schedule,
		spec:       cfg.SnapshotCron,
		loc:        cfg.Location(),
		label:      cfg.DigestLabel,
		runOnStart: cfg.RunOnStart,
		log:        log.With().Str("component", "scheduler").Logger(),
	}, nil
}

// Run starts the cron loop. Blocks until ctx is cancelled and the running
// tick, if any, has finished.
func (s *Scheduler) Run(ctx context.Context) error {
	c := cron.New(cron.WithLocation(s.loc), cron.WithParser(parser))
	c.Schedule(s.schedule, cron.FuncJob(func() { s.tick(ctx) }))

	if s.runOnStart {
		s.log.Info().Msg("initial capture")
		s.tick(ctx)
	}

	c.Start()
	s.log.Info().Str("cron", s.spec).Str("tz", s.loc.String()).Time("next", s.schedule.Next(time.Now().In(s.loc))).Msg("scheduler running")

	<-ctx.Done()
	<-c.Stop().Done()
	s.log.Info().Msg("scheduler stopped")
	return ctx.Err()
}

func (s *Scheduler) tick(parent context.Context) {
	if parent.Err() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(parent, tickTimeout)
	defer cancel()

	if err := s.Tick(ctx); err != nil {
		s.log.Error().Err(err).Msg("scheduled capture failed")
	}
}

// Tick captures one snapshot and, when it was stored and notifiers exist,
// broadcasts the backlog digest.
func (s *Scheduler) Tick(ctx context.Context) error {
	res, err := s.engine.Capture(ctx)
	if err != nil {
		return fmt.Errorf("capture: %w", err)
	}
	if res.SnapshotID == 0 {
		s.log.Warn().Msg("no snapshot stored, skipping digest")
		return nil
	}
	s.log.Info().Int64("snapshot_id", res.SnapshotID).Int("issues", res.Issues).Msg("captured")

	if !s.alerts.HasNotifiers() {
		return nil
	}
	n, err := s.digest(ctx)
	if err != nil {
		return err
	}
	if n == nil {
		return nil
	}
	if err := s.alerts.Broadcast(ctx, n); err != nil {
		return fmt.Errorf("broadcast digest: %w", err)
	}
	s.log.Info().Int("open", n.Open).Int("critical", n.Critical).Msg("digest sent")
	return nil
}

func (s *Scheduler) digest(ctx context.Context) (*alert.Notification, error) {
	points, err := s.engine.History(ctx, s.label)
	if err != nil {
		return nil, fmt.Errorf("digest history: %w", err)
	}
	if len(points) == 0 {
		return nil, nil
	}
	bugs, err := s.engine.Bugs(ctx, trend.BugQuery{Label: s.label})
	if err != nil {
		return nil, fmt.Errorf("digest bugs: %w", err)
	}
	forecast := trend.Forecast(points, points[len(points)-1].Open)
	return alert.Digest(s.label, points, &forecast, bugs), nil
}

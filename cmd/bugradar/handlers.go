package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/elonfeng/bugradar/internal/config"
	"github.com/elonfeng/bugradar/internal/logging"
	"github.com/elonfeng/bugradar/internal/scheduler"
	"github.com/elonfeng/bugradar/internal/store"
	"github.com/elonfeng/bugradar/pkg/alert"
	"github.com/elonfeng/bugradar/pkg/report"
	"github.com/elonfeng/bugradar/pkg/server"
	"github.com/elonfeng/bugradar/pkg/summary"
	"github.com/elonfeng/bugradar/pkg/tracker"
	"github.com/elonfeng/bugradar/pkg/trend"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// app holds everything a command needs, built once from the config.
type app struct {
	cfg    *config.Config
	log    zerolog.Logger
	db     *store.SQLStore
	client *tracker.Client
	engine *trend.Engine
}

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	return config.Load(path)
}

func openApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log := logging.New(cfg.Log)

	db, err := store.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	client := tracker.NewClient(cfg.Tracker, log)
	return &app{
		cfg:    cfg,
		log:    log,
		db:     db,
		client: client,
		engine: trend.NewEngine(db, client, cfg.Tracker, log),
	}, nil
}

func (a *app) Close() error {
	return a.db.Close()
}

func (a *app) reportGenerator() *report.Generator {
	llm := summary.New(a.cfg.LLM, a.log)
	fmt.Fprintf(os.Stderr, "summaries: %s/%s\n", llm.Provider(), a.cfg.LLM.Model)

	var activity report.ActivitySource
	if a.cfg.Tracker.BaseURL != "" {
		activity = tracker.NewActivityFeed(a.cfg.Tracker)
	}
	return report.NewGenerator(a.client, llm, activity, a.cfg.Tracker, a.log)
}

func (a *app) label(sc scope) string {
	if sc.gate {
		return a.cfg.Gate.Label
	}
	return sc.label
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runSnapshot(ctx context.Context) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	fmt.Fprintln(os.Stderr, "fetching issues from tracker...")
	res, err := a.engine.Capture(ctx)
	if err != nil {
		return fmt.Errorf("capture snapshot: %w", err)
	}

	if jsonOutput {
		return printJSON(res)
	}
	if res.SnapshotID == 0 {
		fmt.Println("no snapshot taken (see log for details)")
		return nil
	}
	fmt.Printf("snapshot %d stored: %d issues at %s\n", res.SnapshotID, res.Issues, res.CapturedAt.Format("2006-01-02 15:04:05"))
	return nil
}

func runBackfill(ctx context.Context, yes bool, lookback, cadence int) error {
	if !yes {
		return errors.New("backfill deletes every stored snapshot; rerun with --yes to confirm")
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if lookback == 0 {
		lookback = a.cfg.Backfill.LookbackDays
	}
	if cadence == 0 {
		cadence = a.cfg.Backfill.CadenceDays
	}

	jql := a.cfg.Tracker.EffectiveHistoryJQL()
	fmt.Fprintf(os.Stderr, "fetching history query: %s\n", jql)
	raws, err := a.client.FetchIssues(ctx, jql)
	if err != nil {
		return fmt.Errorf("fetch history issues: %w", err)
	}

	fmt.Fprintf(os.Stderr, "reconstructing %d days every %d days from %d issues...\n", lookback, cadence, len(raws))
	n, err := a.engine.ReconstructHistory(ctx, raws, lookback, cadence)
	if err != nil {
		return fmt.Errorf("reconstruct history: %w", err)
	}

	if jsonOutput {
		return printJSON(map[string]int{"snapshots": n, "issues": len(raws)})
	}
	fmt.Printf("replaced history with %d reconstructed snapshots\n", n)
	return nil
}

func runHistory(ctx context.Context, sc scope) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	points, err := a.engine.History(ctx, a.label(sc))
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(points)
	}
	if len(points) == 0 {
		fmt.Println("no snapshots yet (try: bugradar snapshot)")
		return nil
	}
	return writeHistory(os.Stdout, points)
}

func writeHistory(out io.Writer, points []trend.Point) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DATE\tOPEN\tCRITICAL\tHIGH\tMEDIUM\tLOW\tNEW\tFIXED\t")
	for _, p := range points {
		mark := ""
		if p.Reconstructed {
			mark = "reconstructed"
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%s\n",
			p.Date, p.Open, p.Critical, p.High, p.Medium, p.Low, p.New, p.Fixed, mark)
	}
	return w.Flush()
}

func runBreakdown(ctx context.Context, sc scope) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	b, err := a.engine.Breakdown(ctx, a.label(sc))
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(b)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PRIORITY\tCOUNT")
	for _, g := range b.Priority {
		fmt.Fprintf(w, "%s\t%d\n", g.Name, g.Value)
	}
	fmt.Fprintln(w, "\nSTATUS\tCOUNT")
	for _, g := range b.Status {
		fmt.Fprintf(w, "%s\t%d\n", g.Name, g.Value)
	}
	return w.Flush()
}

func runBugs(ctx context.Context, sc scope, all bool) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	bugs, err := a.engine.Bugs(ctx, trend.BugQuery{Label: a.label(sc), IncludeClosed: all})
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(bugs)
	}
	if len(bugs) == 0 {
		fmt.Println("no bugs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tPRIORITY\tSTATUS\tASSIGNEE\tSUMMARY")
	for _, b := range bugs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", b.Key, b.Priority, b.Status, b.Assignee, b.Summary)
	}
	return w.Flush()
}

func runForecast(ctx context.Context, sc scope) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	f, err := a.engine.Forecast(ctx, a.label(sc))
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(f)
	}
	writeForecast(os.Stdout, f)
	return nil
}

func writeForecast(out io.Writer, f *trend.Projection) {
	fmt.Fprintf(out, "open now:        %d\n", f.CurrentOpen)
	fmt.Fprintf(out, "avg net change:  %+.1f per day\n", f.AvgNetChange)
	if f.Converging {
		fmt.Fprintf(out, "reaches zero in: %.0f days (%s)\n", f.DaysToZero, f.Kind)
	} else {
		fmt.Fprintf(out, "not converging:  growing by %.1f per day\n", f.GrowthRate)
	}
}

func runReport(ctx context.Context, out string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	rep, err := a.reportGenerator().Generate(ctx, func(p report.Progress) {
		if p.Total > 0 && p.IssueKey != "" {
			fmt.Fprintf(os.Stderr, "[%d/%d] %s\n", p.Current, p.Total, p.Status)
			return
		}
		fmt.Fprintln(os.Stderr, p.Status)
	})
	if err != nil {
		return fmt.Errorf("generate report: %w", err)
	}

	path, err := rep.Save(out)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(map[string]any{"run_id": rep.RunID, "path": path, "issue_count": rep.IssueCount})
	}
	fmt.Printf("report written to %s (%d issues)\n", path, rep.IssueCount)
	return nil
}

func runServe(ctx context.Context, port int) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if port > 0 {
		a.cfg.Server.Port = port
	}
	srv := server.New(a.cfg, a.engine, a.client, a.reportGenerator(), a.log)
	return srv.ListenAndServe(ctx)
}

func runDaemon(ctx context.Context, port int) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if port > 0 {
		a.cfg.Server.Port = port
	}

	alerts := alert.FromConfig(a.cfg.Alerts)
	sched, err := scheduler.New(a.cfg.Schedule, a.engine, alerts, a.log)
	if err != nil {
		return err
	}
	srv := server.New(a.cfg, a.engine, a.client, a.reportGenerator(), a.log)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("scheduler: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return srv.ListenAndServe(ctx)
	})

	err = g.Wait()
	fmt.Fprintln(os.Stderr, "shutting down...")
	return err
}

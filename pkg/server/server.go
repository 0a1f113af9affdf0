package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/elonfeng/bugradar/internal/config"
	"github.com/elonfeng/bugradar/pkg/backfill"
	"github.com/elonfeng/bugradar/pkg/report"
	"github.com/elonfeng/bugradar/pkg/tracker"
	"github.com/elonfeng/bugradar/pkg/trend"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Server provides the HTTP API.
type Server struct {
	engine     *trend.Engine
	fetcher    trend.Fetcher     // used by backfill
	reports    *report.Generator // optional
	historyJQL string
	backfill   config.BackfillConfig
	gateLabel  string
	port       int
	log        zerolog.Logger
}

// New creates a new HTTP server.
func New(cfg *config.Config, engine *trend.Engine, fetcher trend.Fetcher, reports *report.Generator, log zerolog.Logger) *Server {
	port := cfg.Server.Port
	if port == 0 {
		port = 8000
	}
	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}
	return &Server{
		engine:     engine,
		fetcher:    fetcher,
		reports:    reports,
		historyJQL: cfg.Tracker.EffectiveHistoryJQL(),
		backfill:   cfg.Backfill,
		gateLabel:  cfg.Gate.Label,
		port:       port,
		log:        log.With().Str("component", "http").Logger(),
	}
}

// Handler builds the gin router.
func (s *Server) Handler() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Info().Str("m", c.Request.Method).Str("p", c.FullPath()).Int("s", c.Writer.Status()).Dur("took", time.Since(start)).Msg("http")
	})

	r.GET("/health", s.handleHealth)

	api := r.Group("/api")
	api.GET("/history", s.handleHistory(queryLabel))
	api.GET("/breakdown", s.handleBreakdown(queryLabel))
	api.GET("/bugs", s.handleBugs(queryLabel))
	api.GET("/forecast", s.handleForecast(queryLabel))
	api.POST("/snapshot", s.handleSnapshot)
	api.POST("/backfill", s.handleBackfill)
	api.GET("/report", s.handleReport)

	gate := api.Group("/gate")
	gateLabel := func(*gin.Context) string { return s.gateLabel }
	gate.GET("/history", s.handleHistory(gateLabel))
	gate.GET("/breakdown", s.handleBreakdown(gateLabel))
	gate.GET("/bugs", s.handleBugs(gateLabel))
	gate.GET("/forecast", s.handleForecast(gateLabel))

	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", srv.Addr).Msg("bugradar server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	}
}

func queryLabel(c *gin.Context) string {
	return c.Query("label")
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleHistory(label func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		points, err := s.engine.History(c.Request.Context(), label(c))
		if err != nil {
			s.writeError(c, err)
			return
		}
		if points == nil {
			points = []trend.Point{}
		}
		c.JSON(http.StatusOK, points)
	}
}

func (s *Server) handleBreakdown(label func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		b, err := s.engine.Breakdown(c.Request.Context(), label(c))
		if err != nil {
			s.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, b)
	}
}

func (s *Server) handleBugs(label func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		includeClosed, err := strconv.ParseBool(c.DefaultQuery("include_closed", "false"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "include_closed must be a boolean"})
			return
		}
		bugs, err := s.engine.Bugs(c.Request.Context(), trend.BugQuery{Label: label(c), IncludeClosed: includeClosed})
		if err != nil {
			s.writeError(c, err)
			return
		}
		if bugs == nil {
			bugs = []trend.Bug{}
		}
		c.JSON(http.StatusOK, bugs)
	}
}

func (s *Server) handleForecast(label func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		f, err := s.engine.Forecast(c.Request.Context(), label(c))
		if err != nil {
			s.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, f)
	}
}

func (s *Server) handleSnapshot(c *gin.Context) {
	res, err := s.engine.Capture(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stored": res.SnapshotID != 0, "result": res})
}

func (s *Server) handleBackfill(c *gin.Context) {
	if c.Query("confirm") != "true" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "backfill replaces every stored snapshot; pass confirm=true"})
		return
	}
	lookback, err := positiveInt(c, "lookback_days", s.backfill.LookbackDays)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cadence, err := positiveInt(c, "cadence_days", s.backfill.CadenceDays)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if s.fetcher == nil {
		s.writeError(c, fmt.Errorf("%w: tracker client not configured", config.ErrMissingTracker))
		return
	}

	ctx := c.Request.Context()
	raws, err := s.fetcher.FetchIssues(ctx, s.historyJQL)
	if err != nil {
		s.writeError(c, err)
		return
	}
	n, err := s.engine.ReconstructHistory(ctx, raws, lookback, cadence)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"snapshots": n, "issues": len(raws), "lookback_days": lookback, "cadence_days": cadence})
}

// handleReport streams report progress as server-sent events. The stream
// ends with a "complete" event carrying the report, or an "error" event.
func (s *Server) handleReport(c *gin.Context) {
	if s.reports == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "report generation not configured"})
		return
	}
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	rep, err := s.reports.Generate(c.Request.Context(), func(p report.Progress) {
		c.SSEvent("progress", p)
		c.Writer.Flush()
	})
	if err != nil {
		if c.Request.Context().Err() != nil {
			s.log.Info().Msg("report stream closed by client")
			return
		}
		s.log.Error().Err(err).Msg("report generation failed")
		c.SSEvent("error", gin.H{"error": err.Error()})
		c.Writer.Flush()
		return
	}
	c.SSEvent("complete", rep)
	c.Writer.Flush()
}

func positiveInt(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer", key)
	}
	return v, nil
}

func (s *Server) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, config.ErrMissingTracker):
		status = http.StatusBadRequest
	case errors.Is(err, backfill.ErrNoIssues):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, tracker.ErrUpstream):
		status = http.StatusBadGateway
	}
	if status == http.StatusInternalServerError {
		s.log.Error().Err(err).Str("p", c.FullPath()).Msg("request failed")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

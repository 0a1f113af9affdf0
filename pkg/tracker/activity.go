package tracker

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/elonfeng/bugradar/internal/config"
	"github.com/mmcdole/gofeed"
)

var issueKeyPattern = regexp.MustCompile(`\b[A-Z][A-Z0-9_]+-\d+\b`)

// ActivityFeed reads the tracker's Atom activity stream.
type ActivityFeed struct {
	client     *http.Client
	parser     *gofeed.Parser
	baseURL    string
	email      string
	token      string
	maxResults int
}

// NewActivityFeed creates a feed reader for the configured tracker.
func NewActivityFeed(cfg config.TrackerConfig) *ActivityFeed {
	return &ActivityFeed{
		client:     &http.Client{Timeout: cfg.ParseTimeout()},
		parser:     gofeed.NewParser(),
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		email:      cfg.Email,
		token:      cfg.APIToken,
		maxResults: 100,
	}
}

// RecentKeys returns the latest activity time per issue key for entries newer than since.
func (f *ActivityFeed) RecentKeys(ctx context.Context, since time.Time) (map[string]time.Time, error) {
	if f.baseURL == "" {
		return nil, fmt.Errorf("%w: base_url", config.ErrMissingTracker)
	}

	reqURL := f.baseURL + "/activity?maxResults=" + strconv.Itoa(f.maxResults)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create activity request: %w", err)
	}
	req.Header.Set("User-Agent", "bugradar/1.0")
	if f.token != "" {
		mode := "basic"
		if f.email == "" {
			mode = "bearer"
		}
		authorize(req, mode, f.email, f.token)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch activity: %w", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: activity status %d", ErrUpstream, resp.StatusCode)
	}

	parsed, err := f.parser.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse activity feed: %w", err)
	}

	recent := make(map[string]time.Time)
	for _, entry := range parsed.Items {
		var at time.Time
		if entry.UpdatedParsed != nil {
			at = entry.UpdatedParsed.UTC()
		} else if entry.PublishedParsed != nil {
			at = entry.PublishedParsed.UTC()
		} else {
			continue
		}
		if at.Before(since) {
			continue
		}

		text := entry.Title + " " + entry.Link
		for _, key := range issueKeyPattern.FindAllString(text, -1) {
			if prev, ok := recent[key]; !ok || at.After(prev) {
				recent[key] = at
			}
		}
	}

	return recent, nil
}

package tracker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/elonfeng/bugradar/internal/config"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// ErrUpstream is returned when the tracker answers with a non-success status.
var ErrUpstream = errors.New("tracker upstream error")

const (
	pageSize   = 100
	searchPath = "/rest/api/2/search"
)

// searchFields is the field list requested for every issue.
var searchFields = []string{
	"summary", "status", "assignee", "created", "priority", "resolutiondate",
	"issuetype", "reporter", "updated", "labels", "components", "comment",
}

// Client fetches issues from the Jira REST search API.
type Client struct {
	client     *http.Client
	baseURL    string
	email      string
	token      string
	auth       string
	maxResults int
	log        zerolog.Logger
}

// NewClient creates a tracker client from configuration.
func NewClient(cfg config.TrackerConfig, log zerolog.Logger) *Client {
	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = 1000
	}
	auth := strings.ToLower(cfg.Auth)
	if auth == "" {
		auth = "auto"
	}
	return &Client{
		client:     &http.Client{Timeout: cfg.ParseTimeout()},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		email:      cfg.Email,
		token:      cfg.APIToken,
		auth:       auth,
		maxResults: maxResults,
		log:        log.With().Str("component", "tracker").Logger(),
	}
}

// BaseURL returns the tracker root used for browse links.
func (c *Client) BaseURL() string { return c.baseURL }

// FetchIssues runs jql and returns up to maxResults issues, paging by 100.
// In auto mode a 401 on the first request switches to bearer auth.
func (c *Client) FetchIssues(ctx context.Context, jql string) ([]RawIssue, error) {
	if err := c.check(jql); err != nil {
		return nil, err
	}

	mode := c.auth
	if mode == "auto" {
		mode = "basic"
		if c.email == "" {
			mode = "bearer"
		}
	}

	var (
		issues  []RawIssue
		startAt int
	)
	for startAt < c.maxResults {
		limit := min(pageSize, c.maxResults-startAt)

		page, status, err := c.search(ctx, jql, startAt, limit, mode)
		if err != nil {
			return nil, err
		}
		if status == http.StatusUnauthorized && c.auth == "auto" && mode == "basic" && startAt == 0 {
			c.log.Info().Msg("basic auth rejected, retrying with bearer token")
			mode = "bearer"
			continue
		}
		if status != http.StatusOK {
			return nil, fmt.Errorf("%w: search status %d", ErrUpstream, status)
		}

		issues = append(issues, page.Issues...)
		c.log.Debug().Int("start_at", startAt).Int("fetched", len(issues)).Int("total", page.Total).Msg("fetched page")

		if len(page.Issues) == 0 {
			break
		}
		startAt += len(page.Issues)
		if startAt >= page.Total {
			break
		}
	}

	return issues, nil
}

func (c *Client) check(jql string) error {
	var missing []string
	if c.baseURL == "" {
		missing = append(missing, "base_url")
	}
	if c.token == "" {
		missing = append(missing, "api_token")
	}
	if c.auth == "basic" && c.email == "" {
		missing = append(missing, "email")
	}
	if strings.TrimSpace(jql) == "" {
		missing = append(missing, "jql")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", config.ErrMissingTracker, strings.Join(missing, ", "))
	}
	return nil
}

// search performs one page request. A non-200 status is returned, not treated as an error.
func (c *Client) search(ctx context.Context, jql string, startAt, limit int, mode string) (*searchPage, int, error) {
	params := url.Values{}
	params.Set("jql", jql)
	params.Set("startAt", strconv.Itoa(startAt))
	params.Set("maxResults", strconv.Itoa(limit))
	params.Set("fields", strings.Join(searchFields, ","))

	reqURL := c.baseURL + searchPath + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("create search request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	authorize(req, mode, c.email, c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: fetch issues: %w", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, nil
	}

	var page searchPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, 0, fmt.Errorf("%w: decode search response: %w", ErrUpstream, err)
	}
	return &page, resp.StatusCode, nil
}

func authorize(req *http.Request, mode, email, token string) {
	if mode == "bearer" {
		req.Header.Set("Authorization", "Bearer "+token)
		return
	}
	req.SetBasicAuth(email, token)
}

type searchPage struct {
	StartAt    int        `json:"startAt"`
	MaxResults int        `json:"maxResults"`
	Total      int        `json:"total"`
	Issues     []RawIssue `json:"issues"`
}

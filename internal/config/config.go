package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrMissingTracker is returned when the tracker connection parameters are incomplete.
var ErrMissingTracker = errors.New("missing tracker configuration")

// Config is the root configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Tracker  TrackerConfig  `yaml:"tracker"`
	LLM      LLMConfig      `yaml:"llm"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Backfill BackfillConfig `yaml:"backfill"`
	Gate     GateConfig     `yaml:"gate"`
	Alerts   AlertsConfig   `yaml:"alerts"`
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
}

// DatabaseConfig configures the snapshot store.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "postgres"
	Path   string `yaml:"path"`   // sqlite file
	DSN    string `yaml:"dsn"`    // postgres connection string
}

// TrackerConfig configures the Jira connection.
type TrackerConfig struct {
	BaseURL    string `yaml:"base_url"`
	Email      string `yaml:"email"`
	APIToken   string `yaml:"api_token"`
	Auth       string `yaml:"auth"` // "basic", "bearer" or "auto"
	JQL        string `yaml:"jql"`
	HistoryJQL string `yaml:"history_jql"` // full-history query for backfill (optional)
	ReportJQL  string `yaml:"report_jql"`  // open-issue query for the weekly report (optional)
	MaxResults int    `yaml:"max_results"`
	Timeout    string `yaml:"timeout"`
}

// ParseTimeout returns the HTTP timeout as time.Duration.
func (t TrackerConfig) ParseTimeout() time.Duration {
	d, err := time.ParseDuration(t.Timeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// Validate reports the connection parameters that are missing.
func (t TrackerConfig) Validate() error {
	var missing []string
	if t.BaseURL == "" {
		missing = append(missing, "base_url")
	}
	if t.APIToken == "" {
		missing = append(missing, "api_token")
	}
	if t.JQL == "" {
		missing = append(missing, "jql")
	}
	if t.Auth != "bearer" && t.Email == "" {
		missing = append(missing, "email")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingTracker, strings.Join(missing, ", "))
	}
	return nil
}

// EffectiveHistoryJQL returns the query used for full-history backfill.
// Without an explicit history query it keeps only the leading clause of the
// main query (usually the project restriction) so closed issues are included.
func (t TrackerConfig) EffectiveHistoryJQL() string {
	if t.HistoryJQL != "" {
		return t.HistoryJQL
	}
	upper := strings.ToUpper(t.JQL)
	if idx := strings.Index(upper, " AND "); idx >= 0 {
		return strings.TrimSpace(t.JQL[:idx])
	}
	return strings.TrimSpace(t.JQL)
}

// LLMConfig configures the comment summarizer.
type LLMConfig struct {
	Provider string `yaml:"provider"` // "openai", "anthropic" or "ollama"
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
	Timeout  string `yaml:"timeout"`
}

// ParseTimeout returns the LLM request timeout as time.Duration.
func (l LLMConfig) ParseTimeout() time.Duration {
	d, err := time.ParseDuration(l.Timeout)
	if err != nil || d <= 0 {
		return 60 * time.Second
	}
	return d
}

// ScheduleConfig configures periodic snapshot capture.
type ScheduleConfig struct {
	SnapshotCron string `yaml:"snapshot_cron"`
	Timezone     string `yaml:"timezone"`
	RunOnStart   bool   `yaml:"run_on_start"`
	DigestLabel  string `yaml:"digest_label"` // optional label scope for the digest
}

// Location resolves the schedule timezone, falling back to UTC.
func (s ScheduleConfig) Location() *time.Location {
	if s.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// BackfillConfig configures history reconstruction.
type BackfillConfig struct {
	LookbackDays int `yaml:"lookback_days"`
	CadenceDays  int `yaml:"cadence_days"`
}

// GateConfig scopes the gate dashboard to one label.
type GateConfig struct {
	Label string `yaml:"label"`
}

// AlertsConfig configures digest destinations.
type AlertsConfig struct {
	Slack   SlackConfig   `yaml:"slack"`
	Discord DiscordConfig `yaml:"discord"`
	Webhook WebhookConfig `yaml:"webhook"`
}

// SlackConfig for Slack webhook alerts.
type SlackConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// DiscordConfig for Discord webhook alerts.
type DiscordConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// WebhookConfig for generic webhook alerts.
type WebhookConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Secret  string `yaml:"secret"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int    `yaml:"port"`
	Mode string `yaml:"mode"` // gin mode: "release" or "debug"
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "console" or "json"
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Driver: "sqlite", Path: "./dashboard.db"},
		Tracker: TrackerConfig{
			Auth:       "auto",
			MaxResults: 1000,
			Timeout:    "30s",
		},
		LLM: LLMConfig{
			Provider: "openai",
			Model:    "gpt-4o-mini",
			Timeout:  "60s",
		},
		Schedule: ScheduleConfig{
			SnapshotCron: "0 6 * * *",
			Timezone:     "UTC",
		},
		Backfill: BackfillConfig{LookbackDays: 180, CadenceDays: 7},
		Gate:     GateConfig{Label: "OS_FCS"},
		Server:   ServerConfig{Port: 8000, Mode: "release"},
		Log:      LogConfig{Level: "info", Format: "console"},
	}
}

// Load reads configuration from a YAML file and applies env var overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides overrides config values with environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BUGRADAR_DB_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("BUGRADAR_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("BUGRADAR_DB_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("JIRA_URL"); v != "" {
		cfg.Tracker.BaseURL = strings.TrimRight(v, "/")
	}
	if v := os.Getenv("JIRA_USER_EMAIL"); v != "" {
		cfg.Tracker.Email = v
	}
	if v := os.Getenv("JIRA_API_TOKEN"); v != "" {
		cfg.Tracker.APIToken = v
	}
	if v := os.Getenv("JIRA_JQL_QUERY"); v != "" {
		cfg.Tracker.JQL = v
	}
	if v := os.Getenv("JIRA_AUTH"); v != "" {
		cfg.Tracker.Auth = strings.ToLower(v)
	}
	if v := os.Getenv("LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = strings.ToLower(v)
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && cfg.LLM.Provider == "openai" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" && cfg.LLM.Provider == "anthropic" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("SLACK_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Slack.WebhookURL = v
		cfg.Alerts.Slack.Enabled = true
	}
	if v := os.Getenv("DISCORD_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Discord.WebhookURL = v
		cfg.Alerts.Discord.Enabled = true
	}
	if v := os.Getenv("BUGRADAR_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

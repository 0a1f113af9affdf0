package alert

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/elonfeng/bugradar/internal/config"
	"github.com/elonfeng/bugradar/pkg/trend"
)

// maxListed caps the number of bugs listed in a digest.
const maxListed = 5

// Notification is the backlog digest sent to alert destinations.
type Notification struct {
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Label    string            `json:"label,omitempty"`
	Date     string            `json:"date"`
	Open     int               `json:"open"`
	Critical int               `json:"critical"`
	New      int               `json:"new"`
	Fixed    int               `json:"fixed"`
	Forecast *trend.Projection `json:"forecast,omitempty"`
	TopBugs  []trend.Bug       `json:"top_bugs,omitempty"`
}

// Digest builds a notification from the latest trend point, the forecast
// and the sorted open-bug listing. It returns nil when there is no history.
func Digest(label string, points []trend.Point, forecast *trend.Projection, bugs []trend.Bug) *Notification {
	if len(points) == 0 {
		return nil
	}
	last := points[len(points)-1]

	title := "Bug backlog digest"
	if label != "" {
		title += " [" + label + "]"
	}

	n := &Notification{
		Title:    title,
		Label:    label,
		Date:     last.Date,
		Open:     last.Open,
		Critical: last.Critical,
		New:      last.New,
		Fixed:    last.Fixed,
		Forecast: forecast,
	}
	if len(bugs) > maxListed {
		bugs = bugs[:maxListed]
	}
	n.TopBugs = bugs
	n.Body = n.forecastLine()
	return n
}

func (n *Notification) forecastLine() string {
	p := n.Forecast
	switch {
	case p == nil:
		return "No forecast available."
	case p.Converging:
		return fmt.Sprintf("Backlog shrinking by %.1f per day; projected to reach zero in %.0f days (linear projection).", -p.AvgNetChange, p.DaysToZero)
	default:
		return fmt.Sprintf("Backlog not converging: growing by %.1f per day.", p.GrowthRate)
	}
}

// summaryLine renders the headline counts.
func (n *Notification) summaryLine() string {
	return fmt.Sprintf("Open: %d | Critical: %d | New: %d | Fixed: %d (week ending %s)",
		n.Open, n.Critical, n.New, n.Fixed, n.Date)
}

// bugLines renders the listed bugs with a per-destination formatter.
func (n *Notification) bugLines(format func(trend.Bug) string) string {
	lines := make([]string, 0, len(n.TopBugs))
	for _, b := range n.TopBugs {
		lines = append(lines, format(b))
	}
	return strings.Join(lines, "\n")
}

// Notifier delivers alerts to a specific destination.
type Notifier interface {
	Name() string
	Send(ctx context.Context, n *Notification) error
}

// Manager broadcasts notifications to all registered notifiers.
type Manager struct {
	notifiers []Notifier
}

// NewManager creates a new alert manager.
func NewManager(notifiers []Notifier) *Manager {
	return &Manager{notifiers: notifiers}
}

// FromConfig registers every enabled destination.
func FromConfig(cfg config.AlertsConfig) *Manager {
	var notifiers []Notifier
	if cfg.Slack.Enabled && cfg.Slack.WebhookURL != "" {
		notifiers = append(notifiers, NewSlack(cfg.Slack.WebhookURL))
	}
	if cfg.Discord.Enabled && cfg.Discord.WebhookURL != "" {
		notifiers = append(notifiers, NewDiscord(cfg.Discord.WebhookURL))
	}
	if cfg.Webhook.Enabled && cfg.Webhook.URL != "" {
		notifiers = append(notifiers, NewWebhook(cfg.Webhook.URL, cfg.Webhook.Secret))
	}
	return NewManager(notifiers)
}

// HasNotifiers returns true if at least one notifier is configured.
func (m *Manager) HasNotifiers() bool {
	return len(m.notifiers) > 0
}

// Broadcast sends a notification to all registered notifiers.
func (m *Manager) Broadcast(ctx context.Context, n *Notification) error {
	var errs []error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", notifier.Name(), err))
		}
	}
	return errors.Join(errs...)
}

package alert

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/elonfeng/bugradar/pkg/trend"
	"github.com/goccy/go-json"
)

// Discord sends notifications via Discord webhook.
type Discord struct {
	client     *http.Client
	webhookURL string
}

// NewDiscord creates a new Discord notifier.
func NewDiscord(webhookURL string) *Discord {
	return &Discord{
		client:     &http.Client{Timeout: 10 * time.Second},
		webhookURL: webhookURL,
	}
}

func (d *Discord) Name() string { return "discord" }

func (d *Discord) Send(ctx context.Context, n *Notification) error {
	links := n.bugLines(func(b trend.Bug) string {
		if b.Link == "" {
			return fmt.Sprintf("• %s [%s] %s", b.Key, b.Priority, b.Summary)
		}
		return fmt.Sprintf("• [%s](%s) [%s] %s", b.Key, b.Link, b.Priority, b.Summary)
	})

	// Red while critical bugs are open, green otherwise.
	color := 0x2ECC71
	if n.Critical > 0 {
		color = 0xE74C3C
	}

	embed := map[string]any{
		"title":       n.Title,
		"description": fmt.Sprintf("**%s**\n\n%s\n\n%s", n.summaryLine(), n.Body, links),
		"color":       color,
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
	}

	payload := map[string]any{
		"embeds": []map[string]any{embed},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal discord payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create discord request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("send discord webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("discord webhook status %d", resp.StatusCode)
	}

	return nil
}

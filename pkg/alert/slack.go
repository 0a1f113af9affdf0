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

// Slack sends notifications via Slack incoming webhook.
type Slack struct {
	client     *http.Client
	webhookURL string
}

// NewSlack creates a new Slack notifier.
func NewSlack(webhookURL string) *Slack {
	return &Slack{
		client:     &http.Client{Timeout: 10 * time.Second},
		webhookURL: webhookURL,
	}
}

func (s *Slack) Name() string { return "slack" }

func (s *Slack) Send(ctx context.Context, n *Notification) error {
	// Build Slack Block Kit message.
	blocks := []map[string]any{
		{
			"type": "header",
			"text": map[string]any{
				"type": "plain_text",
				"text": n.Title,
			},
		},
		{
			"type": "section",
			"text": map[string]any{
				"type": "mrkdwn",
				"text": fmt.Sprintf("*%s*\n%s", n.summaryLine(), n.Body),
			},
		},
	}

	if len(n.TopBugs) > 0 {
		blocks = append(blocks, map[string]any{
			"type": "context",
			"elements": []map[string]any{{
				"type": "mrkdwn",
				"text": n.bugLines(func(b trend.Bug) string {
					if b.Link == "" {
						return fmt.Sprintf("%s [%s] %s", b.Key, b.Priority, b.Summary)
					}
					return fmt.Sprintf("<%s|%s> [%s] %s", b.Link, b.Key, b.Priority, b.Summary)
				}),
			}},
		})
	}

	payload := map[string]any{"blocks": blocks}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send slack webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack webhook status %d", resp.StatusCode)
	}

	return nil
}

package summary

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/elonfeng/bugradar/internal/config"
	"github.com/goccy/go-json"
)

type anthropicBackend struct {
	client  *http.Client
	model   string
	apiKey  string
	baseURL string
}

func newAnthropic(cfg config.LLMConfig) *anthropicBackend {
	model := cfg.Model
	if model == "" || strings.HasPrefix(model, "gpt-") {
		model = "claude-sonnet-4-20250514"
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	return &anthropicBackend{
		client:  &http.Client{Timeout: cfg.ParseTimeout()},
		model:   model,
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
	}
}

func (a *anthropicBackend) complete(ctx context.Context, system, prompt string) (string, error) {
	payload := map[string]any{
		"model":      a.model,
		"max_tokens": 300,
		"system":     system,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode anthropic request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create anthropic request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call anthropic: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("anthropic status %d", resp.StatusCode)
	}

	var result struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode anthropic response: %w", err)
	}
	if len(result.Content) == 0 {
		return "", fmt.Errorf("anthropic: no content returned")
	}
	return result.Content[0].Text, nil
}

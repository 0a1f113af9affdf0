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

type ollamaBackend struct {
	client  *http.Client
	model   string
	baseURL string
}

func newOllama(cfg config.LLMConfig) *ollamaBackend {
	model := cfg.Model
	if model == "" || strings.HasPrefix(model, "gpt-") {
		model = "llama3"
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &ollamaBackend{
		client:  &http.Client{Timeout: cfg.ParseTimeout()},
		model:   model,
		baseURL: baseURL,
	}
}

// complete calls /api/generate without streaming. Ollama has no separate
// system slot on this endpoint, so the system text leads the prompt.
func (o *ollamaBackend) complete(ctx context.Context, system, prompt string) (string, error) {
	body, err := json.Marshal(map[string]any{
		"model":  o.model,
		"prompt": system + "\n\n" + prompt,
		"stream": false,
	})
	if err != nil {
		return "", fmt.Errorf("encode ollama request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call ollama: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ollama request failed with status %d", resp.StatusCode)
	}

	var result struct {
		Response string `json:"response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode ollama response: %w", err)
	}
	return result.Response, nil
}

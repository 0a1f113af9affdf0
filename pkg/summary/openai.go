package summary

import (
	"context"
	"errors"
	"net/http"

	"github.com/elonfeng/bugradar/internal/config"
	openai "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"
)

type openAIBackend struct {
	cli   openai.Client
	model string
}

func newOpenAI(cfg config.LLMConfig) *openAIBackend {
	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(&http.Client{Timeout: cfg.ParseTimeout()}),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &openAIBackend{cli: openai.NewClient(opts...), model: model}
}

func (o *openAIBackend) complete(ctx context.Context, system, prompt string) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(o.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(prompt),
		},
		MaxTokens:   openai.Int(200),
		Temperature: openai.Float(0.3),
	}
	resp, err := o.cli.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// Package summary condenses issue comment threads with an LLM.
//
// Summarization is best-effort: failures never surface as errors, they are
// embedded in the returned text as an "[Error: ...]" marker so one broken
// call cannot abort a report.
package summary

import (
	"context"
	"fmt"
	"strings"

	"github.com/elonfeng/bugradar/internal/config"
	"github.com/elonfeng/bugradar/pkg/tracker"
	"github.com/rs/zerolog"
)

// NoComments is returned for issues without comments.
const NoComments = "No comments available for summary."

const systemPrompt = "You are a professional project manager summarizing technical issue progress."

const userPrompt = `Summarize the current progress and key discussion points for the following Jira issue based on its comments.
Issue: %s - %s

Comments:
%s

Provide a concise summary (max 2-3 sentences) focusing on the latest status and any blockers.
Format: Bullet points or a short paragraph.`

// Summarizer turns a comment thread into a short status text.
type Summarizer interface {
	Summarize(ctx context.Context, key, summary string, comments []tracker.Comment) string
}

// completer is one LLM backend.
type completer interface {
	complete(ctx context.Context, system, prompt string) (string, error)
}

// LLM summarizes through the configured provider.
type LLM struct {
	provider string
	backend  completer
	// returned instead of calling the backend when it cannot be built
	unavailable string
	log         zerolog.Logger
}

// New creates a summarizer for cfg.Provider ("openai", "anthropic" or "ollama").
func New(cfg config.LLMConfig, log zerolog.Logger) *LLM {
	l := &LLM{
		provider: strings.ToLower(cfg.Provider),
		log:      log.With().Str("component", "summary").Logger(),
	}

	switch l.provider {
	case "", "openai":
		l.provider = "openai"
		if strings.TrimSpace(cfg.APIKey) == "" {
			l.unavailable = Marker("OPENAI_API_KEY not configured")
			break
		}
		l.backend = newOpenAI(cfg)
	case "anthropic":
		if strings.TrimSpace(cfg.APIKey) == "" {
			l.unavailable = Marker("ANTHROPIC_API_KEY not configured")
			break
		}
		l.backend = newAnthropic(cfg)
	case "ollama":
		l.backend = newOllama(cfg)
	default:
		l.unavailable = Marker("Unsupported LLM provider")
	}
	return l
}

// Provider returns the normalized provider name.
func (l *LLM) Provider() string { return l.provider }

// Summarize returns a short summary of comments, NoComments, or an error marker.
func (l *LLM) Summarize(ctx context.Context, key, summary string, comments []tracker.Comment) string {
	if len(comments) == 0 {
		return NoComments
	}
	if l.backend == nil {
		return l.unavailable
	}

	text, err := l.backend.complete(ctx, systemPrompt, Prompt(key, summary, comments))
	if err != nil {
		l.log.Warn().Err(err).Str("issue", key).Msg("summarization failed")
		return Marker("LLM summarization failed: " + err.Error())
	}
	return strings.TrimSpace(text)
}

// Prompt renders the user prompt for one issue.
func Prompt(key, summary string, comments []tracker.Comment) string {
	lines := make([]string, len(comments))
	for i, c := range comments {
		lines[i] = fmt.Sprintf("- %s: %s", c.AuthorName(), c.Body)
	}
	return fmt.Sprintf(userPrompt, key, summary, strings.Join(lines, "\n"))
}

// Marker formats an inline error marker.
func Marker(msg string) string {
	return "[Error: " + msg + "]"
}

// IsMarker reports whether text is an error marker rather than a summary.
func IsMarker(text string) bool {
	return strings.HasPrefix(text, "[Error: ")
}

package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/webpilot-ai/webpilot/pkg/models"
	"github.com/webpilot-ai/webpilot/pkg/store"
)

// summaryTimeout bounds the post-completion summary call.
const summaryTimeout = 30 * time.Second

// Summarizer generates a short title and summary for a finished session.
// Strictly best effort: failures are logged and the session keeps its
// empty title.
type Summarizer struct {
	client *openai.Client
	model  string
}

// NewSummarizer builds a summarizer against an OpenAI-compatible API.
func NewSummarizer(apiKey, baseURL, model string) *Summarizer {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &Summarizer{client: openai.NewClientWithConfig(cfg), model: model}
}

const summaryPrompt = `Given a browser automation task and its outcome, respond with JSON only:
{"title": "short title, max 8 words", "summary": "one or two sentences describing what was done and the outcome"}`

// Summarize generates and persists the title and summary. Runs in its own
// goroutine after completion; uses a fresh context since the session's is
// gone.
func (s *Summarizer) Summarize(sessionID, task string, result *models.SessionResult, st store.SessionStore) {
	ctx, cancel := context.WithTimeout(context.Background(), summaryTimeout)
	defer cancel()

	outcome := "failed"
	if result.Success {
		outcome = "succeeded"
	}
	user := fmt.Sprintf("Task: %s\nOutcome: %s after %d steps (method: %s)",
		task, outcome, result.TotalSteps, result.Method)

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: summaryPrompt},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: 0,
	})
	if err != nil {
		slog.Warn("Summary generation failed", "session_id", sessionID, "error", err)
		return
	}
	if len(resp.Choices) == 0 {
		return
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var out struct {
		Title   string `json:"title"`
		Summary string `json:"summary"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &out); err != nil {
		slog.Warn("Summary output unparseable", "session_id", sessionID, "error", err)
		return
	}

	session, err := st.GetSession(ctx, sessionID)
	if err != nil {
		slog.Warn("Summary: session reload failed", "session_id", sessionID, "error", err)
		return
	}
	session.Title = out.Title
	session.Summary = out.Summary
	if err := st.UpdateSession(ctx, session); err != nil {
		slog.Warn("Summary persist failed", "session_id", sessionID, "error", err)
	}
}

package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const plannerSystemPrompt = `You are a browser automation agent. Each turn you receive the task, the step history, the visible page text, and optionally a numbered list of interactive elements with an annotated screenshot.

Respond with a single JSON object and nothing else:
{
  "evaluation_previous_goal": "one sentence judging the last step",
  "memory": "running notes you want to keep across steps",
  "next_goal": "what the next actions accomplish",
  "actions": [{"name": "<tool>", "args": {...}}]
}

Available tools:
- navigate {"url": "..."}
- click_selector {"selector": "..."}
- click_by_mark {"mark_id": 3}
- cdp_click {"x": 100, "y": 200}
- type_text {"text": "...", "selector": "..."} (selector optional, types at focus when omitted)
- press_key {"key": "Enter"}
- extract_text {"selector": "..."}
- read_page {}
- scroll {"delta_y": 600}
- done {"success": true, "result": "..."}

Rules:
- Use click_by_mark only when a numbered element list is present.
- Issue done exactly once, as the only action of its step, when the task is finished or impossible.
- Keep actions per step small: one or two related actions.`

// OpenAIPlanner implements Planner over an OpenAI-compatible chat API.
type OpenAIPlanner struct {
	client *openai.Client
	model  string
}

// NewOpenAIPlanner builds a planner for the given endpoint. baseURL is
// optional and overrides the default OpenAI endpoint, which is how
// DeepSeek and other compatible providers are reached.
func NewOpenAIPlanner(apiKey, baseURL, model string) *OpenAIPlanner {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIPlanner{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

func (p *OpenAIPlanner) Plan(ctx context.Context, req *PlanRequest) (*PlanResult, error) {
	userContent := buildPlannerTurn(req)

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: plannerSystemPrompt},
	}

	if req.AnnotatedScreenshot != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: userContent},
				{
					Type: openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{
						URL: "data:image/png;base64," + req.AnnotatedScreenshot,
					},
				},
			},
		})
	} else {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: userContent,
		})
	}

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    messages,
		Temperature: 0,
	})
	if err != nil {
		return nil, fmt.Errorf("planner: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("planner: empty completion")
	}

	result, err := parsePlanResult(resp.Choices[0].Message.Content)
	if err != nil {
		slog.Warn("Planner returned unparseable output", "error", err)
		return nil, err
	}
	return result, nil
}

func buildPlannerTurn(req *PlanRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\nStep: %d of %d\n", req.Task, req.Step, req.MaxSteps)
	if req.CurrentURL != "" {
		fmt.Fprintf(&b, "Current URL: %s\n", req.CurrentURL)
	}

	if len(req.History) > 0 {
		b.WriteString("\nHistory:\n")
		for _, h := range req.History {
			fmt.Fprintf(&b, "  %d. goal=%q result=%q eval=%q\n", h.Step, h.Goal, h.Result, h.Evaluation)
		}
	}

	for _, msg := range req.Interventions {
		fmt.Fprintf(&b, "\nUser instruction: %s\n", msg)
	}
	if req.RetryNote != "" {
		fmt.Fprintf(&b, "\nPrevious attempt failed: %s\nAdjust and try again.\n", req.RetryNote)
	}
	if req.MarksDescription != "" {
		fmt.Fprintf(&b, "\nInteractive elements:\n%s\n", req.MarksDescription)
	}
	if req.PageText != "" {
		fmt.Fprintf(&b, "\nPage content:\n%s\n", req.PageText)
	}
	return b.String()
}

// parsePlanResult decodes the model output, tolerating a markdown code
// fence around the JSON.
func parsePlanResult(content string) (*PlanResult, error) {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		if idx := strings.LastIndex(content, "```"); idx >= 0 {
			content = content[:idx]
		}
		content = strings.TrimSpace(content)
	}

	var result PlanResult
	if err := json.Unmarshal([]byte(content), &result); err != nil {
		return nil, fmt.Errorf("planner: decode plan: %w", err)
	}
	if len(result.Actions) == 0 {
		return nil, fmt.Errorf("planner: plan has no actions")
	}
	return &result, nil
}

package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/webpilot-ai/webpilot/pkg/browser"
	"github.com/webpilot-ai/webpilot/pkg/models"
	"github.com/webpilot-ai/webpilot/pkg/vision"
)

// ToolResult is the outcome of one executed tool call.
type ToolResult struct {
	// Content is the observation fed back to the planner.
	Content string
	// Cached is the replayable form of this action with resolved
	// coordinates, nil for actions that cannot be replayed.
	Cached *models.CachedAction
	// URL is the page URL after the action.
	URL string
	// Done and Success are set by the done tool.
	Done    bool
	Success bool
}

// Executor applies planner tool calls to a browser surface.
type Executor struct {
	surface *browser.Surface
	vision  *vision.Service
}

// NewExecutor creates an executor. vision may be nil when grounding is
// disabled; click_by_mark then fails with a planner-visible error.
func NewExecutor(surface *browser.Surface, visionSvc *vision.Service) *Executor {
	return &Executor{surface: surface, vision: visionSvc}
}

// Execute runs one tool call. An unknown tool or bad arguments return an
// error result, not a Go error; hard failures against the page return
// both.
func (e *Executor) Execute(ctx context.Context, call ToolCall) (*ToolResult, error) {
	res, err := e.execute(ctx, call)
	if err != nil {
		return &ToolResult{Content: fmt.Sprintf("Action %s failed: %v", call.Name, err)}, err
	}
	if res.URL == "" {
		if url, uerr := e.surface.CurrentURL(ctx); uerr == nil {
			res.URL = url
		}
	}
	return res, nil
}

func (e *Executor) execute(ctx context.Context, call ToolCall) (*ToolResult, error) {
	switch call.Name {
	case "navigate":
		var args struct {
			URL string `json:"url"`
		}
		if err := decodeArgs(call.Args, &args); err != nil {
			return nil, err
		}
		if err := e.surface.Navigate(ctx, args.URL); err != nil {
			return nil, err
		}
		return &ToolResult{Content: "Navigated to " + args.URL, URL: args.URL}, nil

	case "click_selector":
		var args struct {
			Selector string `json:"selector"`
		}
		if err := decodeArgs(call.Args, &args); err != nil {
			return nil, err
		}
		// Outline the element briefly so stream viewers can follow along.
		_ = e.surface.Highlight(ctx, args.Selector)
		pt, err := e.surface.ClickSelector(ctx, args.Selector)
		if err != nil {
			return nil, err
		}
		cached := models.ClickAction(pt.X, pt.Y, 1000)
		return &ToolResult{
			Content: fmt.Sprintf("Clicked %s at (%.0f, %.0f)", args.Selector, pt.X, pt.Y),
			Cached:  &cached,
		}, nil

	case "click_by_mark":
		var args struct {
			MarkID int `json:"mark_id"`
		}
		if err := decodeArgs(call.Args, &args); err != nil {
			return nil, err
		}
		if e.vision == nil {
			return nil, fmt.Errorf("vision grounding is not enabled for this session")
		}
		pt, err := e.vision.ClickCoordinates(args.MarkID)
		if err != nil {
			return nil, err
		}
		if err := e.surface.ClickAt(ctx, pt.X, pt.Y); err != nil {
			return nil, err
		}
		cached := models.ClickAction(pt.X, pt.Y, 1000)
		return &ToolResult{
			Content: fmt.Sprintf("Clicked mark [%d] at (%.0f, %.0f)", args.MarkID, pt.X, pt.Y),
			Cached:  &cached,
		}, nil

	case "cdp_click":
		var args struct {
			X float64 `json:"x"`
			Y float64 `json:"y"`
		}
		if err := decodeArgs(call.Args, &args); err != nil {
			return nil, err
		}
		if err := e.surface.ClickAt(ctx, args.X, args.Y); err != nil {
			return nil, err
		}
		cached := models.ClickAction(args.X, args.Y, 1000)
		return &ToolResult{
			Content: fmt.Sprintf("Clicked at (%.0f, %.0f)", args.X, args.Y),
			Cached:  &cached,
		}, nil

	case "type_text":
		var args struct {
			Text     string `json:"text"`
			Selector string `json:"selector"`
		}
		if err := decodeArgs(call.Args, &args); err != nil {
			return nil, err
		}
		if args.Selector != "" {
			if _, err := e.surface.TypeSelector(ctx, args.Selector, args.Text); err != nil {
				return nil, err
			}
		} else if err := e.surface.TypeText(ctx, args.Text); err != nil {
			return nil, err
		}
		cached := models.TypeTextAction(args.Text, 500)
		return &ToolResult{
			Content: fmt.Sprintf("Typed %q", args.Text),
			Cached:  &cached,
		}, nil

	case "press_key":
		var args struct {
			Key string `json:"key"`
		}
		if err := decodeArgs(call.Args, &args); err != nil {
			return nil, err
		}
		if err := e.surface.PressKey(ctx, args.Key); err != nil {
			return nil, err
		}
		cached := models.KeyPressAction(args.Key, 300)
		return &ToolResult{
			Content: "Pressed " + args.Key,
			Cached:  &cached,
		}, nil

	case "extract_text":
		var args struct {
			Selector string `json:"selector"`
		}
		if err := decodeArgs(call.Args, &args); err != nil {
			return nil, err
		}
		text, err := e.surface.ExtractText(ctx, args.Selector)
		if err != nil {
			return nil, err
		}
		return &ToolResult{Content: text}, nil

	case "read_page":
		text, err := e.surface.ReadPage(ctx, 0)
		if err != nil {
			return nil, err
		}
		return &ToolResult{Content: text}, nil

	case "scroll":
		var args struct {
			DeltaX float64 `json:"delta_x"`
			DeltaY float64 `json:"delta_y"`
		}
		if err := decodeArgs(call.Args, &args); err != nil {
			return nil, err
		}
		if args.DeltaX == 0 && args.DeltaY == 0 {
			args.DeltaY = 600
		}
		if err := e.surface.Scroll(ctx, args.DeltaX, args.DeltaY); err != nil {
			return nil, err
		}
		return &ToolResult{Content: fmt.Sprintf("Scrolled by (%.0f, %.0f)", args.DeltaX, args.DeltaY)}, nil

	case "done":
		var args struct {
			Success bool   `json:"success"`
			Result  string `json:"result"`
		}
		if err := decodeArgs(call.Args, &args); err != nil {
			return nil, err
		}
		return &ToolResult{Content: args.Result, Done: true, Success: args.Success}, nil

	default:
		return nil, fmt.Errorf("unknown tool %q", call.Name)
	}
}

func decodeArgs(raw json.RawMessage, out any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("bad arguments: %w", err)
	}
	return nil
}

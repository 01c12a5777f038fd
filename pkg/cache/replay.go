package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/webpilot-ai/webpilot/pkg/models"
)

// Dispatcher is the input surface the replayer drives. Satisfied by
// *cdp.Dispatcher.
type Dispatcher interface {
	Click(ctx context.Context, x, y float64, count int) error
	TypeText(ctx context.Context, text string) error
	KeyPress(ctx context.Context, key string) error
}

// Default post-action settle delays, overridden per action by WaitMs.
const (
	clickSettle = 500 * time.Millisecond
	typeSettle  = 100 * time.Millisecond
	keySettle   = 100 * time.Millisecond
)

// Replayer executes a cached plan verbatim against a page.
type Replayer struct {
	dispatcher Dispatcher
}

// NewReplayer creates a replayer over the given dispatcher.
func NewReplayer(d Dispatcher) *Replayer {
	return &Replayer{dispatcher: d}
}

// Replay runs each action in order, pausing after each one. The first
// failing action abandons the replay and returns the number of actions
// that completed; the caller falls back to a live agent run.
func (r *Replayer) Replay(ctx context.Context, actions []models.CachedAction) (int, error) {
	for i, action := range actions {
		if err := ctx.Err(); err != nil {
			return i, err
		}

		var err error
		settle := keySettle
		switch action.Type {
		case models.CachedClick:
			err = r.dispatcher.Click(ctx, action.X, action.Y, 1)
			settle = clickSettle
		case models.CachedTypeText:
			err = r.dispatcher.TypeText(ctx, action.Text)
			settle = typeSettle
		case models.CachedKeyPress:
			err = r.dispatcher.KeyPress(ctx, action.Key)
			settle = keySettle
		default:
			err = fmt.Errorf("unknown cached action type %q", action.Type)
		}
		if err != nil {
			slog.Warn("Replay abandoned", "step", i+1, "type", string(action.Type), "error", err)
			return i, fmt.Errorf("replay step %d (%s): %w", i+1, action.Type, err)
		}

		if action.WaitMs > 0 {
			settle = time.Duration(action.WaitMs) * time.Millisecond
		}
		select {
		case <-ctx.Done():
			return i + 1, ctx.Err()
		case <-time.After(settle):
		}
	}
	return len(actions), nil
}

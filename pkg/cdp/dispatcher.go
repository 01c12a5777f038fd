package cdp

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Dispatcher issues raw input events against one page connection. All
// coordinates are CSS pixels in the viewport. The same primitives serve
// both live agent actions and cached-plan replay.
type Dispatcher struct {
	client *Client
}

// NewDispatcher wraps a connected page client.
func NewDispatcher(client *Client) *Dispatcher {
	return &Dispatcher{client: client}
}

// Click moves the mouse to (x, y) and presses the left button count times.
// Each press is a full mousePressed/mouseReleased pair with clickCount set,
// so count=2 produces a double click.
func (d *Dispatcher) Click(ctx context.Context, x, y float64, count int) error {
	if count < 1 {
		count = 1
	}

	move := map[string]any{
		"type": "mouseMoved",
		"x":    x,
		"y":    y,
	}
	if _, err := d.client.Send(ctx, "Input.dispatchMouseEvent", move); err != nil {
		return fmt.Errorf("click move to (%.0f, %.0f): %w", x, y, err)
	}

	for i := 1; i <= count; i++ {
		press := map[string]any{
			"type":       "mousePressed",
			"x":          x,
			"y":          y,
			"button":     "left",
			"clickCount": i,
		}
		if _, err := d.client.Send(ctx, "Input.dispatchMouseEvent", press); err != nil {
			return fmt.Errorf("click press at (%.0f, %.0f): %w", x, y, err)
		}

		release := map[string]any{
			"type":       "mouseReleased",
			"x":          x,
			"y":          y,
			"button":     "left",
			"clickCount": i,
		}
		if _, err := d.client.Send(ctx, "Input.dispatchMouseEvent", release); err != nil {
			return fmt.Errorf("click release at (%.0f, %.0f): %w", x, y, err)
		}

		if i < count {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(50 * time.Millisecond):
			}
		}
	}
	return nil
}

// TypeText inserts text at the current focus as a single input event.
// The focused element must already be selected, normally by a prior Click.
func (d *Dispatcher) TypeText(ctx context.Context, text string) error {
	params := map[string]any{"text": text}
	if _, err := d.client.Send(ctx, "Input.insertText", params); err != nil {
		return fmt.Errorf("type text: %w", err)
	}
	return nil
}

// namedKey carries the fields Chrome needs to treat a key press as the
// real key rather than a text insertion.
type namedKey struct {
	key     string
	code    string
	keyCode int
	text    string
}

var namedKeys = map[string]namedKey{
	"enter":      {key: "Enter", code: "Enter", keyCode: 13, text: "\r"},
	"tab":        {key: "Tab", code: "Tab", keyCode: 9},
	"escape":     {key: "Escape", code: "Escape", keyCode: 27},
	"backspace":  {key: "Backspace", code: "Backspace", keyCode: 8},
	"delete":     {key: "Delete", code: "Delete", keyCode: 46},
	"arrowup":    {key: "ArrowUp", code: "ArrowUp", keyCode: 38},
	"arrowdown":  {key: "ArrowDown", code: "ArrowDown", keyCode: 40},
	"arrowleft":  {key: "ArrowLeft", code: "ArrowLeft", keyCode: 37},
	"arrowright": {key: "ArrowRight", code: "ArrowRight", keyCode: 39},
	"home":       {key: "Home", code: "Home", keyCode: 36},
	"end":        {key: "End", code: "End", keyCode: 35},
	"pageup":     {key: "PageUp", code: "PageUp", keyCode: 33},
	"pagedown":   {key: "PageDown", code: "PageDown", keyCode: 34},
	"space":      {key: " ", code: "Space", keyCode: 32, text: " "},
}

// KeyPress dispatches a keyDown/keyUp pair for a named key ("Enter",
// "Tab", "ArrowDown", ...). Single printable characters are sent as
// themselves.
func (d *Dispatcher) KeyPress(ctx context.Context, key string) error {
	nk, ok := namedKeys[strings.ToLower(key)]
	if !ok {
		if len([]rune(key)) != 1 {
			return fmt.Errorf("press key: unknown key %q", key)
		}
		nk = namedKey{key: key, text: key}
	}

	down := map[string]any{
		"type": "keyDown",
		"key":  nk.key,
	}
	if nk.code != "" {
		down["code"] = nk.code
	}
	if nk.keyCode != 0 {
		down["windowsVirtualKeyCode"] = nk.keyCode
		down["nativeVirtualKeyCode"] = nk.keyCode
	}
	if nk.text != "" {
		down["text"] = nk.text
		down["unmodifiedText"] = nk.text
	}
	if _, err := d.client.Send(ctx, "Input.dispatchKeyEvent", down); err != nil {
		return fmt.Errorf("press key %q down: %w", key, err)
	}

	up := map[string]any{
		"type": "keyUp",
		"key":  nk.key,
	}
	if nk.code != "" {
		up["code"] = nk.code
	}
	if nk.keyCode != 0 {
		up["windowsVirtualKeyCode"] = nk.keyCode
		up["nativeVirtualKeyCode"] = nk.keyCode
	}
	if _, err := d.client.Send(ctx, "Input.dispatchKeyEvent", up); err != nil {
		return fmt.Errorf("press key %q up: %w", key, err)
	}
	return nil
}

// Scroll dispatches a mouse wheel event at (x, y) with the given deltas.
// Positive deltaY scrolls down.
func (d *Dispatcher) Scroll(ctx context.Context, x, y, deltaX, deltaY float64) error {
	params := map[string]any{
		"type":   "mouseWheel",
		"x":      x,
		"y":      y,
		"deltaX": deltaX,
		"deltaY": deltaY,
	}
	if _, err := d.client.Send(ctx, "Input.dispatchMouseEvent", params); err != nil {
		return fmt.Errorf("scroll at (%.0f, %.0f): %w", x, y, err)
	}
	return nil
}

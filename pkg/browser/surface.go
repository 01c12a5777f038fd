package browser

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/webpilot-ai/webpilot/pkg/models"
)

// Surface is the high-level control surface over a Browser. Every method
// resolves to protocol commands against the active page; selector-based
// methods report the viewport coordinates they resolved to so callers can
// record them for replay.
type Surface struct {
	browser *Browser
}

// NewSurface wraps a browser connection.
func NewSurface(b *Browser) *Surface {
	return &Surface{browser: b}
}

// Browser returns the underlying connection.
func (s *Surface) Browser() *Browser { return s.browser }

// Navigate loads the URL in the active page and waits for the load state.
func (s *Surface) Navigate(ctx context.Context, url string) error {
	client, err := s.browser.Client(ctx)
	if err != nil {
		return err
	}
	if _, err := client.Send(ctx, "Page.navigate", map[string]any{"url": url}); err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	return s.WaitForLoadState(ctx, "load", 10*time.Second)
}

// evalResult is the Runtime.evaluate reply shape we care about.
type evalResult struct {
	Result struct {
		Type  string          `json:"type"`
		Value json.RawMessage `json:"value"`
	} `json:"result"`
	ExceptionDetails *struct {
		Text      string `json:"text"`
		Exception *struct {
			Description string `json:"description"`
		} `json:"exception"`
	} `json:"exceptionDetails"`
}

// Evaluate runs the expression in the page and unmarshals its JSON value
// into out. Pass nil out to discard the result.
func (s *Surface) Evaluate(ctx context.Context, expression string, out any) error {
	client, err := s.browser.Client(ctx)
	if err != nil {
		return err
	}
	raw, err := client.Send(ctx, "Runtime.evaluate", map[string]any{
		"expression":    expression,
		"returnByValue": true,
		"awaitPromise":  true,
	})
	if err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}

	var res evalResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return fmt.Errorf("evaluate: decode result: %w", err)
	}
	if res.ExceptionDetails != nil {
		msg := res.ExceptionDetails.Text
		if res.ExceptionDetails.Exception != nil && res.ExceptionDetails.Exception.Description != "" {
			msg = res.ExceptionDetails.Exception.Description
		}
		return fmt.Errorf("evaluate: page exception: %s", msg)
	}
	if out == nil || res.Result.Value == nil {
		return nil
	}
	return json.Unmarshal(res.Result.Value, out)
}

// CurrentURL returns the active page's location.
func (s *Surface) CurrentURL(ctx context.Context) (string, error) {
	var url string
	if err := s.Evaluate(ctx, "window.location.href", &url); err != nil {
		return "", err
	}
	return url, nil
}

// Title returns the active page's document title.
func (s *Surface) Title(ctx context.Context) (string, error) {
	var title string
	if err := s.Evaluate(ctx, "document.title", &title); err != nil {
		return "", err
	}
	return title, nil
}

// selectorCenter resolves a CSS selector to the center of its bounding
// rect, scrolling it into view first.
func (s *Surface) selectorCenter(ctx context.Context, selector string) (models.Point, error) {
	expr := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		if (!el) return null;
		el.scrollIntoView({block: "center", inline: "center"});
		const r = el.getBoundingClientRect();
		return {x: r.x + r.width / 2, y: r.y + r.height / 2};
	})()`, jsString(selector))

	var pt *models.Point
	if err := s.Evaluate(ctx, expr, &pt); err != nil {
		return models.Point{}, err
	}
	if pt == nil {
		return models.Point{}, fmt.Errorf("element not found: %s", selector)
	}
	return *pt, nil
}

// ClickSelector clicks the center of the first element matching the
// selector and returns the coordinates it clicked at.
func (s *Surface) ClickSelector(ctx context.Context, selector string) (models.Point, error) {
	pt, err := s.selectorCenter(ctx, selector)
	if err != nil {
		return models.Point{}, err
	}
	d, err := s.browser.Dispatcher(ctx)
	if err != nil {
		return models.Point{}, err
	}
	if err := d.Click(ctx, pt.X, pt.Y, 1); err != nil {
		return models.Point{}, err
	}
	return pt, nil
}

// ClickAt clicks arbitrary viewport coordinates.
func (s *Surface) ClickAt(ctx context.Context, x, y float64) error {
	d, err := s.browser.Dispatcher(ctx)
	if err != nil {
		return err
	}
	return d.Click(ctx, x, y, 1)
}

// TypeSelector clicks the element to focus it, then inserts the text.
// Returns the click coordinates for replay recording.
func (s *Surface) TypeSelector(ctx context.Context, selector, text string) (models.Point, error) {
	pt, err := s.ClickSelector(ctx, selector)
	if err != nil {
		return models.Point{}, err
	}
	d, err := s.browser.Dispatcher(ctx)
	if err != nil {
		return models.Point{}, err
	}
	if err := d.TypeText(ctx, text); err != nil {
		return models.Point{}, err
	}
	return pt, nil
}

// TypeText inserts text at the current focus without changing it.
func (s *Surface) TypeText(ctx context.Context, text string) error {
	d, err := s.browser.Dispatcher(ctx)
	if err != nil {
		return err
	}
	return d.TypeText(ctx, text)
}

// PressKey dispatches a named key press at the current focus.
func (s *Surface) PressKey(ctx context.Context, key string) error {
	d, err := s.browser.Dispatcher(ctx)
	if err != nil {
		return err
	}
	return d.KeyPress(ctx, key)
}

// Scroll scrolls the viewport by the given deltas at its center.
func (s *Surface) Scroll(ctx context.Context, deltaX, deltaY float64) error {
	d, err := s.browser.Dispatcher(ctx)
	if err != nil {
		return err
	}
	return d.Scroll(ctx, 640, 360, deltaX, deltaY)
}

// ExtractText returns the text content of elements matching the selector,
// joined by newlines. An empty selector extracts the whole body.
func (s *Surface) ExtractText(ctx context.Context, selector string) (string, error) {
	if selector == "" {
		selector = "body"
	}
	expr := fmt.Sprintf(`(() => {
		const els = document.querySelectorAll(%s);
		return Array.from(els).map(el => el.innerText).join("\n");
	})()`, jsString(selector))

	var text string
	if err := s.Evaluate(ctx, expr, &text); err != nil {
		return "", err
	}
	return text, nil
}

// ReadPage returns a structured text rendering of the page along with
// its URL and title, capped at maxChars. The text is the accessibility
// tree flattened to "role name" lines; when the tree is unavailable or
// empty it falls back to the raw body text.
func (s *Surface) ReadPage(ctx context.Context, maxChars int) (string, error) {
	if maxChars <= 0 {
		maxChars = 8000
	}
	text, err := s.accessibilityText(ctx)
	if err != nil || text == "" {
		text, err = s.ExtractText(ctx, "body")
		if err != nil {
			return "", err
		}
	}
	url, _ := s.CurrentURL(ctx)
	title, _ := s.Title(ctx)

	text = strings.TrimSpace(text)
	if len(text) > maxChars {
		text = text[:maxChars] + "\n[truncated]"
	}
	return fmt.Sprintf("URL: %s\nTitle: %s\n\n%s", url, title, text), nil
}

// Screenshot captures the viewport as PNG bytes.
func (s *Surface) Screenshot(ctx context.Context) ([]byte, error) {
	return s.screenshot(ctx, "png", 0)
}

// ScreenshotJPEG captures the viewport as JPEG bytes at the given quality.
func (s *Surface) ScreenshotJPEG(ctx context.Context, quality int) ([]byte, error) {
	return s.screenshot(ctx, "jpeg", quality)
}

func (s *Surface) screenshot(ctx context.Context, format string, quality int) ([]byte, error) {
	client, err := s.browser.Client(ctx)
	if err != nil {
		return nil, err
	}
	params := map[string]any{"format": format}
	if format == "jpeg" && quality > 0 {
		params["quality"] = quality
	}
	raw, err := client.Send(ctx, "Page.captureScreenshot", params)
	if err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}
	var res struct {
		Data string `json:"data"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("screenshot: decode: %w", err)
	}
	data, err := base64.StdEncoding.DecodeString(res.Data)
	if err != nil {
		return nil, fmt.Errorf("screenshot: base64: %w", err)
	}
	return data, nil
}

// Highlight flashes an outline around the element matching the selector.
// Best effort; a missing element is not an error.
func (s *Surface) Highlight(ctx context.Context, selector string) error {
	expr := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		if (!el) return false;
		const prev = el.style.outline;
		el.style.outline = "3px solid #ff5722";
		setTimeout(() => { el.style.outline = prev; }, 1500);
		return true;
	})()`, jsString(selector))
	return s.Evaluate(ctx, expr, nil)
}

// WaitForLoadState polls document.readyState until it reaches the wanted
// state or the timeout elapses. state is "load" (readyState complete) or
// "domcontentloaded" (interactive or complete). "networkidle" waits for
// complete plus a short settle delay.
func (s *Surface) WaitForLoadState(ctx context.Context, state string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	settle := time.Duration(0)

	var want []string
	switch state {
	case "domcontentloaded":
		want = []string{"interactive", "complete"}
	case "networkidle":
		want = []string{"complete"}
		settle = 500 * time.Millisecond
	default:
		want = []string{"complete"}
	}

	for {
		var ready string
		err := s.Evaluate(ctx, "document.readyState", &ready)
		if err == nil {
			for _, w := range want {
				if ready == w {
					if settle > 0 {
						select {
						case <-ctx.Done():
							return ctx.Err()
						case <-time.After(settle):
						}
					}
					return nil
				}
			}
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("timed out waiting for load state %q", state)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// AccessibilitySnapshot returns the raw accessibility tree for the page,
// a structured complement to screenshots.
func (s *Surface) AccessibilitySnapshot(ctx context.Context) (json.RawMessage, error) {
	client, err := s.browser.Client(ctx)
	if err != nil {
		return nil, err
	}
	raw, err := client.Send(ctx, "Accessibility.getFullAXTree", map[string]any{"depth": 10})
	if err != nil {
		return nil, fmt.Errorf("accessibility snapshot: %w", err)
	}
	return raw, nil
}

// axNode is the subset of the protocol's AXNode that the text rendering
// uses.
type axNode struct {
	Ignored bool `json:"ignored"`
	Role    struct {
		Value string `json:"value"`
	} `json:"role"`
	Name struct {
		Value string `json:"value"`
	} `json:"name"`
}

// accessibilityText flattens the accessibility tree to one "role name"
// line per named, non-ignored node. Structural roles with no name carry
// no information for the planner and are skipped.
func (s *Surface) accessibilityText(ctx context.Context) (string, error) {
	raw, err := s.AccessibilitySnapshot(ctx)
	if err != nil {
		return "", err
	}
	var tree struct {
		Nodes []axNode `json:"nodes"`
	}
	if err := json.Unmarshal(raw, &tree); err != nil {
		return "", fmt.Errorf("accessibility snapshot: decode: %w", err)
	}

	var b strings.Builder
	for _, n := range tree.Nodes {
		if n.Ignored {
			continue
		}
		name := strings.TrimSpace(n.Name.Value)
		if name == "" {
			continue
		}
		role := n.Role.Value
		switch role {
		case "none", "generic", "InlineTextBox":
			continue
		}
		b.WriteString(role)
		b.WriteString(" ")
		b.WriteString(name)
		b.WriteString("\n")
	}
	return b.String(), nil
}

// jsString quotes a Go string as a JavaScript string literal.
func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

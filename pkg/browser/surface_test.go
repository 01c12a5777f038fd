package browser

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webpilot-ai/webpilot/pkg/cdp/cdptest"
)

// evalValue wraps v as a Runtime.evaluate reply.
func evalValue(v any) map[string]any {
	return map[string]any{"result": map[string]any{"type": "string", "value": v}}
}

func pageHandler(axTreeErr error) cdptest.Handler {
	return func(method string, params json.RawMessage) (any, error) {
		switch method {
		case "Runtime.evaluate":
			var p struct {
				Expression string `json:"expression"`
			}
			_ = json.Unmarshal(params, &p)
			switch {
			case strings.Contains(p.Expression, "location.href"):
				return evalValue("https://example.com/docs"), nil
			case strings.Contains(p.Expression, "document.title"):
				return evalValue("Docs"), nil
			case strings.Contains(p.Expression, "innerText"):
				return evalValue("raw body text"), nil
			}
			return evalValue(""), nil
		case "Accessibility.getFullAXTree":
			if axTreeErr != nil {
				return nil, axTreeErr
			}
			return map[string]any{"nodes": []map[string]any{
				{"role": map[string]any{"value": "heading"}, "name": map[string]any{"value": "Welcome"}},
				{"ignored": true, "role": map[string]any{"value": "button"}, "name": map[string]any{"value": "Hidden"}},
				{"role": map[string]any{"value": "generic"}, "name": map[string]any{"value": "wrapper"}},
				{"role": map[string]any{"value": "button"}, "name": map[string]any{"value": "Submit"}},
			}}, nil
		}
		return nil, nil
	}
}

func connectTestSurface(t *testing.T, srv *cdptest.Server) *Surface {
	t.Helper()
	b, err := Connect(context.Background(), srv.URL())
	require.NoError(t, err)
	t.Cleanup(b.Close)
	return NewSurface(b)
}

func TestReadPageUsesAccessibilityTree(t *testing.T) {
	srv := cdptest.New(t, pageHandler(nil))
	s := connectTestSurface(t, srv)

	text, err := s.ReadPage(context.Background(), 0)
	require.NoError(t, err)

	assert.Contains(t, text, "URL: https://example.com/docs")
	assert.Contains(t, text, "Title: Docs")
	assert.Contains(t, text, "heading Welcome")
	assert.Contains(t, text, "button Submit")
	// Ignored and structural nodes are filtered out.
	assert.NotContains(t, text, "Hidden")
	assert.NotContains(t, text, "wrapper")
	assert.Contains(t, srv.Calls(), "Accessibility.getFullAXTree")
}

func TestReadPageFallsBackToBodyText(t *testing.T) {
	srv := cdptest.New(t, pageHandler(errors.New("domain not enabled")))
	s := connectTestSurface(t, srv)

	text, err := s.ReadPage(context.Background(), 0)
	require.NoError(t, err)
	assert.Contains(t, text, "raw body text")
}

func TestReadPageTruncates(t *testing.T) {
	srv := cdptest.New(t, func(method string, params json.RawMessage) (any, error) {
		if method == "Accessibility.getFullAXTree" {
			return map[string]any{"nodes": []map[string]any{
				{"role": map[string]any{"value": "paragraph"}, "name": map[string]any{"value": strings.Repeat("x", 500)}},
			}}, nil
		}
		return evalValue(""), nil
	})
	s := connectTestSurface(t, srv)

	text, err := s.ReadPage(context.Background(), 100)
	require.NoError(t, err)
	assert.Contains(t, text, "[truncated]")
}

func TestBrowserClientReattachesConcurrently(t *testing.T) {
	srv := cdptest.New(t, nil)
	b, err := Connect(context.Background(), srv.URL())
	require.NoError(t, err)
	t.Cleanup(b.Close)

	first, err := b.Client(context.Background())
	require.NoError(t, err)
	require.NoError(t, first.Close())

	// Concurrent callers over a dead connection all land on one live
	// replacement.
	var wg sync.WaitGroup
	clients := make([]any, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, cerr := b.Client(context.Background())
			assert.NoError(t, cerr)
			clients[i] = c
		}(i)
	}
	wg.Wait()

	for _, c := range clients {
		assert.Same(t, clients[0], c)
	}
	d, err := b.Dispatcher(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, d)
}

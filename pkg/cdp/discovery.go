package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ReadyTimeout bounds how long WaitForReady probes a debugging endpoint.
const ReadyTimeout = 15 * time.Second

// Target is one entry from the /json/list endpoint.
type Target struct {
	ID                   string `json:"id"`
	Type                 string `json:"type"`
	Title                string `json:"title"`
	URL                  string `json:"url"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// WaitForReady polls the browser's /json/version endpoint until it answers
// or ReadyTimeout elapses. baseURL is the HTTP debugging origin, e.g.
// "http://localhost:9222".
func WaitForReady(ctx context.Context, baseURL string) error {
	deadline := time.Now().Add(ReadyTimeout)
	client := &http.Client{Timeout: 2 * time.Second}
	versionURL := strings.TrimRight(baseURL, "/") + "/json/version"

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, versionURL, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("cdp: browser at %s not ready after %s", baseURL, ReadyTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// ListPages returns the page-type targets exposed by the browser.
func ListPages(ctx context.Context, baseURL string) ([]Target, error) {
	client := &http.Client{Timeout: 5 * time.Second}
	listURL := strings.TrimRight(baseURL, "/") + "/json/list"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, listURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cdp: list targets: %w", err)
	}
	defer resp.Body.Close()

	var targets []Target
	if err := json.NewDecoder(resp.Body).Decode(&targets); err != nil {
		return nil, fmt.Errorf("cdp: decode target list: %w", err)
	}

	pages := targets[:0]
	for _, t := range targets {
		if t.Type == "page" && t.WebSocketDebuggerURL != "" {
			pages = append(pages, t)
		}
	}
	return pages, nil
}

// ActivePage returns the most recently opened page target. Chrome lists
// targets newest-first, so that is the first page entry.
func ActivePage(ctx context.Context, baseURL string) (*Target, error) {
	pages, err := ListPages(ctx, baseURL)
	if err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("cdp: no page targets at %s", baseURL)
	}
	return &pages[0], nil
}

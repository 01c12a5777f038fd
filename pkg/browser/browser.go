package browser

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/webpilot-ai/webpilot/pkg/cdp"
)

// Browser is a connection to one running browser, local or remote. It
// tracks the active page target and re-discovers it when the page the
// client was attached to goes away (navigation to a new tab, crash).
// Safe for concurrent use; the agent loop and the frame pump's fallback
// both reach the page client through it.
type Browser struct {
	baseURL string
	process *Process

	mu         sync.Mutex
	client     *cdp.Client
	dispatcher *cdp.Dispatcher
}

// Connect attaches to an already-running browser at the given HTTP
// debugging origin.
func Connect(ctx context.Context, baseURL string) (*Browser, error) {
	if err := cdp.WaitForReady(ctx, baseURL); err != nil {
		return nil, err
	}
	b := &Browser{baseURL: baseURL}
	if err := b.Refresh(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

// Start launches a local browser and attaches to it.
func Start(ctx context.Context, launcher *Launcher) (*Browser, error) {
	proc, err := launcher.Launch(ctx)
	if err != nil {
		return nil, err
	}
	b := &Browser{baseURL: proc.BaseURL(), process: proc}
	if err := b.Refresh(ctx); err != nil {
		proc.Stop()
		return nil, err
	}
	return b, nil
}

// attachLocked connects the protocol client to the current active page
// and enables the domains the control surface relies on. Callers hold
// b.mu.
func (b *Browser) attachLocked(ctx context.Context) error {
	target, err := cdp.ActivePage(ctx, b.baseURL)
	if err != nil {
		return err
	}
	client, err := cdp.Dial(ctx, target.WebSocketDebuggerURL)
	if err != nil {
		return err
	}
	for _, domain := range []string{"Page.enable", "Runtime.enable"} {
		if _, err := client.Send(ctx, domain, nil); err != nil {
			_ = client.Close()
			return fmt.Errorf("browser: %s: %w", domain, err)
		}
	}

	if b.client != nil {
		_ = b.client.Close()
	}
	b.client = client
	b.dispatcher = cdp.NewDispatcher(client)
	slog.Debug("Attached to page target", "target_id", target.ID, "url", target.URL)
	return nil
}

// Refresh drops the current page connection and re-discovers the active
// page. Used after navigations that replace the page target.
func (b *Browser) Refresh(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attachLocked(ctx)
}

// clientLocked returns the live client, re-attaching if the previous
// connection died. Callers hold b.mu.
func (b *Browser) clientLocked(ctx context.Context) (*cdp.Client, error) {
	if b.client == nil || !b.client.Alive() {
		if err := b.attachLocked(ctx); err != nil {
			return nil, err
		}
	}
	return b.client, nil
}

// Client returns the protocol client for the active page, re-attaching
// if the previous connection died.
func (b *Browser) Client(ctx context.Context) (*cdp.Client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.clientLocked(ctx)
}

// Dispatcher returns the input dispatcher for the active page.
func (b *Browser) Dispatcher(ctx context.Context) (*cdp.Dispatcher, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, err := b.clientLocked(ctx); err != nil {
		return nil, err
	}
	return b.dispatcher, nil
}

// BaseURL returns the HTTP debugging origin.
func (b *Browser) BaseURL() string { return b.baseURL }

// Local reports whether this browser's process is owned by us.
func (b *Browser) Local() bool { return b.process != nil }

// Close disconnects the protocol client and, for locally launched
// browsers, stops the process.
func (b *Browser) Close() {
	b.mu.Lock()
	if b.client != nil {
		_ = b.client.Close()
		b.client = nil
	}
	b.mu.Unlock()
	if b.process != nil {
		b.process.Stop()
		b.process = nil
	}
}

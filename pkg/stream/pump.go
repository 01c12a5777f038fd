// Package stream pushes live browser frames to WebSocket subscribers.
// The preferred path is the protocol screencast; when that cannot be
// started the pump degrades to polling screenshots.
package stream

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/webpilot-ai/webpilot/pkg/browser"
	"github.com/webpilot-ai/webpilot/pkg/cdp"
	"github.com/webpilot-ai/webpilot/pkg/events"
)

const (
	screencastFormat   = "jpeg"
	screencastQuality  = 60
	screencastMaxW     = 1280
	screencastMaxH     = 720
	screencastNthFrame = 2

	pollInterval    = 500 * time.Millisecond
	pollMaxFailures = 10
)

// Publisher delivers events to a session's subscribers.
type Publisher interface {
	Publish(sessionID, event string, payload map[string]any)
}

// Pump manages at most one live frame stream per session. Each stream
// runs on its own protocol connection so frame traffic and acks never
// contend with the agent's commands on the shared page connection.
type Pump struct {
	publisher Publisher

	mu       sync.Mutex
	streams  map[string]*liveStream
	frameIDs map[string]int
}

type liveStream struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPump creates a frame pump publishing through the given publisher.
func NewPump(publisher Publisher) *Pump {
	return &Pump{
		publisher: publisher,
		streams:   make(map[string]*liveStream),
		frameIDs:  make(map[string]int),
	}
}

// Start begins streaming frames for the session. A second Start for the
// same session is a no-op while the first stream is running.
func (p *Pump) Start(ctx context.Context, sessionID string, surface *browser.Surface) error {
	p.mu.Lock()
	if _, running := p.streams[sessionID]; running {
		p.mu.Unlock()
		return nil
	}
	streamCtx, cancel := context.WithCancel(ctx)
	ls := &liveStream{cancel: cancel, done: make(chan struct{})}
	p.streams[sessionID] = ls
	p.mu.Unlock()

	go func() {
		defer close(ls.done)
		defer p.remove(sessionID, ls)
		p.run(streamCtx, sessionID, surface)
	}()
	return nil
}

// Stop halts the session's stream if one is running and waits for the
// streaming goroutine to exit.
func (p *Pump) Stop(sessionID string) {
	p.mu.Lock()
	ls, ok := p.streams[sessionID]
	p.mu.Unlock()
	if !ok {
		return
	}
	ls.cancel()
	<-ls.done
}

// Active reports whether a stream is running for the session.
func (p *Pump) Active(sessionID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.streams[sessionID]
	return ok
}

func (p *Pump) remove(sessionID string, ls *liveStream) {
	p.mu.Lock()
	if cur, ok := p.streams[sessionID]; ok && cur == ls {
		delete(p.streams, sessionID)
	}
	p.mu.Unlock()
}

// nextFrameID returns the next frame number for the session. The counter
// survives stream restarts, keeping frame ids monotonic for subscribers
// across a stop/start cycle.
func (p *Pump) nextFrameID(sessionID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frameIDs[sessionID]++
	return p.frameIDs[sessionID]
}

// run tries the screencast first and falls back to polling. A setup
// failure on both paths publishes stream_error.
func (p *Pump) run(ctx context.Context, sessionID string, surface *browser.Surface) {
	if err := p.runScreencast(ctx, sessionID, surface); err != nil {
		slog.Warn("Screencast unavailable, falling back to polling",
			"session_id", sessionID, "error", err)
		if err := p.runPolling(ctx, sessionID, surface); err != nil {
			p.publisher.Publish(sessionID, events.EventStreamError, map[string]any{
				"msg": err.Error(),
			})
		}
	}
}

// dial opens the pump's own connection to the active page.
func (p *Pump) dial(ctx context.Context, surface *browser.Surface) (*cdp.Client, error) {
	target, err := cdp.ActivePage(ctx, surface.Browser().BaseURL())
	if err != nil {
		return nil, err
	}
	client, err := cdp.Dial(ctx, target.WebSocketDebuggerURL)
	if err != nil {
		return nil, err
	}
	if _, err := client.Send(ctx, "Page.enable", nil); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("stream: Page.enable: %w", err)
	}
	return client, nil
}

type screencastFrame struct {
	Data      string `json:"data"`
	SessionID int    `json:"sessionId"`
	Metadata  struct {
		Timestamp float64 `json:"timestamp"`
	} `json:"metadata"`
}

func (p *Pump) runScreencast(ctx context.Context, sessionID string, surface *browser.Surface) error {
	client, err := p.dial(ctx, surface)
	if err != nil {
		return err
	}
	// Closing the connection also retires the frame listener, so a
	// restarted stream never sees this one's frames.
	defer client.Close()

	client.On("Page.screencastFrame", func(params json.RawMessage) {
		var frame screencastFrame
		if err := json.Unmarshal(params, &frame); err != nil {
			return
		}
		id := p.nextFrameID(sessionID)
		p.publisher.Publish(sessionID, events.EventScreenshotStream, map[string]any{
			"screenshot": frame.Data,
			"format":     screencastFormat,
			"frameId":    id,
		})
		p.publisher.Publish(sessionID, events.EventStreamFrame, map[string]any{
			"data":    frame.Data,
			"frameId": id,
		})
		// The browser withholds the next frame until this one is ack'd.
		ackCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_, _ = client.Send(ackCtx, "Page.screencastFrameAck", map[string]any{
			"sessionId": frame.SessionID,
		})
		cancel()
	})

	_, err = client.Send(ctx, "Page.startScreencast", map[string]any{
		"format":        screencastFormat,
		"quality":       screencastQuality,
		"maxWidth":      screencastMaxW,
		"maxHeight":     screencastMaxH,
		"everyNthFrame": screencastNthFrame,
	})
	if err != nil {
		return err
	}
	slog.Info("Screencast started", "session_id", sessionID)

	// Frames arrive on the connection's dispatch goroutine; this loop only
	// waits for stop and notices a dead connection.
	for {
		select {
		case <-ctx.Done():
			stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			_, _ = client.Send(stopCtx, "Page.stopScreencast", nil)
			cancel()
			slog.Info("Screencast stopped", "session_id", sessionID)
			return nil
		case <-time.After(pollInterval):
			if !client.Alive() {
				slog.Info("Screencast connection lost", "session_id", sessionID)
				return nil
			}
		}
	}
}

// runPolling captures JPEG screenshots on a fixed interval over the
// pump's own connection, skipping frames whose leading bytes hash
// identically to the previous frame.
func (p *Pump) runPolling(ctx context.Context, sessionID string, surface *browser.Surface) error {
	client, err := p.dial(ctx, surface)
	if err != nil {
		return err
	}
	defer client.Close()
	slog.Info("Polling frame capture started", "session_id", sessionID)

	var lastHash [sha256.Size]byte
	failures := 0

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Polling frame capture stopped", "session_id", sessionID)
			return nil
		case <-ticker.C:
		}

		raw, err := client.Send(ctx, "Page.captureScreenshot", map[string]any{
			"format":  screencastFormat,
			"quality": screencastQuality,
		})
		if err != nil {
			failures++
			if failures >= pollMaxFailures {
				return err
			}
			continue
		}
		failures = 0

		var shot struct {
			Data string `json:"data"`
		}
		if err := json.Unmarshal(raw, &shot); err != nil {
			continue
		}

		head := shot.Data
		if len(head) > 1024 {
			head = head[:1024]
		}
		h := sha256.Sum256([]byte(head))
		if h == lastHash {
			continue
		}
		lastHash = h

		p.publisher.Publish(sessionID, events.EventScreenshotStream, map[string]any{
			"screenshot": shot.Data,
			"format":     screencastFormat,
			"frameId":    p.nextFrameID(sessionID),
		})
	}
}

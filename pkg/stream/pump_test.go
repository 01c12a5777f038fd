package stream

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webpilot-ai/webpilot/pkg/browser"
	"github.com/webpilot-ai/webpilot/pkg/cdp/cdptest"
	"github.com/webpilot-ai/webpilot/pkg/events"
)

type recordedEvent struct {
	session string
	name    string
	payload map[string]any
}

// recorder captures published events for assertions.
type recorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *recorder) Publish(sessionID, event string, payload map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{session: sessionID, name: event, payload: payload})
}

func (r *recorder) byName(name string) []recordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []recordedEvent
	for _, e := range r.events {
		if e.name == name {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) waitFor(name string, n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if len(r.byName(name)) >= n {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

func newTestSurface(t *testing.T, srv *cdptest.Server) *browser.Surface {
	t.Helper()
	b, err := browser.Connect(context.Background(), srv.URL())
	require.NoError(t, err)
	t.Cleanup(b.Close)
	return browser.NewSurface(b)
}

func emitFrame(srv *cdptest.Server, data string) {
	srv.Emit("Page.screencastFrame", map[string]any{
		"data":      data,
		"sessionId": 7,
		"metadata":  map[string]any{"timestamp": 1.0},
	})
}

func frameIDs(recs []recordedEvent) []int {
	ids := make([]int, len(recs))
	for i, e := range recs {
		ids[i] = e.payload["frameId"].(int)
	}
	return ids
}

func waitCallCount(srv *cdptest.Server, method string, n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if srv.CallCount(method) >= n {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

func TestScreencastFramesOrderedAndAcked(t *testing.T) {
	srv := cdptest.New(t, nil)
	surface := newTestSurface(t, srv)
	rec := &recorder{}
	p := NewPump(rec)

	require.NoError(t, p.Start(context.Background(), "s1", surface))
	defer p.Stop("s1")
	require.True(t, srv.WaitForCall("Page.startScreencast", 2*time.Second))

	for i := 0; i < 3; i++ {
		emitFrame(srv, "ZnJhbWU=")
	}
	require.True(t, rec.waitFor(events.EventScreenshotStream, 3, 2*time.Second))

	frames := rec.byName(events.EventScreenshotStream)
	assert.Equal(t, []int{1, 2, 3}, frameIDs(frames))
	for _, f := range frames {
		assert.Equal(t, "s1", f.session)
		assert.Equal(t, "ZnJhbWU=", f.payload["screenshot"])
		assert.Equal(t, "jpeg", f.payload["format"])
	}

	// Every frame carries a stream_frame twin and an ack back to the
	// browser.
	assert.True(t, rec.waitFor(events.EventStreamFrame, 3, 2*time.Second))
	assert.True(t, waitCallCount(srv, "Page.screencastFrameAck", 3, 2*time.Second))

	p.Stop("s1")
	assert.False(t, p.Active("s1"))
	assert.True(t, srv.WaitForCall("Page.stopScreencast", 2*time.Second))
}

func TestStopStartKeepsFrameIDsMonotonic(t *testing.T) {
	srv := cdptest.New(t, nil)
	surface := newTestSurface(t, srv)
	rec := &recorder{}
	p := NewPump(rec)

	require.NoError(t, p.Start(context.Background(), "s1", surface))
	require.True(t, srv.WaitForCall("Page.startScreencast", 2*time.Second))
	emitFrame(srv, "one")
	emitFrame(srv, "two")
	require.True(t, rec.waitFor(events.EventScreenshotStream, 2, 2*time.Second))
	p.Stop("s1")

	require.NoError(t, p.Start(context.Background(), "s1", surface))
	defer p.Stop("s1")
	require.True(t, waitCallCount(srv, "Page.startScreencast", 2, 2*time.Second))
	emitFrame(srv, "three")
	emitFrame(srv, "four")
	require.True(t, rec.waitFor(events.EventScreenshotStream, 4, 2*time.Second))

	// A restarted stream must not re-deliver old frames or reuse ids.
	time.Sleep(100 * time.Millisecond)
	frames := rec.byName(events.EventScreenshotStream)
	assert.Equal(t, []int{1, 2, 3, 4}, frameIDs(frames))
	assert.Equal(t, "three", frames[2].payload["screenshot"])
	assert.Equal(t, "four", frames[3].payload["screenshot"])
}

func TestPollingFallbackPublishesOnChange(t *testing.T) {
	var shots atomic.Int64
	srv := cdptest.New(t, func(method string, params json.RawMessage) (any, error) {
		switch method {
		case "Page.startScreencast":
			return nil, errors.New("screencast not supported")
		case "Page.captureScreenshot":
			if shots.Add(1) <= 2 {
				return map[string]string{"data": "AAAA"}, nil
			}
			return map[string]string{"data": "BBBB"}, nil
		default:
			return nil, nil
		}
	})
	surface := newTestSurface(t, srv)
	rec := &recorder{}
	p := NewPump(rec)

	require.NoError(t, p.Start(context.Background(), "s1", surface))
	defer p.Stop("s1")

	require.True(t, rec.waitFor(events.EventScreenshotStream, 2, 5*time.Second))
	frames := rec.byName(events.EventScreenshotStream)[:2]
	assert.Equal(t, []int{1, 2}, frameIDs(frames))
	assert.Equal(t, "AAAA", frames[0].payload["screenshot"])
	assert.Equal(t, "BBBB", frames[1].payload["screenshot"])

	// Identical captures are deduplicated, so captures outnumber frames.
	assert.GreaterOrEqual(t, int(shots.Load()), 3)
	assert.Len(t, rec.byName(events.EventScreenshotStream), 2)
}

func TestStopIsIdempotentAndPromptlyReleases(t *testing.T) {
	srv := cdptest.New(t, nil)
	surface := newTestSurface(t, srv)
	p := NewPump(&recorder{})

	require.NoError(t, p.Start(context.Background(), "s1", surface))
	require.True(t, srv.WaitForCall("Page.startScreencast", 2*time.Second))

	done := make(chan struct{})
	go func() {
		p.Stop("s1")
		p.Stop("s1")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return in time")
	}
	assert.False(t, p.Active("s1"))
}

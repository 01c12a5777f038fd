package events

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, m *ConnectionManager) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		m.HandleConnection(r.Context(), conn)
	}))
	t.Cleanup(server.Close)
	return server
}

func dialTestServer(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var msg map[string]any
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, websocket.MessageText, data))
}

func waitForSubscribers(t *testing.T, m *ConnectionManager, channel string, want int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for m.subscriberCount(channel) != want {
		if time.Now().After(deadline) {
			t.Fatalf("channel %s never reached %d subscribers", channel, want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSubscribeAndPublishRoundTrip(t *testing.T) {
	m := NewConnectionManager(5 * time.Second)
	server := newTestServer(t, m)
	conn := dialTestServer(t, server)

	established := readMessage(t, conn)
	assert.Equal(t, "connection.established", established["type"])

	writeJSON(t, conn, ClientMessage{Action: "subscribe", SessionID: "sess-1"})
	confirmed := readMessage(t, conn)
	assert.Equal(t, "subscription.confirmed", confirmed["type"])
	assert.Equal(t, "sess-1", confirmed["sessionId"])

	m.Publish("sess-1", EventSessionStart, map[string]any{"task": "find the docs"})

	event := readMessage(t, conn)
	assert.Equal(t, EventSessionStart, event["type"])
	assert.Equal(t, "sess-1", event["sessionId"])
	assert.Equal(t, "find the docs", event["task"])
}

func TestPublishToChannelWithoutSubscribersIsNoop(t *testing.T) {
	m := NewConnectionManager(5 * time.Second)

	// Must not panic or block.
	m.Publish("ghost", EventSessionComplete, map[string]any{"success": true})
	assert.Equal(t, 0, m.ActiveConnections())
}

func TestSubscriberOnlyReceivesItsSessions(t *testing.T) {
	m := NewConnectionManager(5 * time.Second)
	server := newTestServer(t, m)
	conn := dialTestServer(t, server)

	readMessage(t, conn) // connection.established
	writeJSON(t, conn, ClientMessage{Action: "subscribe", SessionID: "mine"})
	readMessage(t, conn) // subscription.confirmed

	m.Publish("other", EventActionLog, map[string]any{"step": 1})
	m.Publish("mine", EventActionLog, map[string]any{"step": 2})

	event := readMessage(t, conn)
	assert.Equal(t, "mine", event["sessionId"])
	assert.Equal(t, float64(2), event["step"])
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	m := NewConnectionManager(5 * time.Second)
	server := newTestServer(t, m)
	conn := dialTestServer(t, server)

	readMessage(t, conn)
	writeJSON(t, conn, ClientMessage{Action: "subscribe", SessionID: "sess-1"})
	readMessage(t, conn)

	writeJSON(t, conn, ClientMessage{Action: "unsubscribe", SessionID: "sess-1"})
	waitForSubscribers(t, m, SessionChannel("sess-1"), 0)

	m.Publish("sess-1", EventActionLog, map[string]any{"step": 1})

	// Ping/pong proves nothing else was queued ahead of it.
	writeJSON(t, conn, ClientMessage{Action: "ping"})
	msg := readMessage(t, conn)
	assert.Equal(t, "pong", msg["type"])
}

func TestDisconnectCleansUpSubscriptions(t *testing.T) {
	m := NewConnectionManager(5 * time.Second)
	server := newTestServer(t, m)
	conn := dialTestServer(t, server)

	readMessage(t, conn)
	writeJSON(t, conn, ClientMessage{Action: "subscribe", SessionID: "sess-1"})
	readMessage(t, conn)

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))

	waitForSubscribers(t, m, SessionChannel("sess-1"), 0)
	deadline := time.Now().Add(5 * time.Second)
	for m.ActiveConnections() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("connection never unregistered")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// flagStreams records start/stop stream calls.
type flagStreams struct {
	mu      sync.Mutex
	started []string
	stopped []string
	fail    bool
}

func (f *flagStreams) StartStream(sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("no such session")
	}
	f.started = append(f.started, sessionID)
	return nil
}

func (f *flagStreams) StopStream(sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, sessionID)
}

func TestStartStreamDelegatesToController(t *testing.T) {
	m := NewConnectionManager(5 * time.Second)
	streams := &flagStreams{}
	m.SetStreamController(streams)

	server := newTestServer(t, m)
	conn := dialTestServer(t, server)
	readMessage(t, conn)

	writeJSON(t, conn, ClientMessage{Action: "start_stream", SessionID: "sess-1"})
	writeJSON(t, conn, ClientMessage{Action: "stop_stream", SessionID: "sess-1"})

	// Ping flushes the queue so both control messages were handled.
	writeJSON(t, conn, ClientMessage{Action: "ping"})
	readMessage(t, conn)

	streams.mu.Lock()
	defer streams.mu.Unlock()
	assert.Equal(t, []string{"sess-1"}, streams.started)
	assert.Equal(t, []string{"sess-1"}, streams.stopped)
}

func TestStartStreamErrorIsReported(t *testing.T) {
	m := NewConnectionManager(5 * time.Second)
	m.SetStreamController(&flagStreams{fail: true})

	server := newTestServer(t, m)
	conn := dialTestServer(t, server)
	readMessage(t, conn)

	writeJSON(t, conn, ClientMessage{Action: "start_stream", SessionID: "sess-1"})

	msg := readMessage(t, conn)
	assert.Equal(t, EventStreamError, msg["type"])
	assert.Equal(t, "sess-1", msg["sessionId"])
}

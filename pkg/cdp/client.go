// Package cdp implements a Chrome DevTools Protocol client: a single
// WebSocket connection multiplexing numbered commands and unsolicited
// events, plus a low-level input dispatcher for deterministic replay.
package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// CommandTimeout bounds how long a command may wait for its reply.
const CommandTimeout = 10 * time.Second

var (
	// ErrClosed is returned by Send after the connection is closed.
	ErrClosed = errors.New("cdp: connection closed")
	// ErrTimeout is returned when a command receives no reply in time.
	ErrTimeout = errors.New("cdp: command timed out")
	// ErrCancelled is returned for commands pending at disconnect.
	ErrCancelled = errors.New("cdp: command cancelled")
)

// Error is a remote protocol error carried in a command reply.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("cdp: remote error %d: %s", e.Code, e.Message)
}

// EventHandler receives the params of an unsolicited protocol event.
type EventHandler func(params json.RawMessage)

// message is the CDP wire frame. Outbound frames carry ID/Method/Params;
// inbound frames carry either ID+Result/Error (command reply) or
// Method+Params (event).
type message struct {
	ID     int64           `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`
}

type pendingReply struct {
	result json.RawMessage
	err    error
}

// Client is a request/response multiplexer over one DevTools WebSocket.
// Each command gets a monotonically increasing id; the reader goroutine
// resolves the matching waiter exactly once (reply, error, timeout, or
// cancellation). Events are handed to a dedicated dispatch goroutine in
// arrival order, so a listener may issue commands without stalling the
// reader that must deliver their replies.
type Client struct {
	url  string
	conn *websocket.Conn

	nextID atomic.Int64

	pendingMu sync.Mutex
	pending   map[int64]chan pendingReply

	listenerMu sync.RWMutex
	listeners  map[string][]EventHandler

	writeMu sync.Mutex

	events chan message

	closeOnce sync.Once
	closed    chan struct{}
}

// Dial opens the transport and starts the reader.
func Dial(ctx context.Context, wsURL string) (*Client, error) {
	dialer := websocket.Dialer{
		ReadBufferSize:  1 << 20,
		WriteBufferSize: 1 << 20,
	}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("cdp: dial %s: %w", wsURL, err)
	}

	c := &Client{
		url:       wsURL,
		conn:      conn,
		pending:   make(map[int64]chan pendingReply),
		listeners: make(map[string][]EventHandler),
		events:    make(chan message, 256),
		closed:    make(chan struct{}),
	}
	go c.readLoop()
	go c.dispatchLoop()
	return c, nil
}

// URL returns the WebSocket debugger URL this client is connected to.
func (c *Client) URL() string { return c.url }

// Alive reports whether the connection is still open.
func (c *Client) Alive() bool {
	select {
	case <-c.closed:
		return false
	default:
		return true
	}
}

// Send transmits {id, method, params} and waits for the framed reply with
// the same id. A remote error resolves to *Error; no reply within
// CommandTimeout resolves to ErrTimeout.
func (c *Client) Send(ctx context.Context, method string, params any) (json.RawMessage, error) {
	select {
	case <-c.closed:
		return nil, ErrClosed
	default:
	}

	var rawParams json.RawMessage
	if params != nil {
		var err error
		rawParams, err = json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("cdp: marshal params for %s: %w", method, err)
		}
	}

	id := c.nextID.Add(1)
	replyCh := make(chan pendingReply, 1)
	c.pendingMu.Lock()
	c.pending[id] = replyCh
	c.pendingMu.Unlock()

	frame := message{ID: id, Method: method, Params: rawParams}
	c.writeMu.Lock()
	err := c.conn.WriteJSON(&frame)
	c.writeMu.Unlock()
	if err != nil {
		c.dropPending(id)
		return nil, fmt.Errorf("cdp: send %s: %w", method, err)
	}

	timer := time.NewTimer(CommandTimeout)
	defer timer.Stop()

	select {
	case reply := <-replyCh:
		if reply.err != nil {
			return nil, reply.err
		}
		return reply.result, nil
	case <-timer.C:
		c.dropPending(id)
		return nil, fmt.Errorf("cdp: %s: %w", method, ErrTimeout)
	case <-ctx.Done():
		c.dropPending(id)
		return nil, ctx.Err()
	case <-c.closed:
		return nil, ErrCancelled
	}
}

// On registers an event listener. Multiple listeners for one method are
// invoked in registration order.
func (c *Client) On(method string, h EventHandler) {
	c.listenerMu.Lock()
	defer c.listenerMu.Unlock()
	c.listeners[method] = append(c.listeners[method], h)
}

// Close cancels all pending commands with ErrCancelled and closes the
// transport. Safe to call multiple times.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.conn.Close()
		c.failAllPending(ErrCancelled)
	})
	return nil
}

func (c *Client) readLoop() {
	defer func() {
		c.closeOnce.Do(func() {
			close(c.closed)
			_ = c.conn.Close()
		})
		// Connection loss cancels everything still in flight.
		c.failAllPending(ErrCancelled)
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var frame message
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}

		switch {
		case frame.ID != 0:
			c.pendingMu.Lock()
			replyCh, ok := c.pending[frame.ID]
			delete(c.pending, frame.ID)
			c.pendingMu.Unlock()
			if !ok {
				continue
			}
			if frame.Error != nil {
				replyCh <- pendingReply{err: frame.Error}
			} else {
				replyCh <- pendingReply{result: frame.Result}
			}

		case frame.Method != "":
			select {
			case c.events <- frame:
			case <-c.closed:
				return
			}
		}
	}
}

// dispatchLoop delivers events to listeners one at a time, preserving
// arrival order.
func (c *Client) dispatchLoop() {
	for {
		select {
		case <-c.closed:
			return
		case frame := <-c.events:
			c.listenerMu.RLock()
			handlers := append([]EventHandler(nil), c.listeners[frame.Method]...)
			c.listenerMu.RUnlock()
			for _, h := range handlers {
				h(frame.Params)
			}
		}
	}
}

func (c *Client) dropPending(id int64) {
	c.pendingMu.Lock()
	delete(c.pending, id)
	c.pendingMu.Unlock()
}

func (c *Client) failAllPending(err error) {
	c.pendingMu.Lock()
	for id, ch := range c.pending {
		ch <- pendingReply{err: err}
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()
}

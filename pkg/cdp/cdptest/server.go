// Package cdptest provides a fake DevTools endpoint for tests: the HTTP
// discovery surface (/json/version, /json/list) plus a WebSocket page
// target that answers protocol commands through a test-supplied handler
// and can push unsolicited events.
package cdptest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// Handler answers one protocol command. Returning an error produces a
// protocol error reply; a nil result answers with an empty object.
type Handler func(method string, params json.RawMessage) (any, error)

type frame struct {
	ID     int64           `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result any             `json:"result,omitempty"`
	Error  *protocolError  `json:"error,omitempty"`
}

type protocolError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

func (c *conn) write(f *frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(f)
}

// Server is a fake browser debugging endpoint.
type Server struct {
	handler Handler
	http    *httptest.Server

	mu    sync.Mutex
	conns []*conn
	calls []string
}

// New starts a fake endpoint. handler may be nil; every command then
// answers with an empty result.
func New(t *testing.T, handler Handler) *Server {
	t.Helper()
	s := &Server{handler: handler}

	mux := http.NewServeMux()
	mux.HandleFunc("/json/version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"Browser": "FakeChrome/1.0"})
	})
	mux.HandleFunc("/json/list", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode([]map[string]string{{
			"id":                   "page-1",
			"type":                 "page",
			"url":                  "about:blank",
			"webSocketDebuggerUrl": "ws://" + r.Host + "/devtools/page/page-1",
		}})
	})
	upgrader := websocket.Upgrader{}
	mux.HandleFunc("/devtools/page/page-1", func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c := &conn{ws: ws}
		s.mu.Lock()
		s.conns = append(s.conns, c)
		s.mu.Unlock()
		s.serve(c)
	})

	s.http = httptest.NewServer(mux)
	t.Cleanup(s.http.Close)
	return s
}

func (s *Server) serve(c *conn) {
	for {
		var f frame
		if err := c.ws.ReadJSON(&f); err != nil {
			return
		}
		s.mu.Lock()
		s.calls = append(s.calls, f.Method)
		s.mu.Unlock()

		if f.ID == 0 {
			continue
		}
		reply := frame{ID: f.ID}
		if s.handler != nil {
			result, err := s.handler(f.Method, f.Params)
			if err != nil {
				reply.Error = &protocolError{Code: -32000, Message: err.Error()}
			} else if result != nil {
				reply.Result = result
			} else {
				reply.Result = struct{}{}
			}
		} else {
			reply.Result = struct{}{}
		}
		if err := c.write(&reply); err != nil {
			return
		}
	}
}

// URL returns the HTTP debugging origin, suitable for discovery.
func (s *Server) URL() string { return s.http.URL }

// WSURL returns the page target's WebSocket URL.
func (s *Server) WSURL() string {
	return "ws" + strings.TrimPrefix(s.http.URL, "http") + "/devtools/page/page-1"
}

// Emit pushes an unsolicited event to every connected client. Writes to
// clients that have since disconnected are ignored.
func (s *Server) Emit(method string, params any) {
	raw, err := json.Marshal(params)
	if err != nil {
		return
	}
	s.mu.Lock()
	conns := append([]*conn(nil), s.conns...)
	s.mu.Unlock()
	for _, c := range conns {
		_ = c.write(&frame{Method: method, Params: raw})
	}
}

// Calls returns the protocol methods received so far, in order.
func (s *Server) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// CallCount returns how many times the method has been received.
func (s *Server) CallCount(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.calls {
		if m == method {
			n++
		}
	}
	return n
}

// WaitForCall polls until the method has been received at least once.
func (s *Server) WaitForCall(method string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if s.CallCount(method) > 0 {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

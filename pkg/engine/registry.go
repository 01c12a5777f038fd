// Package engine owns session execution: it acquires a browser, runs the
// agent loop or a cached replay, publishes lifecycle events, and tears
// everything down exactly once per session.
package engine

import (
	"context"
	"sync"

	"github.com/webpilot-ai/webpilot/pkg/agent"
	"github.com/webpilot-ai/webpilot/pkg/browser"
	"github.com/webpilot-ai/webpilot/pkg/vision"
)

// runtime is the live state of one executing session.
type runtime struct {
	agent   *agent.Agent
	browser *browser.Browser
	surface *browser.Surface
	vision  *vision.Service
	cancel  context.CancelFunc

	stopRequested bool
	paused        bool
}

// SessionRegistry tracks every running session under a single mutex.
// All lookups and mutations of live session state go through it; nothing
// else holds references to a session's runtime.
type SessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]*runtime
}

// NewSessionRegistry creates an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]*runtime)}
}

// add registers a session's runtime. Returns false if one already exists.
func (r *SessionRegistry) add(sessionID string, rt *runtime) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[sessionID]; exists {
		return false
	}
	r.sessions[sessionID] = rt
	return true
}

// remove unregisters a session and returns its runtime for teardown.
func (r *SessionRegistry) remove(sessionID string) *runtime {
	r.mu.Lock()
	defer r.mu.Unlock()
	rt := r.sessions[sessionID]
	delete(r.sessions, sessionID)
	return rt
}

// get returns the runtime for a running session, or nil.
func (r *SessionRegistry) get(sessionID string) *runtime {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[sessionID]
}

// requestStop sets the session's stop flag. Returns false when the
// session is not running.
func (r *SessionRegistry) requestStop(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rt, ok := r.sessions[sessionID]
	if !ok {
		return false
	}
	rt.stopRequested = true
	return true
}

// stopRequestedFor reads the session's stop flag.
func (r *SessionRegistry) stopRequestedFor(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rt, ok := r.sessions[sessionID]
	return ok && rt.stopRequested
}

// setPaused flips the advisory pause flag. Returns false when the
// session is not running.
func (r *SessionRegistry) setPaused(sessionID string, paused bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rt, ok := r.sessions[sessionID]
	if !ok {
		return false
	}
	rt.paused = paused
	return true
}

// pausedFor reads the session's pause flag.
func (r *SessionRegistry) pausedFor(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rt, ok := r.sessions[sessionID]
	return ok && rt.paused
}

// Running reports whether the session has a live runtime.
func (r *SessionRegistry) Running(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[sessionID]
	return ok
}

// ActiveSessions returns the ids of all running sessions.
func (r *SessionRegistry) ActiveSessions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

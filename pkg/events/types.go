// Package events provides the real-time notification fabric: WebSocket
// connections subscribe to per-session channels and the engine publishes
// typed events into them. Publishing is write-only and never fails the
// caller; a channel with no subscribers is a no-op.
package events

// Event names emitted by the session engine.
const (
	EventSessionStart     = "session_start"
	EventSessionUpdate    = "session_update"
	EventSessionComplete  = "session_complete"
	EventSessionStopped   = "session_stopped"
	EventError            = "error"
	EventIntervention     = "intervention"
	EventActionLog        = "action_log"
	EventScreenshot       = "screenshot"
	EventScreenshotStream = "screenshot_stream"
	// EventStreamFrame carries a raw screencast frame for clients that
	// consume the lightweight frame channel.
	EventStreamFrame = "stream_frame"
	EventOwlVision   = "owl_vision"
	EventClickByMark = "click_by_mark"
	EventStreamError = "stream_error"
)

// SessionChannel returns the channel name for a session's events.
// Format: "session:{session_id}"
func SessionChannel(sessionID string) string {
	return "session:" + sessionID
}

// ClientMessage is the JSON structure for client-to-server WebSocket messages.
type ClientMessage struct {
	Action    string `json:"action"`              // "subscribe", "unsubscribe", "start_stream", "stop_stream", "ping"
	SessionID string `json:"sessionId,omitempty"` // Session to subscribe to / stream
}

// StreamController governs the frame pump in response to client
// start_stream/stop_stream messages. Implemented by the session engine.
type StreamController interface {
	StartStream(sessionID string) error
	StopStream(sessionID string)
}

package models

import (
	"encoding/json"
	"time"
)

// SessionStatus is the lifecycle state of a browsing session.
type SessionStatus string

const (
	StatusPending   SessionStatus = "pending"
	StatusActive    SessionStatus = "active"
	StatusPaused    SessionStatus = "paused"
	StatusCompleted SessionStatus = "completed"
	StatusFailed    SessionStatus = "failed"
	StatusCancelled SessionStatus = "cancelled"
	StatusStopped   SessionStatus = "stopped"
)

// Terminal reports whether the status is a terminal state. Terminal sessions
// never transition again and hold no engine resources.
func (s SessionStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusStopped:
		return true
	}
	return false
}

// DefaultMaxSteps caps the agent loop when the caller does not configure one.
const DefaultMaxSteps = 50

// AgentConfig carries per-session agent options supplied at creation time.
type AgentConfig struct {
	MaxSteps     int   `json:"maxSteps,omitempty"`
	EnableVision *bool `json:"enableOwlVision,omitempty"`
}

// VisionEnabled resolves the enableOwlVision option (default true).
func (c *AgentConfig) VisionEnabled() bool {
	if c == nil || c.EnableVision == nil {
		return true
	}
	return *c.EnableVision
}

// ResolveMaxSteps resolves the step cap (default DefaultMaxSteps).
func (c *AgentConfig) ResolveMaxSteps() int {
	if c == nil || c.MaxSteps <= 0 {
		return DefaultMaxSteps
	}
	return c.MaxSteps
}

// Session is the persisted record of one browsing task. Mutated only by the
// session engine and persisted after each transition.
type Session struct {
	ID           string          `json:"id"`
	UserID       string          `json:"user_id"`
	Task         string          `json:"task"`
	Status       SessionStatus   `json:"status"`
	MaxSteps     int             `json:"max_steps"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	ActionsCount int             `json:"actions_count"`
	Result       json.RawMessage `json:"result,omitempty"`
	Title        string          `json:"title,omitempty"`
	Summary      string          `json:"summary,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	AgentConfig  *AgentConfig    `json:"agent_config,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// CreateSessionRequest is the POST /sessions request body.
type CreateSessionRequest struct {
	TaskDescription string       `json:"task_description"`
	AgentConfig     *AgentConfig `json:"agent_config,omitempty"`
}

// SessionResult is the structured result persisted on natural completion.
type SessionResult struct {
	Task          string            `json:"task"`
	TotalSteps    int               `json:"total_steps"`
	Steps         []StepObservation `json:"steps"`
	ExtractedData []string          `json:"extracted_data"`
	Success       bool              `json:"success"`
	Method        string            `json:"method,omitempty"` // "agent" or "replay"
}

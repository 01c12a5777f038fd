package models

import (
	"encoding/json"
	"time"
)

// ActionRecord is one appended, immutable log entry per agent step.
type ActionRecord struct {
	ID                string          `json:"id"`
	SessionID         string          `json:"session_id"`
	Step              int             `json:"step"`
	ActionType        string          `json:"action_type"`
	TargetDescription string          `json:"target_description"`
	TargetSelector    string          `json:"target_selector,omitempty"`
	InputValue        string          `json:"input_value,omitempty"`
	OutputValue       string          `json:"output_value,omitempty"`
	Success           bool            `json:"success"`
	DurationMs        int64           `json:"duration_ms"`
	Metadata          json.RawMessage `json:"metadata,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}

// ActionMetadata is the structured metadata column of an ActionRecord.
type ActionMetadata struct {
	Step       int             `json:"step"`
	MaxSteps   int             `json:"maxSteps"`
	Goal       string          `json:"goal,omitempty"`
	Action     json.RawMessage `json:"action,omitempty"`
	Evaluation string          `json:"evaluation,omitempty"`
	Memory     string          `json:"memory,omitempty"`
	Result     string          `json:"result,omitempty"`
	URL        string          `json:"url,omitempty"`
}

// StepObservation is the defined callback contract between the agent loop and
// the session engine: one tagged record per step, no attribute probing.
type StepObservation struct {
	Step       int             `json:"step"`
	MaxSteps   int             `json:"maxSteps"`
	Goal       string          `json:"goal,omitempty"`
	Action     json.RawMessage `json:"action,omitempty"`
	Result     string          `json:"result,omitempty"`
	Evaluation string          `json:"evaluation,omitempty"`
	Memory     string          `json:"memory,omitempty"`
	URL        string          `json:"url,omitempty"`
}

// ChatMessage is one persisted chat history entry for a session.
type ChatMessage struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

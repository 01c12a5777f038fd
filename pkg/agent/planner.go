// Package agent runs the observe-plan-act loop that drives a browser
// session: a planner proposes the next actions, a tool executor applies
// them to the page, and a step callback lets the engine observe, persist,
// and stop the run.
package agent

import (
	"context"
	"encoding/json"
)

// ToolCall is one action the planner asked for.
type ToolCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// PlanRequest is one turn of planner input.
type PlanRequest struct {
	Task        string
	Step        int
	MaxSteps    int
	History     []StepRecord
	PageText    string
	CurrentURL  string
	// MarksDescription lists numbered interactive elements when vision
	// grounding is active; empty otherwise.
	MarksDescription string
	// AnnotatedScreenshot is the base64 set-of-marks image, sent to
	// vision-capable models.
	AnnotatedScreenshot string
	// RetryNote carries the previous failure when re-prompting.
	RetryNote string
	// Interventions are user messages injected since the last step.
	Interventions []string
}

// StepRecord summarizes a completed step for planner context.
type StepRecord struct {
	Step       int    `json:"step"`
	Goal       string `json:"goal"`
	Result     string `json:"result"`
	Evaluation string `json:"evaluation"`
}

// PlanResult is the planner's decision for one step.
type PlanResult struct {
	// Evaluation judges the previous step's outcome.
	Evaluation string `json:"evaluation_previous_goal"`
	// Memory is the planner's running notes across steps.
	Memory string `json:"memory"`
	// NextGoal names what the next actions are for.
	NextGoal string `json:"next_goal"`
	// Actions are executed in order within the step.
	Actions []ToolCall `json:"actions"`
}

// Planner proposes the next actions for a session step.
type Planner interface {
	Plan(ctx context.Context, req *PlanRequest) (*PlanResult, error)
}

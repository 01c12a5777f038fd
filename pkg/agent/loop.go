package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/webpilot-ai/webpilot/pkg/browser"
	"github.com/webpilot-ai/webpilot/pkg/models"
	"github.com/webpilot-ai/webpilot/pkg/vision"
)

// MaxConsecutiveFailures is the threshold for aborting the loop. After
// this many planner calls fail back to back, the run stops.
const MaxConsecutiveFailures = 3

// DefaultIterationTimeout bounds one plan-and-act step.
const DefaultIterationTimeout = 2 * time.Minute

// Decision is the step callback's verdict on whether the loop proceeds.
type Decision int

const (
	// DecisionContinue lets the loop run the next step.
	DecisionContinue Decision = iota
	// DecisionStop ends the run as user-stopped.
	DecisionStop
	// DecisionCancel ends the run as cancelled.
	DecisionCancel
)

// StepCallback observes each completed step and decides whether the loop
// continues. It is the only channel from the loop back to its owner.
type StepCallback func(ctx context.Context, obs *models.StepObservation) Decision

// Outcome classifies how a run ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeStopped   Outcome = "stopped"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeMaxSteps  Outcome = "max_steps"
	OutcomeFailed    Outcome = "failed"
)

// Result is the final state of a run.
type Result struct {
	Outcome Outcome
	Success bool
	// FinalAnswer is the done tool's result text, empty unless the
	// planner called done.
	FinalAnswer string
	Steps       []models.StepObservation
	// CachedActions is the replayable low-level action sequence, in
	// execution order, for runs that are worth caching.
	CachedActions []models.CachedAction
}

// IterationState tracks failure streaks across loop iterations.
type IterationState struct {
	CurrentStep         int
	ConsecutiveFailures int
	LastErrorMessage    string
}

// RecordSuccess resets failure tracking.
func (s *IterationState) RecordSuccess() {
	s.ConsecutiveFailures = 0
	s.LastErrorMessage = ""
}

// RecordFailure notes a failed planner interaction.
func (s *IterationState) RecordFailure(errMsg string) {
	s.ConsecutiveFailures++
	s.LastErrorMessage = errMsg
}

// ShouldAbort reports whether the failure streak has hit the threshold.
func (s *IterationState) ShouldAbort() bool {
	return s.ConsecutiveFailures >= MaxConsecutiveFailures
}

// Config tunes one agent run.
type Config struct {
	Task             string
	MaxSteps         int
	IterationTimeout time.Duration
	// EnableVision activates set-of-marks grounding each step.
	EnableVision bool
}

// Agent drives one session's observe-plan-act loop.
type Agent struct {
	planner  Planner
	executor *Executor
	surface  *browser.Surface
	vision   *vision.Service
	config   Config

	// OnVision, when set, receives each analysis before planning.
	OnVision func(analysis *vision.Analysis)

	mu            sync.Mutex
	interventions []string
}

// New creates an agent. visionSvc may be nil when grounding is disabled.
func New(planner Planner, surface *browser.Surface, visionSvc *vision.Service, config Config) *Agent {
	if config.MaxSteps <= 0 {
		config.MaxSteps = models.DefaultMaxSteps
	}
	if config.IterationTimeout <= 0 {
		config.IterationTimeout = DefaultIterationTimeout
	}
	return &Agent{
		planner:  planner,
		executor: NewExecutor(surface, visionSvc),
		surface:  surface,
		vision:   visionSvc,
		config:   config,
	}
}

// AddTask queues a user instruction for injection into the next planner
// turn. Safe to call from any goroutine while Run is in progress.
func (a *Agent) AddTask(instruction string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.interventions = append(a.interventions, instruction)
}

func (a *Agent) drainInterventions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := a.interventions
	a.interventions = nil
	return out
}

// Run executes the loop until the planner declares done, the callback
// stops it, the step cap is hit, or failures accumulate. The
// callback is invoked after every step, including the final one.
func (a *Agent) Run(ctx context.Context, callback StepCallback) (*Result, error) {
	state := &IterationState{}
	result := &Result{Outcome: OutcomeMaxSteps}
	var history []StepRecord

	for step := 1; step <= a.config.MaxSteps; step++ {
		state.CurrentStep = step

		if err := ctx.Err(); err != nil {
			result.Outcome = OutcomeCancelled
			return result, err
		}
		if state.ShouldAbort() {
			result.Outcome = OutcomeFailed
			return result, fmt.Errorf("agent: %d consecutive failures, last: %s",
				state.ConsecutiveFailures, state.LastErrorMessage)
		}

		stepCtx, cancel := context.WithTimeout(ctx, a.config.IterationTimeout)
		obs, done, err := a.runStep(stepCtx, state, step, history, result)
		cancel()

		if err != nil {
			state.RecordFailure(err.Error())
			slog.Warn("Agent step failed", "step", step, "error", err)
			continue
		}
		state.RecordSuccess()

		result.Steps = append(result.Steps, *obs)
		history = append(history, StepRecord{
			Step:       obs.Step,
			Goal:       obs.Goal,
			Result:     obs.Result,
			Evaluation: obs.Evaluation,
		})

		if callback != nil {
			switch callback(ctx, obs) {
			case DecisionStop:
				result.Outcome = OutcomeStopped
				return result, nil
			case DecisionCancel:
				result.Outcome = OutcomeCancelled
				return result, nil
			}
		}

		if done {
			result.Outcome = OutcomeCompleted
			return result, nil
		}
	}

	return result, nil
}

// runStep performs one plan-and-act iteration. It returns the step
// observation and whether the planner declared the task done.
func (a *Agent) runStep(ctx context.Context, state *IterationState, step int, history []StepRecord, result *Result) (*models.StepObservation, bool, error) {
	req := &PlanRequest{
		Task:          a.config.Task,
		Step:          step,
		MaxSteps:      a.config.MaxSteps,
		History:       history,
		RetryNote:     state.LastErrorMessage,
		Interventions: a.drainInterventions(),
	}
	if url, err := a.surface.CurrentURL(ctx); err == nil {
		req.CurrentURL = url
	}
	if text, err := a.surface.ReadPage(ctx, 6000); err == nil {
		req.PageText = text
	}

	if a.config.EnableVision && a.vision != nil {
		if screenshot, err := a.surface.Screenshot(ctx); err == nil {
			if analysis, err := a.vision.AnalyzeScreenshot(ctx, screenshot); err == nil {
				req.MarksDescription = analysis.Description
				req.AnnotatedScreenshot = analysis.AnnotatedBase64
				if a.OnVision != nil {
					a.OnVision(analysis)
				}
			} else {
				slog.Warn("Vision analysis failed", "step", step, "error", err)
			}
		}
	}

	plan, err := a.planner.Plan(ctx, req)
	if err != nil {
		return nil, false, err
	}

	var (
		resultParts []string
		finalURL    string
		done        bool
	)
	for _, call := range plan.Actions {
		res, execErr := a.executor.Execute(ctx, call)
		resultParts = append(resultParts, res.Content)
		if res.URL != "" {
			finalURL = res.URL
		}
		if execErr != nil {
			// The failure text is already in resultParts; the planner
			// sees it through history and adjusts next step.
			break
		}
		if res.Cached != nil {
			result.CachedActions = append(result.CachedActions, *res.Cached)
		}
		if res.Done {
			done = true
			result.Success = res.Success
			result.FinalAnswer = res.Content
			break
		}
	}

	actionsJSON, err := json.Marshal(plan.Actions)
	if err != nil {
		actionsJSON = nil
	}
	obs := &models.StepObservation{
		Step:       step,
		MaxSteps:   a.config.MaxSteps,
		Goal:       plan.NextGoal,
		Action:     actionsJSON,
		Result:     strings.Join(resultParts, "\n"),
		Evaluation: plan.Evaluation,
		Memory:     plan.Memory,
		URL:        finalURL,
	}
	return obs, done, nil
}

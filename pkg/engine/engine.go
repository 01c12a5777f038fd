package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/webpilot-ai/webpilot/pkg/agent"
	"github.com/webpilot-ai/webpilot/pkg/browser"
	"github.com/webpilot-ai/webpilot/pkg/cache"
	"github.com/webpilot-ai/webpilot/pkg/config"
	"github.com/webpilot-ai/webpilot/pkg/events"
	"github.com/webpilot-ai/webpilot/pkg/models"
	"github.com/webpilot-ai/webpilot/pkg/store"
	"github.com/webpilot-ai/webpilot/pkg/stream"
	"github.com/webpilot-ai/webpilot/pkg/vision"
)

// ErrSessionNotRunning is returned by controls targeting a session with
// no live runtime.
var ErrSessionNotRunning = errors.New("engine: session is not running")

// ErrAlreadyRunning is returned by StartSession when the session has a
// live runtime.
var ErrAlreadyRunning = errors.New("engine: session is already running")

// errorMessageLimit caps persisted error text.
const errorMessageLimit = 500

// minStepsForEarlyStop is the first step at which completion phrases in
// the planner's own output may end the run. Earlier matches are noise
// from restating the task.
const minStepsForEarlyStop = 3

// Publisher delivers session events to subscribers.
type Publisher interface {
	Publish(sessionID, event string, payload map[string]any)
}

// Engine executes sessions end to end.
type Engine struct {
	store      store.Store
	publisher  Publisher
	pump       *stream.Pump
	cache      *cache.Cache
	cfg        *config.Config
	planner    agent.Planner
	summarizer *Summarizer
	registry   *SessionRegistry
}

// New creates an engine. summarizer may be nil to skip title/summary
// generation.
func New(st store.Store, publisher Publisher, cfg *config.Config, planner agent.Planner, summarizer *Summarizer) *Engine {
	return &Engine{
		store:      st,
		publisher:  publisher,
		pump:       stream.NewPump(publisher),
		cache:      cache.New(st),
		cfg:        cfg,
		planner:    planner,
		summarizer: summarizer,
		registry:   NewSessionRegistry(),
	}
}

// Registry exposes the session registry for status queries.
func (e *Engine) Registry() *SessionRegistry { return e.registry }

// StartSession begins executing a pending session in the background.
func (e *Engine) StartSession(ctx context.Context, sessionID string) error {
	session, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.Status.Terminal() {
		return fmt.Errorf("engine: session %s already %s", sessionID, session.Status)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	rt := &runtime{cancel: cancel}
	if !e.registry.add(sessionID, rt) {
		cancel()
		return fmt.Errorf("session %s: %w", sessionID, ErrAlreadyRunning)
	}

	go e.run(runCtx, session, rt)
	return nil
}

// Stop requests a graceful stop. The agent finishes its current step,
// then the run ends with status stopped.
func (e *Engine) Stop(sessionID string) error {
	if !e.registry.requestStop(sessionID) {
		return ErrSessionNotRunning
	}
	slog.Info("Stop requested", "session_id", sessionID)
	return nil
}

// Cancel tears the session down immediately by cancelling its context.
func (e *Engine) Cancel(sessionID string) error {
	rt := e.registry.get(sessionID)
	if rt == nil {
		return ErrSessionNotRunning
	}
	e.registry.requestStop(sessionID)
	rt.cancel()
	slog.Info("Session cancelled", "session_id", sessionID)
	return nil
}

// Pause sets the advisory pause flag. The agent holds before its next
// step; in-flight browser work is not interrupted.
func (e *Engine) Pause(sessionID string) error {
	if !e.registry.setPaused(sessionID, true) {
		return ErrSessionNotRunning
	}
	e.publisher.Publish(sessionID, events.EventSessionUpdate, map[string]any{
		"status": string(models.StatusPaused),
	})
	return nil
}

// Resume clears the pause flag.
func (e *Engine) Resume(sessionID string) error {
	if !e.registry.setPaused(sessionID, false) {
		return ErrSessionNotRunning
	}
	e.publisher.Publish(sessionID, events.EventSessionUpdate, map[string]any{
		"status": string(models.StatusActive),
	})
	return nil
}

// Intervene injects a user instruction into the running agent's next
// planner turn.
func (e *Engine) Intervene(sessionID, instruction string) error {
	rt := e.registry.get(sessionID)
	if rt == nil || rt.agent == nil {
		return ErrSessionNotRunning
	}
	rt.agent.AddTask(instruction)
	e.publisher.Publish(sessionID, events.EventIntervention, map[string]any{
		"message": instruction,
	})
	return nil
}

// ClickByMark clicks a numbered element from the session's latest vision
// analysis, outside the agent loop.
func (e *Engine) ClickByMark(ctx context.Context, sessionID string, markID int) error {
	rt := e.registry.get(sessionID)
	if rt == nil || rt.surface == nil {
		return ErrSessionNotRunning
	}
	if rt.vision == nil {
		return vision.ErrUnavailable
	}
	pt, err := rt.vision.ClickCoordinates(markID)
	if err != nil {
		return err
	}
	if err := rt.surface.ClickAt(ctx, pt.X, pt.Y); err != nil {
		return err
	}
	e.publisher.Publish(sessionID, events.EventClickByMark, map[string]any{
		"markId": markID,
		"x":      pt.X,
		"y":      pt.Y,
	})
	return nil
}

// StartStream implements events.StreamController.
func (e *Engine) StartStream(sessionID string) error {
	rt := e.registry.get(sessionID)
	if rt == nil || rt.surface == nil {
		return ErrSessionNotRunning
	}
	return e.pump.Start(context.Background(), sessionID, rt.surface)
}

// StopStream implements events.StreamController.
func (e *Engine) StopStream(sessionID string) {
	e.pump.Stop(sessionID)
}

// run executes one session to a terminal state. It owns every resource
// the session acquires and releases them on exit.
func (e *Engine) run(ctx context.Context, session *models.Session, rt *runtime) {
	sessionID := session.ID
	defer func() {
		e.pump.Stop(sessionID)
		if left := e.registry.remove(sessionID); left != nil && left.browser != nil {
			left.browser.Close()
		}
		rt.cancel()
		slog.Info("Session teardown complete", "session_id", sessionID)
	}()

	now := time.Now().UTC()
	session.Status = models.StatusActive
	session.StartedAt = &now
	if err := e.store.UpdateSession(ctx, session); err != nil {
		slog.Warn("Failed to mark session active", "session_id", sessionID, "error", err)
	}
	e.publisher.Publish(sessionID, events.EventSessionStart, map[string]any{
		"task":     session.Task,
		"maxSteps": session.MaxSteps,
	})

	b, err := e.acquireBrowser(ctx)
	if err != nil {
		e.failSession(ctx, session, fmt.Sprintf("Could not connect to browser: %v", err))
		return
	}
	surface := browser.NewSurface(b)

	var visionSvc *vision.Service
	if session.AgentConfig.VisionEnabled() && e.cfg.Agent.EnableVision {
		visionSvc = vision.NewService(e.detector())
	}

	e.registry.mu.Lock()
	rt.browser = b
	rt.surface = surface
	rt.vision = visionSvc
	e.registry.mu.Unlock()

	if err := e.pump.Start(ctx, sessionID, surface); err != nil {
		slog.Warn("Frame pump failed to start", "session_id", sessionID, "error", err)
	}

	startURL, _ := surface.CurrentURL(ctx)

	// Replay fast path: a cached plan for this exact task and URL skips
	// the planner entirely.
	if done := e.tryReplay(ctx, session, surface, startURL); done {
		return
	}

	e.runAgent(ctx, session, rt, surface, visionSvc, startURL)
}

// acquireBrowser obtains a browser per the configured mode.
func (e *Engine) acquireBrowser(ctx context.Context) (*browser.Browser, error) {
	if e.cfg.BrowserMode == config.BrowserModeDirect {
		return browser.Start(ctx, &browser.Launcher{Executable: e.cfg.BrowserExecutable})
	}
	return browser.Connect(ctx, e.cfg.CDPURL)
}

func (e *Engine) detector() vision.Detector {
	if e.cfg.DetectorURL != "" {
		return vision.NewRemoteDetector(e.cfg.DetectorURL)
	}
	return vision.HeuristicDetector{}
}

// tryReplay attempts the cached fast path. Returns true when the session
// reached a terminal state here (successful replay); a miss or a failed
// replay returns false and the caller falls back to the live agent.
func (e *Engine) tryReplay(ctx context.Context, session *models.Session, surface *browser.Surface, startURL string) bool {
	plan, err := e.cache.Get(ctx, session.Task, startURL)
	if err != nil {
		slog.Warn("Cache lookup failed", "session_id", session.ID, "error", err)
		return false
	}
	if plan == nil {
		return false
	}

	e.publisher.Publish(session.ID, events.EventSessionUpdate, map[string]any{
		"message": "Instant Replay",
		"step":    0,
	})

	dispatcher, err := surface.Browser().Dispatcher(ctx)
	if err != nil {
		return false
	}
	started := time.Now()
	completed, err := cache.NewReplayer(dispatcher).Replay(ctx, plan.Actions)
	if err != nil {
		// The cached plan is left untouched for the next attempt.
		slog.Warn("Replay failed, falling back to live agent",
			"session_id", session.ID, "completed", completed, "error", err)
		return false
	}

	result := &models.SessionResult{
		Task:       session.Task,
		TotalSteps: completed,
		Success:    true,
		Method:     "replay",
	}
	session.ActionsCount = completed
	e.completeSession(ctx, session, result, time.Since(started))
	return true
}

// runAgent executes the live planner loop.
func (e *Engine) runAgent(ctx context.Context, session *models.Session, rt *runtime, surface *browser.Surface, visionSvc *vision.Service, startURL string) {
	sessionID := session.ID
	started := time.Now()

	ag := agent.New(e.planner, surface, visionSvc, agent.Config{
		Task:             session.Task,
		MaxSteps:         session.MaxSteps,
		IterationTimeout: time.Duration(e.cfg.Agent.StepTimeoutSecs) * time.Second,
		EnableVision:     visionSvc != nil,
	})
	ag.OnVision = func(analysis *vision.Analysis) {
		e.publisher.Publish(sessionID, events.EventOwlVision, map[string]any{
			"screenshot":  analysis.AnnotatedBase64,
			"elements":    len(analysis.Marks),
			"description": analysis.Description,
		})
	}

	e.registry.mu.Lock()
	rt.agent = ag
	e.registry.mu.Unlock()

	earlyComplete := false
	callback := func(cbCtx context.Context, obs *models.StepObservation) agent.Decision {
		if cbCtx.Err() != nil {
			return agent.DecisionCancel
		}
		e.holdWhilePaused(cbCtx, sessionID)
		if e.registry.stopRequestedFor(sessionID) {
			return agent.DecisionStop
		}

		e.recordStep(cbCtx, session, obs)
		e.publishStep(cbCtx, session, surface, obs)

		if obs.Step >= minStepsForEarlyStop && completionSignaled(obs.Evaluation, obs.Goal) {
			slog.Info("Completion phrases detected, ending run early",
				"session_id", sessionID, "step", obs.Step)
			earlyComplete = true
			return agent.DecisionStop
		}
		return agent.DecisionContinue
	}

	result, err := ag.Run(ctx, callback)

	switch {
	case err != nil && ctx.Err() != nil:
		e.finishCancelled(session)
	case err != nil:
		e.failSession(ctx, session, err.Error())
	case result.Outcome == agent.OutcomeCancelled:
		e.finishCancelled(session)
	case result.Outcome == agent.OutcomeStopped && !earlyComplete:
		e.finishStopped(ctx, session, result)
	default:
		success := result.Success || earlyComplete
		if result.Outcome == agent.OutcomeMaxSteps {
			success = false
		}
		sr := &models.SessionResult{
			Task:       session.Task,
			TotalSteps: len(result.Steps),
			Steps:      result.Steps,
			Success:    success,
			Method:     "agent",
		}
		if result.FinalAnswer != "" {
			sr.ExtractedData = []string{result.FinalAnswer}
		}
		e.completeSession(ctx, session, sr, time.Since(started))

		if success && startURL != "" && len(result.CachedActions) > 0 {
			avg := time.Since(started).Milliseconds()
			if n := int64(len(result.CachedActions)); n > 0 {
				avg /= n
			}
			if cerr := e.cache.Put(ctx, session.Task, startURL, result.CachedActions, avg); cerr != nil {
				slog.Warn("Failed to cache action sequence", "session_id", sessionID, "error", cerr)
			}
		}
	}
}

// holdWhilePaused blocks between steps while the advisory pause flag is
// set. Stop and cancel both break the hold.
func (e *Engine) holdWhilePaused(ctx context.Context, sessionID string) {
	for e.registry.pausedFor(sessionID) && !e.registry.stopRequestedFor(sessionID) {
		select {
		case <-ctx.Done():
			return
		case <-time.After(200 * time.Millisecond):
		}
	}
}

// recordStep persists the step as an action record and bumps the
// session's step counter. Best effort; persistence failures never stop
// the run.
func (e *Engine) recordStep(ctx context.Context, session *models.Session, obs *models.StepObservation) {
	meta, err := json.Marshal(models.ActionMetadata{
		Step:       obs.Step,
		MaxSteps:   obs.MaxSteps,
		Goal:       obs.Goal,
		Action:     obs.Action,
		Evaluation: obs.Evaluation,
		Memory:     obs.Memory,
		Result:     obs.Result,
		URL:        obs.URL,
	})
	if err != nil {
		meta = nil
	}
	record := &models.ActionRecord{
		SessionID:         session.ID,
		Step:              obs.Step,
		ActionType:        "agent_step",
		TargetDescription: obs.Goal,
		OutputValue:       truncate(obs.Result, errorMessageLimit),
		Success:           true,
		Metadata:          meta,
	}
	if err := e.store.AppendAction(ctx, record); err != nil {
		slog.Warn("Failed to persist action record",
			"session_id", session.ID, "step", obs.Step, "error", err)
	}

	session.ActionsCount = obs.Step
	if err := e.store.UpdateSession(ctx, session); err != nil {
		slog.Warn("Failed to update session progress",
			"session_id", session.ID, "error", err)
	}
}

// publishStep emits the per-step event fan: a screenshot, the action
// log, and a progress update.
func (e *Engine) publishStep(ctx context.Context, session *models.Session, surface *browser.Surface, obs *models.StepObservation) {
	if shot, err := captureStepScreenshot(ctx, surface); err == nil {
		e.publisher.Publish(session.ID, events.EventScreenshot, map[string]any{
			"screenshot": shot,
			"step":       obs.Step,
		})
	} else {
		slog.Warn("Step screenshot failed", "session_id", session.ID, "step", obs.Step, "error", err)
	}

	e.publisher.Publish(session.ID, events.EventActionLog, map[string]any{
		"step":       obs.Step,
		"maxSteps":   obs.MaxSteps,
		"goal":       obs.Goal,
		"action":     json.RawMessage(obs.Action),
		"result":     obs.Result,
		"evaluation": obs.Evaluation,
		"memory":     obs.Memory,
		"url":        obs.URL,
	})
	e.publisher.Publish(session.ID, events.EventSessionUpdate, map[string]any{
		"step":     obs.Step,
		"maxSteps": obs.MaxSteps,
		"message":  obs.Goal,
	})
}

func (e *Engine) completeSession(ctx context.Context, session *models.Session, result *models.SessionResult, took time.Duration) {
	raw, err := json.Marshal(result)
	if err != nil {
		raw = nil
	}
	now := time.Now().UTC()
	session.Status = models.StatusCompleted
	session.CompletedAt = &now
	session.Result = raw
	if err := e.store.UpdateSession(ctx, session); err != nil {
		slog.Error("Failed to persist completed session", "session_id", session.ID, "error", err)
	}

	e.publisher.Publish(session.ID, events.EventSessionComplete, map[string]any{
		"success":    result.Success,
		"totalSteps": result.TotalSteps,
		"method":     result.Method,
		"durationMs": took.Milliseconds(),
	})
	slog.Info("Session complete", "session_id", session.ID,
		"success", result.Success, "method", result.Method, "steps", result.TotalSteps)

	if e.summarizer != nil {
		go e.summarizer.Summarize(session.ID, session.Task, result, e.store)
	}
}

func (e *Engine) finishStopped(ctx context.Context, session *models.Session, result *agent.Result) {
	now := time.Now().UTC()
	session.Status = models.StatusStopped
	session.CompletedAt = &now
	if err := e.store.UpdateSession(ctx, session); err != nil {
		slog.Warn("Failed to persist stopped session", "session_id", session.ID, "error", err)
	}
	e.publisher.Publish(session.ID, events.EventSessionStopped, map[string]any{
		"steps": len(result.Steps),
	})
	slog.Info("Session stopped by request", "session_id", session.ID, "steps", len(result.Steps))
}

// finishCancelled persists the cancelled state with a fresh context; the
// run context is already dead.
func (e *Engine) finishCancelled(session *models.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	now := time.Now().UTC()
	session.Status = models.StatusCancelled
	session.CompletedAt = &now
	if err := e.store.UpdateSession(ctx, session); err != nil {
		slog.Warn("Failed to persist cancelled session", "session_id", session.ID, "error", err)
	}
	e.publisher.Publish(session.ID, events.EventSessionStopped, map[string]any{
		"cancelled": true,
	})
	slog.Info("Session cancelled", "session_id", session.ID)
}

func (e *Engine) failSession(ctx context.Context, session *models.Session, message string) {
	now := time.Now().UTC()
	session.Status = models.StatusFailed
	session.CompletedAt = &now
	session.ErrorMessage = truncate(message, errorMessageLimit)
	if err := e.store.UpdateSession(ctx, session); err != nil {
		slog.Error("Failed to persist failed session", "session_id", session.ID, "error", err)
	}
	e.publisher.Publish(session.ID, events.EventError, map[string]any{
		"message": session.ErrorMessage,
	})
	slog.Error("Session failed", "session_id", session.ID, "error", message)
}

// evaluationDonePhrases and goalDonePhrases are the planner self-report
// markers that end a run early once enough steps have passed.
var evaluationDonePhrases = []string{
	"task completed",
	"goal achieved",
	"successfully finished",
	"completed successfully",
	"task is complete",
	"finished successfully",
}

var goalDonePhrases = []string{
	"none",
	"no further",
	"task complete",
	"done",
}

// completionSignaled reports whether the planner's evaluation or next
// goal reads as a completion statement.
func completionSignaled(evaluation, nextGoal string) bool {
	eval := strings.ToLower(evaluation)
	for _, p := range evaluationDonePhrases {
		if strings.Contains(eval, p) {
			return true
		}
	}
	goal := strings.TrimSpace(strings.ToLower(nextGoal))
	for _, p := range goalDonePhrases {
		if goal == p || strings.HasPrefix(goal, p) {
			return true
		}
	}
	return false
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}

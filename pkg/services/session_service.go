package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/webpilot-ai/webpilot/pkg/engine"
	"github.com/webpilot-ai/webpilot/pkg/models"
	"github.com/webpilot-ai/webpilot/pkg/store"
)

// maxTaskLength bounds the task description.
const maxTaskLength = 4000

// SessionService validates requests and orchestrates session lifecycle
// between the store and the engine.
type SessionService struct {
	store  store.Store
	engine *engine.Engine
}

// NewSessionService creates the service.
func NewSessionService(st store.Store, eng *engine.Engine) *SessionService {
	return &SessionService{store: st, engine: eng}
}

// Create validates the request and persists a pending session. Execution
// begins only on an explicit Start.
func (s *SessionService) Create(ctx context.Context, userID string, req *models.CreateSessionRequest) (*models.Session, error) {
	task := strings.TrimSpace(req.TaskDescription)
	if task == "" {
		return nil, NewValidationError("task_description", "must not be empty")
	}
	if len(task) > maxTaskLength {
		return nil, NewValidationError("task_description", "too long")
	}
	if req.AgentConfig != nil && req.AgentConfig.MaxSteps < 0 {
		return nil, NewValidationError("agent_config.maxSteps", "must not be negative")
	}

	session := &models.Session{
		UserID:      userID,
		Task:        task,
		Status:      models.StatusPending,
		MaxSteps:    req.AgentConfig.ResolveMaxSteps(),
		AgentConfig: req.AgentConfig,
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// Start launches the session's run in the background.
func (s *SessionService) Start(ctx context.Context, sessionID string) error {
	session, err := s.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.Status.Terminal() {
		return ErrAlreadyDone
	}
	if err := s.engine.StartSession(ctx, sessionID); err != nil {
		if errors.Is(err, engine.ErrAlreadyRunning) {
			return ErrAlreadyRunning
		}
		slog.Error("Failed to start session", "session_id", sessionID, "error", err)
		return err
	}
	return nil
}

// Get returns one session.
func (s *SessionService) Get(ctx context.Context, id string) (*models.Session, error) {
	session, err := s.store.GetSession(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	return session, err
}

// List returns the user's sessions, newest first.
func (s *SessionService) List(ctx context.Context, userID string, limit, offset int) ([]*models.Session, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.ListSessions(ctx, userID, limit, offset)
}

// Actions returns the session's step records.
func (s *SessionService) Actions(ctx context.Context, sessionID string) ([]*models.ActionRecord, error) {
	if _, err := s.Get(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.store.ListActions(ctx, sessionID)
}

// Stop requests a graceful stop of a running session.
func (s *SessionService) Stop(ctx context.Context, sessionID string) error {
	session, err := s.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.Status.Terminal() {
		return ErrAlreadyDone
	}
	if err := s.engine.Stop(sessionID); err != nil {
		return mapEngineErr(err)
	}
	return nil
}

// Cancel tears a running session down immediately.
func (s *SessionService) Cancel(ctx context.Context, sessionID string) error {
	session, err := s.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.Status.Terminal() {
		return ErrNotCancellable
	}
	if err := s.engine.Cancel(sessionID); err != nil {
		return mapEngineErr(err)
	}
	return nil
}

// Pause sets the advisory pause flag on a running session.
func (s *SessionService) Pause(ctx context.Context, sessionID string) error {
	if _, err := s.Get(ctx, sessionID); err != nil {
		return err
	}
	return mapEngineErr(s.engine.Pause(sessionID))
}

// Resume clears the pause flag.
func (s *SessionService) Resume(ctx context.Context, sessionID string) error {
	if _, err := s.Get(ctx, sessionID); err != nil {
		return err
	}
	return mapEngineErr(s.engine.Resume(sessionID))
}

// Intervene injects a user instruction into the running agent and logs
// it to the chat history.
func (s *SessionService) Intervene(ctx context.Context, sessionID, message string) error {
	message = strings.TrimSpace(message)
	if message == "" {
		return NewValidationError("message", "must not be empty")
	}
	if _, err := s.Get(ctx, sessionID); err != nil {
		return err
	}
	if err := s.engine.Intervene(sessionID, message); err != nil {
		return mapEngineErr(err)
	}
	if err := s.store.AppendMessage(ctx, &models.ChatMessage{
		SessionID: sessionID,
		Role:      "user",
		Content:   message,
	}); err != nil {
		slog.Warn("Failed to persist intervention message", "session_id", sessionID, "error", err)
	}
	return nil
}

// ClickByMark clicks a numbered element from the session's latest vision
// analysis.
func (s *SessionService) ClickByMark(ctx context.Context, sessionID string, markID int) error {
	if markID < 1 {
		return NewValidationError("mark_id", "must be positive")
	}
	if _, err := s.Get(ctx, sessionID); err != nil {
		return err
	}
	return mapEngineErr(s.engine.ClickByMark(ctx, sessionID, markID))
}

// Messages returns the session's chat history.
func (s *SessionService) Messages(ctx context.Context, sessionID string) ([]*models.ChatMessage, error) {
	if _, err := s.Get(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.store.ListMessages(ctx, sessionID)
}

func mapEngineErr(err error) error {
	if errors.Is(err, engine.ErrSessionNotRunning) {
		return ErrNotRunning
	}
	return err
}

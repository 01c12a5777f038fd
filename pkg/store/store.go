// Package store is the opaque record store behind the session engine.
// Two implementations exist: an in-memory store for tests and single-node
// development, and a Postgres store (pgx) for deployments. Row-level auth is
// a pass-through: the bearer token travels on the context and is handed to
// the backend as an opaque auth principal.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/webpilot-ai/webpilot/pkg/models"
)

// ErrNotFound is returned when a record does not exist or is not visible to
// the caller's principal.
var ErrNotFound = errors.New("record not found")

type tokenKey struct{}

// WithToken attaches a bearer token to the context for row-level auth
// pass-through. An empty token maps to the anonymous user.
func WithToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, tokenKey{}, token)
}

// Token returns the bearer token attached to the context, if any.
func Token(ctx context.Context) string {
	if v, ok := ctx.Value(tokenKey{}).(string); ok {
		return v
	}
	return ""
}

// SessionStore persists session records.
type SessionStore interface {
	CreateSession(ctx context.Context, s *models.Session) error
	GetSession(ctx context.Context, id string) (*models.Session, error)
	UpdateSession(ctx context.Context, s *models.Session) error
	ListSessions(ctx context.Context, userID string, limit, offset int) ([]*models.Session, error)
}

// ActionStore appends and lists per-step action records.
type ActionStore interface {
	AppendAction(ctx context.Context, a *models.ActionRecord) error
	ListActions(ctx context.Context, sessionID string) ([]*models.ActionRecord, error)
}

// MessageStore persists chat history.
type MessageStore interface {
	AppendMessage(ctx context.Context, m *models.ChatMessage) error
	ListMessages(ctx context.Context, sessionID string) ([]*models.ChatMessage, error)
}

// PlanStore persists cached action plans keyed by cache_key.
type PlanStore interface {
	GetPlan(ctx context.Context, cacheKey string) (*models.CachedPlan, error)
	UpsertPlan(ctx context.Context, p *models.CachedPlan) error
	// TouchPlan increments success_count and sets last_used_at for a hit.
	TouchPlan(ctx context.Context, cacheKey string, usedAt time.Time) error
}

// Store is the full record store consumed by the engine and API.
type Store interface {
	SessionStore
	ActionStore
	MessageStore
	PlanStore
	Close() error
}

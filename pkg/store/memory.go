package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/webpilot-ai/webpilot/pkg/models"
)

// MemoryStore is an in-process Store. All methods are safe for concurrent use.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
	actions  map[string][]*models.ActionRecord
	messages map[string][]*models.ChatMessage
	plans    map[string]*models.CachedPlan
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*models.Session),
		actions:  make(map[string][]*models.ActionRecord),
		messages: make(map[string][]*models.ChatMessage),
		plans:    make(map[string]*models.CachedPlan),
	}
}

func (m *MemoryStore) CreateSession(_ context.Context, s *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *MemoryStore) GetSession(_ context.Context, id string) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) UpdateSession(_ context.Context, s *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; !ok {
		return ErrNotFound
	}
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *MemoryStore) ListSessions(_ context.Context, userID string, limit, offset int) ([]*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		if userID != "" && s.UserID != userID {
			continue
		}
		cp := *s
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) AppendAction(_ context.Context, a *models.ActionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	cp := *a
	m.actions[a.SessionID] = append(m.actions[a.SessionID], &cp)
	return nil
}

func (m *MemoryStore) ListActions(_ context.Context, sessionID string) ([]*models.ActionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src := m.actions[sessionID]
	out := make([]*models.ActionRecord, len(src))
	for i, a := range src {
		cp := *a
		out[i] = &cp
	}
	return out, nil
}

func (m *MemoryStore) AppendMessage(_ context.Context, msg *models.ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	cp := *msg
	m.messages[msg.SessionID] = append(m.messages[msg.SessionID], &cp)
	return nil
}

func (m *MemoryStore) ListMessages(_ context.Context, sessionID string) ([]*models.ChatMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src := m.messages[sessionID]
	out := make([]*models.ChatMessage, len(src))
	for i, msg := range src {
		cp := *msg
		out[i] = &cp
	}
	return out, nil
}

func (m *MemoryStore) GetPlan(_ context.Context, cacheKey string) (*models.CachedPlan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.plans[cacheKey]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	cp.Actions = append([]models.CachedAction(nil), p.Actions...)
	return &cp, nil
}

func (m *MemoryStore) UpsertPlan(_ context.Context, p *models.CachedPlan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	cp.Actions = append([]models.CachedAction(nil), p.Actions...)
	if existing, ok := m.plans[p.CacheKey]; ok {
		cp.SuccessCount = existing.SuccessCount
		cp.CreatedAt = existing.CreatedAt
	} else if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	m.plans[p.CacheKey] = &cp
	return nil
}

func (m *MemoryStore) TouchPlan(_ context.Context, cacheKey string, usedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plans[cacheKey]
	if !ok {
		return ErrNotFound
	}
	p.SuccessCount++
	p.LastUsedAt = usedAt
	return nil
}

func (m *MemoryStore) Close() error { return nil }

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webpilot-ai/webpilot/pkg/models"
)

func TestMemoryStoreSessionLifecycle(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	s := &models.Session{UserID: "u1", Task: "find docs", Status: models.StatusPending, MaxSteps: 10}
	require.NoError(t, st.CreateSession(ctx, s))
	require.NotEmpty(t, s.ID)

	got, err := st.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "find docs", got.Task)

	got.Status = models.StatusActive
	require.NoError(t, st.UpdateSession(ctx, got))

	// The update did not leak through the earlier copy.
	again, err := st.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, again.Status)

	_, err = st.GetSession(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, st.UpdateSession(ctx, &models.Session{ID: "missing"}), ErrNotFound)
}

func TestMemoryStoreListSessionsOrderAndPaging(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	base := time.Now()
	for i := 0; i < 5; i++ {
		s := &models.Session{
			UserID:    "u1",
			Task:      "t",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, st.CreateSession(ctx, s))
	}
	require.NoError(t, st.CreateSession(ctx, &models.Session{UserID: "u2", Task: "other", CreatedAt: base}))

	out, err := st.ListSessions(ctx, "u1", 3, 0)
	require.NoError(t, err)
	require.Len(t, out, 3)
	// Newest first.
	assert.True(t, out[0].CreatedAt.After(out[1].CreatedAt))
	assert.True(t, out[1].CreatedAt.After(out[2].CreatedAt))

	rest, err := st.ListSessions(ctx, "u1", 10, 3)
	require.NoError(t, err)
	assert.Len(t, rest, 2)

	none, err := st.ListSessions(ctx, "u1", 10, 99)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemoryStoreActionsAndMessages(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, st.AppendAction(ctx, &models.ActionRecord{SessionID: "s1", Step: 1, ActionType: "agent_step"}))
	require.NoError(t, st.AppendAction(ctx, &models.ActionRecord{SessionID: "s1", Step: 2, ActionType: "agent_step"}))

	actions, err := st.ListActions(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, actions, 2)
	assert.Equal(t, 1, actions[0].Step)
	assert.NotEmpty(t, actions[0].ID)

	require.NoError(t, st.AppendMessage(ctx, &models.ChatMessage{SessionID: "s1", Role: "user", Content: "hi"}))
	messages, err := st.ListMessages(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "hi", messages[0].Content)
}

func TestMemoryStorePlanUpsertPreservesSuccessCount(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	plan := &models.CachedPlan{
		CacheKey: "k1",
		Goal:     "g",
		URL:      "https://example.com",
		Actions:  []models.CachedAction{{Type: models.CachedClick, X: 1, Y: 2}},
	}
	require.NoError(t, st.UpsertPlan(ctx, plan))

	require.NoError(t, st.TouchPlan(ctx, "k1", time.Now()))
	require.NoError(t, st.TouchPlan(ctx, "k1", time.Now()))

	// Re-upserting the plan keeps the accumulated count.
	update := *plan
	update.Actions = []models.CachedAction{{Type: models.CachedKeyPress, Key: "Enter"}}
	require.NoError(t, st.UpsertPlan(ctx, &update))

	got, err := st.GetPlan(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.SuccessCount)
	assert.Equal(t, models.CachedKeyPress, got.Actions[0].Type)
}

func TestMemoryStorePlanNotFound(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	_, err := st.GetPlan(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, st.TouchPlan(ctx, "missing", time.Now()), ErrNotFound)
}

func TestTokenContext(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, Token(ctx))

	ctx = WithToken(ctx, "abc123")
	assert.Equal(t, "abc123", Token(ctx))

	// Empty tokens are not attached.
	assert.Empty(t, Token(WithToken(context.Background(), "")))
}

package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webpilot-ai/webpilot/pkg/models"
	"github.com/webpilot-ai/webpilot/pkg/store"
)

func TestKeyNormalization(t *testing.T) {
	base := Key("Search for shoes", "https://example.com")

	assert.Equal(t, base, Key("  search for SHOES  ", "https://example.com"))
	assert.Equal(t, base, Key("search for shoes", "  https://example.com  "))

	// URL case is significant, goal case is not.
	assert.NotEqual(t, base, Key("search for shoes", "https://EXAMPLE.com"))
	assert.NotEqual(t, base, Key("search for boots", "https://example.com"))
	assert.Len(t, base, 64)
}

func TestCacheGetMissIsNil(t *testing.T) {
	c := New(store.NewMemoryStore())

	plan, err := c.Get(context.Background(), "no such goal", "https://example.com")
	require.NoError(t, err)
	assert.Nil(t, plan)
}

func TestCachePutAndGet(t *testing.T) {
	st := store.NewMemoryStore()
	c := New(st)
	ctx := context.Background()

	actions := []models.CachedAction{
		models.ClickAction(100, 200, 1000),
		models.TypeTextAction("hello", 500),
		models.KeyPressAction("Enter", 300),
	}
	require.NoError(t, c.Put(ctx, "Log in", "https://example.com", actions, 250))

	plan, err := c.Get(ctx, "log in", "https://example.com")
	require.NoError(t, err)
	require.NotNil(t, plan)
	assert.Equal(t, actions, plan.Actions)
	assert.Equal(t, int64(250), plan.AvgDurationMs)

	// Each hit bumps the success count.
	first := plan.SuccessCount
	plan, err = c.Get(ctx, "Log in", "https://example.com")
	require.NoError(t, err)
	assert.Greater(t, plan.SuccessCount, first)
}

func TestCachePutEmptyIsNoop(t *testing.T) {
	st := store.NewMemoryStore()
	c := New(st)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "goal", "https://example.com", nil, 0))

	plan, err := c.Get(ctx, "goal", "https://example.com")
	require.NoError(t, err)
	assert.Nil(t, plan)
}

func TestCachePutRejectsInvalidAction(t *testing.T) {
	c := New(store.NewMemoryStore())

	err := c.Put(context.Background(), "goal", "https://example.com",
		[]models.CachedAction{{Type: "hover"}}, 0)
	assert.Error(t, err)
}

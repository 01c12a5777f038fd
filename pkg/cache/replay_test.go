package cache

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webpilot-ai/webpilot/pkg/models"
)

// recordingDispatcher logs calls and optionally fails at a given index.
type recordingDispatcher struct {
	calls  []string
	failAt int // 1-based call number to fail at; 0 means never
}

func (d *recordingDispatcher) record(call string) error {
	d.calls = append(d.calls, call)
	if d.failAt > 0 && len(d.calls) == d.failAt {
		return errors.New("element gone")
	}
	return nil
}

func (d *recordingDispatcher) Click(_ context.Context, x, y float64, _ int) error {
	return d.record("click")
}

func (d *recordingDispatcher) TypeText(_ context.Context, text string) error {
	return d.record("type:" + text)
}

func (d *recordingDispatcher) KeyPress(_ context.Context, key string) error {
	return d.record("key:" + key)
}

func TestReplayRunsActionsInOrder(t *testing.T) {
	d := &recordingDispatcher{}
	r := NewReplayer(d)

	actions := []models.CachedAction{
		{Type: models.CachedClick, X: 10, Y: 20, WaitMs: 1},
		{Type: models.CachedTypeText, Text: "hello", WaitMs: 1},
		{Type: models.CachedKeyPress, Key: "Enter", WaitMs: 1},
	}
	n, err := r.Replay(context.Background(), actions)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"click", "type:hello", "key:Enter"}, d.calls)
}

func TestReplayAbandonsOnFirstError(t *testing.T) {
	d := &recordingDispatcher{failAt: 2}
	r := NewReplayer(d)

	actions := []models.CachedAction{
		{Type: models.CachedClick, X: 10, Y: 20, WaitMs: 1},
		{Type: models.CachedTypeText, Text: "a", WaitMs: 1},
		{Type: models.CachedKeyPress, Key: "Tab", WaitMs: 1},
	}
	n, err := r.Replay(context.Background(), actions)
	require.Error(t, err)
	assert.Equal(t, 1, n)
	// The third action never ran.
	assert.Len(t, d.calls, 2)
}

func TestReplayRejectsUnknownActionType(t *testing.T) {
	d := &recordingDispatcher{}
	r := NewReplayer(d)

	n, err := r.Replay(context.Background(), []models.CachedAction{{Type: "hover"}})
	require.Error(t, err)
	assert.Equal(t, 0, n)
	assert.Empty(t, d.calls)
}

func TestReplayHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := &recordingDispatcher{}
	n, err := NewReplayer(d).Replay(ctx, []models.CachedAction{
		{Type: models.CachedClick, X: 1, Y: 1},
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, n)
}

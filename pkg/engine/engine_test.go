package engine

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompletionSignaledFromEvaluation(t *testing.T) {
	tests := []struct {
		name       string
		evaluation string
		nextGoal   string
		want       bool
	}{
		{"task completed", "The task completed as expected", "continue", true},
		{"goal achieved", "Goal achieved on the checkout page", "review", true},
		{"completed successfully", "Form completed successfully", "verify", true},
		{"goal none", "clicked the button", "None", true},
		{"goal no further", "clicked the button", "No further actions needed", true},
		{"goal done", "clicked the button", "done", true},
		{"in progress", "Clicked the search box", "type the query", false},
		{"empty", "", "", false},
		{"done inside sentence", "clicked", "handle the done button", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, completionSignaled(tt.evaluation, tt.nextGoal))
		})
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 500))
	long := strings.Repeat("x", 600)
	assert.Len(t, truncate(long, errorMessageLimit), errorMessageLimit)
}

func TestRegistryAddRejectsDuplicate(t *testing.T) {
	r := NewSessionRegistry()
	_, cancel := context.WithCancel(context.Background())
	defer cancel()

	assert.True(t, r.add("s1", &runtime{cancel: cancel}))
	assert.False(t, r.add("s1", &runtime{cancel: cancel}))
	assert.True(t, r.Running("s1"))
}

func TestRegistryStopFlag(t *testing.T) {
	r := NewSessionRegistry()
	_, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.add("s1", &runtime{cancel: cancel})

	assert.False(t, r.stopRequestedFor("s1"))
	assert.True(t, r.requestStop("s1"))
	assert.True(t, r.stopRequestedFor("s1"))

	// Unknown sessions cannot be stopped.
	assert.False(t, r.requestStop("ghost"))
	assert.False(t, r.stopRequestedFor("ghost"))
}

func TestRegistryPauseFlag(t *testing.T) {
	r := NewSessionRegistry()
	_, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.add("s1", &runtime{cancel: cancel})

	assert.True(t, r.setPaused("s1", true))
	assert.True(t, r.pausedFor("s1"))
	assert.True(t, r.setPaused("s1", false))
	assert.False(t, r.pausedFor("s1"))
	assert.False(t, r.setPaused("ghost", true))
}

func TestRegistryRemove(t *testing.T) {
	r := NewSessionRegistry()
	_, cancel := context.WithCancel(context.Background())
	defer cancel()
	rt := &runtime{cancel: cancel}
	r.add("s1", rt)

	assert.Same(t, rt, r.remove("s1"))
	assert.False(t, r.Running("s1"))
	assert.Nil(t, r.remove("s1"))
}

func TestRegistryActiveSessions(t *testing.T) {
	r := NewSessionRegistry()
	_, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.add("a", &runtime{cancel: cancel})
	r.add("b", &runtime{cancel: cancel})

	ids := r.ActiveSessions()
	assert.ElementsMatch(t, []string{"a", "b"}, ids)
}

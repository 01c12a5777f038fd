package engine

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webpilot-ai/webpilot/pkg/agent"
	"github.com/webpilot-ai/webpilot/pkg/cache"
	"github.com/webpilot-ai/webpilot/pkg/cdp/cdptest"
	"github.com/webpilot-ai/webpilot/pkg/config"
	"github.com/webpilot-ai/webpilot/pkg/events"
	"github.com/webpilot-ai/webpilot/pkg/models"
	"github.com/webpilot-ai/webpilot/pkg/store"
)

// recorder captures published events in order.
type recorder struct {
	mu     sync.Mutex
	names  []string
	bySess map[string][]string
}

func (r *recorder) Publish(sessionID, event string, payload map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = append(r.names, event)
	if r.bySess == nil {
		r.bySess = make(map[string][]string)
	}
	r.bySess[sessionID] = append(r.bySess[sessionID], event)
}

func (r *recorder) indexOf(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, n := range r.names {
		if n == event {
			return i
		}
	}
	return -1
}

// donePlanner ends the run on its first turn.
type donePlanner struct{}

func (donePlanner) Plan(ctx context.Context, req *agent.PlanRequest) (*agent.PlanResult, error) {
	return &agent.PlanResult{
		NextGoal: "finish up",
		Actions: []agent.ToolCall{
			{Name: "done", Args: json.RawMessage(`{"success": true, "result": "all set"}`)},
		},
	}, nil
}

func evalValue(v any) map[string]any {
	return map[string]any{"result": map[string]any{"type": "string", "value": v}}
}

// liveHandler answers the commands a full run issues against the fake
// endpoint. failInput makes every input dispatch fail, which forces the
// replay path to abandon.
func liveHandler(failInput bool) cdptest.Handler {
	return func(method string, params json.RawMessage) (any, error) {
		switch method {
		case "Runtime.evaluate":
			var p struct {
				Expression string `json:"expression"`
			}
			_ = json.Unmarshal(params, &p)
			switch {
			case strings.Contains(p.Expression, "location.href"):
				return evalValue("about:blank"), nil
			case strings.Contains(p.Expression, "document.title"):
				return evalValue("blank"), nil
			case strings.Contains(p.Expression, "readyState"):
				return evalValue("complete"), nil
			case strings.Contains(p.Expression, "innerText"):
				return evalValue("nothing here"), nil
			}
			return evalValue(""), nil
		case "Page.captureScreenshot":
			return map[string]string{"data": "aW1n"}, nil
		case "Input.dispatchKeyEvent", "Input.dispatchMouseEvent", "Input.insertText":
			if failInput {
				return nil, errors.New("input blocked")
			}
			return nil, nil
		default:
			return nil, nil
		}
	}
}

func newRunEngine(t *testing.T, srv *cdptest.Server) (*Engine, store.Store, *recorder) {
	t.Helper()
	st := store.NewMemoryStore()
	cfg := &config.Config{
		BrowserMode: config.BrowserModeCustom,
		CDPURL:      srv.URL(),
		Agent:       config.AgentDefaults{MaxSteps: 5, StepTimeoutSecs: 30},
	}
	rec := &recorder{}
	return New(st, rec, cfg, donePlanner{}, nil), st, rec
}

func seedRunSession(t *testing.T, st store.Store, task string) *models.Session {
	t.Helper()
	s := &models.Session{UserID: "u", Task: task, Status: models.StatusPending, MaxSteps: 5}
	require.NoError(t, st.CreateSession(context.Background(), s))
	return s
}

func seedPlan(t *testing.T, st store.Store, task, url string) string {
	t.Helper()
	key := cache.Key(task, url)
	require.NoError(t, st.UpsertPlan(context.Background(), &models.CachedPlan{
		CacheKey: key,
		Goal:     task,
		URL:      url,
		Actions: []models.CachedAction{
			models.KeyPressAction("enter", 1),
			models.KeyPressAction("tab", 1),
		},
	}))
	return key
}

func waitTerminal(t *testing.T, st store.Store, id string, timeout time.Duration) *models.Session {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		s, err := st.GetSession(context.Background(), id)
		require.NoError(t, err)
		if s.Status.Terminal() {
			return s
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("session did not reach a terminal state")
	return nil
}

func waitNotRunning(t *testing.T, eng *Engine, id string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if !eng.Registry().Running(id) {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("session runtime was not released")
}

func TestRunReplayFastPath(t *testing.T) {
	srv := cdptest.New(t, liveHandler(false))
	eng, st, rec := newRunEngine(t, srv)
	session := seedRunSession(t, st, "check the docs")
	key := seedPlan(t, st, "check the docs", "about:blank")

	require.NoError(t, eng.StartSession(context.Background(), session.ID))
	final := waitTerminal(t, st, session.ID, 5*time.Second)
	waitNotRunning(t, eng, session.ID)

	assert.Equal(t, models.StatusCompleted, final.Status)
	assert.Equal(t, 2, final.ActionsCount)

	var result models.SessionResult
	require.NoError(t, json.Unmarshal(final.Result, &result))
	assert.Equal(t, "replay", result.Method)
	assert.True(t, result.Success)
	assert.Equal(t, 2, result.TotalSteps)

	// The replayed plan stays cached, with the hit recorded.
	plan, err := st.GetPlan(context.Background(), key)
	require.NoError(t, err)
	assert.Len(t, plan.Actions, 2)
	assert.Equal(t, 1, plan.SuccessCount)

	start := rec.indexOf(events.EventSessionStart)
	complete := rec.indexOf(events.EventSessionComplete)
	require.NotEqual(t, -1, start)
	require.NotEqual(t, -1, complete)
	assert.Less(t, start, complete)
}

func TestRunReplayFailureFallsBackWithoutDroppingPlan(t *testing.T) {
	srv := cdptest.New(t, liveHandler(true))
	eng, st, _ := newRunEngine(t, srv)
	session := seedRunSession(t, st, "check the docs")
	key := seedPlan(t, st, "check the docs", "about:blank")

	require.NoError(t, eng.StartSession(context.Background(), session.ID))
	final := waitTerminal(t, st, session.ID, 5*time.Second)
	waitNotRunning(t, eng, session.ID)

	assert.Equal(t, models.StatusCompleted, final.Status)

	var result models.SessionResult
	require.NoError(t, json.Unmarshal(final.Result, &result))
	assert.Equal(t, "agent", result.Method)
	assert.Equal(t, []string{"all set"}, result.ExtractedData)

	// A failed replay leaves the cached plan in place for the next run.
	plan, err := st.GetPlan(context.Background(), key)
	require.NoError(t, err)
	assert.Len(t, plan.Actions, 2)
}

func TestStartSessionRejectsDuplicateRun(t *testing.T) {
	gate := make(chan struct{})
	srv := cdptest.New(t, func(method string, params json.RawMessage) (any, error) {
		if method == "Runtime.evaluate" {
			<-gate
			return evalValue("about:blank"), nil
		}
		return liveHandler(false)(method, params)
	})
	eng, st, _ := newRunEngine(t, srv)
	session := seedRunSession(t, st, "check the docs")

	require.NoError(t, eng.StartSession(context.Background(), session.ID))
	err := eng.StartSession(context.Background(), session.ID)
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	close(gate)
	waitTerminal(t, st, session.ID, 5*time.Second)
	waitNotRunning(t, eng, session.ID)
}

func TestStartSessionRejectsTerminal(t *testing.T) {
	srv := cdptest.New(t, liveHandler(false))
	eng, st, _ := newRunEngine(t, srv)
	session := &models.Session{UserID: "u", Task: "done already", Status: models.StatusCompleted}
	require.NoError(t, st.CreateSession(context.Background(), session))

	assert.Error(t, eng.StartSession(context.Background(), session.ID))
	assert.False(t, eng.Registry().Running(session.ID))
}

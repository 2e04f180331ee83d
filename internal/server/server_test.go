// File: internal/server/server_test.go
package server

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/AGmitmanipal/MINDMESH/api/schemas"
	"github.com/AGmitmanipal/MINDMESH/internal/config"
	"github.com/AGmitmanipal/MINDMESH/internal/mocks"
	"github.com/AGmitmanipal/MINDMESH/internal/runner"
)

// stubResolver returns a canned result or panics on demand.
type stubResolver struct {
	result  schemas.StepResult
	panicky bool
	lastReq schemas.InferenceRequest
}

func (s *stubResolver) ResolveStep(_ context.Context, req schemas.InferenceRequest) schemas.StepResult {
	s.lastReq = req
	if s.panicky {
		panic("resolver blew up")
	}
	return s.result
}

// stubRuns is a canned RunControl.
type stubRuns struct {
	runID    string
	startErr error
	stopErr  error
	status   runner.RunStatus
}

func (s *stubRuns) Start(context.Context, string, string, int) (string, error) {
	return s.runID, s.startErr
}
func (s *stubRuns) Stop(string) error          { return s.stopErr }
func (s *stubRuns) Status() runner.RunStatus   { return s.status }

func newTestServer(t *testing.T, resolver StepResolver, runs RunControl) *Server {
	t.Helper()
	return NewServer(config.ServerConfig{Addr: ":0"}, resolver, runs, nil, zaptest.NewLogger(t))
}

func doJSON(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Engine().ServeHTTP(w, req)
	return w
}

func TestHandlePlan(t *testing.T) {
	t.Run("serves a resolved step", func(t *testing.T) {
		resolver := &stubResolver{result: schemas.StepResult{
			Done:   false,
			Action: &schemas.Action{Kind: schemas.ActionOpenTab, URL: "https://www.google.com/search?q=x"},
			Source: "deterministic",
		}}
		s := newTestServer(t, resolver, &stubRuns{})

		w := doJSON(t, s, http.MethodPost, "/api/v1/agent/plan",
			`{"goal":"search for x","step":0,"modelPreference":"gemini-2.5-flash"}`)

		require.Equal(t, http.StatusOK, w.Code)
		var resp schemas.PlanResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.True(t, resp.Ok)
		assert.False(t, resp.Done)
		require.NotNil(t, resp.Action)
		assert.Equal(t, schemas.ActionOpenTab, resp.Action.Kind)

		// The wire payload must map onto the inference request unchanged.
		assert.Equal(t, "search for x", resolver.lastReq.Goal)
		assert.Equal(t, "gemini-2.5-flash", resolver.lastReq.ModelPreference)
	})

	t.Run("rejects empty goal", func(t *testing.T) {
		s := newTestServer(t, &stubResolver{}, &stubRuns{})
		w := doJSON(t, s, http.MethodPost, "/api/v1/agent/plan", `{"goal":"  "}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("rejects out-of-range step", func(t *testing.T) {
		s := newTestServer(t, &stubResolver{}, &stubRuns{})
		w := doJSON(t, s, http.MethodPost, "/api/v1/agent/plan", `{"goal":"g","step":101}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("rejects malformed json", func(t *testing.T) {
		s := newTestServer(t, &stubResolver{}, &stubRuns{})
		w := doJSON(t, s, http.MethodPost, "/api/v1/agent/plan", `{"goal":`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("a panic below the chain still answers with a terminal plan", func(t *testing.T) {
		s := newTestServer(t, &stubResolver{panicky: true}, &stubRuns{})
		w := doJSON(t, s, http.MethodPost, "/api/v1/agent/plan", `{"goal":"g"}`)

		require.Equal(t, http.StatusInternalServerError, w.Code)
		var resp schemas.PlanResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.False(t, resp.Ok)
		assert.True(t, resp.Done)
		assert.NotEmpty(t, resp.Reason)
	})
}

func TestHandleStart(t *testing.T) {
	tests := []struct {
		name     string
		startErr error
		want     int
	}{
		{"accepted", nil, http.StatusAccepted},
		{"empty goal", runner.ErrEmptyGoal, http.StatusBadRequest},
		{"disabled", runner.ErrAgentDisabled, http.StatusForbidden},
		{"already running", runner.ErrAlreadyRunning, http.StatusConflict},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestServer(t, &stubResolver{}, &stubRuns{runID: "run-1", startErr: tc.startErr})
			w := doJSON(t, s, http.MethodPost, "/api/v1/agent/start",
				`{"goal":"find something","startUrl":"https://example.com/"}`)
			assert.Equal(t, tc.want, w.Code)
		})
	}
}

func TestHandleStopAndStatus(t *testing.T) {
	t.Run("stop known run", func(t *testing.T) {
		s := newTestServer(t, &stubResolver{}, &stubRuns{})
		w := doJSON(t, s, http.MethodPost, "/api/v1/agent/stop", `{"runId":"run-1"}`)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("stop failure surfaces as 404", func(t *testing.T) {
		s := newTestServer(t, &stubResolver{}, &stubRuns{stopErr: assert.AnError})
		w := doJSON(t, s, http.MethodPost, "/api/v1/agent/stop", `{"runId":"nope"}`)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("status reports the run record", func(t *testing.T) {
		s := newTestServer(t, &stubResolver{}, &stubRuns{status: runner.RunStatus{
			RunID: "run-2",
			State: runner.StateObserving,
		}})
		w := doJSON(t, s, http.MethodGet, "/api/v1/agent/status", "")

		require.Equal(t, http.StatusOK, w.Code)
		var st runner.RunStatus
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
		assert.Equal(t, "run-2", st.RunID)
		assert.Equal(t, runner.StateObserving, st.State)
	})
}

// TestHandleStartRunOutlivesRequest drives a real Runner through the start
// endpoint: the request context dies when the handler returns, and the run
// must keep going to a normal completion.
func TestHandleStartRunOutlivesRequest(t *testing.T) {
	snap := &schemas.DomSnapshot{
		URL:      "https://recipes.example.com/pasta",
		Title:    "Pasta carbonara recipe",
		MainText: "A classic carbonara recipe with pasta and eggs.",
	}

	browser := new(mocks.MockBrowserControl)
	browser.On("EnsureTab", mock.Anything, 0, 0).Return(1, nil).Once()
	browser.On("Navigate", mock.Anything, 1, snap.URL, mock.Anything).Return(nil).Once()
	browser.On("ExtractSnapshot", mock.Anything, 1, mock.Anything).Return(snap, nil).Once()

	cfg := config.AgentConfig{
		Enabled:                true,
		MaxDepth:               5,
		MaxActions:             20,
		NavigationBudget:       10,
		ClickBudget:            10,
		PerStepTimeout:         time.Second,
		RelevanceStopThreshold: 0.85,
		NavigationsPerSecond:   1000,
	}
	run := runner.NewRunner(cfg, browser, nil, nil, zaptest.NewLogger(t))
	s := NewServer(config.ServerConfig{Addr: ":0"}, &stubResolver{}, run, nil, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodPost, "/api/v1/agent/start",
		bytes.NewBufferString(`{"goal":"carbonara recipe pasta","startUrl":"https://recipes.example.com/pasta"}`)).WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Engine().ServeHTTP(w, req)
	cancel() // net/http cancels the request context as the handler returns

	require.Equal(t, http.StatusAccepted, w.Code)

	select {
	case <-run.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish in time")
	}

	st := run.Status()
	assert.Equal(t, runner.StateCompleted, st.State)
	assert.Equal(t, 1, st.Navigations)
	browser.AssertNumberOfCalls(t, "Navigate", 1)
}

func TestHandleMemory(t *testing.T) {
	t.Run("serves a run's memory nodes", func(t *testing.T) {
		store := new(mocks.MockStorage)
		store.On("GetMemoryNodes", mock.Anything, "run-3").Return([]schemas.MemoryRecord{
			{ID: "n1", RunID: "run-3", Step: 0, URL: "https://a.example/", Title: "A"},
			{ID: "n2", RunID: "run-3", Step: 1, URL: "https://b.example/", Title: "B"},
		}, nil).Once()

		s := NewServer(config.ServerConfig{Addr: ":0"}, &stubResolver{}, &stubRuns{}, store, zaptest.NewLogger(t))
		w := doJSON(t, s, http.MethodGet, "/api/v1/agent/memory/run-3", "")

		require.Equal(t, http.StatusOK, w.Code)
		var resp struct {
			RunID string                 `json:"runId"`
			Nodes []schemas.MemoryRecord `json:"nodes"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "run-3", resp.RunID)
		require.Len(t, resp.Nodes, 2)
		assert.Equal(t, "n1", resp.Nodes[0].ID)
		store.AssertExpectations(t)
	})

	t.Run("empty run yields an empty list", func(t *testing.T) {
		store := new(mocks.MockStorage)
		store.On("GetMemoryNodes", mock.Anything, "run-4").Return(nil, nil).Once()

		s := NewServer(config.ServerConfig{Addr: ":0"}, &stubResolver{}, &stubRuns{}, store, zaptest.NewLogger(t))
		w := doJSON(t, s, http.MethodGet, "/api/v1/agent/memory/run-4", "")

		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"nodes":[]`)
	})

	t.Run("storage failure is a 500", func(t *testing.T) {
		store := new(mocks.MockStorage)
		store.On("GetMemoryNodes", mock.Anything, "run-5").Return(nil, assert.AnError).Once()

		s := NewServer(config.ServerConfig{Addr: ":0"}, &stubResolver{}, &stubRuns{}, store, zaptest.NewLogger(t))
		w := doJSON(t, s, http.MethodGet, "/api/v1/agent/memory/run-5", "")
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})

	t.Run("no storage configured is a 503", func(t *testing.T) {
		s := newTestServer(t, &stubResolver{}, &stubRuns{})
		w := doJSON(t, s, http.MethodGet, "/api/v1/agent/memory/run-6", "")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}

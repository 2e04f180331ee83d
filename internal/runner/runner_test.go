// File: internal/runner/runner_test.go
package runner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/AGmitmanipal/MINDMESH/api/schemas"
	"github.com/AGmitmanipal/MINDMESH/internal/config"
	"github.com/AGmitmanipal/MINDMESH/internal/mocks"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testAgentConfig() config.AgentConfig {
	return config.AgentConfig{
		Enabled:                true,
		MaxDepth:               5,
		MaxActions:             20,
		NavigationBudget:       10,
		ClickBudget:            10,
		PerStepTimeout:         time.Second,
		Retries:                0,
		SettleDelay:            0,
		RelevanceStopThreshold: 0.85,
		NavigationsPerSecond:   1000,
	}
}

// waitDone blocks until the active run's goroutine exits.
func waitDone(t *testing.T, r *Runner) {
	t.Helper()
	select {
	case <-r.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish in time")
	}
}

func TestStartRejectsBadInput(t *testing.T) {
	browser := new(mocks.MockBrowserControl)
	r := NewRunner(testAgentConfig(), browser, nil, nil, zaptest.NewLogger(t))

	t.Run("empty goal", func(t *testing.T) {
		_, err := r.Start(context.Background(), "   ", "", 0)
		assert.ErrorIs(t, err, ErrEmptyGoal)
	})

	t.Run("agent disabled in config", func(t *testing.T) {
		cfg := testAgentConfig()
		cfg.Enabled = false
		disabled := NewRunner(cfg, browser, nil, nil, zaptest.NewLogger(t))
		_, err := disabled.Start(context.Background(), "anything", "", 0)
		assert.ErrorIs(t, err, ErrAgentDisabled)
	})
}

func TestStartRejectsWhenDisabledByStoredSettings(t *testing.T) {
	browser := new(mocks.MockBrowserControl)
	store := new(mocks.MockStorage)
	store.On("GetAgentSettings", mock.Anything).Return(schemas.AgentSettings{Enabled: false}, nil).Once()

	r := NewRunner(testAgentConfig(), browser, store, nil, zaptest.NewLogger(t))
	_, err := r.Start(context.Background(), "find something", "", 0)
	assert.ErrorIs(t, err, ErrAgentDisabled)
	assert.Equal(t, StateIdle, r.Status().State)
	store.AssertExpectations(t)
}

func TestStartRejectsConcurrentRun(t *testing.T) {
	browser := new(mocks.MockBrowserControl)
	browser.On("EnsureTab", mock.Anything, 0, 0).Return(7, nil).Once()

	// Block the first observation so the run stays active while the second
	// Start is attempted.
	release := make(chan struct{})
	browser.On("ExtractSnapshot", mock.Anything, 7, mock.Anything).
		Run(func(mock.Arguments) { <-release }).
		Return(nil, errors.New("tab gone")).Once()

	cfg := testAgentConfig()
	cfg.MaxActions = 1
	r := NewRunner(cfg, browser, nil, nil, zaptest.NewLogger(t))

	runID, err := r.Start(context.Background(), "first goal", "", 0)
	require.NoError(t, err)
	require.NotEmpty(t, runID)

	_, err = r.Start(context.Background(), "second goal", "", 0)
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	close(release)
	waitDone(t, r)
}

func TestRunHaltsOnNavigationBudget(t *testing.T) {
	linkySnapshot := &schemas.DomSnapshot{
		URL:      "https://docs.example.com/a",
		Title:    "Some page",
		MainText: "nothing matching here",
		Links: []schemas.Link{
			{Href: "/b", Text: "deeper page"},
			{Href: "/c", Text: "another page"},
		},
	}

	browser := new(mocks.MockBrowserControl)
	browser.On("EnsureTab", mock.Anything, 0, 0).Return(1, nil).Once()
	browser.On("Navigate", mock.Anything, 1, "https://docs.example.com/a", mock.Anything).Return(nil).Once()
	browser.On("ExtractSnapshot", mock.Anything, 1, mock.Anything).Return(linkySnapshot, nil)

	cfg := testAgentConfig()
	cfg.MaxDepth = 1
	cfg.MaxActions = 5
	cfg.NavigationBudget = 1
	cfg.ClickBudget = 5

	r := NewRunner(cfg, browser, nil, nil, zaptest.NewLogger(t))
	_, err := r.Start(context.Background(), "find the deeper page", "https://docs.example.com/a", 0)
	require.NoError(t, err)
	waitDone(t, r)

	st := r.Status()
	assert.Equal(t, StateCompleted, st.State)
	assert.Equal(t, 1, st.Navigations)
	browser.AssertNumberOfCalls(t, "Navigate", 1)
}

func TestRunStopsEarlyOnRelevance(t *testing.T) {
	snap := &schemas.DomSnapshot{
		URL:      "https://recipes.example.com/pasta",
		Title:    "Pasta carbonara recipe",
		MainText: "A classic carbonara recipe with pasta and eggs.",
		Links:    []schemas.Link{{Href: "/tiramisu", Text: "dessert"}},
	}

	browser := new(mocks.MockBrowserControl)
	browser.On("EnsureTab", mock.Anything, 0, 0).Return(3, nil).Once()
	browser.On("Navigate", mock.Anything, 3, snap.URL, mock.Anything).Return(nil).Once()
	browser.On("ExtractSnapshot", mock.Anything, 3, mock.Anything).Return(snap, nil).Once()

	r := NewRunner(testAgentConfig(), browser, nil, nil, zaptest.NewLogger(t))
	_, err := r.Start(context.Background(), "carbonara recipe pasta", snap.URL, 0)
	require.NoError(t, err)
	waitDone(t, r)

	assert.Equal(t, StateCompleted, r.Status().State)
	browser.AssertNumberOfCalls(t, "Navigate", 1)
	browser.AssertNumberOfCalls(t, "ExtractSnapshot", 1)
}

func TestRunCompletesWhenNoCandidateLinks(t *testing.T) {
	snap := &schemas.DomSnapshot{
		URL:      "https://end.example.com/",
		Title:    "Dead end",
		MainText: "nothing relevant",
		Links:    []schemas.Link{{Href: "#top", Text: "back to top"}},
	}

	browser := new(mocks.MockBrowserControl)
	browser.On("EnsureTab", mock.Anything, 0, 0).Return(1, nil).Once()
	browser.On("Navigate", mock.Anything, 1, snap.URL, mock.Anything).Return(nil).Once()
	browser.On("ExtractSnapshot", mock.Anything, 1, mock.Anything).Return(snap, nil).Once()

	r := NewRunner(testAgentConfig(), browser, nil, nil, zaptest.NewLogger(t))
	_, err := r.Start(context.Background(), "find hidden treasure", snap.URL, 0)
	require.NoError(t, err)
	waitDone(t, r)

	assert.Equal(t, StateCompleted, r.Status().State)
}

func TestRunBlocksDisallowedStartURL(t *testing.T) {
	browser := new(mocks.MockBrowserControl)
	browser.On("EnsureTab", mock.Anything, 0, 0).Return(1, nil).Once()

	cfg := testAgentConfig()
	cfg.AllowlistDomains = []string{"allowed.example.com"}

	r := NewRunner(cfg, browser, nil, nil, zaptest.NewLogger(t))
	_, err := r.Start(context.Background(), "read the page", "https://evil.invalid/", 0)
	require.NoError(t, err)
	waitDone(t, r)

	// Blocked navigation is a clean completion, not a failure, and the
	// browser never navigates.
	assert.Equal(t, StateCompleted, r.Status().State)
	browser.AssertNotCalled(t, "Navigate", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestStopIsCooperative(t *testing.T) {
	browser := new(mocks.MockBrowserControl)
	browser.On("EnsureTab", mock.Anything, 0, 0).Return(1, nil).Once()

	release := make(chan struct{})
	browser.On("ExtractSnapshot", mock.Anything, 1, mock.Anything).
		Run(func(mock.Arguments) { <-release }).
		Return(nil, errors.New("slow tab"))

	r := NewRunner(testAgentConfig(), browser, nil, nil, zaptest.NewLogger(t))
	runID, err := r.Start(context.Background(), "long running goal", "", 0)
	require.NoError(t, err)

	// An unknown run id is a no-op and leaves the active run untouched.
	require.NoError(t, r.Stop("no-such-run"))
	assert.False(t, r.Status().State.Terminal())

	require.NoError(t, r.Stop(runID))

	close(release)
	waitDone(t, r)
	assert.Equal(t, StateStopped, r.Status().State)

	// Stopping an already finished run is equally a no-op.
	require.NoError(t, r.Stop(runID))
	assert.Equal(t, StateStopped, r.Status().State)
}

func TestRunOutlivesStartContext(t *testing.T) {
	snap := &schemas.DomSnapshot{
		URL:      "https://recipes.example.com/pasta",
		Title:    "Pasta carbonara recipe",
		MainText: "A classic carbonara recipe with pasta and eggs.",
	}

	browser := new(mocks.MockBrowserControl)
	browser.On("EnsureTab", mock.Anything, 0, 0).Return(1, nil).Once()
	browser.On("Navigate", mock.Anything, 1, snap.URL, mock.Anything).Return(nil).Once()
	browser.On("ExtractSnapshot", mock.Anything, 1, mock.Anything).Return(snap, nil).Once()

	r := NewRunner(testAgentConfig(), browser, nil, nil, zaptest.NewLogger(t))

	// HTTP callers hand in a request-scoped context that dies the moment the
	// handler returns; the run must proceed regardless.
	ctx, cancel := context.WithCancel(context.Background())
	_, err := r.Start(ctx, "carbonara recipe pasta", snap.URL, 0)
	require.NoError(t, err)
	cancel()

	waitDone(t, r)

	st := r.Status()
	assert.Equal(t, StateCompleted, st.State)
	assert.Equal(t, 1, st.Navigations)
	browser.AssertNumberOfCalls(t, "Navigate", 1)
}

func TestActIgnoresUnsupportedAction(t *testing.T) {
	r := NewRunner(testAgentConfig(), new(mocks.MockBrowserControl), nil, nil, zaptest.NewLogger(t))

	err := r.act(context.Background(), &schemas.Action{Kind: schemas.ActionClick, Selector: "a"})
	assert.NoError(t, err)
	assert.Zero(t, r.Status().ActionsTaken)
}

func TestDryRunSkipsBrowserNavigation(t *testing.T) {
	snap := &schemas.DomSnapshot{
		URL:      "https://dry.example.com/",
		Title:    "whatever",
		MainText: "irrelevant",
	}

	browser := new(mocks.MockBrowserControl)
	browser.On("EnsureTab", mock.Anything, 0, 0).Return(1, nil).Once()
	browser.On("ExtractSnapshot", mock.Anything, 1, mock.Anything).Return(snap, nil).Once()

	cfg := testAgentConfig()
	cfg.DryRun = true

	r := NewRunner(cfg, browser, nil, nil, zaptest.NewLogger(t))
	_, err := r.Start(context.Background(), "find anything", "https://dry.example.com/", 0)
	require.NoError(t, err)
	waitDone(t, r)

	st := r.Status()
	assert.Equal(t, StateCompleted, st.State)
	// Counters advance even though the browser never navigated.
	assert.Equal(t, 1, st.Navigations)
	browser.AssertNotCalled(t, "Navigate", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRunPersistsMemoryAndLogs(t *testing.T) {
	snap := &schemas.DomSnapshot{
		URL:      "https://notes.example.com/",
		Title:    "Field notes",
		MainText: "carbonara recipe pasta",
	}

	browser := new(mocks.MockBrowserControl)
	browser.On("EnsureTab", mock.Anything, 0, 0).Return(2, nil).Once()
	browser.On("Navigate", mock.Anything, 2, snap.URL, mock.Anything).Return(nil).Once()
	browser.On("ExtractSnapshot", mock.Anything, 2, mock.Anything).Return(snap, nil).Once()

	store := new(mocks.MockStorage)
	store.On("GetAgentSettings", mock.Anything).Return(schemas.AgentSettings{Enabled: true}, nil).Once()
	store.On("AddMemoryNode", mock.Anything, mock.MatchedBy(func(n schemas.MemoryRecord) bool {
		return n.URL == snap.URL && n.Title == snap.Title && n.ID != ""
	})).Return(nil).Once()
	store.On("StoreEmbedding", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()
	store.On("AddAgentLog", mock.Anything, mock.Anything).Return(nil).Once()

	embedder := new(mocks.MockEmbedder)
	embedder.On("ExtractKeywords", snap.MainText, snap.Title).Return([]string{"carbonara", "pasta"}).Once()
	embedder.On("GenerateEmbedding", mock.Anything, mock.Anything, snap.Title, mock.Anything).
		Return(schemas.Embedding{Vector: []float32{0.1, 0.2}}, nil).Once()

	r := NewRunner(testAgentConfig(), browser, store, embedder, zaptest.NewLogger(t))
	_, err := r.Start(context.Background(), "carbonara recipe pasta", snap.URL, 0)
	require.NoError(t, err)
	waitDone(t, r)

	assert.Equal(t, StateCompleted, r.Status().State)
	store.AssertExpectations(t)
	embedder.AssertExpectations(t)
}

func TestRunFailsOnNavigationError(t *testing.T) {
	browser := new(mocks.MockBrowserControl)
	browser.On("EnsureTab", mock.Anything, 0, 0).Return(1, nil).Once()
	browser.On("Navigate", mock.Anything, 1, mock.Anything, mock.Anything).
		Return(errors.New("net::ERR_CONNECTION_REFUSED"))

	cfg := testAgentConfig()
	cfg.Retries = 1

	r := NewRunner(cfg, browser, nil, nil, zaptest.NewLogger(t))
	_, err := r.Start(context.Background(), "unreachable goal", "https://down.example.com/", 0)
	require.NoError(t, err)
	waitDone(t, r)

	st := r.Status()
	assert.Equal(t, StateError, st.State)
	assert.Contains(t, st.LastError, "ERR_CONNECTION_REFUSED")
	// One attempt plus one retry.
	browser.AssertNumberOfCalls(t, "Navigate", 2)
}

func TestStartAfterTerminalRunSucceeds(t *testing.T) {
	snap := &schemas.DomSnapshot{URL: "https://a.example/", Title: "t", MainText: "x"}

	browser := new(mocks.MockBrowserControl)
	browser.On("EnsureTab", mock.Anything, 0, 0).Return(1, nil)
	browser.On("Navigate", mock.Anything, 1, mock.Anything, mock.Anything).Return(nil)
	browser.On("ExtractSnapshot", mock.Anything, 1, mock.Anything).Return(snap, nil)

	r := NewRunner(testAgentConfig(), browser, nil, nil, zaptest.NewLogger(t))

	first, err := r.Start(context.Background(), "goal one", "https://a.example/", 0)
	require.NoError(t, err)
	waitDone(t, r)

	second, err := r.Start(context.Background(), "goal two", "https://a.example/", 0)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
	waitDone(t, r)
}

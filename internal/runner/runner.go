// File: internal/runner/runner.go
package runner

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/AGmitmanipal/MINDMESH/api/schemas"
	"github.com/AGmitmanipal/MINDMESH/internal/config"
	"github.com/AGmitmanipal/MINDMESH/internal/observability"
	"github.com/AGmitmanipal/MINDMESH/internal/safety"
)

// uuidNewString is swapped out in tests for deterministic run and node ids.
var uuidNewString = uuid.NewString

// summaryMaxLen caps the main-text prefix stored in each memory record.
const summaryMaxLen = 400

// Runner drives one autonomous run at a time through the
// plan -> act -> observe cycle. A single Runner serializes runs: Start
// rejects callers while a run is in a non-terminal state.
//
// The loop's local planning policy is snapshot driven: the first action of
// every run observes the current page, and every later step either navigates
// to the best-ranked outbound link or completes the run when no candidate
// survives filtering.
type Runner struct {
	cfg      config.AgentConfig
	browser  schemas.BrowserControl
	store    schemas.Storage
	embedder schemas.Embedder
	logger   *zap.Logger
	limiter  *rate.Limiter

	mu        sync.Mutex
	status    RunStatus
	budgets   Budgets
	dryRun    bool
	allowlist []string
	goalTerms []string
	visited   map[string]struct{}
	snapshot  *schemas.DomSnapshot
	history   []schemas.HistoryEntry
	stopFlag  bool
	done      chan struct{}
}

// NewRunner wires the run core to its collaborators. store and embedder may
// be nil; persistence is then skipped with a warning per run.
func NewRunner(cfg config.AgentConfig, browser schemas.BrowserControl, store schemas.Storage, embedder schemas.Embedder, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = observability.GetLogger().Named("runner")
	}

	nps := cfg.NavigationsPerSecond
	if nps <= 0 {
		nps = 1.0
	}

	return &Runner{
		cfg:      cfg,
		browser:  browser,
		store:    store,
		embedder: embedder,
		logger:   logger,
		limiter:  rate.NewLimiter(rate.Limit(nps), 1),
		status:   RunStatus{State: StateIdle},
	}
}

// Start begins a new run and returns its id. The call is synchronous up to
// and including tab acquisition; the loop itself runs on its own goroutine.
// Budgets and the allowlist come from configuration, overridden by stored
// agent settings when the storage collaborator serves them.
func (r *Runner) Start(ctx context.Context, goal, startURL string, tabID int) (string, error) {
	if strings.TrimSpace(goal) == "" {
		return "", ErrEmptyGoal
	}
	if !r.cfg.Enabled {
		return "", ErrAgentDisabled
	}

	r.mu.Lock()
	if r.status.State != StateIdle && !r.status.State.Terminal() {
		r.mu.Unlock()
		return "", ErrAlreadyRunning
	}
	// Claim the slot before doing slow I/O so concurrent Starts are rejected
	// rather than interleaved.
	runID := uuidNewString()
	now := time.Now()
	r.status = RunStatus{
		RunID:     runID,
		State:     StatePlanning,
		Goal:      goal,
		StartedAt: now,
		UpdatedAt: now,
	}
	r.mu.Unlock()

	budgets, dryRun, allowlist, err := r.effectiveSettings(ctx)
	if err != nil {
		r.release()
		return "", err
	}

	resolvedTab, err := r.browser.EnsureTab(ctx, tabID, 0)
	if err != nil {
		r.release()
		return "", fmt.Errorf("acquiring browser tab: %w", err)
	}

	r.mu.Lock()
	r.status.TabID = resolvedTab
	r.budgets = budgets
	r.dryRun = dryRun
	r.allowlist = allowlist
	r.goalTerms = GoalTerms(goal)
	r.visited = make(map[string]struct{})
	r.snapshot = nil
	r.history = nil
	r.stopFlag = false
	r.done = make(chan struct{})
	r.mu.Unlock()

	r.logger.Info("run started",
		zap.String("run_id", runID),
		zap.String("goal", goal),
		zap.String("start_url", startURL),
		zap.Int("tab_id", resolvedTab),
		zap.Bool("dry_run", dryRun))

	// The loop outlives the caller. HTTP Starts hand in a request-scoped
	// context that net/http cancels when the handler returns, so only the
	// synchronous phase above uses it; the loop runs on a detached context
	// and stops through Stop or its budgets.
	go r.loop(context.WithoutCancel(ctx), runID, startURL)
	return runID, nil
}

// Stop requests a cooperative stop of the identified run. The loop observes
// the flag at its next iteration boundary; mid-action work is never
// interrupted. A runID that names no active run is a no-op: the caller's
// intent (that run not running) already holds.
func (r *Runner) Stop(runID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status.RunID != runID || r.status.State.Terminal() || r.status.State == StateIdle {
		r.logger.Debug("stop ignored, no active run with that id", zap.String("run_id", runID))
		return nil
	}
	r.stopFlag = true
	return nil
}

// Status returns a copy of the current run record.
func (r *Runner) Status() RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Done exposes the active run's completion channel, or nil when no run has
// been started. Test hooks and the request layer wait on it.
func (r *Runner) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

// effectiveSettings merges stored agent settings over configuration. Storage
// errors fall back to configuration with a warning; a stored Enabled=false
// is authoritative and aborts the Start.
func (r *Runner) effectiveSettings(ctx context.Context) (Budgets, bool, []string, error) {
	budgets := Budgets{
		MaxDepth:         r.cfg.MaxDepth,
		MaxActions:       r.cfg.MaxActions,
		NavigationBudget: r.cfg.NavigationBudget,
		ClickBudget:      r.cfg.ClickBudget,
	}
	dryRun := r.cfg.DryRun
	allowlist := r.cfg.AllowlistDomains

	if r.store == nil {
		return budgets, dryRun, allowlist, nil
	}

	settings, err := r.store.GetAgentSettings(ctx)
	if err != nil {
		r.logger.Warn("loading agent settings failed, using configuration", zap.Error(err))
		return budgets, dryRun, allowlist, nil
	}

	if !settings.Enabled {
		return budgets, dryRun, allowlist, ErrAgentDisabled
	}
	if settings.DryRun {
		dryRun = true
	}
	if settings.MaxDepth > 0 {
		budgets.MaxDepth = settings.MaxDepth
	}
	if settings.MaxActions > 0 {
		budgets.MaxActions = settings.MaxActions
	}
	if settings.NavigationBudget > 0 {
		budgets.NavigationBudget = settings.NavigationBudget
	}
	if settings.ClickBudget > 0 {
		budgets.ClickBudget = settings.ClickBudget
	}
	if len(settings.AllowlistDomains) > 0 {
		allowlist = settings.AllowlistDomains
	}
	return budgets, dryRun, allowlist, nil
}

// release returns the Runner to idle after a failed Start.
func (r *Runner) release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = RunStatus{State: StateIdle}
}

// loop is the run's goroutine. Every exit path parks the status in a
// terminal state; panics are converted to StateError so a crashed run never
// wedges the Runner.
func (r *Runner) loop(ctx context.Context, runID, startURL string) {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()
	defer close(done)

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("run loop panicked", zap.String("run_id", runID), zap.Any("panic", rec))
			r.fail(fmt.Sprintf("panic: %v", rec))
		}
	}()

	pendingURL := strings.TrimSpace(startURL)
	step := 0

	for {
		if r.stopRequested() {
			r.finish(StateStopped, "stop requested")
			return
		}
		if err := ctx.Err(); err != nil {
			r.finish(StateStopped, "context canceled: "+err.Error())
			return
		}

		r.mu.Lock()
		budgets, st := r.budgets, r.status
		r.mu.Unlock()
		if name, hit := budgets.exhausted(st); hit {
			r.logger.Info("budget exhausted", zap.String("run_id", runID), zap.String("budget", name))
			r.finish(StateCompleted, "budget exhausted: "+name)
			return
		}

		// -- Plan --
		r.setState(StatePlanning)
		action, reason, ok := r.plan(pendingURL)
		pendingURL = ""
		if !ok {
			r.finish(StateCompleted, reason)
			return
		}

		// -- Act --
		r.setState(StateActing)
		if err := r.act(ctx, action); err != nil {
			var blocked *safety.ValidationError
			if errors.As(err, &blocked) {
				r.finish(StateCompleted, "navigation blocked: "+blocked.Message)
				return
			}
			r.logger.Error("action failed", zap.String("run_id", runID), zap.Int("step", step), zap.Error(err))
			r.fail(err.Error())
			return
		}

		// -- Observe --
		r.setState(StateObserving)
		snap := r.observe(ctx)
		r.recordStep(ctx, runID, step, action, snap)

		if snap != nil {
			score := Relevance(r.goalTermsCopy(), snap)
			r.logger.Debug("page relevance",
				zap.String("run_id", runID),
				zap.Int("step", step),
				zap.String("url", snap.URL),
				zap.Float64("score", score))
			if score >= r.cfg.RelevanceStopThreshold {
				r.finish(StateCompleted, fmt.Sprintf("relevance threshold reached (%.2f)", score))
				return
			}
		}

		step++
		if !r.settle(ctx) {
			r.finish(StateStopped, "context canceled")
			return
		}
	}
}

// plan decides the next action. The order is fixed: a pending caller-supplied
// URL first, then a forced observation when no snapshot exists yet, then the
// best-ranked outbound link. ok=false means the run is complete.
func (r *Runner) plan(pendingURL string) (*schemas.Action, string, bool) {
	if pendingURL != "" {
		return &schemas.Action{Kind: schemas.ActionNavigate, URL: pendingURL}, "", true
	}

	r.mu.Lock()
	snap, terms, visited, allowlist := r.snapshot, r.goalTerms, r.visited, r.allowlist
	r.mu.Unlock()

	if snap == nil {
		return &schemas.Action{Kind: schemas.ActionExtract, Selector: "body"}, "", true
	}

	next, found := rankLinks(snap, terms, visited, allowlist)
	if !found {
		return nil, "no candidate links remain", false
	}
	return &schemas.Action{Kind: schemas.ActionNavigate, URL: next}, "", true
}

// act executes one action. Navigations are policy-checked, rate-limited and
// retried per configuration; in dry-run mode the browser call is skipped but
// counters and the visited set still advance.
func (r *Runner) act(ctx context.Context, action *schemas.Action) error {
	switch action.Kind {
	case schemas.ActionNavigate:
		if err := safety.CheckActionPolicy(action, r.allowlistCopy()); err != nil {
			return err
		}
		if err := r.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}

		if !r.isDryRun() {
			var err error
			attempts := r.cfg.Retries + 1
			for i := 0; i < attempts; i++ {
				tabID := r.Status().TabID
				if err = r.browser.Navigate(ctx, tabID, action.URL, r.cfg.PerStepTimeout); err == nil {
					break
				}
				r.logger.Warn("navigation attempt failed",
					zap.String("url", action.URL),
					zap.Int("attempt", i+1),
					zap.Error(err))
			}
			if err != nil {
				return fmt.Errorf("navigating to %s: %w", action.URL, err)
			}
		} else {
			r.logger.Info("dry run, skipping navigation", zap.String("url", action.URL))
		}

		r.mu.Lock()
		r.visited[normalizeVisited(action.URL)] = struct{}{}
		r.visited[action.URL] = struct{}{}
		r.status.Navigations++
		r.status.Depth++
		r.status.ActionsTaken++
		r.status.UpdatedAt = time.Now()
		r.mu.Unlock()
		return nil

	case schemas.ActionExtract:
		r.mu.Lock()
		r.status.ActionsTaken++
		r.status.UpdatedAt = time.Now()
		r.mu.Unlock()
		return nil

	default:
		r.logger.Warn("unsupported action ignored", zap.String("kind", string(action.Kind)))
		return nil
	}
}

// observe captures the tab's DOM state. Snapshot failures degrade the run
// instead of killing it: the stale snapshot is cleared so the next plan phase
// completes the run when nothing new can be learned.
func (r *Runner) observe(ctx context.Context) *schemas.DomSnapshot {
	tabID := r.Status().TabID
	timeout := r.cfg.PerStepTimeout

	snap, err := r.browser.ExtractSnapshot(ctx, tabID, timeout)
	if err != nil {
		r.logger.Warn("snapshot extraction failed", zap.Int("tab_id", tabID), zap.Error(err))
		snap = nil
	}

	r.mu.Lock()
	r.snapshot = snap
	r.mu.Unlock()
	return snap
}

// recordStep persists the step's memory record, its embedding and a log row.
// All persistence is best effort; failures are logged and never stop the run.
func (r *Runner) recordStep(ctx context.Context, runID string, step int, action *schemas.Action, snap *schemas.DomSnapshot) {
	if r.store == nil || snap == nil {
		return
	}

	node := schemas.MemoryRecord{
		ID:        uuidNewString(),
		RunID:     runID,
		Step:      step,
		URL:       snap.URL,
		Title:     snap.Title,
		Summary:   truncateText(snap.MainText, summaryMaxLen),
		Action:    action,
		CreatedAt: time.Now(),
	}
	if r.embedder != nil {
		node.Keywords = r.embedder.ExtractKeywords(snap.MainText, snap.Title)
	}

	if err := r.store.AddMemoryNode(ctx, node); err != nil {
		r.logger.Warn("persisting memory node failed", zap.String("node_id", node.ID), zap.Error(err))
	} else if r.embedder != nil {
		emb, err := r.embedder.GenerateEmbedding(ctx, node.Summary, node.Title, node.Keywords)
		if err != nil {
			r.logger.Warn("embedding generation failed", zap.String("node_id", node.ID), zap.Error(err))
		} else if err := r.store.StoreEmbedding(ctx, node.ID, emb); err != nil {
			r.logger.Warn("storing embedding failed", zap.String("node_id", node.ID), zap.Error(err))
		}
	}

	entry := schemas.AgentLogEntry{
		RunID:     runID,
		Level:     "info",
		Message:   fmt.Sprintf("step %d: %s", step, action.Kind),
		URL:       snap.URL,
		Step:      step,
		CreatedAt: time.Now(),
	}
	if err := r.store.AddAgentLog(ctx, entry); err != nil {
		r.logger.Warn("persisting agent log failed", zap.Error(err))
	}
}

// settle pauses between steps so asynchronous page content can load. Returns
// false when the context is canceled during the pause.
func (r *Runner) settle(ctx context.Context) bool {
	if r.cfg.SettleDelay <= 0 {
		return true
	}
	timer := time.NewTimer(r.cfg.SettleDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (r *Runner) setState(s RunState) {
	r.mu.Lock()
	r.status.State = s
	r.status.UpdatedAt = time.Now()
	r.mu.Unlock()
}

// finish parks the run in a successful or stopped terminal state.
func (r *Runner) finish(s RunState, reason string) {
	r.mu.Lock()
	r.status.State = s
	r.status.LastError = ""
	r.status.UpdatedAt = time.Now()
	runID := r.status.RunID
	r.mu.Unlock()
	r.logger.Info("run finished",
		zap.String("run_id", runID),
		zap.String("state", string(s)),
		zap.String("reason", reason))
}

// fail parks the run in StateError with the failure message.
func (r *Runner) fail(msg string) {
	r.mu.Lock()
	r.status.State = StateError
	r.status.LastError = msg
	r.status.UpdatedAt = time.Now()
	r.mu.Unlock()
}

func (r *Runner) stopRequested() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopFlag
}

func (r *Runner) isDryRun() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dryRun
}

func (r *Runner) allowlistCopy() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.allowlist))
	copy(out, r.allowlist)
	return out
}

func (r *Runner) goalTermsCopy() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.goalTerms))
	copy(out, r.goalTerms)
	return out
}

// normalizeVisited strips fragments and trailing slashes so trivially
// distinct spellings of a URL count as one visit.
func normalizeVisited(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Fragment = ""
	s := u.String()
	return strings.TrimSuffix(s, "/")
}

// truncateText returns at most max bytes of s, never splitting mid rune
// boundary badly enough to matter for a summary prefix.
func truncateText(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[:max]
}

// File: internal/runner/status.go
package runner

import (
	"time"
)

// RunState is the state machine's phase for the active run.
type RunState string

const (
	StateIdle      RunState = "idle"      // No run in progress.
	StatePlanning  RunState = "planning"  // Choosing the next action.
	StateActing    RunState = "acting"    // Executing the chosen action.
	StateObserving RunState = "observing" // Capturing the resulting page state.
	StateCompleted RunState = "completed" // Terminal: goal reached or budgets/candidates exhausted.
	StateStopped   RunState = "stopped"   // Terminal: cooperative stop requested.
	StateError     RunState = "error"     // Terminal: the loop failed; a new Start is required.
)

// Terminal reports whether the state permits a fresh Start.
func (s RunState) Terminal() bool {
	switch s {
	case StateCompleted, StateStopped, StateError:
		return true
	}
	return false
}

// Budgets bound a run. All four are immutable per-run configuration; the run
// halts once any RunStatus counter reaches its bound. Budgets are checked
// before planning each step, never mid-action.
type Budgets struct {
	MaxDepth         int `json:"maxDepth"`
	MaxActions       int `json:"maxActions"`
	NavigationBudget int `json:"navigationBudget"`
	ClickBudget      int `json:"clickBudget"`
}

// RunStatus is the mutable record of the active run. It is mutated only by
// the state machine, under its lock; callers receive copies.
type RunStatus struct {
	RunID        string    `json:"runId"`
	State        RunState  `json:"state"`
	Goal         string    `json:"goal"`
	StartedAt    time.Time `json:"startedAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	TabID        int       `json:"tabId"`
	Depth        int       `json:"depth"`
	ActionsTaken int       `json:"actionsTaken"`
	Navigations  int       `json:"navigations"`
	Clicks       int       `json:"clicks"`
	LastError    string    `json:"lastError,omitempty"`
}

// exhausted reports which budget, if any, the status has reached.
func (b Budgets) exhausted(st RunStatus) (string, bool) {
	switch {
	case st.Depth >= b.MaxDepth:
		return "maxDepth", true
	case st.ActionsTaken >= b.MaxActions:
		return "maxActions", true
	case st.Navigations >= b.NavigationBudget:
		return "navigationBudget", true
	case st.Clicks >= b.ClickBudget:
		return "clickBudget", true
	}
	return "", false
}

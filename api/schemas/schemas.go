// File: api/schemas/schemas.go
package schemas

import (
	"time"
)

// ActionKind is an enumeration of every action a planner may emit. The set is
// closed: the validator and the act phase both switch exhaustively over it, so
// adding a kind is a compile-time visible change.
type ActionKind string

const (
	ActionOpenTab  ActionKind = "open_tab"  // Opens a new tab at a URL.
	ActionNavigate ActionKind = "navigate"  // Navigates the current tab to a URL.
	ActionClick    ActionKind = "click"     // Clicks an element by selector or visible text.
	ActionFillForm ActionKind = "fill_form" // Fills one or more form fields.
	ActionExtract  ActionKind = "extract"   // Extracts text/DOM content from the page.
	ActionCloseTab ActionKind = "close_tab" // Closes a tab by numeric id.
	ActionFinish   ActionKind = "finish"    // Terminates the run.
)

// KnownActionKinds lists every recognized kind, in declaration order.
var KnownActionKinds = []ActionKind{
	ActionOpenTab, ActionNavigate, ActionClick, ActionFillForm,
	ActionExtract, ActionCloseTab, ActionFinish,
}

// IsKnownActionKind reports whether k is one of the seven recognized kinds.
func IsKnownActionKind(k ActionKind) bool {
	for _, known := range KnownActionKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Action is a single step decided by a planner. It is immutable once produced:
// the act phase reads it but never mutates it. Exactly which payload fields are
// required depends on Kind (see safety.Validate).
type Action struct {
	Kind     ActionKind        `json:"kind"`
	URL      string            `json:"url,omitempty"`      // open_tab, navigate
	Selector string            `json:"selector,omitempty"` // click, extract
	Text     string            `json:"text,omitempty"`     // click (visible-text match)
	Fields   map[string]string `json:"fields,omitempty"`   // fill_form
	TabID    *int              `json:"tabId,omitempty"`    // close_tab
	Reason   string            `json:"reason,omitempty"`   // finish, diagnostics
}

// StepResult is the normalized outcome of resolving or validating one planning
// step. Done=true concludes the run; the Action, when present, is structurally
// valid and policy-checked.
type StepResult struct {
	Done   bool    `json:"done"`
	Action *Action `json:"action,omitempty"`
	Reason string  `json:"reason,omitempty"`
	// Source records which planner produced the action: "ondevice", "remote"
	// or "deterministic". Diagnostic only.
	Source string `json:"source,omitempty"`
	// DebugExcerpt carries a truncated copy of unparseable planner output.
	DebugExcerpt string `json:"debugExcerpt,omitempty"`
}

// Link is one outbound anchor captured in a DOM snapshot.
type Link struct {
	Href string `json:"href"`
	Text string `json:"text"`
}

// DomSnapshot is the read-only observation of a page produced once per observe
// phase by the browser-control collaborator.
type DomSnapshot struct {
	URL             string    `json:"url"`
	Title           string    `json:"title"`
	MetaDescription string    `json:"metaDescription,omitempty"`
	MainText        string    `json:"mainText"`
	Links           []Link    `json:"links"`
	Headings        []string  `json:"headings"`
	CapturedAt      time.Time `json:"capturedAt"`
}

// HistoryEntry is one prior (action, result) pair passed back to planners so
// they can avoid repeating failed steps.
type HistoryEntry struct {
	Action *Action `json:"action,omitempty"`
	Result string  `json:"result,omitempty"`
}

// InferenceRequest carries everything a backend needs to propose the next
// action. Snapshot and History may be nil/empty on the first step.
type InferenceRequest struct {
	Goal      string         `json:"goal"`
	Step      int            `json:"step"`
	Allowlist []string       `json:"allowlistDomains"`
	Snapshot  *DomSnapshot   `json:"snapshot,omitempty"`
	History   []HistoryEntry `json:"history,omitempty"`
	// ModelPreference is the caller supplied model name. The resolver uses it
	// to decide whether the remote fallback applies; backends may use it to
	// select which pipeline/model to run.
	ModelPreference string `json:"modelPreference,omitempty"`
}

// AgentSettings is the per-installation configuration served by the storage
// collaborator. The runner consults it at Start and once per run.
type AgentSettings struct {
	Enabled          bool     `json:"enabled"`
	DryRun           bool     `json:"dryRun"`
	MaxDepth         int      `json:"maxDepth"`
	MaxActions       int      `json:"maxActions"`
	NavigationBudget int      `json:"navigationBudget"`
	ClickBudget      int      `json:"clickBudget"`
	AllowlistDomains []string `json:"allowlistDomains"`
	PerStepTimeoutMs int      `json:"perStepTimeoutMs"`
	Retries          int      `json:"retries"`
}

// AgentLogEntry is a structured log row persisted through the storage
// collaborator, alongside (not replacing) process logging.
type AgentLogEntry struct {
	RunID     string    `json:"runId"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	URL       string    `json:"url,omitempty"`
	Step      int       `json:"step"`
	CreatedAt time.Time `json:"createdAt"`
}

// MemoryRecord is written once per step and never mutated. It derives from the
// step's snapshot plus the action that produced it.
type MemoryRecord struct {
	ID        string    `json:"id"`
	RunID     string    `json:"runId"`
	Step      int       `json:"step"`
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	Summary   string    `json:"summary"`
	Action    *Action   `json:"action,omitempty"`
	Keywords  []string  `json:"keywords,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Embedding is the vector representation of a memory record's text, computed
// by the external embedding collaborator.
type Embedding struct {
	Vector   []float32         `json:"vector"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// PlanRequest is the request-layer payload for a single planning step.
type PlanRequest struct {
	Goal             string         `json:"goal"`
	AllowlistDomains []string       `json:"allowlistDomains,omitempty"`
	Step             int            `json:"step,omitempty"`
	History          []HistoryEntry `json:"history,omitempty"`
	Snapshot         *DomSnapshot   `json:"snapshot,omitempty"`
	ModelPreference  string         `json:"modelPreference,omitempty"`
}

// PlanResponse mirrors StepResult over the wire, with Ok distinguishing a
// served result from a transport-level failure.
type PlanResponse struct {
	Ok     bool    `json:"ok"`
	Done   bool    `json:"done"`
	Action *Action `json:"action,omitempty"`
	Reason string  `json:"reason,omitempty"`
}

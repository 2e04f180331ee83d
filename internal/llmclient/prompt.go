// File: internal/llmclient/prompt.go
package llmclient

import (
	"fmt"

	json "github.com/json-iterator/go"

	"github.com/AGmitmanipal/MINDMESH/api/schemas"
)

// systemInstruction describes the action grammar to the model. Both backends
// send it verbatim; the validator re-checks everything the model returns, so
// the instruction is a hint, not a contract.
const systemInstruction = `You are the planning core of an autonomous browsing agent.
Given a goal, the current step, an optional page snapshot and the step history,
respond with a single JSON object describing the next browser action:

{"done": false, "action": {"kind": "<kind>", ...}, "reason": "<why>"}

Recognized kinds and their required fields:
  open_tab   {"url": "https://..."}
  navigate   {"url": "https://..."}
  click      {"selector": "css"} or {"text": "visible text"}
  fill_form  {"fields": {"selector": "value", ...}}
  extract    {"selector": "css"} (selector optional)
  close_tab  {"tabId": 3}
  finish     {"reason": "..."}

Set "done": true with a finish action when the goal is met or cannot proceed.
Navigation targets must stay inside the allowed domains when a non-empty
allowlist is supplied. Respond with JSON only, no prose.`

// buildUserPayload serializes the planning context as the JSON user message.
func buildUserPayload(req schemas.InferenceRequest) (string, error) {
	payload := struct {
		Goal             string                 `json:"goal"`
		Step             int                    `json:"step"`
		AllowlistDomains []string               `json:"allowlistDomains"`
		Snapshot         *schemas.DomSnapshot   `json:"snapshot,omitempty"`
		History          []schemas.HistoryEntry `json:"history,omitempty"`
	}{
		Goal:             req.Goal,
		Step:             req.Step,
		AllowlistDomains: req.Allowlist,
		Snapshot:         req.Snapshot,
		History:          req.History,
	}

	out, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal planning payload: %w", err)
	}
	return string(out), nil
}

// File: internal/safety/validator.go
package safety

import (
	"fmt"
	"net/url"
	"strings"

	json "github.com/json-iterator/go"

	"github.com/AGmitmanipal/MINDMESH/api/schemas"
)

// The validator is the last gate between planner output and the browser. It
// rejects malformed shapes (non-fatally, with a debug excerpt) and blocks
// policy-violating navigation targets (terminally, with done=true).

// debugExcerptLimit caps how much raw planner output is echoed back on a
// schema failure.
const debugExcerptLimit = 500

// restrictedSchemes are never navigable regardless of allowlist contents.
var restrictedSchemes = []string{
	"chrome://",
	"chrome-extension://",
	"edge://",
	"about:",
	"file://",
}

// ValidationError describes why a planner output was rejected.
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

const (
	codeMissingDone   = "MISSING_DONE"
	codeUnknownKind   = "UNKNOWN_ACTION_KIND"
	codeMissingField  = "MISSING_REQUIRED_FIELD"
	codeBlockedScheme = "BLOCKED_SCHEME"
	codeBlockedDomain = "BLOCKED_DOMAIN"
	codeBadURL        = "MALFORMED_URL"
)

// rawStepOutput is the shape planner output must deserialize into. Done is a
// pointer so its absence is distinguishable from false.
type rawStepOutput struct {
	Done   *bool           `json:"done"`
	Action *schemas.Action `json:"action"`
	Reason string          `json:"reason"`
}

// Validate checks raw planner output against the action grammar and the
// navigation policy. It never returns an error value by panicking or failing:
//   - schema violations yield a non-fatal result (Done=false, no action)
//     carrying a truncated excerpt of the offending output;
//   - policy violations yield a terminal result (Done=true) with a
//     human-readable block reason, which callers must treat as run
//     termination rather than something to retry.
func Validate(raw string, allowlist []string) schemas.StepResult {
	var out rawStepOutput
	if err := json.UnmarshalFromString(raw, &out); err != nil {
		return schemaFailure(raw, fmt.Sprintf("planner output is not valid JSON: %v", err))
	}

	if out.Done == nil {
		return schemaFailure(raw, "planner output lacks a boolean 'done'")
	}

	if out.Action != nil {
		if err := CheckActionShape(out.Action); err != nil {
			return schemaFailure(raw, err.Error())
		}
		if err := CheckActionPolicy(out.Action, allowlist); err != nil {
			return schemas.StepResult{
				Done:   true,
				Reason: fmt.Sprintf("navigation blocked: %s", err.(*ValidationError).Message),
			}
		}
	}

	return schemas.StepResult{
		Done:   *out.Done,
		Action: out.Action,
		Reason: out.Reason,
	}
}

// CheckActionShape verifies the kind-specific required fields of an action.
func CheckActionShape(a *schemas.Action) error {
	if !schemas.IsKnownActionKind(a.Kind) {
		return &ValidationError{Code: codeUnknownKind, Message: fmt.Sprintf("unrecognized action kind %q", a.Kind)}
	}

	switch a.Kind {
	case schemas.ActionOpenTab, schemas.ActionNavigate:
		if strings.TrimSpace(a.URL) == "" {
			return &ValidationError{Code: codeMissingField, Message: fmt.Sprintf("%s action requires 'url'", a.Kind)}
		}
	case schemas.ActionClick:
		if strings.TrimSpace(a.Selector) == "" && strings.TrimSpace(a.Text) == "" {
			return &ValidationError{Code: codeMissingField, Message: "click action requires 'selector' or 'text'"}
		}
	case schemas.ActionFillForm:
		if len(a.Fields) == 0 {
			return &ValidationError{Code: codeMissingField, Message: "fill_form action requires a non-empty field map"}
		}
	case schemas.ActionCloseTab:
		if a.TabID == nil {
			return &ValidationError{Code: codeMissingField, Message: "close_tab action requires a numeric 'tabId'"}
		}
	case schemas.ActionExtract, schemas.ActionFinish:
		// No required payload.
	}
	return nil
}

// CheckActionPolicy enforces the restricted-scheme and allowlist rules on
// navigation-type actions. Non-navigation actions always pass.
func CheckActionPolicy(a *schemas.Action, allowlist []string) error {
	if a.Kind != schemas.ActionNavigate && a.Kind != schemas.ActionOpenTab {
		return nil
	}

	target := strings.TrimSpace(a.URL)
	if IsRestrictedURL(target) {
		return &ValidationError{Code: codeBlockedScheme, Message: fmt.Sprintf("restricted URL scheme in %q", target)}
	}

	host, err := hostnameOf(target)
	if err != nil {
		return &ValidationError{Code: codeBadURL, Message: fmt.Sprintf("cannot extract hostname from %q", target)}
	}

	if len(allowlist) > 0 && !HostAllowed(host, allowlist) {
		return &ValidationError{Code: codeBlockedDomain, Message: fmt.Sprintf("host %q is outside the allowed domains", host)}
	}
	return nil
}

// IsRestrictedURL reports whether the target uses a scheme that is blocked
// unconditionally.
func IsRestrictedURL(target string) bool {
	lower := strings.ToLower(strings.TrimSpace(target))
	for _, scheme := range restrictedSchemes {
		if strings.HasPrefix(lower, scheme) {
			return true
		}
	}
	return false
}

// HostAllowed reports whether host matches any allowlisted domain: equal to
// it, a subdomain of it, or substring-containing it. Domains are normalized
// (lowercased, leading "*." stripped) at comparison time.
func HostAllowed(host string, allowlist []string) bool {
	host = strings.ToLower(strings.TrimSpace(host))
	if host == "" {
		return false
	}
	for _, domain := range allowlist {
		d := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(domain)), "*.")
		if d == "" {
			continue
		}
		if host == d || strings.HasSuffix(host, "."+d) || strings.Contains(host, d) {
			return true
		}
	}
	return false
}

func hostnameOf(target string) (string, error) {
	u, err := url.Parse(target)
	if err != nil {
		return "", err
	}
	host := u.Hostname()
	if host == "" {
		return "", fmt.Errorf("no hostname in %q", target)
	}
	return host, nil
}

func schemaFailure(raw, reason string) schemas.StepResult {
	excerpt := raw
	if len(excerpt) > debugExcerptLimit {
		excerpt = excerpt[:debugExcerptLimit]
	}
	return schemas.StepResult{
		Done:         false,
		Reason:       reason,
		DebugExcerpt: excerpt,
	}
}

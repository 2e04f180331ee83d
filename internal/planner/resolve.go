// File: internal/planner/resolve.go
package planner

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/AGmitmanipal/MINDMESH/api/schemas"
	"github.com/AGmitmanipal/MINDMESH/internal/safety"
)

// Resolver orchestrates backend selection for one planning step. The fallback
// order is fixed and must be preserved exactly:
//
//	on-device -> remote (only when the model preference names a remote
//	provider) -> deterministic -> safe-terminal finish
//
// ResolveStep never fails: every error path lands on the deterministic
// planner, and a recover around even that produces a terminal finish
// action.
type Resolver struct {
	onDevice      schemas.InferenceBackend
	remote        schemas.InferenceBackend
	remotePattern string
	logger        *zap.Logger
}

// NewResolver wires the chain. remote may be nil (no credential configured);
// remotePattern is the model-name prefix that selects the remote fallback.
func NewResolver(onDevice, remote schemas.InferenceBackend, remotePattern string, logger *zap.Logger) *Resolver {
	return &Resolver{
		onDevice:      onDevice,
		remote:        remote,
		remotePattern: strings.ToLower(remotePattern),
		logger:        logger.Named("resolver"),
	}
}

// ResolveStep produces a validated step result for the request. The returned
// result is always structurally valid; callers can hand its action straight
// to the validator-aware act phase.
func (r *Resolver) ResolveStep(ctx context.Context, req schemas.InferenceRequest) schemas.StepResult {
	wantsRemote := r.prefersRemote(req.ModelPreference)

	// Stage 1: on-device backend. The on-device pipeline never receives a
	// remote-provider model name.
	onDeviceReq := req
	if wantsRemote {
		onDeviceReq.ModelPreference = ""
	}

	raw, err := r.onDevice.Infer(ctx, onDeviceReq)
	if err == nil {
		if result, ok := r.parseAndValidate(raw, req.Allowlist, "ondevice"); ok {
			return result
		}
		r.logger.Warn("On-device output unparseable, falling back to deterministic planner",
			zap.Int("step", req.Step))
		return r.deterministic(req, "")
	}
	r.logger.Warn("On-device backend failed", zap.Int("step", req.Step), zap.Error(err))

	// Stage 2: remote backend, only when the model preference matches a
	// known remote-provider naming pattern.
	if wantsRemote {
		if r.remote == nil {
			// A missing credential on an exercised remote path is
			// surfaced in the step reason.
			return r.deterministic(req, schemas.ErrMissingCredential.Error())
		}
		raw, err = r.remote.Infer(ctx, req)
		if err == nil {
			if result, ok := r.parseAndValidate(raw, req.Allowlist, "remote"); ok {
				return result
			}
			r.logger.Warn("Remote output unparseable, falling back to deterministic planner",
				zap.Int("step", req.Step))
		} else {
			r.logger.Warn("Remote backend failed", zap.Int("step", req.Step), zap.Error(err))
		}
	}

	// Stage 3: deterministic planner (stage 4, the safe terminal, lives
	// inside deterministic's recover).
	return r.deterministic(req, "")
}

// prefersRemote reports whether the model preference names a remote provider.
func (r *Resolver) prefersRemote(preference string) bool {
	return r.remotePattern != "" && strings.HasPrefix(strings.ToLower(preference), r.remotePattern)
}

// parseAndValidate extracts JSON from raw backend output and runs it through
// the safety validator. ok is false when no usable JSON was found, signaling
// the caller to fall through to the next stage.
func (r *Resolver) parseAndValidate(raw string, allowlist []string, source string) (schemas.StepResult, bool) {
	extracted := extractJSONObject(raw)
	if extracted == "" {
		return schemas.StepResult{}, false
	}

	result := safety.Validate(extracted, allowlist)
	if result.DebugExcerpt != "" {
		// Schema rejection: treat like a parse failure and fall through.
		return schemas.StepResult{}, false
	}
	result.Source = source
	return result, true
}

// deterministic runs the rule-based planner under a recover. The planner is
// contractually total, so the recover branch should be unreachable; if it
// ever fires the run concludes with a terminal finish.
func (r *Resolver) deterministic(req schemas.InferenceRequest, note string) (result schemas.StepResult) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Deterministic planner panicked", zap.Any("panic_value", rec))
			result = schemas.StepResult{
				Done:   true,
				Action: &schemas.Action{Kind: schemas.ActionFinish, Reason: "planner failure"},
				Reason: "planner failure",
				Source: "deterministic",
			}
		}
	}()

	action := Plan(req.Goal, req.Step, req.Allowlist)

	// Deterministic output still honors the navigation policy.
	if err := safety.CheckActionPolicy(&action, req.Allowlist); err != nil {
		return schemas.StepResult{
			Done:   true,
			Reason: fmt.Sprintf("navigation blocked: %v", err),
			Source: "deterministic",
		}
	}

	reason := action.Reason
	if note != "" {
		reason = strings.TrimSpace(note + "; " + reason)
	}
	return schemas.StepResult{
		Done:   action.Kind == schemas.ActionFinish,
		Action: &action,
		Reason: reason,
		Source: "deterministic",
	}
}

// jsonBlockPattern matches a fenced ```json code block.
var jsonBlockPattern = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// extractJSONObject pulls the first top-level JSON object out of raw model
// output, tolerating markdown fences and surrounding prose. Returns "" when
// no object-shaped substring exists.
func extractJSONObject(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	if m := jsonBlockPattern.FindStringSubmatch(raw); len(m) > 1 {
		raw = strings.TrimSpace(m[1])
	}

	if strings.HasPrefix(raw, "{") && strings.HasSuffix(raw, "}") {
		return raw
	}

	first := strings.Index(raw, "{")
	last := strings.LastIndex(raw, "}")
	if first == -1 || last == -1 || last <= first {
		return ""
	}
	return raw[first : last+1]
}

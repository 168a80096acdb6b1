// Package hook translates between the host's PreToolUse JSON shape and
// Superego's internal ToolRequest/Decision types (spec.md §4.H).
// Modeled on the teacher's ChatAgent request/response translation idiom
// (ui/transports) and Sentinel-Gate's interceptor pattern of
// passing non-policy-subject events straight through
// (other_examples/a5ad211c_Sentinel-Gate-Sentinelgate__internal-domain-proxy-policy_interceptor.go.go).
package hook

import (
	"context"
	"encoding/json"
	"time"

	"github.com/superego-sh/superego/internal/model"
)

// PreToolUseEvent is the input shape from the host for a tool-use
// decision request.
type PreToolUseEvent struct {
	SessionID      string          `json:"session_id"`
	TranscriptPath string          `json:"transcript_path"`
	Cwd            string          `json:"cwd"`
	HookEventName  string          `json:"hook_event_name"`
	ToolName       string          `json:"tool_name"`
	ToolInput      json.RawMessage `json:"tool_input"`
	AgentID        string          `json:"agent_id,omitempty"`
}

// HookSpecificOutput is the PreToolUse-specific part of the response.
type HookSpecificOutput struct {
	HookEventName            string `json:"hook_event_name"`
	PermissionDecision        string `json:"permission_decision"`
	PermissionDecisionReason  string `json:"permission_decision_reason"`
}

// Output is the full response shape sent back to the host, carrying
// both the structured PreToolUse fields and the legacy approve/block
// mirror (spec.md §4.H).
type Output struct {
	HookSpecificOutput HookSpecificOutput `json:"hook_specific_output"`
	Decision           string             `json:"decision"`
	Reason             string             `json:"reason"`
}

const preToolUseEvent = "PreToolUse"

// Evaluator is satisfied by the Security Policy Engine.
type Evaluator interface {
	Evaluate(ctx context.Context, req model.ToolRequest) (model.Decision, []string)
}

// Handler translates hook events into policy evaluations and back.
type Handler struct {
	engine Evaluator
	clock  func() time.Time
}

// NewHandler constructs a Handler backed by engine.
func NewHandler(engine Evaluator) *Handler {
	return &Handler{engine: engine, clock: time.Now}
}

// HandleRaw parses raw input bytes, evaluates, and returns the raw
// output bytes plus the advisor exit code (spec.md §6: 0 on any
// successful JSON emission, including a block decision; non-zero is
// reserved for internal crashes). Any parse or evaluation failure still
// produces a valid, blocking Output — it never returns an error here,
// matching "any failure ... returns a hook output that blocks with a
// safe reason" (spec.md §4.H).
func (h *Handler) HandleRaw(ctx context.Context, raw []byte) ([]byte, int) {
	var event PreToolUseEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		out := blockOutput("invalid request")
		b, marshalErr := json.Marshal(out)
		if marshalErr != nil {
			return nil, 1
		}
		return b, 0
	}

	out, matchedRuleIDs, decision := h.Handle(ctx, event)
	_ = matchedRuleIDs
	_ = decision

	b, err := json.Marshal(out)
	if err != nil {
		return nil, 1
	}
	return b, 0
}

// Handle evaluates a parsed PreToolUseEvent and returns the host output
// along with the matched rule ids and raw Decision, for callers (e.g.
// the HTTP/WS/SSE transports) that also need to append an audit entry
// or publish a config/audit event from the same evaluation.
func (h *Handler) Handle(ctx context.Context, event PreToolUseEvent) (Output, []string, model.Decision) {
	// Non-PreToolUse events are accepted but never subject to policy —
	// forward-compatibility with future hook event types (spec.md §8
	// property 9 "total function"; see SPEC_FULL.md's "Non-tool-call
	// passthrough" supplement).
	if event.HookEventName != "" && event.HookEventName != preToolUseEvent {
		decision := model.Decision{
			Action:           model.DecisionAllow,
			Reason:           "event not subject to policy",
			Confidence:       1.0,
			ProcessingTimeMs: 1,
		}
		return toOutput(decision), nil, decision
	}

	var params interface{}
	if len(event.ToolInput) > 0 {
		if err := json.Unmarshal(event.ToolInput, &params); err != nil {
			decision := model.Decision{
				Action:           model.DecisionDeny,
				Reason:           "invalid request",
				Confidence:       1.0,
				ProcessingTimeMs: 1,
			}
			return toOutput(decision), nil, decision
		}
	}

	req, err := model.NewToolRequest(event.ToolName, params, event.Cwd, event.SessionID, event.AgentID, h.clock())
	if err != nil {
		decision := model.Decision{
			Action:           model.DecisionDeny,
			Reason:           "invalid request",
			Confidence:       1.0,
			ProcessingTimeMs: 1,
		}
		return toOutput(decision), nil, decision
	}

	decision, matched := h.engine.Evaluate(ctx, req)
	return toOutput(decision), matched, decision
}

func toOutput(d model.Decision) Output {
	legacy := "approve"
	if d.Action == model.DecisionDeny || d.Action == model.DecisionAsk {
		legacy = "block"
	}

	reason := d.Reason
	if d.Action == model.DecisionAsk {
		reason = "escalation required: " + reason
	}

	return Output{
		HookSpecificOutput: HookSpecificOutput{
			HookEventName:            preToolUseEvent,
			PermissionDecision:       string(d.Action),
			PermissionDecisionReason: reason,
		},
		Decision: legacy,
		Reason:   reason,
	}
}

func blockOutput(reason string) Output {
	return Output{
		HookSpecificOutput: HookSpecificOutput{
			HookEventName:            preToolUseEvent,
			PermissionDecision:       string(model.DecisionDeny),
			PermissionDecisionReason: reason,
		},
		Decision: "block",
		Reason:   reason,
	}
}

// Package transport defines the shared evaluation service that each of
// the four transport surfaces (stdio JSON-RPC, HTTP, WebSocket, SSE)
// fronts, per spec.md §4.L: "A single evaluation entrypoint is exposed
// over four surfaces; they share the same handler."
package transport

import (
	"context"
	"encoding/json"
	"time"

	"github.com/superego-sh/superego/internal/hook"
	"github.com/superego-sh/superego/internal/model"
)

// PolicyEngine is satisfied by *policy.Engine. Declared as an interface
// here so transports depend only on the shape they need, not on the
// policy package's internals.
type PolicyEngine interface {
	Evaluate(ctx context.Context, req model.ToolRequest) (model.Decision, []string)
	CurrentVersion() int64
}

// HealthMonitor is satisfied by *health.Monitor.
type HealthMonitor interface {
	Status(ctx context.Context) model.HealthStatus
}

// AuditLogger is satisfied by *audit.Logger.
type AuditLogger interface {
	Append(req model.ToolRequest, decision model.Decision, matchedRuleIDs []string) model.AuditEntry
	Recent(limit int) []model.AuditEntry
}

// RulesProvider exposes the currently loaded ruleset for the
// introspection endpoint (GET /v1/config/rules).
type RulesProvider interface {
	CurrentRules() []model.SecurityRule
}

// EvaluateEvent carries a completed evaluation to whatever is
// listening for SSE "audit-append" events.
type EvaluateEvent struct {
	Entry model.AuditEntry
}

// Subscriber receives EvaluateEvent notifications; internal/transport/sse
// implements this.
type Subscriber interface {
	Publish(event EvaluateEvent)
}

// Service is the one evaluation entrypoint every transport calls
// (spec.md §4.L). It evaluates a ToolRequest, appends the audit entry,
// and notifies any subscribers — exactly once per request, regardless
// of which transport it arrived on.
type Service struct {
	Engine  PolicyEngine
	Audit   AuditLogger
	Health  HealthMonitor
	Rules   RulesProvider
	Hook    *hook.Handler
	Pub     Subscriber
}

// Evaluate runs the shared pipeline: policy evaluation, audit append,
// and subscriber notification.
func (s *Service) Evaluate(ctx context.Context, req model.ToolRequest) model.Decision {
	decision, matched := s.Engine.Evaluate(ctx, req)
	entry := s.Audit.Append(req, decision, matched)
	if s.Pub != nil {
		s.Pub.Publish(EvaluateEvent{Entry: entry})
	}
	return decision
}

// EvaluateHook runs a raw PreToolUse hook event through the Hook
// Integration layer, then the same audit/publish pipeline Evaluate
// uses — every evaluation is audited regardless of which transport
// surfaced it. A malformed top-level event still blocks with a safe
// reason (spec.md §4.H) but is not audited, since there is no valid
// ToolRequest to attach the entry to.
func (s *Service) EvaluateHook(ctx context.Context, raw []byte) ([]byte, int) {
	var event hook.PreToolUseEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return s.Hook.HandleRaw(ctx, raw)
	}

	out, matched, decision := s.Hook.Handle(ctx, event)

	var params interface{}
	if len(event.ToolInput) > 0 {
		_ = json.Unmarshal(event.ToolInput, &params)
	}
	if req, err := model.NewToolRequest(event.ToolName, params, event.Cwd, event.SessionID, event.AgentID, time.Now()); err == nil {
		entry := s.Audit.Append(req, decision, matched)
		if s.Pub != nil {
			s.Pub.Publish(EvaluateEvent{Entry: entry})
		}
	}

	b, err := json.Marshal(out)
	if err != nil {
		return nil, 1
	}
	return b, 0
}

// HealthStatus reports the aggregate health snapshot.
func (s *Service) HealthStatus(ctx context.Context) model.HealthStatus {
	return s.Health.Status(ctx)
}

// AuditRecent returns up to limit of the most recent audit entries.
func (s *Service) AuditRecent(limit int) []model.AuditEntry {
	return s.Audit.Recent(limit)
}

// CurrentRules returns the active ruleset's rules for introspection.
func (s *Service) CurrentRules() []model.SecurityRule {
	if s.Rules == nil {
		return nil
	}
	return s.Rules.CurrentRules()
}

// defaultRequestTimeout bounds how long a single evaluation may take
// end-to-end across any transport, independent of the inference
// breaker's own per-call timeout.
const defaultRequestTimeout = 30 * time.Second

// WithTimeout wraps ctx with defaultRequestTimeout if it has no
// deadline of its own.
func WithTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, defaultRequestTimeout)
}

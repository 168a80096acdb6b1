package model

import (
	"fmt"
	"time"

	"github.com/superego-sh/superego/internal/sanitize"
)

// ToolRequest is the frozen, sanitized evaluation input described in
// spec.md §3. It is constructed once via NewToolRequest and never
// mutated afterward; the Policy Engine, Pattern Engine, and Audit
// Logger all read from the same immutable value.
type ToolRequest struct {
	ToolName   string
	Parameters Value
	Cwd        string
	SessionID  string
	AgentID    string
	Timestamp  time.Time
}

// NewToolRequest validates and sanitizes raw fields into a ToolRequest.
// It enforces the invariants in spec.md §3: tool_name must match
// ^[A-Za-z_][A-Za-z0-9_]*$ after trim and be non-empty; cwd is
// normalized with ".." stripped; session_id/agent_id are bounded to
// [A-Za-z0-9_-]{0,100}; parameters are deep-sanitized and size-bounded.
func NewToolRequest(toolName string, parameters interface{}, cwd, sessionID, agentID string, now time.Time) (ToolRequest, error) {
	name, ok := sanitize.ToolName(toolName)
	if !ok || name == "" {
		return ToolRequest{}, &SuperegoError{
			Op:          "model.NewToolRequest",
			Kind:        KindInvalidInput,
			UserMessage: "invalid request",
			Err:         fmt.Errorf("tool_name %q does not match required pattern", toolName),
		}
	}

	budget := &sizeBudget{remaining: sanitize.MaxTotalBytes}
	value, err := valueFromAny(parameters, budget, 0)
	if err != nil {
		return ToolRequest{}, &SuperegoError{
			Op:          "model.NewToolRequest",
			Kind:        KindInvalidInput,
			UserMessage: "invalid request",
			Err:         err,
		}
	}

	return ToolRequest{
		ToolName:   name,
		Parameters: value,
		Cwd:        sanitize.Path(cwd),
		SessionID:  sanitize.Identifier(sessionID),
		AgentID:    sanitize.Identifier(agentID),
		Timestamp:  now.UTC(),
	}, nil
}

// sizeBudget tracks the remaining bytes available for the total
// serialized parameter tree, enforcing spec.md §4.C's 64 KiB cap.
type sizeBudget struct {
	remaining int
}

func (b *sizeBudget) consume(n int) error {
	if n > b.remaining {
		return fmt.Errorf("parameters exceed total size budget")
	}
	b.remaining -= n
	return nil
}

const maxNestingDepth = 32

// valueFromAny recursively sanitizes a decoded JSON-like tree into a
// Value, routing every string through sanitize.String and rejecting
// keys that don't match the parameter-key pattern, per spec.md §4.C.
func valueFromAny(v interface{}, budget *sizeBudget, depth int) (Value, error) {
	if depth > maxNestingDepth {
		return Value{}, fmt.Errorf("parameters nested too deeply")
	}

	switch t := v.(type) {
	case nil:
		return Null(), nil
	case string:
		s := sanitize.String(t, sanitize.MaxStringBytes)
		if err := budget.consume(len(s)); err != nil {
			return Value{}, err
		}
		return StringValue(s), nil
	case bool:
		return BoolValue(t), nil
	case float64:
		return NumberValue(t), nil
	case int:
		return NumberValue(float64(t)), nil
	case int64:
		return NumberValue(float64(t)), nil
	case []interface{}:
		if len(t) > sanitize.MaxArrayElements {
			t = t[:sanitize.MaxArrayElements]
		}
		items := make([]Value, 0, len(t))
		for _, e := range t {
			val, err := valueFromAny(e, budget, depth+1)
			if err != nil {
				return Value{}, err
			}
			items = append(items, val)
		}
		return ArrayValue(items), nil
	case map[string]interface{}:
		fields := make(map[string]Value, len(t))
		keys := make([]string, 0, len(t))
		for k, e := range t {
			if !sanitize.IsValidKey(k) {
				continue // reject non-conforming keys rather than coerce
			}
			val, err := valueFromAny(e, budget, depth+1)
			if err != nil {
				return Value{}, err
			}
			if err := budget.consume(len(k)); err != nil {
				return Value{}, err
			}
			fields[k] = val
			keys = append(keys, k)
		}
		return ObjectValue(fields, keys), nil
	default:
		return Value{}, fmt.Errorf("unsupported parameter value type %T", v)
	}
}

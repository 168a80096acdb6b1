package model

import "time"

// AuditEntry is a single recorded evaluation outcome (spec.md §3). The
// Request field is always a redacted copy — sensitive parameter values
// never survive into the audit buffer unredacted (spec.md §8 property 5).
type AuditEntry struct {
	ID             string      `json:"id"`
	Timestamp      time.Time   `json:"timestamp"`
	Request        RedactedReq `json:"request"`
	Decision       Decision    `json:"decision"`
	MatchedRuleIDs []string    `json:"matched_rule_ids,omitempty"`
	TTLDeadline    time.Time   `json:"ttl_deadline"`
}

// RedactedReq is the redacted projection of a ToolRequest stored in an
// AuditEntry — note this is deliberately not ToolRequest itself, so a
// caller can never accidentally persist the unredacted parameter tree.
type RedactedReq struct {
	ToolName   string      `json:"tool_name"`
	Parameters interface{} `json:"parameters"`
	Cwd        string      `json:"cwd"`
	SessionID  string      `json:"session_id"`
	AgentID    string      `json:"agent_id"`
	Timestamp  time.Time   `json:"timestamp"`
}

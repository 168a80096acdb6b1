package model

// Action is the verdict a SecurityRule assigns when its conditions match.
type Action string

const (
	ActionAllow  Action = "allow"
	ActionDeny   Action = "deny"
	ActionSample Action = "sample"
)

// Dialect names a Pattern Engine matcher (spec.md §4.B).
type Dialect string

const (
	DialectString   Dialect = "string"
	DialectRegex    Dialect = "regex"
	DialectGlob     Dialect = "glob"
	DialectJSONPath Dialect = "jsonpath"
)

// Leaf is a single pattern spec: a dialect and the text to match
// against. A bare YAML string is interpreted as {type: string, value: s}.
type Leaf struct {
	Type  Dialect `yaml:"type" json:"type"`
	Value string  `yaml:"value" json:"value"`
	// Match is the nested dialect applied to the value found at a
	// jsonpath location; defaults to DialectString when empty.
	Match *Leaf `yaml:"match,omitempty" json:"match,omitempty"`
}

// ConditionField names one of the well-known predicate keys a rule may
// condition on, or one of the boolean combinators.
type ConditionField string

const (
	FieldToolName  ConditionField = "tool_name"
	FieldParams    ConditionField = "parameters"
	FieldCwd       ConditionField = "cwd"
	FieldSessionID ConditionField = "session_id"
	FieldAgentID   ConditionField = "agent_id"
	FieldTimeRange ConditionField = "time_range"
	FieldAllOf     ConditionField = "all_of"
	FieldAnyOf     ConditionField = "any_of"
	FieldNot       ConditionField = "not"
)

// TimeRange restricts a rule to a daily wall-clock window, e.g. a
// maintenance window during which writes are sampled more aggressively.
type TimeRange struct {
	StartHour int `yaml:"start_hour" json:"start_hour"`
	EndHour   int `yaml:"end_hour" json:"end_hour"`
}

// Condition is one node of the predicate tree attached to a rule. Only
// one of its fields is populated at a time, matching the YAML shape in
// spec.md §6 where a rule's `conditions` map has well-known keys.
type Condition struct {
	ToolName  *Leaf       `yaml:"tool_name,omitempty" json:"tool_name,omitempty"`
	Params    *Leaf       `yaml:"parameters,omitempty" json:"parameters,omitempty"`
	Cwd       *Leaf       `yaml:"cwd,omitempty" json:"cwd,omitempty"`
	SessionID *Leaf       `yaml:"session_id,omitempty" json:"session_id,omitempty"`
	AgentID   *Leaf       `yaml:"agent_id,omitempty" json:"agent_id,omitempty"`
	TimeRange *TimeRange  `yaml:"time_range,omitempty" json:"time_range,omitempty"`
	AllOf     []Condition `yaml:"all_of,omitempty" json:"all_of,omitempty"`
	AnyOf     []Condition `yaml:"any_of,omitempty" json:"any_of,omitempty"`
	Not       *Condition  `yaml:"not,omitempty" json:"not,omitempty"`
}

// SecurityRule is one immutable policy unit (spec.md §3). Rules are
// loaded once per ruleset snapshot and never mutated afterward.
type SecurityRule struct {
	ID                 string    `yaml:"id" json:"id"`
	Priority           int       `yaml:"priority" json:"priority"`
	Conditions         Condition `yaml:"conditions" json:"conditions"`
	Action             Action    `yaml:"action" json:"action"`
	Reason             string    `yaml:"reason,omitempty" json:"reason,omitempty"`
	SamplingGuidance   string    `yaml:"sampling_guidance,omitempty" json:"sampling_guidance,omitempty"`
	InferenceProvider  string    `yaml:"inference_provider,omitempty" json:"inference_provider,omitempty"`
	// HelpURL is never surfaced to the hook/transport evaluation
	// response; it is only exposed via /v1/config/rules introspection
	// (see SPEC_FULL.md "supplemented features").
	HelpURL string `yaml:"help_url,omitempty" json:"help_url,omitempty"`
}

// Validate checks the invariants from spec.md §3: non-empty id,
// priority in [0, 999], and a recognized action.
func (r SecurityRule) Validate() error {
	if r.ID == "" {
		return NewError("SecurityRule.Validate", KindConfigInvalid, "", errRuleMissingID)
	}
	if r.Priority < 0 || r.Priority > 999 {
		return NewError("SecurityRule.Validate", KindConfigInvalid, "", errRulePriorityRange)
	}
	switch r.Action {
	case ActionAllow, ActionDeny, ActionSample:
	default:
		return NewError("SecurityRule.Validate", KindConfigInvalid, "", errRuleBadAction)
	}
	return nil
}

var (
	errRuleMissingID     = ruleErr("rule id must be non-empty")
	errRulePriorityRange = ruleErr("rule priority must be in [0, 999]")
	errRuleBadAction     = ruleErr("rule action must be allow, deny, or sample")
)

type ruleErr string

func (e ruleErr) Error() string { return string(e) }

// Ruleset is an immutable, priority-sorted snapshot of rules, swapped
// atomically on reload (spec.md §3 "Ownership & lifecycle").
type Ruleset struct {
	Rules   []SecurityRule
	Version int64
}

// SortRules returns rules ordered by (priority asc, id asc), the tie-
// break rule from spec.md §4.G.
func SortRules(rules []SecurityRule) []SecurityRule {
	sorted := make([]SecurityRule, len(rules))
	copy(sorted, rules)
	// insertion sort: rulesets are small (hundreds, not millions) and
	// this keeps the comparison logic obvious and stable.
	for i := 1; i < len(sorted); i++ {
		j := i
		for j > 0 && ruleLess(sorted[j], sorted[j-1]) {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
			j--
		}
	}
	return sorted
}

func ruleLess(a, b SecurityRule) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return a.ID < b.ID
}

package pattern

import (
	"github.com/superego-sh/superego/internal/model"
)

// CompileCondition walks a rule's Condition tree at load time and
// compiles every leaf it finds, so a malformed pattern anywhere in the
// tree rejects the whole ruleset swap before any request reaches it
// (spec.md §4.B "Failure semantics").
func (e *Engine) CompileCondition(cond model.Condition) error {
	for _, sub := range cond.AllOf {
		if err := e.CompileCondition(sub); err != nil {
			return err
		}
	}
	for _, sub := range cond.AnyOf {
		if err := e.CompileCondition(sub); err != nil {
			return err
		}
	}
	if cond.Not != nil {
		if err := e.CompileCondition(*cond.Not); err != nil {
			return err
		}
	}
	for _, leaf := range []*model.Leaf{cond.ToolName, cond.Params, cond.Cwd, cond.SessionID, cond.AgentID} {
		if leaf == nil {
			continue
		}
		if err := e.Compile(*leaf); err != nil {
			return err
		}
	}
	return nil
}

// MatchConditions evaluates a rule's Condition tree against req,
// returning whether it matched and the list of leaf descriptions that
// contributed to the match (spec.md §4.B match_conditions contract).
// A Condition with every field nil matches everything (the "no
// restriction" rule used for the implicit default-deny fallback never
// reaching this path, and for catch-all sample rules).
func (e *Engine) MatchConditions(cond model.Condition, req model.ToolRequest) (bool, []string) {
	var matchedLeaves []string

	if len(cond.AllOf) > 0 {
		for _, sub := range cond.AllOf {
			ok, leaves := e.MatchConditions(sub, req)
			if !ok {
				return false, nil
			}
			matchedLeaves = append(matchedLeaves, leaves...)
		}
	}

	if len(cond.AnyOf) > 0 {
		anyMatched := false
		var anyLeaves []string
		for _, sub := range cond.AnyOf {
			if ok, leaves := e.MatchConditions(sub, req); ok {
				anyMatched = true
				anyLeaves = append(anyLeaves, leaves...)
				break
			}
		}
		if !anyMatched {
			return false, nil
		}
		matchedLeaves = append(matchedLeaves, anyLeaves...)
	}

	if cond.Not != nil {
		if ok, _ := e.MatchConditions(*cond.Not, req); ok {
			return false, nil
		}
		matchedLeaves = append(matchedLeaves, "not")
	}

	if cond.ToolName != nil {
		if !e.matchLeaf(*cond.ToolName, req.ToolName) {
			return false, nil
		}
		matchedLeaves = append(matchedLeaves, "tool_name")
	}

	if cond.Cwd != nil {
		if !e.matchLeaf(*cond.Cwd, req.Cwd) {
			return false, nil
		}
		matchedLeaves = append(matchedLeaves, "cwd")
	}

	if cond.SessionID != nil {
		if !e.matchLeaf(*cond.SessionID, req.SessionID) {
			return false, nil
		}
		matchedLeaves = append(matchedLeaves, "session_id")
	}

	if cond.AgentID != nil {
		if !e.matchLeaf(*cond.AgentID, req.AgentID) {
			return false, nil
		}
		matchedLeaves = append(matchedLeaves, "agent_id")
	}

	if cond.TimeRange != nil {
		if !matchTimeRange(*cond.TimeRange, req) {
			return false, nil
		}
		matchedLeaves = append(matchedLeaves, "time_range")
	}

	if cond.Params != nil {
		if !e.matchParameters(*cond.Params, req.Parameters) {
			return false, nil
		}
		matchedLeaves = append(matchedLeaves, "parameters")
	}

	// A Condition with no populated field, no combinator, and no
	// negation is vacuously true — used for catch-all rules.
	return true, matchedLeaves
}

// matchParameters matches a leaf against the whole parameters tree. A
// jsonpath leaf resolves against the tree directly; any other dialect
// matches against the tree's string rendering (its canonical JSON, or
// plain text for a scalar) — this lets a rule author write a simple
// regex against "the parameters" without needing a jsonpath.
func (e *Engine) matchParameters(leaf model.Leaf, params model.Value) bool {
	if leaf.Type != model.DialectJSONPath {
		return e.matchLeaf(leaf, params.String())
	}

	segments := jsonPathSegments(leaf.Value)
	resolved, ok := resolveJSONPath(params, segments)
	if !ok {
		return false // missing jsonpath target is false, never an error
	}

	if leaf.Match == nil {
		// No nested match clause: treat presence of the resolved value
		// as the condition (spec.md §9 Open Question, resolved here in
		// favor of an existence check when no explicit comparison is given).
		return resolved.Kind() != model.KindNull
	}

	nested := *leaf.Match
	if nested.Type == "" {
		nested.Type = model.DialectString
	}
	return e.matchLeaf(nested, resolved.String())
}

func matchTimeRange(tr model.TimeRange, req model.ToolRequest) bool {
	hour := req.Timestamp.Hour()
	if tr.StartHour <= tr.EndHour {
		return hour >= tr.StartHour && hour < tr.EndHour
	}
	// wraps past midnight, e.g. 22 -> 6
	return hour >= tr.StartHour || hour < tr.EndHour
}

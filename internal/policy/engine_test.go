package policy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/superego-sh/superego/internal/breaker"
	"github.com/superego-sh/superego/internal/inference"
	"github.com/superego-sh/superego/internal/model"
	"github.com/superego-sh/superego/internal/pattern"
	"github.com/superego-sh/superego/internal/strategy"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	mgr := strategy.NewManager(nil)
	require.NoError(t, mgr.Register(context.Background(), "mock", inference.NewMockProvider()))
	mgr.SetPreferenceOrder([]string{"mock"})

	br := breaker.New(breaker.Config{Name: "test-inference"})

	return New(Config{
		Patterns:         pattern.NewEngine(),
		Strategy:         mgr,
		InferenceBreaker: br,
	})
}

func mustRequest(t *testing.T, toolName string, params map[string]interface{}, cwd string) model.ToolRequest {
	t.Helper()
	req, err := model.NewToolRequest(toolName, params, cwd, "sess-1", "agent-1", time.Now().UTC())
	require.NoError(t, err)
	return req
}

func TestEngine_NoRuleMatchedDefaultsDeny(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.LoadRuleset(nil, 1))

	decision, matched := e.Evaluate(context.Background(), mustRequest(t, "Bash", nil, "/tmp"))

	assert.Empty(t, matched)
	assert.Equal(t, model.DecisionDeny, decision.Action)
	assert.Equal(t, "no rule matched", decision.Reason)
	assert.True(t, decision.Valid())
}

func TestEngine_AllowRule(t *testing.T) {
	e := newTestEngine(t)
	rules := []model.SecurityRule{
		{
			ID:       "allow-read",
			Priority: 10,
			Conditions: model.Condition{
				ToolName: &model.Leaf{Type: model.DialectString, Value: "Read"},
			},
			Action: model.ActionAllow,
			Reason: "reads are safe",
		},
	}
	require.NoError(t, e.LoadRuleset(rules, 1))

	decision, matched := e.Evaluate(context.Background(), mustRequest(t, "Read", nil, "/tmp"))

	assert.Equal(t, []string{"allow-read"}, matched)
	assert.Equal(t, model.DecisionAllow, decision.Action)
	assert.Equal(t, "allow-read", decision.RuleID)
	assert.Equal(t, 1.0, decision.Confidence)
	assert.True(t, decision.Valid())
}

func TestEngine_DenyRuleTakesPriorityOrder(t *testing.T) {
	e := newTestEngine(t)
	rules := []model.SecurityRule{
		{
			ID:       "deny-rm",
			Priority: 5,
			Conditions: model.Condition{
				ToolName: &model.Leaf{Type: model.DialectString, Value: "Bash"},
				Params:   &model.Leaf{Type: model.DialectString, Value: "rm -rf"},
			},
			Action: model.ActionDeny,
			Reason: "destructive command",
		},
		{
			ID:       "allow-bash",
			Priority: 50,
			Conditions: model.Condition{
				ToolName: &model.Leaf{Type: model.DialectString, Value: "Bash"},
			},
			Action: model.ActionAllow,
		},
	}
	require.NoError(t, e.LoadRuleset(rules, 1))

	decision, matched := e.Evaluate(context.Background(), mustRequest(t, "Bash", map[string]interface{}{"command": "rm -rf /"}, "/tmp"))

	assert.Equal(t, []string{"deny-rm"}, matched)
	assert.Equal(t, model.DecisionDeny, decision.Action)
	assert.Equal(t, "deny-rm", decision.RuleID)
}

func TestEngine_SampleRuleDelegatesToStrategyManager(t *testing.T) {
	e := newTestEngine(t)
	rules := []model.SecurityRule{
		{
			ID:       "sample-bash",
			Priority: 20,
			Conditions: model.Condition{
				ToolName: &model.Leaf{Type: model.DialectString, Value: "Bash"},
			},
			Action:           model.ActionSample,
			SamplingGuidance: "scrutinize destructive commands",
		},
	}
	require.NoError(t, e.LoadRuleset(rules, 1))

	decision, matched := e.Evaluate(context.Background(), mustRequest(t, "Bash", map[string]interface{}{"command": "sudo rm -rf /"}, "/tmp"))

	assert.Equal(t, []string{"sample-bash"}, matched)
	assert.Equal(t, model.DecisionDeny, decision.Action)
	assert.Equal(t, "mock", decision.Provider)
	assert.True(t, decision.Valid())
}

func TestEngine_InvalidRulesetRejectsSwap(t *testing.T) {
	e := newTestEngine(t)
	rules := []model.SecurityRule{
		{ID: "", Priority: 1, Action: model.ActionAllow},
	}
	err := e.LoadRuleset(rules, 2)
	require.Error(t, err)
	assert.Equal(t, int64(0), e.CurrentVersion())
}

package inference

import (
	"context"
	"strings"
	"time"

	"github.com/superego-sh/superego/internal/model"
)

// dangerousPatterns are substrings that the Mock provider treats as an
// automatic deny, per spec.md §4.E.1. Matching is case-insensitive and
// applied to tool_name concatenated with the stringified parameters.
var dangerousPatterns = []string{
	"rm -rf",
	"sudo",
	"/etc/passwd",
	"/etc/shadow",
	"~/.ssh/",
	".ssh/id_rsa",
	"mkfs",
	"dd if=",
	":(){:|:&};:", // fork bomb
}

// MockProvider is a deterministic, zero-dependency provider for tests
// and for environments with no real inference backend configured. It
// never sleeps and never fails, matching spec.md §4.E.1 exactly.
type MockProvider struct {
	name string
}

// NewMockProvider constructs the Mock provider.
func NewMockProvider() *MockProvider {
	return &MockProvider{name: "mock"}
}

func (p *MockProvider) Initialize(ctx context.Context) error { return nil }
func (p *MockProvider) Cleanup(ctx context.Context) error    { return nil }

func (p *MockProvider) Describe() Info {
	return Info{
		Name:         p.name,
		Kind:         KindMock,
		Models:       []string{"mock-ruleset-v1"},
		Capabilities: []string{"deterministic", "offline"},
	}
}

func (p *MockProvider) HealthCheck(ctx context.Context) model.ComponentHealth {
	return model.ComponentHealth{State: model.StateHealthy, LastCheck: time.Now().UTC()}
}

func (p *MockProvider) Evaluate(ctx context.Context, req Request) (Decision, error) {
	haystack := strings.ToLower(req.ToolRequest.ToolName + " " + req.ToolRequest.Parameters.String())

	for _, pattern := range dangerousPatterns {
		if strings.Contains(haystack, pattern) {
			return Decision{
				Action:      model.DecisionDeny,
				Reason:      "matched a known-dangerous command pattern",
				Confidence:  0.95,
				RiskFactors: []string{"dangerous_pattern:" + pattern},
				Provider:    p.name,
				Model:       "mock-ruleset-v1",
			}, nil
		}
	}

	return Decision{
		Action:     model.DecisionAllow,
		Reason:     "no dangerous pattern matched",
		Confidence: 0.6,
		Provider:   p.name,
		Model:      "mock-ruleset-v1",
	}, nil
}

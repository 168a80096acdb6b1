// Package inference implements the three Inference Provider variants
// described in spec.md §4.E: a deterministic mock, a CLI-subprocess
// provider, and a host-sampling provider, behind one Provider contract.
// Modeled on the teacher's ai.ProviderFactory / core.AIClient split
// (gomind ai/registry.go, ai/providers/base.go, ai/providers/mock).
package inference

import (
	"context"
	"time"

	"github.com/superego-sh/superego/internal/model"
)

// Request is the input to Provider.Evaluate: a fully-built prompt, a
// snapshot of the originating request and matched rule, a deterministic
// cache key, and the per-request timeout the Strategy Manager computed.
type Request struct {
	Prompt       string
	ToolRequest  model.ToolRequest
	Rule         model.SecurityRule
	CacheKey     string
	Timeout      time.Duration
}

// Decision mirrors model.Decision plus provider/model metadata that
// only an inference call can populate.
type Decision struct {
	Action      model.DecisionAction
	Reason      string
	Confidence  float64
	RiskFactors []string
	Provider    string
	Model       string
}

// Info describes a registered provider for introspection endpoints.
type Info struct {
	Name         string
	Kind         string
	Models       []string
	Capabilities []string
}

// Provider is the contract every inference backend implements.
// Implementations must be safe for concurrent use (spec.md §4.F
// "Concurrency").
type Provider interface {
	Evaluate(ctx context.Context, req Request) (Decision, error)
	HealthCheck(ctx context.Context) model.ComponentHealth
	Describe() Info
	Initialize(ctx context.Context) error
	Cleanup(ctx context.Context) error
}

// Name-scoped provider kinds, used in config and Describe().
const (
	KindMock         = "mock"
	KindCLI          = "cli"
	KindHostSampling = "host_sampling"
)

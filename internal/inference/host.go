package inference

import (
	"context"
	"errors"
	"time"

	"github.com/superego-sh/superego/internal/model"
)

var errNoHostConnection = errors.New("no host connection available for sampling")

// Sampler is implemented by a transport connection capable of relaying
// an inference request back to the connected host (an MCP client's
// sampling capability, or an equivalent agent-side facility) and
// waiting for its response. None of the internal/transport packages
// implements it; only the tests supply one (a fake).
type Sampler interface {
	// Sample sends prompt to the host and waits for a structured
	// evaluation response, or returns an error if the host has no
	// sampling capability, is disconnected, or times out.
	Sample(ctx context.Context, prompt string, timeout time.Duration) (HostResponse, error)
}

// HostResponse is what a host returns from a sampling round-trip.
type HostResponse struct {
	Decision    string
	Confidence  float64
	Reasoning   string
	RiskFactors []string
	// RequiresConfirmation is set when the connected host cannot
	// autonomously complete the sampling request (e.g. it needs a human
	// in the loop) and wants Superego to surface an "ask" verdict instead
	// of failing closed.
	RequiresConfirmation bool
}

// HostSamplingProvider delegates evaluation back over the same
// transport connection the originating tool call arrived on, per
// spec.md §4.E.3. It never spawns a process or makes an outbound
// network call itself — all of that is the responsibility of whatever
// transport supplied the Sampler.
type HostSamplingProvider struct {
	name    string
	sampler Sampler
	timeout time.Duration
}

// NewHostSamplingProvider constructs a host-sampling provider bound to
// a single transport connection's Sampler. defaultTimeout is used when
// a Request does not specify its own.
func NewHostSamplingProvider(name string, sampler Sampler, defaultTimeout time.Duration) *HostSamplingProvider {
	if defaultTimeout <= 0 {
		defaultTimeout = 10 * time.Second
	}
	return &HostSamplingProvider{name: name, sampler: sampler, timeout: defaultTimeout}
}

func (p *HostSamplingProvider) Initialize(ctx context.Context) error { return nil }
func (p *HostSamplingProvider) Cleanup(ctx context.Context) error    { return nil }

func (p *HostSamplingProvider) Describe() Info {
	return Info{
		Name:         p.name,
		Kind:         KindHostSampling,
		Models:       []string{"host-native"},
		Capabilities: []string{"interactive", "requires-connected-host"},
	}
}

func (p *HostSamplingProvider) HealthCheck(ctx context.Context) model.ComponentHealth {
	if p.sampler == nil {
		return model.ComponentHealth{
			State:     model.StateUnhealthy,
			Message:   "no host connection available for sampling",
			LastCheck: time.Now().UTC(),
		}
	}
	return model.ComponentHealth{State: model.StateHealthy, LastCheck: time.Now().UTC()}
}

func (p *HostSamplingProvider) Evaluate(ctx context.Context, req Request) (Decision, error) {
	if p.sampler == nil {
		return Decision{}, model.NewError("inference.HostSamplingProvider.Evaluate", model.KindInferenceUnavailable, "", errNoHostConnection)
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = p.timeout
	}

	resp, err := p.sampler.Sample(ctx, req.Prompt, timeout)
	if err != nil {
		if ctx.Err() != nil {
			return Decision{}, model.NewError("inference.HostSamplingProvider.Evaluate", model.KindInferenceTimeout, "", err)
		}
		return Decision{}, model.NewError("inference.HostSamplingProvider.Evaluate", model.KindInferenceUnavailable, "", err)
	}

	// The connected host declined to answer autonomously; surface an
	// ask verdict rather than failing closed, per spec.md §4.E.3 — the
	// host, not Superego, owns the human-in-the-loop decision here.
	if resp.RequiresConfirmation {
		return Decision{
			Action:     model.DecisionAsk,
			Reason:     "connected host requires interactive confirmation",
			Confidence: 0.5,
			Provider:   p.name,
			Model:      "host-native",
		}, nil
	}

	action, err := parseDecisionAction(resp.Decision)
	if err != nil {
		return Decision{}, model.NewError("inference.HostSamplingProvider.Evaluate", model.KindInferenceUnavailable, "", err)
	}

	return Decision{
		Action:      action,
		Reason:      resp.Reasoning,
		Confidence:  clamp01(resp.Confidence),
		RiskFactors: resp.RiskFactors,
		Provider:    p.name,
		Model:       "host-native",
	}, nil
}

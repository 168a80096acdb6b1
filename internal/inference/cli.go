package inference

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/superego-sh/superego/internal/logging"
	"github.com/superego-sh/superego/internal/model"
)

// CLIConfig configures a CLI-subprocess provider (spec.md §4.E.2).
type CLIConfig struct {
	Name           string
	Command        string
	Args           []string // argv template; "{{prompt}}" is replaced with the rendered prompt if present
	EnvPassthrough []string // additional env var names allowed through besides PATH
	APIKeyEnvVar   string   // name of the env var carrying the provider's API key, if any
	Model          string
	Timeout        time.Duration // per-attempt timeout
	MaxRetries     int           // default 2
	Logger         logging.Logger
}

func (c *CLIConfig) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 2
	}
	if c.Logger == nil {
		c.Logger = logging.NoOpLogger{}
	}
}

// cliResponse is the schema a CLI subprocess must emit on stdout,
// spec.md §4.E.2: {decision, confidence, reasoning, risk_factors}.
type cliResponse struct {
	Decision    string   `json:"decision"`
	Confidence  float64  `json:"confidence"`
	Reasoning   string   `json:"reasoning"`
	RiskFactors []string `json:"risk_factors"`
}

// CLIProvider spawns a configured command, pipes the prompt to stdin,
// and reads one JSON line from stdout.
type CLIProvider struct {
	cfg CLIConfig
}

// NewCLIProvider constructs a CLI-subprocess provider.
func NewCLIProvider(cfg CLIConfig) *CLIProvider {
	cfg.applyDefaults()
	return &CLIProvider{cfg: cfg}
}

func (p *CLIProvider) Initialize(ctx context.Context) error { return nil }
func (p *CLIProvider) Cleanup(ctx context.Context) error    { return nil }

func (p *CLIProvider) Describe() Info {
	return Info{
		Name:         p.cfg.Name,
		Kind:         KindCLI,
		Models:       []string{p.cfg.Model},
		Capabilities: []string{"subprocess"},
	}
}

func (p *CLIProvider) HealthCheck(ctx context.Context) model.ComponentHealth {
	if _, err := exec.LookPath(p.cfg.Command); err != nil {
		return model.ComponentHealth{
			State:     model.StateUnhealthy,
			Message:   "configured command not found on PATH",
			LastCheck: time.Now().UTC(),
		}
	}
	return model.ComponentHealth{State: model.StateHealthy, LastCheck: time.Now().UTC()}
}

func (p *CLIProvider) Evaluate(ctx context.Context, req Request) (Decision, error) {
	operation := func() (Decision, error) {
		return p.attempt(ctx, req)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond

	result, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(p.cfg.MaxRetries+1)),
	)
	if err != nil {
		return Decision{}, model.NewError("inference.CLIProvider.Evaluate", model.KindInferenceUnavailable, "", err)
	}
	return result, nil
}

func (p *CLIProvider) attempt(ctx context.Context, req Request) (Decision, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = p.cfg.Timeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := make([]string, len(p.cfg.Args))
	for i, a := range p.cfg.Args {
		args[i] = strings.ReplaceAll(a, "{{prompt}}", req.Prompt)
	}

	cmd := exec.CommandContext(callCtx, p.cfg.Command, args...)
	// Terminate the process (not necessarily its full descendant tree —
	// that requires platform-specific process-group handling) as soon as
	// the context is cancelled by the timeout above.
	cmd.Cancel = func() error {
		return cmd.Process.Kill()
	}
	cmd.WaitDelay = 2 * time.Second
	cmd.Env = sanitizedEnv(p.cfg.EnvPassthrough, p.cfg.APIKeyEnvVar)
	cmd.Dir = os.TempDir() // deliberately away from the request's cwd

	cmd.Stdin = strings.NewReader(req.Prompt)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		p.cfg.Logger.Warn("cli inference provider failed", map[string]interface{}{
			"provider": p.cfg.Name,
			"error":    err.Error(),
			"stderr":   stderr.String(),
		})
		if callCtx.Err() != nil {
			return Decision{}, model.NewError("inference.CLIProvider.attempt", model.KindInferenceTimeout, "", callCtx.Err())
		}
		return Decision{}, fmt.Errorf("cli provider %s: %w", p.cfg.Name, err)
	}

	line, err := firstJSONLine(stdout.Bytes())
	if err != nil {
		return Decision{}, fmt.Errorf("cli provider %s: no JSON line on stdout: %w", p.cfg.Name, err)
	}

	var resp cliResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		return Decision{}, fmt.Errorf("cli provider %s: invalid JSON response: %w", p.cfg.Name, err)
	}

	action, err := parseDecisionAction(resp.Decision)
	if err != nil {
		return Decision{}, fmt.Errorf("cli provider %s: %w", p.cfg.Name, err)
	}

	return Decision{
		Action:      action,
		Reason:      resp.Reasoning,
		Confidence:  clamp01(resp.Confidence),
		RiskFactors: resp.RiskFactors,
		Provider:    p.cfg.Name,
		Model:       p.cfg.Model,
	}, nil
}

// sanitizedEnv builds a minimal environment: PATH, the configured
// API-key variable (if set and present in the parent environment), and
// anything named in passthrough — nothing else, per spec.md §4.E.2
// ("inherit a sanitized environment ... and nothing sensitive by default").
func sanitizedEnv(passthrough []string, apiKeyVar string) []string {
	allow := map[string]bool{"PATH": true}
	if apiKeyVar != "" {
		allow[apiKeyVar] = true
	}
	for _, name := range passthrough {
		allow[name] = true
	}

	env := make([]string, 0, len(allow))
	for name := range allow {
		if val, ok := os.LookupEnv(name); ok {
			env = append(env, name+"="+val)
		}
	}
	return env
}

// firstJSONLine returns the first non-empty line of out as raw bytes.
func firstJSONLine(out []byte) ([]byte, error) {
	scanner := bufio.NewScanner(bytes.NewReader(out))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) > 0 {
			cp := make([]byte, len(line))
			copy(cp, line)
			return cp, nil
		}
	}
	return nil, fmt.Errorf("empty output")
}

func parseDecisionAction(s string) (model.DecisionAction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "allow":
		return model.DecisionAllow, nil
	case "deny":
		return model.DecisionDeny, nil
	case "ask":
		return model.DecisionAsk, nil
	default:
		return "", fmt.Errorf("unrecognized decision %q", s)
	}
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

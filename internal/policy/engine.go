// Package policy implements the Security Policy Engine described in
// spec.md §4.G: the orchestrator that ties the Pattern Engine, the
// Sanitizer/Prompt Builder, the Inference Strategy Manager, and the
// Circuit Breaker together into a single evaluate(ToolRequest) ->
// Decision operation. Modeled on the teacher's config load/validate/
// reload idiom (core/config.go) for the atomic ruleset snapshot, and
// on Sentinel-Gate's policy_interceptor.go for the evaluate-then-decide
// shape (other_examples/a5ad211c_Sentinel-Gate-Sentinelgate__internal-domain-proxy-policy_interceptor.go.go).
package policy

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync/atomic"
	"time"

	"github.com/superego-sh/superego/internal/breaker"
	"github.com/superego-sh/superego/internal/inference"
	"github.com/superego-sh/superego/internal/logging"
	"github.com/superego-sh/superego/internal/model"
	"github.com/superego-sh/superego/internal/pattern"
	"github.com/superego-sh/superego/internal/sanitize"
	"github.com/superego-sh/superego/internal/strategy"
)

// Clock abstracts time.Now so tests can control processing_time_ms
// without sleeping. Defaults to time.Now.
type Clock func() time.Time

// Engine is the Security Policy Engine. It holds an atomically
// swappable Ruleset snapshot, a shared Pattern Engine, an inference
// Strategy Manager, and one Circuit Breaker protecting all inference
// calls (spec.md §5: "one breaker per external dependency" — here,
// inference is the one external dependency the engine itself owns).
type Engine struct {
	snapshot    atomic.Pointer[model.Ruleset]
	patterns    *pattern.Engine
	strategy    *strategy.Manager
	inferenceBr *breaker.Breaker
	logger      logging.Logger
	clock       Clock
	perCallTO   time.Duration
}

// Config configures an Engine.
type Config struct {
	Patterns         *pattern.Engine
	Strategy         *strategy.Manager
	InferenceBreaker *breaker.Breaker
	Logger           logging.Logger
	Clock            Clock
	PerCallTimeout   time.Duration // default 10s, passed to the Strategy Manager per candidate
}

// New constructs an Engine with an empty ruleset; call LoadRuleset
// before evaluating or every request will hit the default-deny path.
func New(cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = logging.NoOpLogger{}
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.PerCallTimeout <= 0 {
		cfg.PerCallTimeout = 10 * time.Second
	}
	e := &Engine{
		patterns:    cfg.Patterns,
		strategy:    cfg.Strategy,
		inferenceBr: cfg.InferenceBreaker,
		logger:      cfg.Logger,
		clock:       cfg.Clock,
		perCallTO:   cfg.PerCallTimeout,
	}
	e.snapshot.Store(&model.Ruleset{})
	return e
}

// LoadRuleset validates every rule, sorts them by (priority asc, id
// asc), and atomically swaps the snapshot. In-flight evaluations keep
// using whatever snapshot they already loaded (spec.md §3, §4.G).
// Invalid rules reject the whole swap.
func (e *Engine) LoadRuleset(rules []model.SecurityRule, version int64) error {
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return err
		}
		if err := e.patterns.CompileCondition(r.Conditions); err != nil {
			return err
		}
	}
	sorted := model.SortRules(rules)
	e.snapshot.Store(&model.Ruleset{Rules: sorted, Version: version})
	return nil
}

// CurrentVersion reports the version of the active ruleset snapshot.
func (e *Engine) CurrentVersion() int64 {
	return e.snapshot.Load().Version
}

// CurrentRules returns a copy of the active ruleset's rules, for the
// read-only rules-introspection endpoint (GET /v1/config/rules).
func (e *Engine) CurrentRules() []model.SecurityRule {
	rules := e.snapshot.Load().Rules
	out := make([]model.SecurityRule, len(rules))
	copy(out, rules)
	return out
}

// Evaluate is the Security Policy Engine's one operation (spec.md
// §4.G). It never panics and always returns a valid Decision — even on
// internal failure it fails closed.
func (e *Engine) Evaluate(ctx context.Context, req model.ToolRequest) (model.Decision, []string) {
	start := e.clock()

	ruleset := e.snapshot.Load()
	var matchedIDs []string

	for _, rule := range ruleset.Rules {
		matched, _ := e.patterns.MatchConditions(rule.Conditions, req)
		if !matched {
			continue
		}
		matchedIDs = append(matchedIDs, rule.ID)
		decision := e.resolve(ctx, rule, req, start)
		return decision, matchedIDs
	}

	// No rule matched: default deny (spec.md §4.G step 3).
	return model.Decision{
		Action:           model.DecisionDeny,
		Reason:           "no rule matched",
		Confidence:       0.6,
		ProcessingTimeMs: elapsedMs(start, e.clock()),
	}, matchedIDs
}

// resolve turns the first matching rule into a final Decision.
func (e *Engine) resolve(ctx context.Context, rule model.SecurityRule, req model.ToolRequest, start time.Time) model.Decision {
	switch rule.Action {
	case model.ActionAllow:
		return model.Decision{
			Action:           model.DecisionAllow,
			Reason:           nonEmpty(rule.Reason, "allowed by rule"),
			RuleID:           rule.ID,
			Confidence:       1.0,
			ProcessingTimeMs: elapsedMs(start, e.clock()),
		}
	case model.ActionDeny:
		return model.Decision{
			Action:           model.DecisionDeny,
			Reason:           nonEmpty(rule.Reason, "denied by rule"),
			RuleID:           rule.ID,
			Confidence:       1.0,
			ProcessingTimeMs: elapsedMs(start, e.clock()),
		}
	case model.ActionSample:
		return e.sample(ctx, rule, req, start)
	default:
		// Unreachable: rule.Validate rejects unknown actions at load
		// time, but fail closed defensively rather than panic.
		return model.Decision{
			Action:           model.DecisionDeny,
			Reason:           "rule has no recognized action",
			RuleID:           rule.ID,
			Confidence:       0.5,
			ProcessingTimeMs: elapsedMs(start, e.clock()),
		}
	}
}

// sample builds the evaluation prompt, computes the deterministic
// cache key, and asks the Strategy Manager (through the inference
// circuit breaker) to evaluate it, per spec.md §4.G step 5.
func (e *Engine) sample(ctx context.Context, rule model.SecurityRule, req model.ToolRequest, start time.Time) model.Decision {
	prompt, err := sanitize.BuildEvaluationPrompt(req.ToolName, req.Parameters.ToAny(), req.Cwd, req.AgentID, rule.SamplingGuidance)
	if err != nil {
		e.logger.Error("failed to build evaluation prompt", map[string]interface{}{"rule_id": rule.ID, "error": err.Error()})
		return failClosedDecision(start, e.clock())
	}

	cacheKey := sampleCacheKey(rule.ID, req.ToolName, req.Parameters.Canonical(), req.Cwd, rule.SamplingGuidance)

	var out inference.Decision
	var evalErr error
	breakerErr := e.inferenceBr.Execute(ctx, func(callCtx context.Context) error {
		out, evalErr = e.strategy.Evaluate(callCtx, inference.Request{
			Prompt:      prompt,
			ToolRequest: req,
			Rule:        rule,
			CacheKey:    cacheKey,
		}, rule.InferenceProvider, e.perCallTO)
		return evalErr
	})

	if breakerErr != nil {
		e.logger.Warn("sampled inference unavailable, failing closed", map[string]interface{}{
			"rule_id": rule.ID,
			"error":   breakerErr.Error(),
		})
		return failClosedDecision(start, e.clock())
	}

	action := model.DecisionDeny
	switch out.Action {
	case model.DecisionAllow:
		action = model.DecisionAllow
	case model.DecisionAsk:
		action = model.DecisionAsk
	case model.DecisionDeny:
		action = model.DecisionDeny
	}

	return model.Decision{
		Action:           action,
		Reason:           nonEmpty(out.Reason, "sampled inference verdict"),
		RuleID:           rule.ID,
		Confidence:       out.Confidence,
		ProcessingTimeMs: elapsedMs(start, e.clock()),
		Provider:         out.Provider,
		RiskFactors:      out.RiskFactors,
	}
}

func failClosedDecision(start, now time.Time) model.Decision {
	return model.Decision{
		Action:           model.DecisionDeny,
		Reason:           "inference unavailable; denied for safety",
		Confidence:       0.5,
		ProcessingTimeMs: elapsedMs(start, now),
	}
}

func sampleCacheKey(ruleID, toolName, canonicalParams, cwd, guidance string) string {
	h := sha256.New()
	for _, part := range []string{ruleID, toolName, canonicalParams, cwd, guidance} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func elapsedMs(start, now time.Time) int64 {
	ms := now.Sub(start).Milliseconds()
	if ms < 1 {
		return 1
	}
	return ms
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

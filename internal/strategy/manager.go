// Package strategy implements the Inference Strategy Manager described
// in spec.md §4.F: a name-keyed provider table, a global preference
// order, per-rule provider pinning, and health-aware fallback. Modeled
// on the teacher's ai.ProviderRegistry (ai/registry.go,
// detectBestProvider) for provider bookkeeping and ai.ChainClient
// (ai/chain_client.go) for the try-in-order failover behavior.
package strategy

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/superego-sh/superego/internal/inference"
	"github.com/superego-sh/superego/internal/logging"
	"github.com/superego-sh/superego/internal/model"
)

var (
	errNoCandidates             = errors.New("no inference providers registered")
	errAllCandidatesUnavailable = errors.New("all candidate providers skipped (uninitialized or unhealthy)")
)

// registeredProvider pairs a Provider with the last health state the
// Manager observed for it, so unhealthy providers can be skipped
// without a HealthCheck call on every evaluation.
type registeredProvider struct {
	provider    inference.Provider
	initialized bool
	lastHealth  model.ComponentState
}

// Manager holds initialized providers and selects among them per
// spec.md §4.F. Safe for concurrent Evaluate calls; registration is
// expected to happen once at startup before concurrent use begins.
type Manager struct {
	logger    logging.Logger
	mu        sync.RWMutex
	providers map[string]*registeredProvider
	order     []string // global preference order, most-preferred first
}

// NewManager constructs an empty Manager. Register providers with
// Register, then set the preference order with SetPreferenceOrder.
func NewManager(logger logging.Logger) *Manager {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Manager{
		logger:    logger,
		providers: make(map[string]*registeredProvider),
	}
}

// Register adds a provider to the table under name, initializing it
// immediately. Providers are owned by the Manager for process lifetime
// (spec.md §3 "Ownership & lifecycle").
func (m *Manager) Register(ctx context.Context, name string, p inference.Provider) error {
	if err := p.Initialize(ctx); err != nil {
		return model.NewError("strategy.Manager.Register", model.KindInferenceUnavailable, "", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers[name] = &registeredProvider{
		provider:    p,
		initialized: true,
		lastHealth:  model.StateHealthy,
	}
	if !containsString(m.order, name) {
		m.order = append(m.order, name)
	}
	return nil
}

// SetPreferenceOrder replaces the global preference order P. Names not
// present in the provider table are ignored.
func (m *Manager) SetPreferenceOrder(names []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ordered := make([]string, 0, len(names))
	for _, n := range names {
		if _, ok := m.providers[n]; ok {
			ordered = append(ordered, n)
		}
	}
	m.order = ordered
}

// RefreshHealth runs HealthCheck against every registered provider and
// records the result, so Evaluate's candidate skip logic stays current
// without a health check per call. Intended to be called periodically
// by the Health Monitor (internal/health).
func (m *Manager) RefreshHealth(ctx context.Context) {
	m.mu.RLock()
	snapshot := make(map[string]inference.Provider, len(m.providers))
	for name, rp := range m.providers {
		snapshot[name] = rp.provider
	}
	m.mu.RUnlock()

	for name, p := range snapshot {
		health := p.HealthCheck(ctx)
		m.mu.Lock()
		if rp, ok := m.providers[name]; ok {
			rp.lastHealth = health.State
		}
		m.mu.Unlock()
	}
}

// Cleanup calls Cleanup on every registered provider in parallel and
// waits for all of them, ignoring individual errors beyond logging them
// (shutdown must not get stuck on one misbehaving provider).
func (m *Manager) Cleanup(ctx context.Context) {
	m.mu.RLock()
	snapshot := make([]*registeredProvider, 0, len(m.providers))
	for _, rp := range m.providers {
		snapshot = append(snapshot, rp)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, rp := range snapshot {
		wg.Add(1)
		go func(rp *registeredProvider) {
			defer wg.Done()
			if err := rp.provider.Cleanup(ctx); err != nil {
				m.logger.Warn("provider cleanup failed", map[string]interface{}{"error": err.Error()})
			}
		}(rp)
	}
	wg.Wait()
}

// Evaluate tries the pinned provider (if any) first, then the global
// preference order minus the pinned name, skipping any candidate whose
// last observed health is unhealthy. The first successful evaluation
// wins; if every candidate fails or is skipped, it returns
// model.KindInferenceUnavailable, which the Policy Engine must
// translate into a fail-closed deny (spec.md §4.G step 5).
func (m *Manager) Evaluate(ctx context.Context, req inference.Request, pinned string, perCallTimeout time.Duration) (inference.Decision, error) {
	candidates := m.candidateOrder(pinned)
	if len(candidates) == 0 {
		return inference.Decision{}, model.NewError("strategy.Manager.Evaluate", model.KindInferenceUnavailable, "", errNoCandidates)
	}

	var lastErr error
	tried := 0
	for _, name := range candidates {
		rp, ok := m.lookup(name)
		if !ok || !rp.initialized {
			continue
		}
		if rp.lastHealth == model.StateUnhealthy {
			m.logger.Debug("skipping unhealthy provider", map[string]interface{}{"provider": name})
			continue
		}

		callReq := req
		if callReq.Timeout <= 0 {
			callReq.Timeout = perCallTimeout
		}

		tried++
		decision, err := rp.provider.Evaluate(ctx, callReq)
		if err == nil {
			return decision, nil
		}

		lastErr = err
		m.logger.Warn("inference provider failed, trying next candidate", map[string]interface{}{
			"provider": name,
			"error":    err.Error(),
		})
	}

	if tried == 0 {
		return inference.Decision{}, model.NewError("strategy.Manager.Evaluate", model.KindInferenceUnavailable, "", errAllCandidatesUnavailable)
	}
	return inference.Decision{}, model.NewError("strategy.Manager.Evaluate", model.KindInferenceUnavailable, "", lastErr)
}

// candidateOrder builds [pinned] + (P \ {pinned}) per spec.md §4.F.
func (m *Manager) candidateOrder(pinned string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if pinned == "" {
		out := make([]string, len(m.order))
		copy(out, m.order)
		return out
	}

	out := make([]string, 0, len(m.order)+1)
	if _, ok := m.providers[pinned]; ok {
		out = append(out, pinned)
	}
	for _, n := range m.order {
		if n != pinned {
			out = append(out, n)
		}
	}
	return out
}

func (m *Manager) lookup(name string) (*registeredProvider, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rp, ok := m.providers[name]
	return rp, ok
}

func containsString(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

// Package health implements the Health Monitor described in spec.md
// §4.J: a registry of named components, each exposing a health_check,
// aggregated into an overall worst-state rollup. Modeled on the
// teacher's HealthStatus shape (core/interfaces.go) and the
// per-transport HealthCheck methods in ui/transports/*.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/superego-sh/superego/internal/model"
)

// Checker is implemented by anything the Health Monitor can poll: the
// policy engine, the inference strategy manager, the config watcher,
// and each inference provider.
type Checker interface {
	HealthCheck(ctx context.Context) model.ComponentHealth
}

// CheckerFunc adapts a plain function to the Checker interface.
type CheckerFunc func(ctx context.Context) model.ComponentHealth

func (f CheckerFunc) HealthCheck(ctx context.Context) model.ComponentHealth { return f(ctx) }

// Monitor registers named components and aggregates their health on
// demand. A component that has never responded is unhealthy (spec.md
// §4.J).
type Monitor struct {
	mu         sync.RWMutex
	components map[string]Checker
	clock      func() time.Time
}

// NewMonitor constructs an empty Monitor.
func NewMonitor() *Monitor {
	return &Monitor{
		components: make(map[string]Checker),
		clock:      time.Now,
	}
}

// Register adds or replaces a named component's Checker.
func (m *Monitor) Register(name string, checker Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.components[name] = checker
}

// Unregister removes a named component.
func (m *Monitor) Unregister(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.components, name)
}

// Status polls every registered component and aggregates the result.
// Overall is the worst observed state; a degraded component alone
// never drops overall below degraded, only an unhealthy one drops it
// to unhealthy (spec.md §4.J).
func (m *Monitor) Status(ctx context.Context) model.HealthStatus {
	m.mu.RLock()
	snapshot := make(map[string]Checker, len(m.components))
	for name, c := range m.components {
		snapshot[name] = c
	}
	m.mu.RUnlock()

	perComponent := make(map[string]model.ComponentHealth, len(snapshot))
	overall := model.StateHealthy

	for name, checker := range snapshot {
		health := m.safeCheck(ctx, checker)
		perComponent[name] = health
		overall = model.Worst(overall, health.State)
	}

	return model.HealthStatus{Overall: overall, PerComponent: perComponent}
}

// checkTimeout bounds a single component's health check; a component
// that never responds within it is treated as unhealthy (spec.md §4.J
// "a component that has never responded is unhealthy").
const checkTimeout = 5 * time.Second

// safeCheck guards against a misbehaving Checker panicking or hanging
// and taking down the whole aggregation.
func (m *Monitor) safeCheck(ctx context.Context, checker Checker) model.ComponentHealth {
	checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	done := make(chan model.ComponentHealth, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- model.ComponentHealth{
					State:     model.StateUnhealthy,
					Message:   "health check panicked",
					LastCheck: m.clock().UTC(),
				}
			}
		}()
		done <- checker.HealthCheck(checkCtx)
	}()

	select {
	case health := <-done:
		return health
	case <-checkCtx.Done():
		return model.ComponentHealth{
			State:     model.StateUnhealthy,
			Message:   "health check did not respond in time",
			LastCheck: m.clock().UTC(),
		}
	}
}

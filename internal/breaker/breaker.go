// Package breaker implements the three-state circuit breaker described
// in spec.md §4.D, adapted from the teacher's production circuit
// breaker (resilience/circuit_breaker.go) but trimmed to the simpler
// consecutive-failure semantics the spec calls for rather than a
// sliding error-rate window.
package breaker

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/superego-sh/superego/internal/logging"
	"github.com/superego-sh/superego/internal/model"
)

// State is one of Closed, Open, HalfOpen.
type State int32

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// MetricsCollector mirrors the teacher's resilience.MetricsCollector
// contract so a caller can plug in an OpenTelemetry-backed recorder
// (see internal/breaker/otel.go) without the breaker depending on it.
type MetricsCollector interface {
	RecordSuccess(name string)
	RecordFailure(name string)
	RecordStateChange(name string, from, to string)
	RecordRejection(name string)
}

type noopMetrics struct{}

func (noopMetrics) RecordSuccess(string)             {}
func (noopMetrics) RecordFailure(string)             {}
func (noopMetrics) RecordStateChange(_, _, _ string) {}
func (noopMetrics) RecordRejection(string)           {}

// Config configures a Breaker. Zero values fall back to the defaults
// named in spec.md §4.D.
type Config struct {
	Name             string
	FailureThreshold int           // default 5
	RecoveryTimeout  time.Duration // default 30s
	TimeoutSeconds   time.Duration // default 10s, enforced per call regardless of state
	Metrics          MetricsCollector
	Logger           logging.Logger
}

func (c *Config) applyDefaults() {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = 30 * time.Second
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = 10 * time.Second
	}
	if c.Metrics == nil {
		c.Metrics = noopMetrics{}
	}
}

// Breaker guards a single external dependency (spec.md §5: "one per
// external dependency"). Its hot path (Allow/recordResult) is a short
// critical section under a mutex, matching the teacher's note that a
// plain mutex is acceptable there.
type Breaker struct {
	config Config

	mu               sync.Mutex
	state            State
	consecutiveFails int
	openedAt         time.Time
	halfOpenInFlight bool
}

// New constructs a Breaker with defaults applied.
func New(config Config) *Breaker {
	config.applyDefaults()
	return &Breaker{config: config, state: StateClosed}
}

// State returns the current state (for health reporting).
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Execute runs fn under circuit-breaker protection and the breaker's
// own timeout, regardless of state (spec.md §4.D: "independent
// timeout_seconds ... enforced regardless of state"). A panic inside fn
// is recovered and surfaced as an error rather than crashing the caller.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if !b.allow() {
		b.config.Metrics.RecordRejection(b.config.Name)
		return model.NewError("breaker.Execute", model.KindCircuitOpen, "", fmt.Errorf("circuit breaker %q is open", b.config.Name))
	}

	callCtx, cancel := context.WithTimeout(ctx, b.config.TimeoutSeconds)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in breaker-protected call: %v\n%s", r, debug.Stack())
			}
		}()
		done <- fn(callCtx)
	}()

	var err error
	select {
	case err = <-done:
	case <-callCtx.Done():
		err = model.NewError("breaker.Execute", model.KindInferenceTimeout, "", callCtx.Err())
	}

	b.recordResult(err)
	return err
}

// allow reports whether a call may proceed, transitioning Open->HalfOpen
// once the recovery timeout has elapsed.
func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(b.openedAt) >= b.config.RecoveryTimeout {
			b.transition(StateHalfOpen)
			b.halfOpenInFlight = true
			return true
		}
		return false
	case StateHalfOpen:
		if b.halfOpenInFlight {
			return false // at most one probe in flight
		}
		b.halfOpenInFlight = true
		return true
	default:
		return false
	}
}

func (b *Breaker) recordResult(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.halfOpenInFlight = false
		if err == nil {
			b.config.Metrics.RecordSuccess(b.config.Name)
			b.consecutiveFails = 0
			b.transition(StateClosed)
		} else {
			b.config.Metrics.RecordFailure(b.config.Name)
			b.openedAt = time.Now()
			b.transition(StateOpen)
		}
	case StateClosed:
		if err == nil {
			b.config.Metrics.RecordSuccess(b.config.Name)
			b.consecutiveFails = 0
			return
		}
		b.config.Metrics.RecordFailure(b.config.Name)
		b.consecutiveFails++
		if b.consecutiveFails >= b.config.FailureThreshold {
			b.openedAt = time.Now()
			b.transition(StateOpen)
		}
	case StateOpen:
		// A late result from a call that started before the breaker
		// opened; nothing to do.
	}
}

func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.config.Metrics.RecordStateChange(b.config.Name, from.String(), to.String())
	if b.config.Logger != nil {
		b.config.Logger.Info("circuit breaker state change", map[string]interface{}{
			"name": b.config.Name,
			"from": from.String(),
			"to":   to.String(),
		})
	}
}


package breaker

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetrics adapts an OpenTelemetry Meter to the breaker's
// MetricsCollector contract, the same pattern the teacher's resilience
// package uses to plug metrics into the circuit breaker without it
// depending on a concrete telemetry backend.
type OTelMetrics struct {
	successes  metric.Int64Counter
	failures   metric.Int64Counter
	rejections metric.Int64Counter
	stateGauge metric.Int64Counter // state transitions recorded as counted events
}

// NewOTelMetrics builds an OTelMetrics from meter, or returns a no-op
// MetricsCollector if instrument creation fails (never block startup on
// a metrics wiring error).
func NewOTelMetrics(meter metric.Meter) MetricsCollector {
	successes, err1 := meter.Int64Counter("superego.breaker.successes")
	failures, err2 := meter.Int64Counter("superego.breaker.failures")
	rejections, err3 := meter.Int64Counter("superego.breaker.rejections")
	transitions, err4 := meter.Int64Counter("superego.breaker.state_transitions")
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
		return noopMetrics{}
	}
	return &OTelMetrics{
		successes:  successes,
		failures:   failures,
		rejections: rejections,
		stateGauge: transitions,
	}
}

func (m *OTelMetrics) RecordSuccess(name string) {
	m.successes.Add(context.Background(), 1, metric.WithAttributes(attribute.String("breaker", name)))
}

func (m *OTelMetrics) RecordFailure(name string) {
	m.failures.Add(context.Background(), 1, metric.WithAttributes(attribute.String("breaker", name)))
}

func (m *OTelMetrics) RecordRejection(name string) {
	m.rejections.Add(context.Background(), 1, metric.WithAttributes(attribute.String("breaker", name)))
}

func (m *OTelMetrics) RecordStateChange(name string, from, to string) {
	m.stateGauge.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("breaker", name),
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

package observability

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	positionMetricsOnce sync.Once
	positionRegistry    *PositionMetricsRegistry
)

// ModuleMetrics returns the lazily-initialised registry used to record
// gateway activity per module and route.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendkeeper",
				Subsystem: "gateway",
				Name:      "requests_total",
				Help:      "Total gateway requests segmented by module, method and outcome.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendkeeper",
				Subsystem: "gateway",
				Name:      "errors_total",
				Help:      "Total gateway errors segmented by module, method, and status code.",
			}, []string{"module", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "lendkeeper",
				Subsystem: "gateway",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for gateway handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendkeeper",
				Subsystem: "gateway",
				Name:      "throttles_total",
				Help:      "Count of requests rejected due to throttling policies.",
			}, []string{"module", "reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of a gateway request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *moduleMetrics) Observe(module, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(module, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied module and
// reason. Reasons should be stable strings such as "rate_limit".
func (m *moduleMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(module, reason).Inc()
}

// PositionMetricsRegistry tracks position adapter calls. Calls and
// liquidations are also exported through the global OpenTelemetry meter.
type PositionMetricsRegistry struct {
	calls        *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	open         prometheus.Gauge
	liquidations *prometheus.CounterVec

	otel positionInstruments
}

type positionInstruments struct {
	calls        metric.Int64Counter
	latency      metric.Float64Histogram
	liquidations metric.Int64Counter
}

// newPositionInstruments falls back to no-op instruments when meter rejects
// a definition.
func newPositionInstruments(meter metric.Meter) positionInstruments {
	fallback := noop.NewMeterProvider().Meter("lendkeeper/position")
	calls, err := meter.Int64Counter("lendkeeper.position.calls",
		metric.WithDescription("Adapter calls by operation and outcome."))
	if err != nil {
		calls, _ = fallback.Int64Counter("lendkeeper.position.calls")
	}
	latency, err := meter.Float64Histogram("lendkeeper.position.call_duration",
		metric.WithDescription("Adapter call latency."), metric.WithUnit("s"))
	if err != nil {
		latency, _ = fallback.Float64Histogram("lendkeeper.position.call_duration")
	}
	liquidations, err := meter.Int64Counter("lendkeeper.position.liquidations",
		metric.WithDescription("Collateral shortfalls surfaced by status refreshes."))
	if err != nil {
		liquidations, _ = fallback.Int64Counter("lendkeeper.position.liquidations")
	}
	return positionInstruments{calls: calls, latency: latency, liquidations: liquidations}
}

func (i positionInstruments) observe(ctx context.Context, op, outcome string, duration time.Duration) {
	i.calls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("outcome", outcome),
	))
	i.latency.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String("operation", op)))
}

func (i positionInstruments) liquidation(ctx context.Context, protocol string) {
	i.liquidations.Add(ctx, 1, metric.WithAttributes(attribute.String("protocol", protocol)))
}

// PositionMetrics returns the singleton registry for position adapters.
func PositionMetrics() *PositionMetricsRegistry {
	positionMetricsOnce.Do(func() {
		positionRegistry = &PositionMetricsRegistry{
			calls: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendkeeper",
				Subsystem: "position",
				Name:      "calls_total",
				Help:      "Count of adapter calls segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "lendkeeper",
				Subsystem: "position",
				Name:      "call_duration_seconds",
				Help:      "Latency distribution for adapter calls.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			open: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "lendkeeper",
				Subsystem: "position",
				Name:      "open_positions",
				Help:      "Number of adapters currently holding an open position.",
			}),
			liquidations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendkeeper",
				Subsystem: "position",
				Name:      "liquidations_detected_total",
				Help:      "Collateral shortfalls surfaced by status refreshes, by protocol.",
			}, []string{"protocol"}),
			otel: newPositionInstruments(otel.GetMeterProvider().Meter("lendkeeper/position")),
		}
		prometheus.MustRegister(
			positionRegistry.calls,
			positionRegistry.latency,
			positionRegistry.open,
			positionRegistry.liquidations,
		)
	})
	return positionRegistry
}

// Observe records one adapter call.
func (m *PositionMetricsRegistry) Observe(operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	op := strings.TrimSpace(operation)
	if op == "" {
		op = "unknown"
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.calls.WithLabelValues(op, outcome).Inc()
	m.latency.WithLabelValues(op).Observe(duration.Seconds())
	m.otel.observe(context.Background(), op, outcome, duration)
}

// SetOpenPositions publishes the tracker size.
func (m *PositionMetricsRegistry) SetOpenPositions(n int) {
	if m == nil {
		return
	}
	m.open.Set(float64(n))
}

// RecordLiquidation counts a detected external liquidation.
func (m *PositionMetricsRegistry) RecordLiquidation(protocol string) {
	if m == nil {
		return
	}
	if protocol == "" {
		protocol = "unknown"
	}
	m.liquidations.WithLabelValues(protocol).Inc()
	m.otel.liquidation(context.Background(), protocol)
}

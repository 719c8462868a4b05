// Package metrics exports Prometheus metrics for the coordinator: lock
// contention, active sessions/meetings, handler invocation outcomes, event
// bus fan-out latency, conversation/meeting wait durations, and
// turn-timeout fires.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry wraps the collectors the coordinator records into, exposed as a
// single struct so every package that needs metrics takes one dependency.
type Registry struct {
	registry *prometheus.Registry

	// Lock wait/hold/contention, recorded by pkg/conversation and
	// pkg/meeting around lock.Acquire
	lockWaitSeconds *prometheus.HistogramVec
	lockHoldSeconds *prometheus.HistogramVec
	lockContention  *prometheus.CounterVec

	// Active state gauges; no package in this module calls
	// SetActiveSessions or SetActiveMeetings
	activeSessions prometheus.Gauge
	activeMeetings prometheus.Gauge

	// Handler registry (pkg/handler)
	handlerInvocations *prometheus.CounterVec
	handlerDuration    *prometheus.HistogramVec

	// Event bus (pkg/events)
	busSubscriberLatency *prometheus.HistogramVec
	busSubscriberPanics  *prometheus.CounterVec

	// Conversation/meeting wait outcomes (pkg/conversation, pkg/meeting)
	waitDuration *prometheus.HistogramVec

	// Turn-timeout supervisor (pkg/meeting)
	turnTimeoutFires *prometheus.CounterVec
}

// Config configures the metrics Registry.
type Config struct {
	// Registry to register collectors into. If nil, a new one is created.
	Registry *prometheus.Registry

	// LatencyBuckets bounds histograms measured in seconds. Defaults to
	// DefaultLatencyBuckets when empty.
	LatencyBuckets []float64
}

// DefaultLatencyBuckets spans sub-millisecond lock acquisition up to the
// multi-minute waits a blocking conversation call can incur.
func DefaultLatencyBuckets() []float64 {
	return []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300}
}

// New creates a Registry and registers its collectors.
func New(cfg Config) *Registry {
	buckets := cfg.LatencyBuckets
	if len(buckets) == 0 {
		buckets = DefaultLatencyBuckets()
	}

	reg := cfg.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Registry{registry: reg}

	m.lockWaitSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "agentmesh",
		Subsystem: "lock",
		Name:      "wait_seconds",
		Help:      "Time spent waiting for a try-acquire to resolve (always ~0 for pg_try_advisory_lock, recorded for parity with blocking variants).",
		Buckets:   buckets,
	}, []string{"resource_kind"})

	m.lockHoldSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "agentmesh",
		Subsystem: "lock",
		Name:      "hold_seconds",
		Help:      "Time an advisory lock was held between Acquire and Release.",
		Buckets:   buckets,
	}, []string{"resource_kind"})

	m.lockContention = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentmesh",
		Subsystem: "lock",
		Name:      "contention_total",
		Help:      "Total lock acquire attempts that found the resource already locked.",
	}, []string{"resource_kind"})

	m.activeSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "agentmesh",
		Subsystem: "conversation",
		Name:      "active_sessions",
		Help:      "Number of sessions currently in ACTIVE status.",
	})

	m.activeMeetings = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "agentmesh",
		Subsystem: "meeting",
		Name:      "active_meetings",
		Help:      "Number of meetings currently in ACTIVE status.",
	})

	m.handlerInvocations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentmesh",
		Subsystem: "handler",
		Name:      "invocations_total",
		Help:      "Total handler invocations by kind, mode and outcome.",
	}, []string{"kind", "mode", "outcome"})

	m.handlerDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "agentmesh",
		Subsystem: "handler",
		Name:      "duration_seconds",
		Help:      "Handler invocation duration, from dispatch to return or panic.",
		Buckets:   buckets,
	}, []string{"kind", "mode"})

	m.busSubscriberLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "agentmesh",
		Subsystem: "events",
		Name:      "subscriber_latency_seconds",
		Help:      "Time a single subscriber callback took to process an emitted event.",
		Buckets:   buckets,
	}, []string{"event_type", "label"})

	m.busSubscriberPanics = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentmesh",
		Subsystem: "events",
		Name:      "subscriber_panics_total",
		Help:      "Total subscriber callback panics recovered by the bus.",
	}, []string{"event_type", "label"})

	m.waitDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "agentmesh",
		Subsystem: "wait",
		Name:      "duration_seconds",
		Help:      "Time a send_and_wait/get_or_wait_for_response caller spent blocked, by outcome.",
		Buckets:   buckets,
	}, []string{"operation", "outcome"})

	m.turnTimeoutFires = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentmesh",
		Subsystem: "meeting",
		Name:      "turn_timeout_fires_total",
		Help:      "Total turn-timeout supervisor fires, by whether the turn had already advanced.",
	}, []string{"outcome"})

	reg.MustRegister(
		m.lockWaitSeconds,
		m.lockHoldSeconds,
		m.lockContention,
		m.activeSessions,
		m.activeMeetings,
		m.handlerInvocations,
		m.handlerDuration,
		m.busSubscriberLatency,
		m.busSubscriberPanics,
		m.waitDuration,
		m.turnTimeoutFires,
	)

	return m
}

// RecordLockWait records how long a try-acquire took to resolve.
func (m *Registry) RecordLockWait(resourceKind string, d time.Duration) {
	m.lockWaitSeconds.WithLabelValues(resourceKind).Observe(d.Seconds())
}

// RecordLockHold records how long a lock was held before release.
func (m *Registry) RecordLockHold(resourceKind string, d time.Duration) {
	m.lockHoldSeconds.WithLabelValues(resourceKind).Observe(d.Seconds())
}

// RecordLockContention increments the contended-acquire counter.
func (m *Registry) RecordLockContention(resourceKind string) {
	m.lockContention.WithLabelValues(resourceKind).Inc()
}

// SetActiveSessions sets the active-session gauge.
func (m *Registry) SetActiveSessions(n int) {
	m.activeSessions.Set(float64(n))
}

// SetActiveMeetings sets the active-meeting gauge.
func (m *Registry) SetActiveMeetings(n int) {
	m.activeMeetings.Set(float64(n))
}

// RecordHandlerInvocation records a completed handler invocation.
func (m *Registry) RecordHandlerInvocation(kind, mode, outcome string, d time.Duration) {
	m.handlerInvocations.WithLabelValues(kind, mode, outcome).Inc()
	m.handlerDuration.WithLabelValues(kind, mode).Observe(d.Seconds())
}

// RecordBusSubscriber records one subscriber callback's latency, and its
// panic if it recovered from one.
func (m *Registry) RecordBusSubscriber(eventType, label string, d time.Duration, panicked bool) {
	m.busSubscriberLatency.WithLabelValues(eventType, label).Observe(d.Seconds())
	if panicked {
		m.busSubscriberPanics.WithLabelValues(eventType, label).Inc()
	}
}

// RecordWait records a blocking wait's duration and outcome ("replied",
// "timeout", or "cancelled").
func (m *Registry) RecordWait(operation, outcome string, d time.Duration) {
	m.waitDuration.WithLabelValues(operation, outcome).Observe(d.Seconds())
}

// RecordTurnTimeoutFire records a turn-timeout supervisor fire. outcome is
// "advanced" when the fire won the race against a concurrent speak/leave,
// or "stale" when on_fire found the turn had already moved on.
func (m *Registry) RecordTurnTimeoutFire(outcome string) {
	m.turnTimeoutFires.WithLabelValues(outcome).Inc()
}

// Handler returns the HTTP handler for the Prometheus exposition endpoint.
func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying prometheus.Gatherer, e.g. for merging into
// a process-wide default registry.
func (m *Registry) Gatherer() prometheus.Gatherer {
	return m.registry
}

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "stackprof"

// Gate decisions.
const (
	DecisionCaptured        = "captured"
	DecisionSkippedInterval = "skipped_interval"
	DecisionSkippedPath     = "skipped_path"
)

// Profiler operations that can fail.
const (
	OpStart = "start"
	OpStop  = "stop"
	OpSave  = "save"
)

// DefaultBuckets are capture duration buckets in seconds
var DefaultBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0}

// Collector tracks profiling metrics for Prometheus export
type Collector struct {
	registry *prometheus.Registry

	decisions       *prometheus.CounterVec
	profilerErrors  *prometheus.CounterVec
	captureDuration prometheus.Histogram
	artifactBytes   prometheus.Counter
	activeSessions  prometheus.Gauge
}

// NewCollector creates a collector on its own registry, which also carries
// the Go runtime and process collectors.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewCollectorWithRegistry(reg)
}

// NewCollectorWithRegistry registers the profiling metrics on reg.
func NewCollectorWithRegistry(reg *prometheus.Registry) *Collector {
	c := &Collector{
		registry: reg,
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_decisions_total",
			Help:      "Admission gate decisions by outcome",
		}, []string{"decision"}),
		profilerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "profiler_errors_total",
			Help:      "Profiler failures by operation; the request is served regardless",
		}, []string{"op"}),
		captureDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "capture_duration_seconds",
			Help:      "Duration of profiled requests",
			Buckets:   DefaultBuckets,
		}),
		artifactBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifact_bytes_total",
			Help:      "Bytes of profile artifacts written",
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Profiling sessions currently running",
		}),
	}
	reg.MustRegister(c.decisions, c.profilerErrors, c.captureDuration, c.artifactBytes, c.activeSessions)

	// Pre-create label values so dashboards see zeros before the first event.
	for _, d := range []string{DecisionCaptured, DecisionSkippedInterval, DecisionSkippedPath} {
		c.decisions.WithLabelValues(d)
	}
	for _, op := range []string{OpStart, OpStop, OpSave} {
		c.profilerErrors.WithLabelValues(op)
	}
	return c
}

// RecordDecision counts one gate decision.
func (c *Collector) RecordDecision(decision string) {
	c.decisions.WithLabelValues(decision).Inc()
}

// RecordProfilerError counts a failed profiler operation.
func (c *Collector) RecordProfilerError(op string) {
	c.profilerErrors.WithLabelValues(op).Inc()
}

// SessionStarted marks a session as running.
func (c *Collector) SessionStarted() {
	c.activeSessions.Inc()
}

// RecordCapture records a finished session.
func (c *Collector) RecordCapture(duration time.Duration, artifactBytes int) {
	c.activeSessions.Dec()
	c.captureDuration.Observe(duration.Seconds())
	if artifactBytes > 0 {
		c.artifactBytes.Add(float64(artifactBytes))
	}
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Package metrics exposes Prometheus instrumentation for the gateway, the
// pipeline stages and the HTTP surface. A nil *Metrics is valid and records
// nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "visa"

// Metrics owns a private registry and every collector the service records.
type Metrics struct {
	registry *prometheus.Registry

	gatewayCalls    *prometheus.CounterVec
	gatewayAttempts *prometheus.CounterVec
	gatewayLatency  *prometheus.HistogramVec
	gatewayTokens   *prometheus.CounterVec

	stageRuns       *prometheus.CounterVec
	questionPadding *prometheus.CounterVec
	floorApplied    prometheus.Counter
	reconstructed   prometheus.Counter

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge
}

// New builds a registry with the pipeline collectors plus the Go runtime and
// process collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		gatewayCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "calls_total",
			Help:      "Logical generative calls by stage and outcome.",
		}, []string{"stage", "outcome"}),
		gatewayAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "attempts_total",
			Help:      "Backend attempts by stage, including retries.",
		}, []string{"stage"}),
		gatewayLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "call_duration_seconds",
			Help:      "Logical call duration in seconds, retries included.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}, []string{"stage"}),
		gatewayTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "tokens_total",
			Help:      "Token usage by stage and direction.",
		}, []string{"stage", "direction"}),
		stageRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "stage_runs_total",
			Help:      "Stage executions by stage and outcome.",
		}, []string{"stage", "outcome"}),
		questionPadding: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "question_padding_total",
			Help:      "Follow-up questions added by padding, by source.",
		}, []string{"source"}),
		floorApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "confidence_floor_applied_total",
			Help:      "Classifications whose top confidence was raised to the floor.",
		}),
		reconstructed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "decision_reconstructed_total",
			Help:      "Decisions rebuilt after failing schema validation.",
		}),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		requestInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
		}),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.gatewayCalls,
		m.gatewayAttempts,
		m.gatewayLatency,
		m.gatewayTokens,
		m.stageRuns,
		m.questionPadding,
		m.floorApplied,
		m.reconstructed,
		m.requestTotal,
		m.requestDuration,
		m.requestInFlight,
	)
	return m
}

// Registry returns the underlying registry (tests gather from it).
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordCall records one logical gateway call.
func (m *Metrics) RecordCall(stage, outcome string, attempts int, d time.Duration) {
	if m == nil {
		return
	}
	m.gatewayCalls.WithLabelValues(stage, outcome).Inc()
	if attempts > 0 {
		m.gatewayAttempts.WithLabelValues(stage).Add(float64(attempts))
	}
	m.gatewayLatency.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordTokens adds token usage for a stage.
func (m *Metrics) RecordTokens(stage string, in, out int64) {
	if m == nil {
		return
	}
	if in > 0 {
		m.gatewayTokens.WithLabelValues(stage, "in").Add(float64(in))
	}
	if out > 0 {
		m.gatewayTokens.WithLabelValues(stage, "out").Add(float64(out))
	}
}

// RecordStage counts a stage execution.
func (m *Metrics) RecordStage(stage, outcome string) {
	if m == nil {
		return
	}
	m.stageRuns.WithLabelValues(stage, outcome).Inc()
}

// RecordPadding counts n padded questions from source.
func (m *Metrics) RecordPadding(source string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.questionPadding.WithLabelValues(source).Add(float64(n))
}

// RecordFloorApplied counts a confidence floor application.
func (m *Metrics) RecordFloorApplied() {
	if m == nil {
		return
	}
	m.floorApplied.Inc()
}

// RecordReconstructed counts a best-effort decision rebuild.
func (m *Metrics) RecordReconstructed() {
	if m == nil {
		return
	}
	m.reconstructed.Inc()
}

// RouteFunc returns the route pattern of a request, used as a low
// cardinality label. It runs after the handler.
type RouteFunc func(r *http.Request) string

// Middleware instruments an HTTP handler.
func (m *Metrics) Middleware(route RouteFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			m.requestInFlight.Inc()
			defer m.requestInFlight.Dec()

			next.ServeHTTP(rec, r)

			path := r.URL.Path
			if route != nil {
				if p := route(r); p != "" {
					path = p
				}
			}
			m.requestTotal.WithLabelValues(r.Method, path, strconv.Itoa(rec.statusCode)).Inc()
			m.requestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// Package metrics maintains the router's Prometheus metrics and renders the
// text exposition served on /metrics.
//
// Series:
//   - requests_total{route,method,status} (counter)
//   - upstream_errors_total{error_type} (counter)
//   - request_latency_seconds{route} (histogram)
//   - active_connections (gauge)
//   - rate_limiter_buckets (gauge)
package metrics

import (
	"bytes"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// latencyBuckets covers sub-millisecond local handling up to slow upstream
// round trips.
var latencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0,
}

// Recorder is the capability interface the data plane records through.
// Production code uses *Registry; tests substitute a Nop or a fake.
type Recorder interface {
	RecordRequest(route, method string, status int)
	ObserveRequestLatency(route string, seconds float64)
	RecordUpstreamError(errorType string)
	ConnectionOpened()
	ConnectionClosed()
	SetRateLimiterBuckets(n int)
}

// Registry is the Prometheus-backed Recorder.
type Registry struct {
	registry *prometheus.Registry

	requestsTotal      *prometheus.CounterVec
	upstreamErrors     *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	activeConnections  prometheus.Gauge
	rateLimiterBuckets prometheus.Gauge
}

// NewRegistry creates a Registry with all series pre-registered on a fresh
// Prometheus registry.
func NewRegistry() *Registry {
	registry := prometheus.NewRegistry()

	r := &Registry{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "requests_total",
				Help: "Total HTTP requests handled by the router",
			},
			[]string{"route", "method", "status"},
		),
		upstreamErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "upstream_errors_total",
				Help: "Total errors encountered while talking to upstreams",
			},
			[]string{"error_type"},
		),
		requestLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "request_latency_seconds",
				Help:    "End-to-end request latency in seconds",
				Buckets: latencyBuckets,
			},
			[]string{"route"},
		),
		activeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "active_connections",
			Help: "Currently open client connections",
		}),
		rateLimiterBuckets: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rate_limiter_buckets",
			Help: "Active rate limiter token buckets",
		}),
	}

	registry.MustRegister(
		r.requestsTotal,
		r.upstreamErrors,
		r.requestLatency,
		r.activeConnections,
		r.rateLimiterBuckets,
	)

	return r
}

// RecordRequest increments requests_total for the given route, method and
// status code.
func (r *Registry) RecordRequest(route, method string, status int) {
	r.requestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
}

// ObserveRequestLatency records one request latency observation.
func (r *Registry) ObserveRequestLatency(route string, seconds float64) {
	r.requestLatency.WithLabelValues(route).Observe(seconds)
}

// RecordUpstreamError increments upstream_errors_total for the error type.
func (r *Registry) RecordUpstreamError(errorType string) {
	r.upstreamErrors.WithLabelValues(errorType).Inc()
}

// ConnectionOpened increments the active connection gauge.
func (r *Registry) ConnectionOpened() {
	r.activeConnections.Inc()
}

// ConnectionClosed decrements the active connection gauge.
func (r *Registry) ConnectionClosed() {
	r.activeConnections.Dec()
}

// SetRateLimiterBuckets sets the rate limiter bucket gauge.
func (r *Registry) SetRateLimiterBuckets(n int) {
	r.rateLimiterBuckets.Set(float64(n))
}

// Gather renders all registered series in the Prometheus text exposition
// format, for serving over a raw socket.
func (r *Registry) Gather() ([]byte, error) {
	families, err := r.registry.Gather()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	encoder := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, family := range families {
		if err := encoder.Encode(family); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// ConnectionGuard ties the active connection gauge to a connection's
// lifetime.
type ConnectionGuard struct {
	recorder Recorder
}

// NewConnectionGuard increments the gauge and returns a guard whose Close
// decrements it.
func NewConnectionGuard(recorder Recorder) *ConnectionGuard {
	recorder.ConnectionOpened()
	return &ConnectionGuard{recorder: recorder}
}

// Close releases the guard.
func (g *ConnectionGuard) Close() {
	g.recorder.ConnectionClosed()
}

// Nop is a Recorder that discards everything. Useful in tests.
type Nop struct{}

func (Nop) RecordRequest(string, string, int)    {}
func (Nop) ObserveRequestLatency(string, float64) {}
func (Nop) RecordUpstreamError(string)           {}
func (Nop) ConnectionOpened()                    {}
func (Nop) ConnectionClosed()                    {}
func (Nop) SetRateLimiterBuckets(int)            {}

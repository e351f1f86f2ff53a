// Package metrics implements the Metrics & Active Health Check subsystem
// (spec §4.H): per-backend rolling metrics, Prometheus export, and the
// periodic health checker that exercises each backend transport directly.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Status is a backend's current health classification.
type Status string

const (
	StatusHealthy   Status = "Healthy"
	StatusDegraded  Status = "Degraded"
	StatusUnhealthy Status = "Unhealthy"
	StatusDown      Status = "Down"
)

// thresholds governing status recomputation, spec §4.H defaults.
const (
	downConsecutiveFailures = 5
	unhealthyErrorRate      = 0.15
	unhealthyAvgLatencyMs   = 5000
	degradedErrorRate       = 0.05
	degradedAvgLatencyMs    = 2000

	latencyWindowSize = 1000
	ringBufferSize    = 1440
)

// RingEntry is one point in a backend's time-series history, sampled at
// roughly once per minute with 24h retention (1440 entries).
type RingEntry struct {
	Timestamp time.Time
	Status    Status
	AvgMs     float64
	ErrorRate float64
}

// BackendMetrics is the rolling metrics record for a single backend (spec
// §3: "Metrics record (per backend)").
type BackendMetrics struct {
	mu sync.Mutex

	latencies          []float64 // ring buffer, fixed capacity latencyWindowSize
	latencyWriteCursor int
	latencyFilled      int

	requests            int64
	errors              int64
	consecutiveFailures int
	lastSuccess         time.Time

	status Status

	ring       []RingEntry
	ringCursor int
	ringFilled int
}

func newBackendMetrics() *BackendMetrics {
	return &BackendMetrics{
		latencies: make([]float64, latencyWindowSize),
		ring:      make([]RingEntry, ringBufferSize),
		status:    StatusHealthy,
	}
}

// RecordRequest records one completed request's outcome, per spec: "Each
// recorded request updates rolling latency window, request/error counters,
// last-success timestamp, and recomputes" the derived stats and status.
func (b *BackendMetrics) RecordRequest(latency time.Duration, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.latencies[b.latencyWriteCursor] = float64(latency.Milliseconds())
	b.latencyWriteCursor = (b.latencyWriteCursor + 1) % latencyWindowSize
	if b.latencyFilled < latencyWindowSize {
		b.latencyFilled++
	}

	b.requests++
	if success {
		b.consecutiveFailures = 0
		b.lastSuccess = time.Now()
	} else {
		b.errors++
		b.consecutiveFailures++
	}

	b.status = computeStatus(b.consecutiveFailures, b.errorRateLocked(), b.avgLatencyMsLocked())
}

// MarkDown forces the backend's status to Down without waiting for the
// consecutive-failure threshold, for callers that already know a backend is
// unrecoverable (e.g. a restart policy that has exhausted its attempts).
func (b *BackendMetrics) MarkDown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFailures = downConsecutiveFailures
	b.status = StatusDown
}

func (b *BackendMetrics) avgLatencyMsLocked() float64 {
	if b.latencyFilled == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < b.latencyFilled; i++ {
		sum += b.latencies[i]
	}
	return sum / float64(b.latencyFilled)
}

func (b *BackendMetrics) errorRateLocked() float64 {
	if b.requests == 0 {
		return 0
	}
	return float64(b.errors) / float64(b.requests)
}

func computeStatus(consecutiveFailures int, errorRate, avgLatencyMs float64) Status {
	switch {
	case consecutiveFailures >= downConsecutiveFailures:
		return StatusDown
	case errorRate > unhealthyErrorRate || avgLatencyMs > unhealthyAvgLatencyMs:
		return StatusUnhealthy
	case errorRate > degradedErrorRate || avgLatencyMs > degradedAvgLatencyMs:
		return StatusDegraded
	default:
		return StatusHealthy
	}
}

// Snapshot is the derived, read-only view of a BackendMetrics.
type Snapshot struct {
	AvgResponseMs       float64
	ErrorRate           float64
	SuccessRate         float64
	ConsecutiveFailures int
	Status              Status
	Requests            int64
	Errors              int64
	LastSuccess         time.Time
}

// Snapshot computes the current derived metrics.
func (b *BackendMetrics) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	errorRate := b.errorRateLocked()
	successRate := 1 - errorRate
	if b.requests == 0 {
		successRate = 1
	}
	return Snapshot{
		AvgResponseMs:       b.avgLatencyMsLocked(),
		ErrorRate:           errorRate,
		SuccessRate:         successRate,
		ConsecutiveFailures: b.consecutiveFailures,
		Status:              b.status,
		Requests:            b.requests,
		Errors:              b.errors,
		LastSuccess:         b.lastSuccess,
	}
}

// AppendRingSample records one time-series sample (spec: "time-series ring
// buffer ≤1440 entries, ~1/minute, 24h retention").
func (b *BackendMetrics) AppendRingSample() RingEntry {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry := RingEntry{
		Timestamp: time.Now(),
		Status:    b.status,
		AvgMs:     b.avgLatencyMsLocked(),
		ErrorRate: b.errorRateLocked(),
	}
	b.ring[b.ringCursor] = entry
	b.ringCursor = (b.ringCursor + 1) % ringBufferSize
	if b.ringFilled < ringBufferSize {
		b.ringFilled++
	}
	return entry
}

// History returns the ring buffer's samples in chronological order.
func (b *BackendMetrics) History() []RingEntry {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]RingEntry, 0, b.ringFilled)
	if b.ringFilled < ringBufferSize {
		out = append(out, b.ring[:b.ringFilled]...)
		return out
	}
	out = append(out, b.ring[b.ringCursor:]...)
	out = append(out, b.ring[:b.ringCursor]...)
	return out
}

// Registry owns one BackendMetrics per backend and exposes the aggregate
// Prometheus registry (spec's "MetricsManager" shape generalized to
// per-backend keys instead of a fixed metric set).
type Registry struct {
	logger   *zap.Logger
	registry *prometheus.Registry

	mu       sync.Mutex
	backends map[string]*BackendMetrics

	toolCalls    *prometheus.CounterVec
	toolDuration *prometheus.HistogramVec
	backendUp    *prometheus.GaugeVec
}

// NewRegistry builds a Registry with a fresh, private Prometheus registry.
func NewRegistry(logger *zap.Logger) *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{
		logger:   logger,
		registry: reg,
		backends: make(map[string]*BackendMetrics),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_tool_calls_total",
			Help: "Total number of tool calls routed through the gateway",
		}, []string{"backend", "tool", "status"}),
		toolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_tool_call_duration_seconds",
			Help:    "Tool call duration in seconds",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"backend", "tool", "status"}),
		backendUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_backend_up",
			Help: "1 if the backend's health status is Healthy or Degraded, 0 otherwise",
		}, []string{"backend"}),
	}
	reg.MustRegister(r.toolCalls, r.toolDuration, r.backendUp)
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return r
}

// Handler returns an HTTP handler for a /metrics endpoint.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Backend returns (creating if needed) the BackendMetrics for a backend name.
func (r *Registry) Backend(name string) *BackendMetrics {
	r.mu.Lock()
	defer r.mu.Unlock()
	bm, ok := r.backends[name]
	if !ok {
		bm = newBackendMetrics()
		r.backends[name] = bm
	}
	return bm
}

// RecordToolCall records a completed tool call against both the named
// backend's rolling metrics and the Prometheus counters/histograms.
func (r *Registry) RecordToolCall(backend, tool string, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}
	r.toolCalls.WithLabelValues(backend, tool, status).Inc()
	r.toolDuration.WithLabelValues(backend, tool, status).Observe(duration.Seconds())
	r.Backend(backend).RecordRequest(duration, success)

	up := 0.0
	switch r.Backend(backend).Snapshot().Status {
	case StatusHealthy, StatusDegraded:
		up = 1.0
	}
	r.backendUp.WithLabelValues(backend).Set(up)
}

// RemoveBackend drops all tracked state for a backend, e.g. after it is
// unregistered from the upstream fleet.
func (r *Registry) RemoveBackend(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.backends, name)
	r.backendUp.DeleteLabelValues(name)
}

// Package metrics exposes evaluation pipeline counters through a private
// Prometheus registry. Every method is safe on a nil *Metrics so pipeline
// stages can run without instrumentation.
package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all pipeline metrics.
type Metrics struct {
	DetectionsRecorded    atomic.Uint64
	DetectionsDropped     atomic.Uint64
	CandidatesSuppressed  atomic.Uint64
	SerializationWarnings atomic.Uint64
	WindowsProcessed      atomic.Uint64
	Reclaims              atomic.Uint64

	gatherSeconds prometheus.Histogram
	runs          *prometheus.CounterVec
	registry      *prometheus.Registry
}

// New creates a Metrics instance with its own registry.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}
	m.register()
	return m
}

func (m *Metrics) register() {
	counters := []struct {
		name  string
		help  string
		value *atomic.Uint64
	}{
		{"tadeval_detections_recorded_total", "Detections accepted by the per-worker accumulator", &m.DetectionsRecorded},
		{"tadeval_detections_dropped_total", "Malformed detections dropped during accumulation", &m.DetectionsDropped},
		{"tadeval_candidates_suppressed_total", "Candidates removed by temporal NMS", &m.CandidatesSuppressed},
		{"tadeval_serialization_warnings_total", "Result fields omitted during persistence", &m.SerializationWarnings},
		{"tadeval_windows_processed_total", "Sliding windows passed through the detector", &m.WindowsProcessed},
		{"tadeval_memory_reclaims_total", "Best-effort memory reclamation passes", &m.Reclaims},
	}
	for _, c := range counters {
		value := c.value
		m.registry.MustRegister(prometheus.NewCounterFunc(
			prometheus.CounterOpts{Name: c.name, Help: c.help},
			func() float64 { return float64(value.Load()) },
		))
	}

	m.gatherSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tadeval_gather_duration_seconds",
		Help:    "Time spent waiting in the distributed gather barrier",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
	})
	m.runs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tadeval_evaluation_runs_total",
		Help: "Evaluation passes by final status",
	}, []string{"status"})
	m.registry.MustRegister(m.gatherSeconds, m.runs)
}

// AddRecorded counts accepted detections.
func (m *Metrics) AddRecorded(n int) {
	if m != nil && n > 0 {
		m.DetectionsRecorded.Add(uint64(n))
	}
}

// AddDropped counts rejected detections.
func (m *Metrics) AddDropped(n int) {
	if m != nil && n > 0 {
		m.DetectionsDropped.Add(uint64(n))
	}
}

// AddSuppressed counts candidates removed by NMS.
func (m *Metrics) AddSuppressed(n int) {
	if m != nil && n > 0 {
		m.CandidatesSuppressed.Add(uint64(n))
	}
}

// AddSerializationWarnings counts omitted result fields.
func (m *Metrics) AddSerializationWarnings(n int) {
	if m != nil && n > 0 {
		m.SerializationWarnings.Add(uint64(n))
	}
}

// AddWindows counts windows passed through the detector.
func (m *Metrics) AddWindows(n int) {
	if m != nil && n > 0 {
		m.WindowsProcessed.Add(uint64(n))
	}
}

// IncReclaims counts reclamation passes.
func (m *Metrics) IncReclaims() {
	if m != nil {
		m.Reclaims.Add(1)
	}
}

// ObserveGather records how long a rank waited in the gather.
func (m *Metrics) ObserveGather(d time.Duration) {
	if m != nil {
		m.gatherSeconds.Observe(d.Seconds())
	}
}

// RunFinished counts a completed evaluation pass by status.
func (m *Metrics) RunFinished(status string) {
	if m != nil {
		m.runs.WithLabelValues(status).Inc()
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

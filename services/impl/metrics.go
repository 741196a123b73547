package impl

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/tas-support-backend/models"
)

const latencyWindowSize = 1000

// QueryMetrics tracks query traffic both for the Prometheus registry and for
// the lightweight snapshot served on the admin surface. Latency averages come
// from a bounded sliding window so the snapshot reflects recent traffic.
type QueryMetrics struct {
	mu        sync.Mutex
	total     int64
	cacheHits int64
	misses    int64
	errors    int64
	latencies []time.Duration
	next      int

	promTotal   *prometheus.CounterVec
	promLatency prometheus.Histogram
}

func NewQueryMetrics(reg prometheus.Registerer) *QueryMetrics {
	m := &QueryMetrics{
		latencies: make([]time.Duration, 0, latencyWindowSize),
		promTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "support_queries_total",
			Help: "Queries processed, by outcome.",
		}, []string{"outcome"}),
		promLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "support_query_duration_seconds",
			Help:    "End-to-end query latency.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		reg.MustRegister(m.promTotal, m.promLatency)
	}
	return m
}

func (m *QueryMetrics) observe(d time.Duration) {
	if len(m.latencies) < latencyWindowSize {
		m.latencies = append(m.latencies, d)
	} else {
		m.latencies[m.next] = d
		m.next = (m.next + 1) % latencyWindowSize
	}
}

func (m *QueryMetrics) RecordHit(d time.Duration) {
	m.promTotal.WithLabelValues("cache_hit").Inc()
	m.promLatency.Observe(d.Seconds())
	m.mu.Lock()
	defer m.mu.Unlock()
	m.total++
	m.cacheHits++
	m.observe(d)
}

func (m *QueryMetrics) RecordMiss(d time.Duration) {
	m.promTotal.WithLabelValues("cache_miss").Inc()
	m.promLatency.Observe(d.Seconds())
	m.mu.Lock()
	defer m.mu.Unlock()
	m.total++
	m.misses++
	m.observe(d)
}

func (m *QueryMetrics) RecordError() {
	m.promTotal.WithLabelValues("error").Inc()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.total++
	m.errors++
}

func (m *QueryMetrics) Snapshot() models.QueryMetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := models.QueryMetricsSnapshot{
		Total:       m.total,
		CacheHits:   m.cacheHits,
		CacheMisses: m.misses,
		Errors:      m.errors,
	}
	if m.total > 0 {
		snap.HitRate = float64(m.cacheHits) / float64(m.total)
		snap.ErrorRate = float64(m.errors) / float64(m.total)
	}
	if len(m.latencies) > 0 {
		var sum time.Duration
		for _, d := range m.latencies {
			sum += d
		}
		snap.AvgLatencyMs = float64(sum.Milliseconds()) / float64(len(m.latencies))
	}
	return snap
}

// IngestMetrics counts indexing runs for the Prometheus registry.
type IngestMetrics struct {
	runs     *prometheus.CounterVec
	duration prometheus.Histogram
}

func NewIngestMetrics(reg prometheus.Registerer) *IngestMetrics {
	m := &IngestMetrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "support_index_runs_total",
			Help: "Document indexing runs, by outcome.",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "support_index_duration_seconds",
			Help:    "Wall time per document indexing run.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
	}
	if reg != nil {
		reg.MustRegister(m.runs, m.duration)
	}
	return m
}

func (m *IngestMetrics) ObserveIndex(d time.Duration, ok bool) {
	outcome := "success"
	if !ok {
		outcome = "error"
	}
	m.runs.WithLabelValues(outcome).Inc()
	m.duration.Observe(d.Seconds())
}

package service

import (
	"net/http"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/qc-validator-api/internal/models"
)

// Transition outcomes recorded on the workflow counter.
const (
	OutcomeCommitted = "committed"
	OutcomeRejected  = "rejected"
	OutcomeConflict  = "conflict"
	OutcomeError     = "error"
)

const metricsNamespace = "qc"

// tally is a labelled counter kept alongside Prometheus so the admin snapshot
// does not have to scrape the registry.
type tally struct {
	mu sync.Mutex
	m  map[string]uint64
}

func (t *tally) inc(key string) {
	t.mu.Lock()
	if t.m == nil {
		t.m = make(map[string]uint64)
	}
	t.m[key]++
	t.mu.Unlock()
}

func (t *tally) copy() map[string]uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]uint64, len(t.m))
	for k, v := range t.m {
		out[k] = v
	}
	return out
}

// MetricsService owns the Prometheus registry for the API, the workflow and the
// background queues, and serves a JSON summary for administrators.
type MetricsService struct {
	registry *prometheus.Registry
	handler  http.Handler

	httpLatency *prometheus.HistogramVec
	cacheReads  *prometheus.HistogramVec
	cacheWrites prometheus.Histogram
	transitions *prometheus.CounterVec
	rejected    *prometheus.CounterVec
	jobRuns     *prometheus.CounterVec
	streams     prometheus.Gauge

	requests     atomic.Uint64
	requestNanos atomic.Uint64
	hits         atomic.Uint64
	misses       atomic.Uint64
	committed    atomic.Uint64
	rejections   tally
	jobOutcomes  tally
}

// NewMetricsService builds a private registry with the Go and process collectors attached.
func NewMetricsService() *MetricsService {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &MetricsService{
		registry: reg,
		handler:  promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		httpLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route template and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		cacheReads: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "cache",
			Name:      "read_duration_seconds",
			Help:      "Cache lookups by result.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1},
		}, []string{"result"}),
		cacheWrites: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "cache",
			Name:      "write_duration_seconds",
			Help:      "Cache writes.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1},
		}),
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "workflow",
			Name:      "transitions_total",
			Help:      "Workflow transition attempts by entity, action and outcome.",
		}, []string{"entity", "action", "outcome"}),
		rejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "workflow",
			Name:      "guard_rejections_total",
			Help:      "Transitions refused by a guard, by error code.",
		}, []string{"code"}),
		jobRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "jobs",
			Name:      "outcomes_total",
			Help:      "Background job results by queue and outcome.",
		}, []string{"queue", "outcome"}),
		streams: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "realtime",
			Name:      "stream_clients",
			Help:      "Connected event stream clients.",
		}),
	}
}

// Handler serves the Prometheus exposition format. A nil service answers 503.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records one served request.
func (m *MetricsService) ObserveHTTPRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpLatency.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
	m.requests.Add(1)
	m.requestNanos.Add(uint64(d.Nanoseconds()))
}

// RecordCacheOperation records a cache lookup.
func (m *MetricsService) RecordCacheOperation(hit bool, d time.Duration) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
		m.hits.Add(1)
	} else {
		m.misses.Add(1)
	}
	m.cacheReads.WithLabelValues(result).Observe(d.Seconds())
}

// ObserveCacheWrite records a cache write.
func (m *MetricsService) ObserveCacheWrite(d time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrites.Observe(d.Seconds())
}

// RecordTransition counts a workflow transition attempt. Rejections also count their guard code.
func (m *MetricsService) RecordTransition(entity, action, outcome, code string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(entity, action, outcome).Inc()
	switch {
	case outcome == OutcomeCommitted:
		m.committed.Add(1)
	case outcome == OutcomeRejected && code != "":
		m.rejected.WithLabelValues(code).Inc()
		m.rejections.inc(code)
	}
}

// RecordJobOutcome matches the jobs.QueueConfig OnOutcome hook.
func (m *MetricsService) RecordJobOutcome(queue, outcome string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(queue, outcome).Inc()
	m.jobOutcomes.inc(queue + ":" + outcome)
}

// StreamClientConnected moves the connected stream gauge by delta.
func (m *MetricsService) StreamClientConnected(delta int) {
	if m == nil {
		return
	}
	m.streams.Add(float64(delta))
}

// Snapshot summarises the counters for GET /admin/metrics.
func (m *MetricsService) Snapshot() models.SystemMetrics {
	if m == nil {
		return models.SystemMetrics{}
	}
	hits, misses := m.hits.Load(), m.misses.Load()
	requests := m.requests.Load()

	out := models.SystemMetrics{
		CacheHits:       hits,
		CacheMisses:     misses,
		RequestsTotal:   requests,
		Transitions:     m.committed.Load(),
		GuardRejections: m.rejections.copy(),
		JobOutcomes:     m.jobOutcomes.copy(),
		Goroutines:      runtime.NumGoroutine(),
		GeneratedAt:     time.Now().UTC(),
	}
	if lookups := hits + misses; lookups > 0 {
		out.CacheHitRatio = float64(hits) / float64(lookups)
	}
	if requests > 0 {
		out.AverageRequestDurationMs = float64(m.requestNanos.Load()) / float64(requests) / float64(time.Millisecond)
	}
	return out
}

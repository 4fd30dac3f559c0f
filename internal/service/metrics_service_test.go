package service

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsSnapshotAggregates(t *testing.T) {
	m := NewMetricsService()
	m.ObserveHTTPRequest(http.MethodGet, "/api/v1/checklists/:id", http.StatusOK, 10*time.Millisecond)
	m.ObserveHTTPRequest(http.MethodGet, "/api/v1/checklists/:id", http.StatusNotFound, 30*time.Millisecond)
	m.RecordCacheOperation(true, time.Millisecond)
	m.RecordCacheOperation(false, time.Millisecond)
	m.RecordCacheOperation(true, time.Millisecond)
	m.RecordTransition("checklist", "accept", OutcomeCommitted, "")
	m.RecordTransition("checklist", "sign_seller", OutcomeRejected, "SCORE_BELOW_THRESHOLD")
	m.RecordJobOutcome("documents", "retried")

	snap := m.Snapshot()
	assert.Equal(t, uint64(2), snap.RequestsTotal)
	assert.InDelta(t, 20.0, snap.AverageRequestDurationMs, 0.001)
	assert.InDelta(t, 2.0/3.0, snap.CacheHitRatio, 0.001)
	assert.Equal(t, uint64(1), snap.Transitions)
	assert.Equal(t, uint64(1), snap.GuardRejections["SCORE_BELOW_THRESHOLD"])
	assert.Equal(t, uint64(1), snap.JobOutcomes["documents:retried"])

	assert.Equal(t, 1.0, testutil.ToFloat64(m.rejected.WithLabelValues("SCORE_BELOW_THRESHOLD")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("checklist", "accept", OutcomeCommitted)))
}

func TestMetricsHandlerExposesNamespacedSeries(t *testing.T) {
	m := NewMetricsService()
	m.StreamClientConnected(2)
	m.StreamClientConnected(-1)

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "qc_realtime_stream_clients 1")
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestNilMetricsServiceIsInert(t *testing.T) {
	var m *MetricsService
	m.ObserveHTTPRequest(http.MethodGet, "/", http.StatusOK, time.Millisecond)
	m.RecordTransition("checklist", "accept", OutcomeCommitted, "")
	assert.Zero(t, m.Snapshot().RequestsTotal)

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

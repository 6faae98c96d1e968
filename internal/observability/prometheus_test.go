package observability

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sigproxy/internal/types"
)

func TestPrometheusRecorder_EngineCall(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := NewPrometheusRecorder(reg)
	require.NoError(t, err)

	rec.RecordEngineCall(context.Background(), "path", types.OutcomeSuccess, 20*time.Millisecond)
	rec.RecordEngineCall(context.Background(), "path", types.OutcomeSuccess, 30*time.Millisecond)
	rec.RecordEngineCall(context.Background(), "image", types.OutcomeUnavailable, time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(rec.EngineCalls.WithLabelValues("path", types.OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.EngineCalls.WithLabelValues("image", types.OutcomeUnavailable)))
	assert.Equal(t, uint64(2), histogramSampleCount(t, reg, "engine_call_duration_seconds", map[string]string{"kind": "path"}))
}

func TestPrometheusRecorder_CoverageSearch(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := NewPrometheusRecorder(reg)
	require.NoError(t, err)

	rec.RecordCoverageSearch(context.Background(), types.OutcomeSuccess, 4, 19, 37, 2*time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(rec.CoverageSearches.WithLabelValues(types.OutcomeSuccess)))
	assert.Equal(t, 37.0, testutil.ToFloat64(rec.CoverageSamples.WithLabelValues(types.OutcomeSuccess)))
	assert.Equal(t, uint64(1), histogramSampleCount(t, reg, "coverage_search_cells", map[string]string{"outcome": types.OutcomeSuccess}))
}

func TestPrometheusRecorder_RequestAndHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := NewPrometheusRecorder(reg)
	require.NoError(t, err)

	rec.RecordRequest(http.MethodGet, "/v1/path", "200", 15*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.HTTPRequests.WithLabelValues(http.MethodGet, "/v1/path", "200")))

	rr := httptest.NewRecorder()
	rec.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	body, err := io.ReadAll(rr.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `http_requests_total{method="GET",route="/v1/path",status="200"} 1`)
}

func TestPrometheusRecorder_ReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewPrometheusRecorder(reg)
	require.NoError(t, err)
	second, err := NewPrometheusRecorder(reg)
	require.NoError(t, err)

	second.RecordEngineCall(context.Background(), "path", types.OutcomeMalformed, time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(first.EngineCalls.WithLabelValues("path", types.OutcomeMalformed)))
}

func TestPrometheusRecorder_IncompatibleCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(prometheus.NewCounter(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of handled HTTP requests, labeled by method, route and status code.",
	})))

	_, err := NewPrometheusRecorder(reg)
	assert.Error(t, err)
}

func TestPrometheusRecorder_NilSafe(t *testing.T) {
	var rec *PrometheusRecorder
	assert.NotPanics(t, func() {
		rec.RecordRequest(http.MethodGet, "/", "200", 0)
		rec.RecordEngineCall(context.Background(), "path", types.OutcomeSuccess, 0)
		rec.RecordCoverageSearch(context.Background(), types.OutcomeSuccess, 0, 0, 0, 0)
	})
}

func histogramSampleCount(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) uint64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if labelsMatch(m.GetLabel(), labels) {
				return m.GetHistogram().GetSampleCount()
			}
		}
	}
	t.Fatalf("histogram %s with labels %v not found", name, labels)
	return 0
}

func labelsMatch(pairs []*dto.LabelPair, want map[string]string) bool {
	if len(pairs) != len(want) {
		return false
	}
	for _, p := range pairs {
		if want[p.GetName()] != p.GetValue() {
			return false
		}
	}
	return true
}

package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusRecorder bundles the Prometheus collectors for the HTTP surface,
// engine exchanges and coverage searches, and serves them for scraping.
type PrometheusRecorder struct {
	gatherer prometheus.Gatherer

	HTTPRequests  *prometheus.CounterVec
	HTTPDurations *prometheus.HistogramVec

	EngineCalls     *prometheus.CounterVec
	EngineDurations *prometheus.HistogramVec

	CoverageSearches  *prometheus.CounterVec
	CoverageDurations *prometheus.HistogramVec
	CoverageCells     *prometheus.HistogramVec
	CoverageRings     *prometheus.HistogramVec
	CoverageSamples   *prometheus.CounterVec
}

var _ Recorder = (*PrometheusRecorder)(nil)

// NewPrometheusRecorder registers the collectors against reg, defaulting to
// the global registry when nil. Registering twice against the same registry
// reuses the existing collectors.
func NewPrometheusRecorder(reg prometheus.Registerer) (*PrometheusRecorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	r := &PrometheusRecorder{gatherer: gatherer}
	var err error

	if r.HTTPRequests, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of handled HTTP requests, labeled by method, route and status code.",
	}, []string{"method", "route", "status"}), "http_requests_total"); err != nil {
		return nil, err
	}
	if r.HTTPDurations, err = registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency in seconds.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"method", "route"}), "http_request_duration_seconds"); err != nil {
		return nil, err
	}

	if r.EngineCalls, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_calls_total",
		Help: "Total number of engine exchanges, labeled by request kind and outcome.",
	}, []string{"kind", "outcome"}), "engine_calls_total"); err != nil {
		return nil, err
	}
	if r.EngineDurations, err = registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "engine_call_duration_seconds",
		Help:    "Engine exchange latency in seconds.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"kind"}), "engine_call_duration_seconds"); err != nil {
		return nil, err
	}

	if r.CoverageSearches, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "coverage_searches_total",
		Help: "Total number of coverage searches, labeled by outcome.",
	}, []string{"outcome"}), "coverage_searches_total"); err != nil {
		return nil, err
	}
	if r.CoverageDurations, err = registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "coverage_search_duration_seconds",
		Help:    "Coverage search latency in seconds.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"outcome"}), "coverage_search_duration_seconds"); err != nil {
		return nil, err
	}
	if r.CoverageCells, err = registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "coverage_search_cells",
		Help:    "Qualifying cells per completed coverage search.",
		Buckets: prometheus.ExponentialBuckets(1, 4, 8),
	}, []string{"outcome"}), "coverage_search_cells"); err != nil {
		return nil, err
	}
	if r.CoverageRings, err = registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "coverage_search_rings",
		Help:    "Rings sampled per coverage search.",
		Buckets: prometheus.LinearBuckets(1, 4, 10),
	}, []string{"outcome"}), "coverage_search_rings"); err != nil {
		return nil, err
	}
	if r.CoverageSamples, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "coverage_samples_total",
		Help: "Engine samples issued by coverage searches.",
	}, []string{"outcome"}), "coverage_samples_total"); err != nil {
		return nil, err
	}

	return r, nil
}

// RecordRequest records one HTTP request.
func (r *PrometheusRecorder) RecordRequest(method, route, status string, duration time.Duration) {
	if r == nil {
		return
	}
	r.HTTPRequests.WithLabelValues(method, route, status).Inc()
	r.HTTPDurations.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordEngineCall records one engine exchange.
func (r *PrometheusRecorder) RecordEngineCall(_ context.Context, kind, outcome string, duration time.Duration) {
	if r == nil {
		return
	}
	r.EngineCalls.WithLabelValues(kind, outcome).Inc()
	r.EngineDurations.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordCoverageSearch records one coverage search.
func (r *PrometheusRecorder) RecordCoverageSearch(_ context.Context, outcome string, rings, cells, samples int, duration time.Duration) {
	if r == nil {
		return
	}
	r.CoverageSearches.WithLabelValues(outcome).Inc()
	r.CoverageDurations.WithLabelValues(outcome).Observe(duration.Seconds())
	r.CoverageCells.WithLabelValues(outcome).Observe(float64(cells))
	r.CoverageRings.WithLabelValues(outcome).Observe(float64(rings))
	r.CoverageSamples.WithLabelValues(outcome).Add(float64(samples))
}

// Handler exposes a ready-to-use /metrics handler.
func (r *PrometheusRecorder) Handler() http.Handler {
	gatherer := r.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

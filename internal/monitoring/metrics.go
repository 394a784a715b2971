package monitoring

import (
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's prometheus collectors plus a few atomic
// counters for the JSON stats endpoints.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests        *prometheus.CounterVec
	httpDuration        *prometheus.HistogramVec
	predictions         *prometheus.CounterVec
	stageDuration       *prometheus.HistogramVec
	rejectedInputs      *prometheus.CounterVec
	contractViolations  *prometheus.CounterVec
	nativeDisagreements prometheus.Counter
	attributionCalls    *prometheus.CounterVec
	cacheLookups        *prometheus.CounterVec
	rateLimitBlocks     *prometheus.CounterVec
	circuitState        prometheus.Gauge

	requestCount        int64
	errorCount          int64
	predictionCount     int64
	disagreementCount   int64
	cacheHits           int64
	cacheMisses         int64
	rateLimitBlockCount int64
	rateLimitFallbacks  int64
	startTime           time.Time
}

// NewMetrics creates the collectors on a private registry
func NewMetrics() *Metrics {
	m := &Metrics{
		registry:  prometheus.NewRegistry(),
		startTime: time.Now(),

		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "explainer_http_requests_total",
			Help: "HTTP requests by route and status",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "explainer_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		predictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "explainer_predictions_total",
			Help: "Predictions served by predicted label",
		}, []string{"model", "label"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "explainer_pipeline_stage_duration_seconds",
			Help:    "Latency of each pipeline stage",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"stage"}),
		rejectedInputs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "explainer_rejected_inputs_total",
			Help: "Inputs rejected by the schema gate, by reason",
		}, []string{"reason"}),
		contractViolations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "explainer_attribution_contract_violations_total",
			Help: "Attribution payloads that broke shape or additivity",
		}, []string{"kind"}),
		nativeDisagreements: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "explainer_native_disagreements_total",
			Help: "Predictions where the additive and native argmax differ",
		}),
		attributionCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "explainer_attribution_calls_total",
			Help: "Calls to the attribution service by operation and outcome",
		}, []string{"operation", "outcome"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "explainer_cache_lookups_total",
			Help: "Response cache lookups by result",
		}, []string{"result"}),
		rateLimitBlocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "explainer_rate_limit_blocks_total",
			Help: "Requests rejected by the rate limiter, by backend",
		}, []string{"backend"}),
		circuitState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "explainer_attribution_circuit_state",
			Help: "Attribution circuit breaker state (0 closed, 1 open, 2 half-open)",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests,
		m.httpDuration,
		m.predictions,
		m.stageDuration,
		m.rejectedInputs,
		m.contractViolations,
		m.nativeDisagreements,
		m.attributionCalls,
		m.cacheLookups,
		m.rateLimitBlocks,
		m.circuitState,
	)

	return m
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRequest records one finished HTTP request
func (m *Metrics) RecordRequest(method, route string, status int, duration time.Duration) {
	atomic.AddInt64(&m.requestCount, 1)
	if status >= 400 {
		atomic.AddInt64(&m.errorCount, 1)
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordPrediction counts a served prediction
func (m *Metrics) RecordPrediction(model, label string) {
	atomic.AddInt64(&m.predictionCount, 1)
	m.predictions.WithLabelValues(model, label).Inc()
}

// ObserveStage records the latency of a pipeline stage
func (m *Metrics) ObserveStage(stage string, duration time.Duration) {
	m.stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// IncrementRejectedInput counts a schema gate rejection
func (m *Metrics) IncrementRejectedInput(reason string) {
	m.rejectedInputs.WithLabelValues(reason).Inc()
}

// IncrementContractViolation counts an attribution contract failure
func (m *Metrics) IncrementContractViolation(kind string) {
	m.contractViolations.WithLabelValues(kind).Inc()
}

// IncrementNativeDisagreement counts an additive/native argmax mismatch
func (m *Metrics) IncrementNativeDisagreement() {
	atomic.AddInt64(&m.disagreementCount, 1)
	m.nativeDisagreements.Inc()
}

// RecordAttributionCall counts a call to the attribution service
func (m *Metrics) RecordAttributionCall(operation string, success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.attributionCalls.WithLabelValues(operation, outcome).Inc()
}

// SetCircuitState publishes the attribution circuit breaker state
func (m *Metrics) SetCircuitState(state int) {
	m.circuitState.Set(float64(state))
}

// IncrementCacheHit increments cache hit count
func (m *Metrics) IncrementCacheHit() {
	atomic.AddInt64(&m.cacheHits, 1)
	m.cacheLookups.WithLabelValues("hit").Inc()
}

// IncrementCacheMiss increments cache miss count
func (m *Metrics) IncrementCacheMiss() {
	atomic.AddInt64(&m.cacheMisses, 1)
	m.cacheLookups.WithLabelValues("miss").Inc()
}

// IncrementRateLimitBlock counts a rejected request for a limiter backend
func (m *Metrics) IncrementRateLimitBlock(backend string) {
	atomic.AddInt64(&m.rateLimitBlockCount, 1)
	m.rateLimitBlocks.WithLabelValues(backend).Inc()
}

// IncrementRateLimitFallback counts requests served by the in-memory limiter
// because Redis was unavailable.
func (m *Metrics) IncrementRateLimitFallback() {
	atomic.AddInt64(&m.rateLimitFallbacks, 1)
}

// GetStats returns a JSON-friendly snapshot of the atomic counters
func (m *Metrics) GetStats() map[string]any {
	requests := atomic.LoadInt64(&m.requestCount)
	errors := atomic.LoadInt64(&m.errorCount)
	cacheHits := atomic.LoadInt64(&m.cacheHits)
	cacheMisses := atomic.LoadInt64(&m.cacheMisses)

	errorRate := float64(0)
	if requests > 0 {
		errorRate = float64(errors) / float64(requests) * 100
	}

	cacheHitRate := float64(0)
	if total := cacheHits + cacheMisses; total > 0 {
		cacheHitRate = float64(cacheHits) / float64(total) * 100
	}

	return map[string]any{
		"uptime_seconds":         time.Since(m.startTime).Seconds(),
		"start_time":             m.startTime.Format(time.RFC3339),
		"total_requests":         requests,
		"error_count":            errors,
		"error_rate_percent":     errorRate,
		"predictions":            atomic.LoadInt64(&m.predictionCount),
		"native_disagreements":   atomic.LoadInt64(&m.disagreementCount),
		"cache_hits":             cacheHits,
		"cache_misses":           cacheMisses,
		"cache_hit_rate_percent": cacheHitRate,
		"rate_limit_blocks":      atomic.LoadInt64(&m.rateLimitBlockCount),
		"rate_limit_fallbacks":   atomic.LoadInt64(&m.rateLimitFallbacks),
	}
}

package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sony/gobreaker/v2"
)

const namespace = "cti"

type HTTPServerMetrics struct {
	service  string
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	routeTotal         *prometheus.CounterVec
	routeDuration      *prometheus.HistogramVec
	classifierFallback prometheus.Counter

	ragRequestsTotal   *prometheus.CounterVec
	ragNoContextTotal  *prometheus.CounterVec
	ragRetrievedChunks *prometheus.HistogramVec
	ragDuration        *prometheus.HistogramVec

	llmTokensTotal *prometheus.CounterVec
	breakerState   *prometheus.GaugeVec
	indexChunks    prometheus.Gauge
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()
	constLabels := prometheus.Labels{"service": service}

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "http",
			Name:        "requests_total",
			Help:        "Total HTTP requests processed.",
			ConstLabels: constLabels,
		},
		[]string{"method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "http",
			Name:        "request_duration_seconds",
			Help:        "HTTP request duration in seconds.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: constLabels,
		},
		[]string{"method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "http",
			Name:        "in_flight_requests",
			Help:        "Number of in-flight HTTP requests.",
			ConstLabels: constLabels,
		},
	)
	routeTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "router",
			Name:        "queries_total",
			Help:        "Routed queries by category, fallback flag and outcome.",
			ConstLabels: constLabels,
		},
		[]string{"category", "fallback", "status"},
	)
	routeDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "router",
			Name:        "query_duration_seconds",
			Help:        "Classification plus pipeline duration in seconds.",
			Buckets:     []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
			ConstLabels: constLabels,
		},
		[]string{"category"},
	)
	classifierFallback := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "classifier",
			Name:        "fallback_total",
			Help:        "Classifier labels outside the known categories that fell back to the default.",
			ConstLabels: constLabels,
		},
	)
	ragRequestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "rag",
			Name:        "requests_total",
			Help:        "Total successful grounded answers.",
			ConstLabels: constLabels,
		},
		[]string{"category"},
	)
	ragNoContextTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "rag",
			Name:        "no_context_total",
			Help:        "Grounded answers generated without any retrieved chunk.",
			ConstLabels: constLabels,
		},
		[]string{"category"},
	)
	ragRetrievedChunks := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "rag",
			Name:        "retrieved_chunks",
			Help:        "Number of chunks placed into the grounding context.",
			Buckets:     []float64{0, 1, 2, 3, 5, 8, 13, 21},
			ConstLabels: constLabels,
		},
		[]string{"category"},
	)
	ragDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "rag",
			Name:        "duration_seconds",
			Help:        "Retrieval plus generation duration in seconds.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: constLabels,
		},
		[]string{"category"},
	)
	llmTokensTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "llm",
			Name:        "tokens_total",
			Help:        "Tokens reported by the completion service.",
			ConstLabels: constLabels,
		},
		[]string{"operation", "direction", "model"},
	)
	breakerState := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "llm",
			Name:        "circuit_breaker_state",
			Help:        "Circuit breaker state per operation: 0 closed, 1 half-open, 2 open.",
			ConstLabels: constLabels,
		},
		[]string{"operation"},
	)
	indexChunks := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "index",
			Name:        "chunks",
			Help:        "Number of chunks in the loaded vector index.",
			ConstLabels: constLabels,
		},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		routeTotal,
		routeDuration,
		classifierFallback,
		ragRequestsTotal,
		ragNoContextTotal,
		ragRetrievedChunks,
		ragDuration,
		llmTokensTotal,
		breakerState,
		indexChunks,
	)

	return &HTTPServerMetrics{
		service:            service,
		registry:           registry,
		requestTotal:       requestTotal,
		requestDuration:    requestDuration,
		requestInFlight:    requestInFlight,
		routeTotal:         routeTotal,
		routeDuration:      routeDuration,
		classifierFallback: classifierFallback,
		ragRequestsTotal:   ragRequestsTotal,
		ragNoContextTotal:  ragNoContextTotal,
		ragRetrievedChunks: ragRetrievedChunks,
		ragDuration:        ragDuration,
		llmTokensTotal:     llmTokensTotal,
		breakerState:       breakerState,
		indexChunks:        indexChunks,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := normalizePath(r.URL.Path)
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(r.Method, path, strconv.Itoa(recorder.statusCode)).Inc()
		m.requestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// normalizePath keeps the category path segment out of the label set.
func normalizePath(path string) string {
	if strings.HasPrefix(path, "/v1/pipelines/") && strings.HasSuffix(path, "/run") {
		return "/v1/pipelines/{category}/run"
	}
	return path
}

func (m *HTTPServerMetrics) RecordRoute(category string, fallback bool, status string, duration time.Duration) {
	m.routeTotal.WithLabelValues(category, strconv.FormatBool(fallback), status).Inc()
	m.routeDuration.WithLabelValues(category).Observe(duration.Seconds())
	if fallback {
		m.classifierFallback.Inc()
	}
}

func (m *HTTPServerMetrics) RecordRAGObservation(category string, sourceCount int, duration time.Duration) {
	m.ragRequestsTotal.WithLabelValues(category).Inc()
	m.ragRetrievedChunks.WithLabelValues(category).Observe(float64(sourceCount))
	m.ragDuration.WithLabelValues(category).Observe(duration.Seconds())
	if sourceCount == 0 {
		m.ragNoContextTotal.WithLabelValues(category).Inc()
	}
}

func (m *HTTPServerMetrics) RecordTokenUsage(operation, model string, promptTokens, completionTokens int) {
	if model == "" {
		model = "unknown"
	}
	if promptTokens > 0 {
		m.llmTokensTotal.WithLabelValues(operation, "in", model).Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.llmTokensTotal.WithLabelValues(operation, "out", model).Add(float64(completionTokens))
	}
}

// RecordBreakerState matches resilience.StateObserver.
func (m *HTTPServerMetrics) RecordBreakerState(operation string, state gobreaker.State) {
	var v float64
	switch state {
	case gobreaker.StateHalfOpen:
		v = 1
	case gobreaker.StateOpen:
		v = 2
	}
	m.breakerState.WithLabelValues(operation).Set(v)
}

func (m *HTTPServerMetrics) SetIndexChunks(n int) {
	m.indexChunks.Set(float64(n))
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

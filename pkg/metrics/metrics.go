// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// StreamsActive tracks generations currently in flight.
	StreamsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gateway_streams_active",
			Help: "Number of generation streams in flight",
		},
	)

	// StreamDuration tracks generation stream duration by terminal state.
	StreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_stream_duration_seconds",
			Help:    "Generation stream duration until a terminal state",
			Buckets: []float64{.5, 1, 2, 5, 10, 20, 30, 45, 60, 90, 120},
		},
		[]string{"state"},
	)

	// StreamTokensTotal tracks estimated tokens carried by streams.
	StreamTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_stream_tokens_total",
			Help: "Estimated tokens processed by generation streams",
		},
		[]string{"direction"},
	)

	// EmitsTotal tracks batched content emissions surfaced to views.
	EmitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_content_emits_total",
			Help: "Batched content emissions surfaced to views",
		},
	)

	// CacheOpsTotal tracks conversation cache hits and misses.
	CacheOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_conversation_cache_ops_total",
			Help: "Conversation cache lookups by result",
		},
		[]string{"result"},
	)

	// CacheEvictionsTotal tracks conversation cache evictions.
	CacheEvictionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_conversation_cache_evictions_total",
			Help: "Conversations evicted from the cache",
		},
	)

	// CacheSize tracks the number of cached conversations.
	CacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gateway_conversation_cache_size",
			Help: "Conversations currently held in the cache",
		},
	)

	// ViewSubscribersActive tracks connected live view feeds.
	ViewSubscribersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gateway_view_subscribers_active",
			Help: "Number of connected live view feeds",
		},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordStream records metrics for a finished generation stream.
func RecordStream(state string, duration float64, tokensOut int) {
	StreamDuration.WithLabelValues(state).Observe(duration)
	if tokensOut > 0 {
		StreamTokensTotal.WithLabelValues("out").Add(float64(tokensOut))
	}
}

// CacheHit records a conversation cache hit.
func CacheHit() {
	CacheOpsTotal.WithLabelValues("hit").Inc()
}

// CacheMiss records a conversation cache miss.
func CacheMiss() {
	CacheOpsTotal.WithLabelValues("miss").Inc()
}

// IncrementViewSubscribers increments the live view feed count.
func IncrementViewSubscribers() {
	ViewSubscribersActive.Inc()
}

// DecrementViewSubscribers decrements the live view feed count.
func DecrementViewSubscribers() {
	ViewSubscribersActive.Dec()
}

package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// EngineMetrics tracks risk and reward engine activity via the state event
// stream plus the query-surface request counters.
type EngineMetrics struct {
	events       *prometheus.CounterVec
	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec
	rateLimited  prometheus.Counter
}

var (
	engineOnce     sync.Once
	engineRegistry *EngineMetrics
)

// Engine returns the process-wide engine metrics, registering them on first
// use.
func Engine() *EngineMetrics {
	engineOnce.Do(func() {
		engineRegistry = &EngineMetrics{
			events: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "crosslend_engine_events_total",
				Help: "Count of engine state events by type.",
			}, []string{"type"}),
			httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "crosslend_http_requests_total",
				Help: "Count of query-surface HTTP requests by route and status.",
			}, []string{"route", "status"}),
			httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "crosslend_http_request_seconds",
				Help:    "Latency of query-surface HTTP requests by route.",
				Buckets: prometheus.DefBuckets,
			}, []string{"route"}),
			rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "crosslend_http_rate_limited_total",
				Help: "Number of requests rejected by the rate limiter.",
			}),
		}
		prometheus.MustRegister(
			engineRegistry.events,
			engineRegistry.httpRequests,
			engineRegistry.httpLatency,
			engineRegistry.rateLimited,
		)
	})
	return engineRegistry
}

// ObserveEvent counts one engine state event.
func (m *EngineMetrics) ObserveEvent(eventType string) {
	if m == nil || eventType == "" {
		return
	}
	m.events.WithLabelValues(eventType).Inc()
}

// ObserveRequest counts one HTTP request and its latency in seconds.
func (m *EngineMetrics) ObserveRequest(route, status string, seconds float64) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, status).Inc()
	m.httpLatency.WithLabelValues(route).Observe(seconds)
}

// ObserveRateLimited counts one rate-limited rejection.
func (m *EngineMetrics) ObserveRateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}

package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	cleanupRecords   *prometheus.CounterVec
	cleanupRuns      *prometheus.CounterVec
	pushDeliveries   *prometheus.CounterVec
	assistantReplies *prometheus.CounterVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(registry)

	return &Metrics{
		registry: registry,
		requestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tilly_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "status"}),
		requestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tilly_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		cleanupRecords: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tilly_cleanup_records_total",
			Help: "Records touched by cleanup, by step",
		}, []string{"step"}),
		cleanupRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tilly_cleanup_runs_total",
			Help: "Cleanup runs by outcome",
		}, []string{"outcome"}),
		pushDeliveries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tilly_push_deliveries_total",
			Help: "Push notification attempts by outcome",
		}, []string{"outcome"}),
		assistantReplies: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tilly_assistant_requests_total",
			Help: "Assistant requests by outcome",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveRequest(method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// ObserveCleanup records one cleanup run. counts maps step name to records.
func (m *Metrics) ObserveCleanup(counts map[string]int64, failed bool) {
	if m == nil {
		return
	}
	for step, n := range counts {
		m.cleanupRecords.WithLabelValues(step).Add(float64(n))
	}
	outcome := "ok"
	if failed {
		outcome = "error"
	}
	m.cleanupRuns.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObservePush(outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.pushDeliveries.WithLabelValues(outcome).Add(float64(n))
}

func (m *Metrics) ObserveAssistant(outcome string) {
	if m == nil {
		return
	}
	m.assistantReplies.WithLabelValues(outcome).Inc()
}

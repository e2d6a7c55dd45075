package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is safe to use as a nil pointer; every recorder is then a no-op.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	operations    *prometheus.CounterVec
	outboxJobs    *prometheus.CounterVec
	outboxBacklog *prometheus.GaugeVec
	wsClients     prometheus.Gauge
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scorelend",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "scorelend",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scorelend",
			Name:      "operations_total",
			Help:      "Loan applications and installment payments by outcome code.",
		}, []string{"operation", "outcome"}),
		outboxJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scorelend",
			Name:      "outbox_jobs_total",
			Help:      "Outbox jobs handled by topic and outcome.",
		}, []string{"topic", "outcome"}),
		outboxBacklog: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "scorelend",
			Name:      "outbox_jobs",
			Help:      "Outbox rows by status.",
		}, []string{"status"}),
		wsClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "scorelend",
			Name:      "ws_clients",
			Help:      "Connected websocket clients.",
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests, m.httpDuration, m.operations, m.outboxJobs, m.outboxBacklog, m.wsClients,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveHTTP(method, route, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, status).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveOperation(operation, outcome string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) ObserveJob(topic, outcome string) {
	if m == nil {
		return
	}
	m.outboxJobs.WithLabelValues(topic, outcome).Inc()
}

func (m *Metrics) SetBacklog(byStatus map[string]int64) {
	if m == nil {
		return
	}
	for _, status := range []string{"pending", "processing", "done", "failed"} {
		m.outboxBacklog.WithLabelValues(status).Set(float64(byStatus[status]))
	}
}

func (m *Metrics) WSClientConnected() {
	if m != nil {
		m.wsClients.Inc()
	}
}

func (m *Metrics) WSClientDisconnected() {
	if m != nil {
		m.wsClients.Dec()
	}
}

package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "turbine"

// Refusal reasons used as the "reason" label.
const (
	ReasonMaxConnections = "max_connections"
	ReasonPoolSaturated  = "pool_saturated"
	ReasonRateLimited    = "rate_limited"
	ReasonShuttingDown   = "shutting_down"
)

// Metrics holds the service collectors on a private registry, so tests and
// multiple servers in one process never collide on registration.
type Metrics struct {
	registry *prometheus.Registry

	accepted           prometheus.Counter
	refused            *prometheus.CounterVec
	active             prometheus.Gauge
	requests           *prometheus.CounterVec
	panics             prometheus.Counter
	connectionDuration prometheus.Histogram
	requestDuration    prometheus.Histogram
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		accepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_accepted_total",
			Help:      "TCP connections accepted by the listener.",
		}),
		refused: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_refused_total",
			Help:      "Accepted connections closed by admission control.",
		}, []string{"reason"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Connections currently open.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Responses written, by status code.",
		}, []string{"code"}),
		panics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handler_panics_total",
			Help:      "Connection handler panics recovered.",
		}),
		connectionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "connection_duration_seconds",
			Help:      "Time from accept to connection close, including time queued for a worker.",
			Buckets:   prometheus.DefBuckets,
		}),
		requestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Time a handler spent reading a request and writing its response.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(
		m.accepted, m.refused, m.active, m.requests, m.panics, m.connectionDuration, m.requestDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ConnectionAccepted() {
	m.accepted.Inc()
}

func (m *Metrics) ConnectionRefused(reason string) {
	m.refused.WithLabelValues(reason).Inc()
}

func (m *Metrics) ConnectionOpened() { m.active.Inc() }

func (m *Metrics) ConnectionClosed(since time.Time) {
	m.active.Dec()
	m.connectionDuration.Observe(time.Since(since).Seconds())
}

// RequestServed records how long a handler took from its first read to the
// response being written.
func (m *Metrics) RequestServed(since time.Time) {
	m.requestDuration.Observe(time.Since(since).Seconds())
}

func (m *Metrics) ResponseWritten(status int) {
	m.requests.WithLabelValues(strconv.Itoa(status)).Inc()
}

func (m *Metrics) HandlerPanicked() {
	m.panics.Inc()
}

package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "syncproxy"

type Metrics struct {
	registry *prometheus.Registry

	syncAttempts     *prometheus.CounterVec
	syncDuration     prometheus.Histogram
	backendStarts    prometheus.Counter
	backendKills     prometheus.Counter
	unexpectedExits  prometheus.Counter
	backendUp        prometheus.Gauge
	requests         *prometheus.CounterVec
	requestDuration  prometheus.Histogram
	upstreamAttempts prometheus.Histogram
}

func (m *Metrics) RecordSync(outcome string, duration time.Duration) {
	m.syncAttempts.WithLabelValues(outcome).Inc()
	m.syncDuration.Observe(duration.Seconds())
}

func (m *Metrics) RecordBackendStart() {
	m.backendStarts.Inc()
	m.backendUp.Set(1)
}

func (m *Metrics) RecordBackendStop() {
	m.backendUp.Set(0)
}

func (m *Metrics) RecordBackendKill() {
	m.backendKills.Inc()
}

func (m *Metrics) RecordUnexpectedExit() {
	m.unexpectedExits.Inc()
	m.backendUp.Set(0)
}

func (m *Metrics) RecordRequest(statusCode int, duration time.Duration, attempts int) {
	m.requests.WithLabelValues(strconv.Itoa(statusCode)).Inc()
	m.requestDuration.Observe(duration.Seconds())
	if attempts > 0 {
		m.upstreamAttempts.Observe(float64(attempts))
	}
}

// Registry exposes the registry backing the /metrics endpoint.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		syncAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_attempts_total",
			Help:      "Content synchronization attempts by outcome.",
		}, []string{"outcome"}),
		syncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_duration_seconds",
			Help:      "Duration of content synchronization attempts.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 15},
		}),
		backendStarts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_starts_total",
			Help:      "Backend processes spawned.",
		}),
		backendKills: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_kills_total",
			Help:      "Stops that escalated to a forceful kill.",
		}),
		unexpectedExits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_unexpected_exits_total",
			Help:      "Backend exits not caused by a deliberate stop.",
		}),
		backendUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backend_up",
			Help:      "1 while a backend process is running.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Proxied requests by response status code.",
		}, []string{"code"}),
		requestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "End-to-end proxied request latency, sync and retries included.",
			Buckets:   prometheus.DefBuckets,
		}),
		upstreamAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_attempts",
			Help:      "Delivery attempts needed per proxied request.",
			Buckets:   prometheus.LinearBuckets(1, 1, 10),
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.syncAttempts,
		m.syncDuration,
		m.backendStarts,
		m.backendKills,
		m.unexpectedExits,
		m.backendUp,
		m.requests,
		m.requestDuration,
		m.upstreamAttempts,
	)

	return m
}

// Package obs wires up structured logging and Prometheus metrics, the
// ambient observability stack that sits alongside the event store and the
// producer SDK's async logger.
package obs

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every Prometheus collector emitted by the server and the
// producer SDK's async logger. Grounded on the metrics-package convention
// used elsewhere in the ecosystem: one struct of pre-registered collectors,
// handed out via NewWithRegistry so tests can use an isolated registry.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	EventsIngestedTotal *prometheus.CounterVec
	EventsRejectedTotal *prometheus.CounterVec

	DatabaseQueryDuration *prometheus.HistogramVec

	// Async-logger (client-side) metrics. The server process does not
	// populate these; they exist so client.asynclogger can share the same
	// Metrics type and registry with an embedding application.
	QueueDepth         prometheus.Gauge
	QueueSentTotal     prometheus.Counter
	QueueFailedTotal   prometheus.Counter
	QueueSpilledTotal  prometheus.Counter
	CircuitBreakerOpen prometheus.Gauge
}

// New creates a Metrics instance registered against the default registerer.
func New(serviceName string) *Metrics {
	return NewWithRegistry(serviceName, prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a Metrics instance registered against a caller-
// supplied registerer, so tests can use prometheus.NewRegistry() instead of
// polluting the global default registry.
func NewWithRegistry(serviceName string, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "http_requests_total",
				Help:        "Total number of HTTP requests",
				ConstLabels: prometheus.Labels{"service": serviceName},
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "http_request_duration_seconds",
				Help:        "HTTP request duration in seconds",
				ConstLabels: prometheus.Labels{"service": serviceName},
				Buckets:     []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name:        "http_requests_in_flight",
				Help:        "Current number of HTTP requests being processed",
				ConstLabels: prometheus.Labels{"service": serviceName},
			},
		),
		EventsIngestedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "events_ingested_total",
				Help:        "Total number of events durably stored",
				ConstLabels: prometheus.Labels{"service": serviceName},
			},
			[]string{"event_type", "event_status"},
		),
		EventsRejectedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "events_rejected_total",
				Help:        "Total number of events rejected by validation or the store",
				ConstLabels: prometheus.Labels{"service": serviceName},
			},
			[]string{"reason"},
		),
		DatabaseQueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "database_query_duration_seconds",
				Help:        "Database query duration in seconds",
				ConstLabels: prometheus.Labels{"service": serviceName},
				Buckets:     []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"operation"},
		),
		QueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name:        "async_logger_queue_depth",
				Help:        "Current number of events buffered in the async logger queue",
				ConstLabels: prometheus.Labels{"service": serviceName},
			},
		),
		QueueSentTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name:        "async_logger_sent_total",
				Help:        "Total number of events successfully sent by the async logger",
				ConstLabels: prometheus.Labels{"service": serviceName},
			},
		),
		QueueFailedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name:        "async_logger_failed_total",
				Help:        "Total number of events dropped by the async logger without being sent or spilled",
				ConstLabels: prometheus.Labels{"service": serviceName},
			},
		),
		QueueSpilledTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name:        "async_logger_spilled_total",
				Help:        "Total number of events written to the spillover sink",
				ConstLabels: prometheus.Labels{"service": serviceName},
			},
		),
		CircuitBreakerOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name:        "async_logger_circuit_open",
				Help:        "1 when the async logger's circuit breaker is open, 0 otherwise",
				ConstLabels: prometheus.Labels{"service": serviceName},
			},
		),
	}

	registerer.MustRegister(
		m.RequestsTotal, m.RequestDuration, m.RequestsInFlight,
		m.EventsIngestedTotal, m.EventsRejectedTotal, m.DatabaseQueryDuration,
		m.QueueDepth, m.QueueSentTotal, m.QueueFailedTotal, m.QueueSpilledTotal, m.CircuitBreakerOpen,
	)

	return m
}

package console

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/oracle/coherence-sub061/internal/collector"
	"github.com/oracle/coherence-sub061/internal/protocol"
)

type metrics struct {
	registry   *prometheus.Registry
	runners    prometheus.Gauge
	jobs       *prometheus.CounterVec
	operations *prometheus.CounterVec
	bytes      prometheus.Counter
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	return &metrics{
		registry: registry,
		runners: factory.NewGauge(prometheus.GaugeOpts{
			Name: "console_runners_connected",
			Help: "Number of runners connected to the console",
		}),
		jobs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "console_jobs_total",
			Help: "Jobs dispatched, by kind",
		}, []string{"kind"}),
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "console_operations_total",
			Help: "Operations reported by runners, by outcome",
		}, []string{"outcome"}),
		bytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "console_bytes_total",
			Help: "Bytes moved by completed jobs",
		}),
	}
}

func (m *metrics) jobDispatched(kind protocol.Kind) {
	m.jobs.WithLabelValues(kind.String()).Inc()
}

func (m *metrics) jobCompleted(r *collector.TestResult) {
	m.operations.WithLabelValues("success").Add(float64(r.SuccessCount()))
	m.operations.WithLabelValues("failure").Add(float64(r.FailureCount()))
	m.bytes.Add(float64(r.ByteCount()))
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

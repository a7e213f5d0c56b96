package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the program server.
type Metrics struct {
	registry               *prometheus.Registry
	requestsTotal          prometheus.Counter
	errorsTotal            prometheus.Counter
	programsPublishedTotal prometheus.Counter
	programsCompletedTotal prometheus.Counter
	currentPcount          prometheus.Gauge
}

// New creates and registers Prometheus metrics for the program server.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "saxis_requests_total",
		Help: "Total number of HTTP requests received",
	})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "saxis_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx)",
	})
	programsPublishedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "saxis_programs_published_total",
		Help: "Total number of motion programs published",
	})
	programsCompletedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "saxis_programs_completed_total",
		Help: "Total number of programs a player reported as completed",
	})
	currentPcount := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "saxis_current_pcount",
		Help: "Sequence number of the latest published program",
	})

	registry.MustRegister(
		requestsTotal,
		errorsTotal,
		programsPublishedTotal,
		programsCompletedTotal,
		currentPcount,
	)

	return &Metrics{
		registry:               registry,
		requestsTotal:          requestsTotal,
		errorsTotal:            errorsTotal,
		programsPublishedTotal: programsPublishedTotal,
		programsCompletedTotal: programsCompletedTotal,
		currentPcount:          currentPcount,
	}
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// IncProgramsPublished increments the published programs counter.
func (m *Metrics) IncProgramsPublished() {
	m.programsPublishedTotal.Inc()
}

// IncProgramsCompleted increments the completed programs counter.
func (m *Metrics) IncProgramsCompleted() {
	m.programsCompletedTotal.Inc()
}

// SetCurrentPcount sets the latest published sequence gauge.
func (m *Metrics) SetCurrentPcount(n int64) {
	m.currentPcount.Set(float64(n))
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values (e.g. current pcount).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return handler(m.registry, updateGauges)
}

func handler(reg *prometheus.Registry, updateGauges func()) http.Handler {
	h := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		h.ServeHTTP(w, r)
	})
}

package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private Prometheus registry with the collectors sportcal
// reports. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	backendDuration *prometheus.HistogramVec
	submissions     *prometheus.CounterVec
	eventsInView    prometheus.Gauge
}

// New registers the core collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sportcal_http_request_duration_seconds",
		Help:    "Duration of page and API requests served by sportcal",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	backendDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sportcal_backend_request_duration_seconds",
		Help:    "Duration of requests to the event backend",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint", "outcome"})

	submissions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sportcal_submissions_total",
		Help: "Event form submissions by final state",
	}, []string{"state"})

	eventsInView := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sportcal_events_in_view",
		Help: "Number of events currently held in the calendar view model",
	})

	registry.MustRegister(requestDuration, backendDuration, submissions, eventsInView)

	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		backendDuration: backendDuration,
		submissions:     submissions,
		eventsInView:    eventsInView,
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return m.handler
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveHTTPRequest(method, path string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.requestDuration.WithLabelValues(method, path, strconv.Itoa(status)).Observe(d.Seconds())
}

// ObserveBackend records one backend round-trip. outcome is "ok",
// "status_<code>" or "transport".
func (m *Metrics) ObserveBackend(endpoint, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.backendDuration.WithLabelValues(endpoint, outcome).Observe(d.Seconds())
}

func (m *Metrics) IncSubmission(state string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(state).Inc()
}

func (m *Metrics) SetEventsInView(n int) {
	if m == nil {
		return
	}
	m.eventsInView.Set(float64(n))
}

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cart_recovery"

// Metrics groups the pipeline collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	schedulesProcessed *prometheus.CounterVec
	messagesSent       *prometheus.CounterVec
	sessionsTracked    *prometheus.CounterVec
	drainDuration      prometheus.Histogram
	staleRequeued      prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		schedulesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "schedules_processed_total",
			Help:      "Recovery schedules processed, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		messagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Recovery messages dispatched, by method and status.",
		}, []string{"method", "status"}),
		sessionsTracked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_transitions_total",
			Help:      "Cart session status changes, by target status.",
		}, []string{"status"}),
		drainDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "drain_duration_seconds",
			Help:      "Wall time of one drain invocation.",
			Buckets:   prometheus.DefBuckets,
		}),
		staleRequeued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_schedules_requeued_total",
			Help:      "Processing schedules put back to pending by the sweep.",
		}),
	}
	m.registry.MustRegister(
		m.schedulesProcessed,
		m.messagesSent,
		m.sessionsTracked,
		m.drainDuration,
		m.staleRequeued,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ScheduleProcessed(kind, outcome string) {
	if m == nil {
		return
	}
	m.schedulesProcessed.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) MessageDispatched(method, status string) {
	if m == nil {
		return
	}
	m.messagesSent.WithLabelValues(method, status).Inc()
}

func (m *Metrics) SessionTransitioned(status string) {
	if m == nil {
		return
	}
	m.sessionsTracked.WithLabelValues(status).Inc()
}

// SessionsTransitioned records a bulk status change such as the expiry sweep.
func (m *Metrics) SessionsTransitioned(status string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.sessionsTracked.WithLabelValues(status).Add(float64(n))
}

func (m *Metrics) ObserveDrain(seconds float64) {
	if m == nil {
		return
	}
	m.drainDuration.Observe(seconds)
}

func (m *Metrics) StaleRequeued(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.staleRequeued.Add(float64(n))
}

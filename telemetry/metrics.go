package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pthm-cable/fusion/events"
)

// Metrics exposes live run progress in Prometheus format. Each instance
// owns its registry so several runs in one process do not collide.
// A nil Metrics ignores every call.
type Metrics struct {
	registry *prometheus.Registry

	events      *prometheus.CounterVec
	waiting     prometheus.Histogram
	clock       prometheus.Gauge
	propensity  prometheus.Gauge
	populations prometheus.Gauge
	occupied    prometheus.Gauge
}

// NewMetrics creates and registers the run metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fusion",
			Name:      "events_total",
			Help:      "Executed events by kind.",
		}, []string{"kind"}),
		waiting: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "fusion",
			Name:      "waiting_time",
			Help:      "Simulated time between consecutive events.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		clock: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fusion",
			Name:      "clock",
			Help:      "Elapsed simulated time.",
		}),
		propensity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fusion",
			Name:      "total_propensity",
			Help:      "Total event rate at the last step.",
		}),
		populations: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fusion",
			Name:      "populations",
			Help:      "Living populations at the last window end.",
		}),
		occupied: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fusion",
			Name:      "occupied_isolations",
			Help:      "Isolations with at least one population at the last window end.",
		}),
	}
	m.registry.MustRegister(m.events, m.waiting, m.clock, m.propensity, m.populations, m.occupied)
	return m
}

// ObserveStep records one executed event.
func (m *Metrics) ObserveStep(kind events.Kind, dt, totalRate, clock float64) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(kind.String()).Inc()
	m.waiting.Observe(dt)
	m.propensity.Set(totalRate)
	m.clock.Set(clock)
}

// ObserveWindow updates the census gauges.
func (m *Metrics) ObserveWindow(stats WindowStats) {
	if m == nil {
		return
	}
	m.populations.Set(float64(stats.Populations))
	m.occupied.Set(float64(stats.OccupiedIsolations))
}

// Registry returns the registry holding the run metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

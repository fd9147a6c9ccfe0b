// Package metrics exposes the controller's Prometheus instrumentation:
// counters for detection and caution activity and a gauge for the
// supervisor state, served alongside the status surface.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the caution controller.
type Metrics struct {
	registry             *prometheus.Registry
	detectionEventsTotal *prometheus.CounterVec
	cautionsTotal        prometheus.Counter
	tripsSuppressedTotal prometheus.Counter
	supervisorState      prometheus.Gauge
}

// New creates and registers Prometheus metrics for the controller.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	detectionEventsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "racecontrol_detection_events_total",
		Help: "Total number of detection events emitted, by event type",
	}, []string{"type"})
	cautionsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "racecontrol_cautions_total",
		Help: "Total number of caution cycles started",
	})
	tripsSuppressedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "racecontrol_trips_suppressed_total",
		Help: "Total number of threshold trips suppressed by the eligibility gate",
	})
	supervisorState := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "racecontrol_supervisor_state",
		Help: "Current supervisor state as its enumeration ordinal",
	})

	registry.MustRegister(
		detectionEventsTotal,
		cautionsTotal,
		tripsSuppressedTotal,
		supervisorState,
	)

	return &Metrics{
		registry:             registry,
		detectionEventsTotal: detectionEventsTotal,
		cautionsTotal:        cautionsTotal,
		tripsSuppressedTotal: tripsSuppressedTotal,
		supervisorState:      supervisorState,
	}
}

// IncDetectionEvents adds n to the detection event counter for eventType.
func (m *Metrics) IncDetectionEvents(eventType string, n int) {
	m.detectionEventsTotal.WithLabelValues(eventType).Add(float64(n))
}

// IncCautions increments the caution cycle counter.
func (m *Metrics) IncCautions() {
	m.cautionsTotal.Inc()
}

// IncTripsSuppressed increments the suppressed-trip counter.
func (m *Metrics) IncTripsSuppressed() {
	m.tripsSuppressedTotal.Inc()
}

// SetSupervisorState sets the supervisor state gauge.
func (m *Metrics) SetSupervisorState(state int) {
	m.supervisorState.Set(float64(state))
}

// Handler returns an http.Handler that serves the registry. updateGauges
// is called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}

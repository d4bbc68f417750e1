package conversion

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics manages Prometheus instrumentation for funnel events.
type Metrics struct {
	eventsTotal  *prometheus.CounterVec
	invalidTotal *prometheus.CounterVec
	skippedTotal *prometheus.CounterVec
}

var (
	metricsInstance *Metrics
	metricsOnce     sync.Once
)

// GetMetrics returns the process-wide funnel metrics.
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = NewMetrics(prometheus.DefaultRegisterer)
	})
	return metricsInstance
}

// NewMetrics registers the funnel collectors on registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		eventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "closai",
				Subsystem: "conversion",
				Name:      "events_total",
				Help:      "Total accepted conversion events by type and surface",
			},
			[]string{"type", "surface"},
		),
		invalidTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "closai",
				Subsystem: "conversion",
				Name:      "events_invalid_total",
				Help:      "Total invalid conversion events by type",
			},
			[]string{"type"},
		),
		skippedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "closai",
				Subsystem: "conversion",
				Name:      "events_skipped_total",
				Help:      "Total conversion events skipped by collection reason",
			},
			[]string{"reason"},
		),
	}

	m.eventsTotal = registerCounterVec(registerer, m.eventsTotal)
	m.invalidTotal = registerCounterVec(registerer, m.invalidTotal)
	m.skippedTotal = registerCounterVec(registerer, m.skippedTotal)
	return m
}

func registerCounterVec(registerer prometheus.Registerer, counter *prometheus.CounterVec) *prometheus.CounterVec {
	if err := registerer.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing
			}
		}
		panic(err)
	}
	return counter
}

func defaultLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}

func (m *Metrics) recordEvent(eventType, surface string) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(defaultLabel(eventType), defaultLabel(surface)).Inc()
}

func (m *Metrics) recordInvalid(eventType string) {
	if m == nil {
		return
	}
	m.invalidTotal.WithLabelValues(defaultLabel(eventType)).Inc()
}

func (m *Metrics) recordSkipped(reason string) {
	if m == nil {
		return
	}
	m.skippedTotal.WithLabelValues(defaultLabel(reason)).Inc()
}

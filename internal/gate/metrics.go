package gate

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ybdigitall/closai/pkg/entitlement"
)

// Metrics counts gate decisions by action and reason.
type Metrics struct {
	decisionsTotal *prometheus.CounterVec
}

var (
	metricsInstance *Metrics
	metricsOnce     sync.Once
)

// GetMetrics returns the process-wide metrics registered on the default registerer.
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = NewMetrics(prometheus.DefaultRegisterer)
	})
	return metricsInstance
}

// NewMetrics registers the gate collectors on registerer. Registering twice
// reuses the existing collector.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	counter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "closai",
			Subsystem: "gate",
			Name:      "decisions_total",
			Help:      "Total gate decisions by action kind, feature and reason",
		},
		[]string{"action", "feature", "reason"},
	)
	if err := registerer.Register(counter); err != nil {
		are, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			panic(err)
		}
		existing, ok := are.ExistingCollector.(*prometheus.CounterVec)
		if !ok {
			panic(err)
		}
		counter = existing
	}
	return &Metrics{decisionsTotal: counter}
}

// RecordDecision counts one decision.
func (m *Metrics) RecordDecision(a Action, d entitlement.GateDecision) {
	if m == nil || m.decisionsTotal == nil {
		return
	}
	feature := string(a.feature)
	if feature == "" {
		feature = "none"
	}
	m.decisionsTotal.WithLabelValues(string(a.kind), feature, string(d.Reason)).Inc()
}

package oracle

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics instruments oracle operations.
type Metrics struct {
	operationsTotal *prometheus.CounterVec
	updatesTotal    *prometheus.CounterVec
}

var (
	metricsInstance *Metrics
	metricsOnce     sync.Once
)

// GetMetrics returns the process-wide oracle metrics.
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = NewMetrics(prometheus.DefaultRegisterer)
	})
	return metricsInstance
}

// NewMetrics registers the oracle collectors on registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		operationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "closai",
				Subsystem: "oracle",
				Name:      "operations_total",
				Help:      "Total oracle operations by operation and result",
			},
			[]string{"operation", "result"},
		),
		updatesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "closai",
				Subsystem: "oracle",
				Name:      "transaction_updates_total",
				Help:      "Total transaction updates received by handling result",
			},
			[]string{"result"},
		),
	}
	m.operationsTotal = registerCounterVec(registerer, m.operationsTotal)
	m.updatesTotal = registerCounterVec(registerer, m.updatesTotal)
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

func (m *Metrics) recordOperation(op, result string) {
	if m == nil {
		return
	}
	m.operationsTotal.WithLabelValues(op, result).Inc()
}

func (m *Metrics) recordUpdate(result string) {
	if m == nil {
		return
	}
	m.updatesTotal.WithLabelValues(result).Inc()
}

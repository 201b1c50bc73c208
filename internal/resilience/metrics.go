package resilience

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsSubsystem = "breaker"

var (
	// BreakerState is 0 while closed, 1 while open and 2 while half-open.
	BreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Subsystem: metricsSubsystem,
		Name:      "state",
		Help:      "Current circuit breaker state per target (0 closed, 1 open, 2 half-open).",
	}, []string{"target"})

	BreakerTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Subsystem: metricsSubsystem,
		Name:      "transitions_total",
		Help:      "Circuit breaker state transitions.",
	}, []string{"target", "from", "to"})

	BreakerOpenedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Subsystem: metricsSubsystem,
		Name:      "opened_total",
		Help:      "Times a circuit breaker tripped open.",
	}, []string{"target"})
)

// RegisterMetrics registers the breaker collectors with reg, or with the
// default registerer when reg is nil. Collectors already registered are kept.
func RegisterMetrics(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	collectors := []prometheus.Collector{BreakerState, BreakerTransitions, BreakerOpenedTotal}
	for _, c := range collectors {
		err := reg.Register(c)
		var already prometheus.AlreadyRegisteredError
		if err == nil || errors.As(err, &already) {
			continue
		}
		return fmt.Errorf("register breaker metric: %w", err)
	}
	return nil
}

package resilience

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Breaker collectors, labelled by the guarded target (e.g. "amqp").
var (
	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "presale",
		Subsystem: "breaker",
		Name:      "state",
		Help:      "Breaker position: 0 closed, 1 open, 2 half-open.",
	}, []string{"target"})

	BreakerTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "presale",
		Subsystem: "breaker",
		Name:      "transition_total",
		Help:      "Breaker state changes.",
	}, []string{"target", "from", "to"})

	BreakerOpenedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "presale",
		Subsystem: "breaker",
		Name:      "open_total",
		Help:      "Times a breaker tripped open.",
	}, []string{"target"})
)

package agent

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// InvocationsTotal counts finished invocations.
	// Labels: agent, status (success, error)
	InvocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fama",
			Subsystem: "agent",
			Name:      "invocations_total",
			Help:      "Total number of agent invocations by outcome",
		},
		[]string{"agent", "status"},
	)

	// RetriesTotal counts retry attempts after transient failures.
	// Labels: agent, kind
	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fama",
			Subsystem: "agent",
			Name:      "retries_total",
			Help:      "Total number of retries after transient provider failures",
		},
		[]string{"agent", "kind"},
	)

	// InvocationDuration tracks invocation wall time including retries.
	InvocationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fama",
			Subsystem: "agent",
			Name:      "invocation_duration_seconds",
			Help:      "Duration of agent invocations in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"agent"},
	)

	// BreakerOpenGauge is 1 while a provider's breaker is open.
	// Labels: provider
	BreakerOpenGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "fama",
			Subsystem: "agent",
			Name:      "breaker_open",
			Help:      "Circuit breaker state per provider (1=open, 0=closed)",
		},
		[]string{"provider"},
	)
)

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CircuitBreakerState is 1 for the current state of each breaker and 0 otherwise.
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rtmp2hls_circuit_breaker_state",
		Help: "Circuit breaker state (1 for the active state)",
	}, []string{"name", "state"})

	CircuitBreakerTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rtmp2hls_circuit_breaker_trips_total",
		Help: "Circuit breaker transitions to open by reason",
	}, []string{"name", "reason"})
)

var breakerStates = []string{"closed", "open", "half-open"}

// SetCircuitBreakerState marks state as the active state of breaker name.
func SetCircuitBreakerState(name, state string) {
	for _, s := range breakerStates {
		v := 0.0
		if s == state {
			v = 1
		}
		CircuitBreakerState.WithLabelValues(name, s).Set(v)
	}
}

// RecordCircuitBreakerTrip counts one transition to open.
func RecordCircuitBreakerTrip(name, reason string) {
	CircuitBreakerTrips.WithLabelValues(name, reason).Inc()
}

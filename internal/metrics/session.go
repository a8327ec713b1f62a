// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionStartsTotal counts spawn request outcomes.
	// result: created | existing | rejected | failed
	SessionStartsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rtmp2hls_session_starts_total",
		Help: "Session spawn request outcomes by result",
	}, []string{"result"})

	// SessionEndTotal counts finished sessions by reason.
	// reason: finished | expired | stopped | failed | cancelled
	SessionEndTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rtmp2hls_session_end_total",
		Help: "Finished sessions by reason",
	}, []string{"reason"})

	SessionRespawnsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rtmp2hls_session_respawns_total",
		Help: "Automatic respawns of session processes",
	})

	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rtmp2hls_sessions_active",
		Help: "Number of sessions currently registered",
	})

	PortsAvailable = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rtmp2hls_ports_available",
		Help: "Number of publish ports left in the pool",
	})
)

// IncSessionStart records a spawn request outcome.
func IncSessionStart(result string) {
	SessionStartsTotal.WithLabelValues(result).Inc()
}

// IncSessionEnd records a session end.
func IncSessionEnd(reason string) {
	SessionEndTotal.WithLabelValues(reason).Inc()
}

// IncSessionRespawn records one automatic respawn.
func IncSessionRespawn() {
	SessionRespawnsTotal.Inc()
}

// SetSessionsActive publishes the registry size.
func SetSessionsActive(n int) {
	SessionsActive.Set(float64(n))
}

// SetPortsAvailable publishes the remaining pool size.
func SetPortsAvailable(n int) {
	PortsAvailable.Set(float64(n))
}

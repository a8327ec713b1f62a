// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ProcTerminateTotal counts termination signals by signal name and delivery result.
	ProcTerminateTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rtmp2hls_proc_terminate_total",
		Help: "Termination signals sent to supervised processes by signal and result",
	}, []string{"signal", "result"})

	// ProcExitTotal counts observed process exits by role and classified reason.
	ProcExitTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rtmp2hls_proc_exit_total",
		Help: "Observed exits of supervised processes by role and reason",
	}, []string{"role", "reason"})

	// SpawnFailuresTotal counts role spawn failures.
	SpawnFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rtmp2hls_spawn_failures_total",
		Help: "Failed spawn attempts by role",
	}, []string{"role"})
)

// IncProcTerminate records a termination signal delivery attempt.
func IncProcTerminate(signal, result string) {
	ProcTerminateTotal.WithLabelValues(signal, result).Inc()
}

// IncProcExit records a classified process exit.
func IncProcExit(role, reason string) {
	if role == "" {
		role = "unknown"
	}
	ProcExitTotal.WithLabelValues(role, reason).Inc()
}

// IncSpawnFailure records a failed spawn for role.
func IncSpawnFailure(role string) {
	SpawnFailuresTotal.WithLabelValues(role).Inc()
}

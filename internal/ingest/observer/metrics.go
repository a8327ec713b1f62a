// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package observer

import (
	"context"

	"github.com/ManuGH/rtmp2hls/internal/metrics"
)

// Metrics counts session starts and ends. Ends are counted once, on exit.
type Metrics struct{}

func (Metrics) Created(context.Context, Event) { metrics.IncSessionStart("ok") }

func (Metrics) Expired(context.Context, Event) {}

func (Metrics) Exited(_ context.Context, ev Event) {
	switch {
	case ev.Reason != "":
		metrics.IncSessionEnd(ev.Reason)
	case ev.Failed:
		metrics.IncSessionEnd("failed")
	default:
		metrics.IncSessionEnd("finished")
	}
}

func (Metrics) SpawnFailed(context.Context, Event) { metrics.IncSessionStart("spawn_failed") }

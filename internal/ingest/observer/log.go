// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package observer

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/ManuGH/rtmp2hls/internal/log"
)

// Log writes one structured line per lifecycle point.
type Log struct{}

func (Log) Created(ctx context.Context, ev Event) {
	line(ctx, ev, zerolog.InfoLevel).
		Time("expires_at", ev.ExpiresAt).
		Msg("session created")
}

func (Log) Expired(ctx context.Context, ev Event) {
	line(ctx, ev, zerolog.InfoLevel).Msg("session expired")
}

func (Log) Exited(ctx context.Context, ev Event) {
	lvl := zerolog.InfoLevel
	if ev.Failed {
		lvl = zerolog.WarnLevel
	}
	line(ctx, ev, lvl).
		Int(log.FieldRespawns, ev.Respawns).
		Str("reason", ev.Reason).
		Bool("failed", ev.Failed).
		Msg("session exited")
}

func (Log) SpawnFailed(ctx context.Context, ev Event) {
	line(ctx, ev, zerolog.ErrorLevel).Msg("session spawn failed")
}

// line starts from the base logger: the event carries the session identity.
func line(ctx context.Context, ev Event, lvl zerolog.Level) *zerolog.Event {
	l := log.WithComponent("session")
	if rid := log.RequestIDFromContext(ctx); rid != "" {
		l = l.With().Str(log.FieldRequestID, rid).Logger()
	}
	e := l.WithLevel(lvl).
		Str(log.FieldEvent, string(ev.Kind)).
		Str(log.FieldAppName, ev.AppName).
		Str(log.FieldSessKey, ev.SessKey).
		Str(log.FieldWorkerID, ev.WorkerID).
		Int(log.FieldStreamPort, ev.Port)
	if ev.Error != "" {
		e = e.Str("error", ev.Error)
	}
	return e
}

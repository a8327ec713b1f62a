// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package observer defines the lifecycle hooks a worker calls and the
// implementations the daemon wires in: log, metrics and the event bus.
package observer

import (
	"context"
	"time"
)

// Kind names a lifecycle point.
type Kind string

const (
	KindCreated     Kind = "session.created"
	KindExpired     Kind = "session.expired"
	KindExited      Kind = "session.exit"
	KindSpawnFailed Kind = "session.spawn_failed"
)

// Event describes one lifecycle point of a session.
type Event struct {
	Kind      Kind      `json:"kind"`
	At        time.Time `json:"at"`
	AppName   string    `json:"app_name"`
	SessKey   string    `json:"sess_key"`
	WorkerID  string    `json:"worker_id"`
	Port      int       `json:"port"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
	Respawns  int       `json:"respawns"`
	// Reason is set on exit: finished, expired, stopped, failed or cancelled.
	Reason string `json:"reason,omitempty"`
	// Failed is set on exit when the session ended because of an error.
	Failed bool   `json:"failed"`
	Error  string `json:"error,omitempty"`
}

// Observer is invoked by a worker at fixed lifecycle points.
// Implementations must not block for long; they run on the worker goroutine.
type Observer interface {
	Created(ctx context.Context, ev Event)
	Expired(ctx context.Context, ev Event)
	Exited(ctx context.Context, ev Event)
	SpawnFailed(ctx context.Context, ev Event)
}

// Nop ignores every call.
type Nop struct{}

func (Nop) Created(context.Context, Event)     {}
func (Nop) Expired(context.Context, Event)     {}
func (Nop) Exited(context.Context, Event)      {}
func (Nop) SpawnFailed(context.Context, Event) {}

// Multi fans out to several observers in order.
type Multi []Observer

func (m Multi) Created(ctx context.Context, ev Event) {
	for _, o := range m {
		o.Created(ctx, ev)
	}
}

func (m Multi) Expired(ctx context.Context, ev Event) {
	for _, o := range m {
		o.Expired(ctx, ev)
	}
}

func (m Multi) Exited(ctx context.Context, ev Event) {
	for _, o := range m {
		o.Exited(ctx, ev)
	}
}

func (m Multi) SpawnFailed(ctx context.Context, ev Event) {
	for _, o := range m {
		o.SpawnFailed(ctx, ev)
	}
}

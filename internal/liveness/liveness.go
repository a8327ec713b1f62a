// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package liveness tells the outside world which sessions are publishing and
// where their output lives. Every call is best-effort: failures are logged by
// the caller and never retried.
package liveness

import (
	"context"
	"fmt"
)

// State is the publish state of one session.
type State int

const (
	Publish State = iota
	UnPublish
)

func (s State) String() string {
	switch s {
	case Publish:
		return "publish"
	case UnPublish:
		return "unpublish"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Client is the liveness collaborator used by workers and the manager.
type Client interface {
	RegisterAddress(ctx context.Context, appName, addr string) error
	SetPublishState(ctx context.Context, appName, sessKey string, state State) error
	Close() error
}

// Noop accepts every call and does nothing.
type Noop struct{}

func (Noop) RegisterAddress(context.Context, string, string) error        { return nil }
func (Noop) SetPublishState(context.Context, string, string, State) error { return nil }
func (Noop) Close() error                                                 { return nil }

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

import "errors"

var (
	// ErrSpawn means a role process failed to start or exited right after starting.
	ErrSpawn = errors.New("spawn failed")
	// ErrTerminationTimeout means a role ignored termination within its grace window.
	ErrTerminationTimeout = errors.New("termination timed out")
	// ErrChannelClosed means a peer actor is gone. Always fatal to the owning loop.
	ErrChannelClosed = errors.New("channel closed")
	// ErrInvalidState means a state machine operation was invoked from an unsupported state.
	ErrInvalidState = errors.New("invalid state")
	// ErrResourceExhausted means the publish port pool is empty.
	ErrResourceExhausted = errors.New("publish port not available")
	// ErrUnsupportedConfiguration covers unknown driver, media and receiver types.
	ErrUnsupportedConfiguration = errors.New("unsupported configuration")

	ErrInvalidRequest       = errors.New("invalid request")
	ErrFailedToCreateWorker = errors.New("failed to create receiver worker")
	ErrSessionNotFound      = errors.New("can't find worker handle")
	ErrAlreadyFinishing     = errors.New("already finishing")
	ErrManagerStopped       = errors.New("manager stopped")
)

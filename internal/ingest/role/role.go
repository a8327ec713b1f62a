// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package role starts the external processes that make up a publish session.
// Each role implements Spawner; the supervisor drives them without knowing which
// role it is talking to.
package role

import (
	"context"
	"fmt"

	"github.com/ManuGH/rtmp2hls/internal/config"
	"github.com/ManuGH/rtmp2hls/internal/ingest/model"
	"github.com/ManuGH/rtmp2hls/internal/procgroup"
)

// Spawner starts one role process.
type Spawner interface {
	Role() model.Role
	// NoNeedTermination roles stop by themselves once their input disappears.
	// They are polled for exit but never signalled.
	NoNeedTermination() bool
	// AutoRespawn reports whether the session restarts once this role exits on
	// its own. A single role answering false stops the session instead.
	AutoRespawn() bool
	// Spawn prepares the filesystem and starts the process.
	Spawn(ctx context.Context) (*procgroup.Process, error)
	// AfterSpawn runs once the process survived the settle check. An error fails the spawn.
	AfterSpawn(ctx context.Context) error
}

// Owner identifies the session a role belongs to.
type Owner struct {
	WorkerID string
	AppName  string
	SessKey  string
	Port     int
	Media    model.MediaProps
	Receiver model.ReceiverProps
}

// CreateContext is the input for building the roles of one session.
type CreateContext struct {
	Owner  Owner
	Config config.AppConfig
	// Props carries free-form values between roles, e.g. the receiver playlist path.
	Props map[string]string
}

// PropPlaylist is the absolute path of the HLS playlist the receiver writes.
const PropPlaylist = "playlist"

// Build returns the spawners for a session in spawn order: the receiver first,
// then the recorder when recording is enabled.
func Build(cc CreateContext) ([]Spawner, error) {
	if cc.Props == nil {
		cc.Props = make(map[string]string)
	}
	recv, err := NewReceiver(cc)
	if err != nil {
		return nil, fmt.Errorf("build receiver: %w", err)
	}
	cc.Props[PropPlaylist] = recv.PlaylistPath()
	spawners := []Spawner{recv}

	if cc.Config.Record.Enabled {
		rec, err := NewRecorder(cc)
		if err != nil {
			return nil, fmt.Errorf("build recorder: %w", err)
		}
		spawners = append(spawners, rec)
	}
	return spawners, nil
}

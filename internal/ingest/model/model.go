// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package model holds the request, session and error types shared by the ingest actors.
package model

import (
	"fmt"
	"strings"
	"time"
)

// MediaType selects the receiver defaults and whether video is kept.
type MediaType string

const (
	MediaAudio MediaType = "audio"
	MediaVideo MediaType = "video"
)

// Protocol is the publish transport.
type Protocol string

const (
	ProtocolRTMP Protocol = "rtmp"
	ProtocolSRT  Protocol = "srt"
)

// MediaFormat is the declared container/codec family of the publish stream.
type MediaFormat string

const (
	FormatAAC  MediaFormat = "aac"
	FormatMP2T MediaFormat = "mp2t"
	FormatFLV  MediaFormat = "flv"
)

// ReceiverType picks the driver implementation.
type ReceiverType string

const (
	ReceiverFFmpeg   ReceiverType = "ffmpeg"
	ReceiverRustRTMP ReceiverType = "rustrtmp"
	ReceiverRustSRT  ReceiverType = "rustsrt"
)

// Role identifies one of the cooperating processes of a session.
type Role string

const (
	RoleReceiver Role = "receiver"
	RoleRecorder Role = "recorder"
)

// MediaProps describes the incoming stream.
type MediaProps struct {
	Type     MediaType   `json:"type"`
	Protocol Protocol    `json:"protocol"`
	Format   MediaFormat `json:"format"`
}

// Validate accepts only the combinations a receiver can be built for.
func (m MediaProps) Validate() error {
	switch m.Type {
	case MediaAudio, MediaVideo:
	default:
		return fmt.Errorf("%w: media type %q", ErrUnsupportedConfiguration, m.Type)
	}
	switch m.Protocol {
	case ProtocolRTMP:
	case "":
		return fmt.Errorf("%w: media protocol missing", ErrUnsupportedConfiguration)
	default:
		return fmt.Errorf("%w: media protocol %q", ErrUnsupportedConfiguration, m.Protocol)
	}
	switch m.Format {
	case FormatAAC, FormatMP2T, FormatFLV, "":
	default:
		return fmt.Errorf("%w: media format %q", ErrUnsupportedConfiguration, m.Format)
	}
	return nil
}

// ReceiverProps carries receiver-specific request parameters.
// Args is an optional ffmpeg argument fragment ending with the playlist file name.
type ReceiverProps struct {
	Type ReceiverType `json:"type"`
	Args string       `json:"args,omitempty"`
}

// SpawnRequest asks the manager for a publish session.
type SpawnRequest struct {
	AppName  string        `json:"app_name"`
	SessKey  string        `json:"sess_key"`
	Media    MediaProps    `json:"media"`
	Receiver ReceiverProps `json:"receiver"`
}

// Validate checks the identity fields and media properties.
func (r SpawnRequest) Validate() error {
	if strings.TrimSpace(r.AppName) == "" {
		return fmt.Errorf("%w: app_name is required", ErrInvalidRequest)
	}
	if strings.ContainsAny(r.AppName, "/\\") || r.AppName == "." || r.AppName == ".." {
		return fmt.Errorf("%w: app_name %q is not a valid path segment", ErrInvalidRequest, r.AppName)
	}
	if strings.ContainsAny(r.SessKey, "/\\ ") {
		return fmt.Errorf("%w: sess_key %q contains reserved characters", ErrInvalidRequest, r.SessKey)
	}
	return r.Media.Validate()
}

// SpawnResult describes the transport a publisher should connect to.
type SpawnResult struct {
	IP       string `json:"ip"`
	Port     int    `json:"port"`
	WorkerID string `json:"worker_id"`
	URL      string `json:"url"`
}

// PublishURL renders the RTMP endpoint a publisher connects to.
func PublishURL(ip string, port int, appName, sessKey string) string {
	return fmt.Sprintf("rtmp://%s:%d/%s", ip, port, StreamPath(appName, sessKey))
}

// StreamPath is the RTMP application path the receiver listens on.
func StreamPath(appName, sessKey string) string {
	if sessKey == "" {
		return appName
	}
	return appName + "/" + sessKey
}

// TerminateKind selects how a terminate request finds its session.
type TerminateKind string

const (
	TerminateByAppName        TerminateKind = "app_name"
	TerminateByAppNameSessKey TerminateKind = "app_name_sess_key"
	TerminateByWorkerID       TerminateKind = "worker_id"
)

// TerminateRequest asks the manager to finish a session.
type TerminateRequest struct {
	Kind     TerminateKind `json:"kind"`
	AppName  string        `json:"app_name"`
	SessKey  string        `json:"sess_key"`
	WorkerID string        `json:"worker_id,omitempty"`
}

// SessionInfo is a read-only snapshot of one registry entry.
type SessionInfo struct {
	AppName   string    `json:"app_name"`
	SessKey   string    `json:"sess_key"`
	WorkerID  string    `json:"worker_id"`
	IP        string    `json:"ip"`
	Port      int       `json:"port"`
	StartedAt time.Time `json:"started_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Respawns  int       `json:"respawns"`
}

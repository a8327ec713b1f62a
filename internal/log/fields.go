// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID = "request_id"
	FieldWorkerID  = "worker_id"
	FieldAppName   = "app_name"
	FieldSessKey   = "sess_key"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldRole      = "role"
	FieldPID       = "pid"
	FieldExitCode  = "exit_code"
	FieldExitCause = "exit_cause"
	FieldRespawns  = "respawn_count"
	FieldArgs      = "args"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Path / URL fields
	FieldPath    = "path"
	FieldLogPath = "log_path"
	FieldURL     = "url"

	// Network fields
	FieldStreamPort = "stream_port"
	FieldPublicIP   = "public_ip"
)

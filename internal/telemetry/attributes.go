// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Session span attributes.
const (
	SessionAppNameKey  = "session.app_name"
	SessionSessKeyKey  = "session.sess_key"
	SessionWorkerIDKey = "session.worker_id"
	SessionPortKey     = "session.port"
	SessionExistingKey = "session.existing"
	TerminateKindKey   = "session.terminate_kind"
)

// Resource attributes of one ingest instance.
const (
	IngestPublicIPKey  = "ingest.public_ip"
	IngestPortRangeKey = "ingest.port_range"
	IngestRecordKey    = "ingest.record"
)

// SessionAttributes describes one publish session. Empty values are skipped.
func SessionAttributes(appName, sessKey, workerID string, port int) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 4)
	if appName != "" {
		attrs = append(attrs, attribute.String(SessionAppNameKey, appName))
	}
	if sessKey != "" {
		attrs = append(attrs, attribute.String(SessionSessKeyKey, sessKey))
	}
	if workerID != "" {
		attrs = append(attrs, attribute.String(SessionWorkerIDKey, workerID))
	}
	if port > 0 {
		attrs = append(attrs, attribute.Int(SessionPortKey, port))
	}
	return attrs
}

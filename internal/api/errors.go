// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ManuGH/rtmp2hls/internal/ingest/model"
	"github.com/ManuGH/rtmp2hls/internal/log"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error     string `json:"error"`
	Detail    string `json:"detail,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps domain sentinels to HTTP status codes and a stable error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, model.ErrResourceExhausted):
		return http.StatusServiceUnavailable, "resource_exhausted"
	case errors.Is(err, model.ErrManagerStopped):
		return http.StatusServiceUnavailable, "shutting_down"
	case errors.Is(err, model.ErrSessionNotFound):
		return http.StatusNotFound, "session_not_found"
	case errors.Is(err, model.ErrUnsupportedConfiguration):
		return http.StatusBadRequest, "unsupported_configuration"
	case errors.Is(err, model.ErrInvalidRequest):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, model.ErrAlreadyFinishing):
		return http.StatusConflict, "already_finishing"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code, name := statusFor(err)
	logger := log.WithComponentFromContext(r.Context(), "api")
	ev := logger.Warn()
	if code >= http.StatusInternalServerError {
		ev = logger.Error()
	}
	ev.Err(err).Int("status", code).Str("path", r.URL.Path).Msg("request failed")

	writeJSON(w, code, errorBody{
		Error:     name,
		Detail:    err.Error(),
		RequestID: log.RequestIDFromContext(r.Context()),
	})
}

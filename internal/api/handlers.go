// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/ManuGH/rtmp2hls/internal/ingest/model"
	"github.com/ManuGH/rtmp2hls/internal/ledger"
)

// Transport is one address a publisher may connect to.
type Transport struct {
	Type    string `json:"type"`
	Address string `json:"address"`
	Port    int    `json:"port"`
}

// RTMPEndpoint is the publish URL split the way encoders expect it.
type RTMPEndpoint struct {
	URL  string `json:"url"`
	Name string `json:"name"`
}

// PublishResponse answers POST /api/v1/publish.
type PublishResponse struct {
	Name       string           `json:"name"`
	WorkerID   string           `json:"worker_id"`
	Transports []Transport      `json:"transports"`
	Media      model.MediaProps `json:"media"`
	RTMP       RTMPEndpoint     `json:"rtmp"`
}

// SessionsResponse answers GET /api/v1/sessions.
type SessionsResponse struct {
	Sessions []model.SessionInfo `json:"sessions"`
}

// HistoryResponse answers GET /api/v1/history.
type HistoryResponse struct {
	Sessions []ledger.Entry `json:"sessions"`
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: malformed body: %v", model.ErrInvalidRequest, err)
	}
	return nil
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	var req model.SpawnRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	res, err := s.mgr.Spawn(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, PublishResponse{
		Name:     req.AppName,
		WorkerID: res.WorkerID,
		Transports: []Transport{{
			Type:    "IPv4",
			Address: res.IP,
			Port:    res.Port,
		}},
		Media: req.Media,
		RTMP: RTMPEndpoint{
			URL:  model.PublishURL(res.IP, res.Port, req.AppName, ""),
			Name: req.SessKey,
		},
	})
}

func (s *Server) handleTerminate(w http.ResponseWriter, r *http.Request) {
	var req model.TerminateRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Kind == "" {
		req.Kind = model.TerminateByAppName
	}

	if err := s.mgr.Terminate(r.Context(), req); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	list, err := s.mgr.Sessions(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []model.SessionInfo{}
	}
	writeJSON(w, http.StatusOK, SessionsResponse{Sessions: list})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, r, fmt.Errorf("%w: limit %q", model.ErrInvalidRequest, raw))
			return
		}
		limit = n
	}

	list, err := s.history.List(r.Context(), q.Get("app"), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []ledger.Entry{}
	}
	writeJSON(w, http.StatusOK, HistoryResponse{Sessions: list})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	select {
	case <-s.mgr.Done():
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "stopping"})
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

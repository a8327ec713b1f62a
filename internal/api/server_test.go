// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/rtmp2hls/internal/ingest/model"
	"github.com/ManuGH/rtmp2hls/internal/ledger"
)

type fakeManager struct {
	spawnRes  model.SpawnResult
	spawnErr  error
	termErr   error
	sessions  []model.SessionInfo
	lastSpawn model.SpawnRequest
	lastTerm  model.TerminateRequest
	done      chan struct{}
}

func newFakeManager() *fakeManager { return &fakeManager{done: make(chan struct{})} }

func (f *fakeManager) Spawn(_ context.Context, req model.SpawnRequest) (model.SpawnResult, error) {
	f.lastSpawn = req
	return f.spawnRes, f.spawnErr
}

func (f *fakeManager) Terminate(_ context.Context, req model.TerminateRequest) error {
	f.lastTerm = req
	return f.termErr
}

func (f *fakeManager) Sessions(context.Context) ([]model.SessionInfo, error) {
	return f.sessions, nil
}

func (f *fakeManager) Done() <-chan struct{} { return f.done }

type fakeHistory struct {
	app   string
	limit int
	rows  []ledger.Entry
}

func (f *fakeHistory) List(_ context.Context, app string, limit int) ([]ledger.Entry, error) {
	f.app, f.limit = app, limit
	return f.rows, nil
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestPublishResponseShape(t *testing.T) {
	mgr := newFakeManager()
	mgr.spawnRes = model.SpawnResult{IP: "10.0.0.5", Port: 30000, WorkerID: "w-1"}
	h := New(Config{}, mgr).Handler()

	rec := do(t, h, http.MethodPost, "/api/v1/publish",
		`{"app_name":"demo","sess_key":"k1","media":{"type":"video","protocol":"rtmp","format":"flv"},"receiver":{"type":"ffmpeg"}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var got PublishResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "demo", got.Name)
	assert.Equal(t, "w-1", got.WorkerID)
	assert.Equal(t, []Transport{{Type: "IPv4", Address: "10.0.0.5", Port: 30000}}, got.Transports)
	assert.Equal(t, model.MediaVideo, got.Media.Type)
	assert.Equal(t, "rtmp://10.0.0.5:30000/demo", got.RTMP.URL)
	assert.Equal(t, "k1", got.RTMP.Name)
	assert.Equal(t, model.ReceiverFFmpeg, mgr.lastSpawn.Receiver.Type)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("pick: %w", model.ErrResourceExhausted), http.StatusServiceUnavailable, "resource_exhausted"},
		{model.ErrManagerStopped, http.StatusServiceUnavailable, "shutting_down"},
		{fmt.Errorf("%w: %w", model.ErrFailedToCreateWorker, model.ErrUnsupportedConfiguration), http.StatusBadRequest, "unsupported_configuration"},
		{fmt.Errorf("%w: app_name is required", model.ErrInvalidRequest), http.StatusBadRequest, "invalid_request"},
		{fmt.Errorf("%w: %w", model.ErrFailedToCreateWorker, model.ErrSpawn), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			mgr := newFakeManager()
			mgr.spawnErr = tt.err
			h := New(Config{}, mgr).Handler()

			rec := do(t, h, http.MethodPost, "/api/v1/publish", `{"app_name":"demo"}`)
			assert.Equal(t, tt.status, rec.Code)

			var body errorBody
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.code, body.Error)
			assert.Equal(t, tt.err.Error(), body.Detail)
			assert.NotEmpty(t, body.RequestID)
		})
	}
}

func TestPublishMalformedBody(t *testing.T) {
	h := New(Config{}, newFakeManager()).Handler()
	rec := do(t, h, http.MethodPost, "/api/v1/publish", `{"app_name":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTerminate(t *testing.T) {
	mgr := newFakeManager()
	h := New(Config{}, mgr).Handler()

	rec := do(t, h, http.MethodPost, "/api/v1/terminate", `{"app_name":"demo"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{}`, rec.Body.String())
	assert.Equal(t, model.TerminateByAppName, mgr.lastTerm.Kind)

	mgr.termErr = fmt.Errorf("lookup: %w", model.ErrSessionNotFound)
	rec = do(t, h, http.MethodPost, "/api/v1/terminate", `{"kind":"worker_id","worker_id":"nope"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, model.TerminateByWorkerID, mgr.lastTerm.Kind)
}

func TestSessionsEmptyListIsArray(t *testing.T) {
	h := New(Config{}, newFakeManager()).Handler()
	rec := do(t, h, http.MethodGet, "/api/v1/sessions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"sessions":[]}`, rec.Body.String())
}

func TestHistory(t *testing.T) {
	hist := &fakeHistory{rows: []ledger.Entry{{WorkerID: "w-1", AppName: "demo", Status: ledger.StatusEnded}}}
	h := New(Config{}, newFakeManager(), WithHistory(hist)).Handler()

	rec := do(t, h, http.MethodGet, "/api/v1/history?app=demo&limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got HistoryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got.Sessions, 1)
	assert.Equal(t, "demo", hist.app)
	assert.Equal(t, 5, hist.limit)

	rec = do(t, h, http.MethodGet, "/api/v1/history?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHistoryRouteAbsentWithoutLedger(t *testing.T) {
	h := New(Config{}, newFakeManager()).Handler()
	rec := do(t, h, http.MethodGet, "/api/v1/history", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthz(t *testing.T) {
	mgr := newFakeManager()
	h := New(Config{}, mgr).Handler()

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/healthz", "").Code)
	close(mgr.done)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodGet, "/healthz", "").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	h := New(Config{}, newFakeManager()).Handler()
	_ = do(t, h, http.MethodGet, "/api/v1/sessions", "")

	rec := do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "rtmp2hls_http_request_duration_seconds")
}

func TestRequestIDEchoed(t *testing.T) {
	h := New(Config{}, newFakeManager()).Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(HeaderRequestID, "req-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "req-42", rec.Header().Get(HeaderRequestID))

	rec = do(t, h, http.MethodGet, "/healthz", "")
	assert.NotEmpty(t, rec.Header().Get(HeaderRequestID))
}

func TestRateLimit(t *testing.T) {
	h := New(Config{RateLimit: 2}, newFakeManager()).Handler()

	for i := 0; i < 2; i++ {
		require.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/v1/sessions", "").Code)
	}
	rec := do(t, h, http.MethodGet, "/api/v1/sessions", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	// health is outside the limited group
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/healthz", "").Code)
}

func TestRecovererReturnsJSON(t *testing.T) {
	h := requestID(recoverer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(errors.New("boom"))
	})))
	rec := do(t, h, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "internal_error")
}

func TestTracingMiddlewareServes(t *testing.T) {
	h := New(Config{ServiceName: "rtmp2hls-test"}, newFakeManager()).Handler()
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/v1/sessions", "").Code)
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api serves the JSON control surface of the daemon: publish,
// terminate, session listing, history, health and metrics.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ManuGH/rtmp2hls/internal/ingest/model"
	"github.com/ManuGH/rtmp2hls/internal/ledger"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 64 << 10

// SessionManager is the part of the manager the API drives.
type SessionManager interface {
	Spawn(ctx context.Context, req model.SpawnRequest) (model.SpawnResult, error)
	Terminate(ctx context.Context, req model.TerminateRequest) error
	Sessions(ctx context.Context) ([]model.SessionInfo, error)
	Done() <-chan struct{}
}

// History lists past sessions.
type History interface {
	List(ctx context.Context, app string, limit int) ([]ledger.Entry, error)
}

// Config tunes the router.
type Config struct {
	// ServiceName names the otelhttp spans; empty disables tracing middleware.
	ServiceName string
	// RateLimit is requests per minute per client IP; 0 disables it.
	RateLimit int
}

// Option customizes a Server.
type Option func(*Server)

// WithHistory enables GET /api/v1/history.
func WithHistory(h History) Option { return func(s *Server) { s.history = h } }

// Server holds the handler dependencies.
type Server struct {
	cfg     Config
	mgr     SessionManager
	history History
	router  chi.Router
}

// New builds the router.
func New(cfg Config, mgr SessionManager, opts ...Option) *Server {
	s := &Server{cfg: cfg, mgr: mgr}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(recoverer)
	r.Use(requestID)
	if s.cfg.ServiceName != "" {
		r.Use(tracing(s.cfg.ServiceName))
	}
	r.Use(instrument)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if s.cfg.RateLimit > 0 {
			r.Use(rateLimit(s.cfg.RateLimit))
		}
		r.Post("/publish", s.handlePublish)
		r.Post("/terminate", s.handleTerminate)
		r.Get("/sessions", s.handleSessions)
		if s.history != nil {
			r.Get("/history", s.handleHistory)
		}
	})
	return r
}

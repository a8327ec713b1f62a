// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package manager is the entry point for publish sessions. A single goroutine
// owns the port pool and the session registry; callers talk to it through
// request/reply messages.
package manager

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ManuGH/rtmp2hls/internal/config"
	"github.com/ManuGH/rtmp2hls/internal/ingest/model"
	"github.com/ManuGH/rtmp2hls/internal/ingest/observer"
	"github.com/ManuGH/rtmp2hls/internal/ingest/worker"
	"github.com/ManuGH/rtmp2hls/internal/liveness"
	"github.com/ManuGH/rtmp2hls/internal/log"
	"github.com/ManuGH/rtmp2hls/internal/metrics"
	"github.com/ManuGH/rtmp2hls/internal/telemetry"
)

const defaultDrainTimeout = 30 * time.Second

type spawnReply struct {
	res model.SpawnResult
	err error
}

type spawnMsg struct {
	ctx   context.Context
	req   model.SpawnRequest
	reply chan spawnReply
}

type terminateMsg struct {
	ctx   context.Context
	req   model.TerminateRequest
	reply chan error
}

type exitMsg struct {
	exit worker.Exit
}

type sessionsMsg struct {
	reply chan []model.SessionInfo
}

type configMsg struct {
	cfg config.AppConfig
}

type entry struct {
	w *worker.Worker
}

func (e *entry) result() model.SpawnResult {
	return model.SpawnResult{
		IP:       e.w.IP(),
		Port:     e.w.Port(),
		WorkerID: e.w.ID(),
		URL:      model.PublishURL(e.w.IP(), e.w.Port(), e.w.AppName(), e.w.SessKey()),
	}
}

// Option customises a Manager.
type Option func(*Manager)

func WithLiveness(c liveness.Client) Option { return func(m *Manager) { m.live = c } }

func WithObserver(o observer.Observer) Option { return func(m *Manager) { m.obs = o } }

func WithPortProbe(p PortProbe) Option { return func(m *Manager) { m.probe = p } }

func WithDrainTimeout(d time.Duration) Option { return func(m *Manager) { m.drainTimeout = d } }

// WithWorkerParams lets the caller adjust the parameters of every new worker.
func WithWorkerParams(fn func(*worker.Params)) Option { return func(m *Manager) { m.workerHook = fn } }

// Manager owns the publish port pool and one worker per app name.
type Manager struct {
	inbox   chan any
	stopped chan struct{}

	// owned by the Run goroutine
	cfg           config.AppConfig
	pool          *portPool
	registry      map[string]*entry
	closing       bool
	workerCtx     context.Context
	cancelWorkers context.CancelFunc

	group        taskGroup
	live         liveness.Client
	obs          observer.Observer
	probe        PortProbe
	workerHook   func(*worker.Params)
	drainTimeout time.Duration
	tracer       trace.Tracer
	logger       zerolog.Logger
}

// New seeds the port pool from cfg. Run must be started before any request.
func New(cfg config.AppConfig, opts ...Option) *Manager {
	m := &Manager{
		inbox:        make(chan any),
		stopped:      make(chan struct{}),
		cfg:          cfg,
		pool:         newPortPool(cfg.Ports.Min, cfg.Ports.Max),
		registry:     make(map[string]*entry),
		live:         liveness.Noop{},
		obs:          observer.Nop{},
		probe:        LsofProbe{},
		drainTimeout: defaultDrainTimeout,
		tracer:       telemetry.Tracer("rtmp2hls.manager"),
		logger:       log.WithComponent("manager"),
	}
	for _, o := range opts {
		o(m)
	}
	metrics.SetPortsAvailable(m.pool.Len())
	metrics.SetSessionsActive(0)
	m.logger.Info().
		Int("port_min", cfg.Ports.Min).
		Int("port_max", cfg.Ports.Max).
		Msg("manager created")
	return m
}

// Done is closed when Run has returned.
func (m *Manager) Done() <-chan struct{} { return m.stopped }

// send delivers msg to the Run goroutine.
func (m *Manager) send(ctx context.Context, msg any) error {
	select {
	case m.inbox <- msg:
		return nil
	case <-m.stopped:
		return model.ErrManagerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func await[T any](ctx context.Context, m *Manager, reply <-chan T) (T, error) {
	var zero T
	select {
	case v := <-reply:
		return v, nil
	case <-m.stopped:
		return zero, model.ErrManagerStopped
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Spawn returns the transport of the session for req.AppName, starting one
// when none is registered.
func (m *Manager) Spawn(ctx context.Context, req model.SpawnRequest) (model.SpawnResult, error) {
	msg := spawnMsg{ctx: ctx, req: req, reply: make(chan spawnReply, 1)}
	if err := m.send(ctx, msg); err != nil {
		return model.SpawnResult{}, err
	}
	rep, err := await(ctx, m, msg.reply)
	if err != nil {
		return model.SpawnResult{}, err
	}
	return rep.res, rep.err
}

// Terminate asks the selected session to finish and returns the worker's answer.
func (m *Manager) Terminate(ctx context.Context, req model.TerminateRequest) error {
	msg := terminateMsg{ctx: ctx, req: req, reply: make(chan error, 1)}
	if err := m.send(ctx, msg); err != nil {
		return err
	}
	rep, err := await(ctx, m, msg.reply)
	if err != nil {
		return err
	}
	return rep
}

// Sessions returns a snapshot of the registry ordered by app name.
func (m *Manager) Sessions(ctx context.Context) ([]model.SessionInfo, error) {
	msg := sessionsMsg{reply: make(chan []model.SessionInfo, 1)}
	if err := m.send(ctx, msg); err != nil {
		return nil, err
	}
	return await(ctx, m, msg.reply)
}

// ApplyConfig makes cfg the configuration of sessions spawned from now on.
func (m *Manager) ApplyConfig(ctx context.Context, cfg config.AppConfig) error {
	return m.send(ctx, configMsg{cfg: cfg})
}

// NotifyExiting is called by a worker once it has torn down.
func (m *Manager) NotifyExiting(ex worker.Exit) {
	select {
	case m.inbox <- exitMsg{exit: ex}:
	case <-m.stopped:
	}
}

// Run processes messages until ctx is cancelled. It then cancels every
// worker, waits up to the drain timeout for their exit notifications and
// returns.
func (m *Manager) Run(ctx context.Context) error {
	m.workerCtx, m.cancelWorkers = context.WithCancel(context.WithoutCancel(ctx))
	defer m.cancelWorkers()
	m.logger.Info().Msg("manager running")

	for {
		select {
		case msg := <-m.inbox:
			m.handle(msg)
		case <-ctx.Done():
			return m.shutdown()
		}
	}
}

func (m *Manager) handle(msg any) {
	switch msg := msg.(type) {
	case spawnMsg:
		res, later, err := m.handleSpawn(msg)
		if !later {
			msg.reply <- spawnReply{res: res, err: err}
		}
	case terminateMsg:
		msg.reply <- m.handleTerminate(msg.ctx, msg.req)
	case exitMsg:
		m.handleExit(msg.exit)
	case sessionsMsg:
		msg.reply <- m.snapshot()
	case configMsg:
		m.handleConfig(msg.cfg)
	default:
		m.logger.Warn().Str("type", fmt.Sprintf("%T", msg)).Msg("unknown message ignored")
	}
}

// handleSpawn reports later=true when the reply is sent by a delayed task.
func (m *Manager) handleSpawn(msg spawnMsg) (res model.SpawnResult, later bool, err error) {
	req := msg.req
	ctx, span := m.tracer.Start(msg.ctx, "rtmp2hls.manager.spawn",
		trace.WithAttributes(telemetry.SessionAttributes(req.AppName, req.SessKey, "", 0)...))
	defer span.End()

	fail := func(result string, err error) (model.SpawnResult, bool, error) {
		metrics.IncSessionStart(result)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return model.SpawnResult{}, false, err
	}

	if m.closing {
		return fail("rejected", model.ErrManagerStopped)
	}
	if err := req.Validate(); err != nil {
		return fail("rejected", err)
	}

	logger := m.logger.With().Str(log.FieldAppName, req.AppName).Str(log.FieldSessKey, req.SessKey).Logger()

	if e, ok := m.registry[req.AppName]; ok {
		existing := e.result()
		metrics.IncSessionStart("existing")
		span.SetAttributes(attribute.Bool(telemetry.SessionExistingKey, true))
		logger.Info().
			Str(log.FieldWorkerID, existing.WorkerID).
			Int(log.FieldStreamPort, existing.Port).
			Msg("session already exists, replying with its transport")
		delay := m.cfg.Session.ExistReplyDelay
		if delay <= 0 || !m.group.Go(func() { m.replyLater(msg.reply, existing, delay) }) {
			return existing, false, nil
		}
		return model.SpawnResult{}, true, nil
	}

	port, err := m.pickPort(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("can't pick publish port")
		return fail("exhausted", err)
	}
	metrics.SetPortsAvailable(m.pool.Len())

	ip := m.cfg.Server.PublicIP
	params := worker.Params{
		Request:  req,
		IP:       ip,
		Port:     port,
		Config:   m.cfg,
		Liveness: m.live,
		Observer: m.obs,
		Notifier: m,
	}
	if m.workerHook != nil {
		m.workerHook(&params)
	}
	w, err := worker.New(params)
	if err != nil {
		logger.Error().Err(err).Int(log.FieldStreamPort, port).Msg("failed to create worker")
		return fail("failed", fmt.Errorf("%w: %w", model.ErrFailedToCreateWorker, err))
	}
	span.SetAttributes(telemetry.SessionAttributes("", "", w.ID(), port)...)

	if err := w.Begin(log.ContextWithSession(ctx, req.AppName, w.ID())); err != nil {
		// the port is not returned to the pool
		logger.Error().Err(err).Str(log.FieldWorkerID, w.ID()).Int(log.FieldStreamPort, port).Msg("failed to begin worker")
		return fail("failed", fmt.Errorf("%w: %w", model.ErrFailedToCreateWorker, err))
	}

	e := &entry{w: w}
	m.registry[req.AppName] = e
	wctx := m.workerCtx
	if !m.group.Go(func() { w.Run(wctx) }) {
		// unreachable while not closing; keep the registry honest anyway
		delete(m.registry, req.AppName)
		return fail("rejected", model.ErrManagerStopped)
	}
	metrics.SetSessionsActive(len(m.registry))

	res = e.result()
	logger.Info().
		Str(log.FieldWorkerID, res.WorkerID).
		Str(log.FieldURL, res.URL).
		Int(log.FieldStreamPort, port).
		Msg("session spawned")
	return res, false, nil
}

func (m *Manager) replyLater(reply chan<- spawnReply, res model.SpawnResult, delay time.Duration) {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-m.stopped:
	}
	reply <- spawnReply{res: res}
}

// pickPort pops ports until the probe reports one free. An unavailable probe
// accepts the port as is; after ProbeMaxTries busy ports the last one is used.
func (m *Manager) pickPort(ctx context.Context) (int, error) {
	tries := max(m.cfg.Ports.ProbeMaxTries, 1)
	var port int
	for i := 0; i < tries; i++ {
		p, ok := m.pool.pop()
		if !ok {
			return 0, model.ErrResourceExhausted
		}
		port = p
		if !m.cfg.Ports.Probe || m.probe == nil {
			return port, nil
		}
		busy, err := m.probe.InUse(ctx, port)
		if err != nil {
			m.logger.Debug().Err(err).Int(log.FieldStreamPort, port).Msg("port probe unavailable, using port unchecked")
			return port, nil
		}
		if !busy {
			return port, nil
		}
		m.logger.Warn().Int(log.FieldStreamPort, port).Msg("publish port already in use, skipping")
	}
	m.logger.Error().
		Int("tries", tries).
		Int(log.FieldStreamPort, port).
		Msg("too many busy ports, using the last one unchecked")
	return port, nil
}

func (m *Manager) lookup(req model.TerminateRequest) (*entry, error) {
	switch req.Kind {
	case model.TerminateByAppName, "":
		if e, ok := m.registry[req.AppName]; ok {
			return e, nil
		}
	case model.TerminateByAppNameSessKey:
		if e, ok := m.registry[req.AppName]; ok && e.w.SessKey() == req.SessKey {
			return e, nil
		}
	case model.TerminateByWorkerID:
		for _, e := range m.registry {
			if e.w.ID() == req.WorkerID {
				return e, nil
			}
		}
	default:
		return nil, fmt.Errorf("%w: terminate kind %q", model.ErrInvalidRequest, req.Kind)
	}
	return nil, fmt.Errorf("%w: kind=%s app_name=%s", model.ErrSessionNotFound, req.Kind, req.AppName)
}

func (m *Manager) handleTerminate(ctx context.Context, req model.TerminateRequest) error {
	ctx, span := m.tracer.Start(ctx, "rtmp2hls.manager.terminate",
		trace.WithAttributes(telemetry.SessionAttributes(req.AppName, req.SessKey, req.WorkerID, 0)...),
		trace.WithAttributes(attribute.String(telemetry.TerminateKindKey, string(req.Kind))))
	defer span.End()

	e, err := m.lookup(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		m.logger.Warn().Err(err).Str(log.FieldAppName, req.AppName).Msg("terminate: no such session")
		return err
	}
	if err := e.w.Finish(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	m.logger.Info().
		Str(log.FieldAppName, e.w.AppName()).
		Str(log.FieldWorkerID, e.w.ID()).
		Msg("session finish requested")
	return nil
}

func (m *Manager) handleExit(ex worker.Exit) {
	logger := m.logger.With().
		Str(log.FieldAppName, ex.AppName).
		Str(log.FieldSessKey, ex.SessKey).
		Str(log.FieldWorkerID, ex.WorkerID).
		Logger()

	if m.cfg.Session.UsePublishState {
		ctx := context.Background()
		if err := m.live.SetPublishState(ctx, ex.AppName, ex.SessKey, liveness.UnPublish); err != nil {
			logger.Warn().Err(err).Msg("liveness: unpublish failed")
		}
	}

	e, ok := m.registry[ex.AppName]
	if !ok || e.w.ID() != ex.WorkerID {
		logger.Warn().Msg("exit notification for unknown worker ignored")
		return
	}
	delete(m.registry, ex.AppName)
	metrics.SetSessionsActive(len(m.registry))
	logger.Info().
		Str("reason", string(ex.Reason)).
		Int(log.FieldRespawns, ex.Respawns).
		Msg("session removed")
}

func (m *Manager) snapshot() []model.SessionInfo {
	out := make([]model.SessionInfo, 0, len(m.registry))
	for _, e := range m.registry {
		out = append(out, e.w.Info())
	}
	slices.SortFunc(out, func(a, b model.SessionInfo) int { return strings.Compare(a.AppName, b.AppName) })
	return out
}

func (m *Manager) handleConfig(cfg config.AppConfig) {
	if cfg.Ports.Min != m.cfg.Ports.Min || cfg.Ports.Max != m.cfg.Ports.Max {
		m.logger.Warn().
			Int("port_min", cfg.Ports.Min).
			Int("port_max", cfg.Ports.Max).
			Msg("port range change ignored until restart")
		cfg.Ports.Min, cfg.Ports.Max = m.cfg.Ports.Min, m.cfg.Ports.Max
	}
	m.cfg = cfg
	m.logger.Info().Msg("configuration applied to new sessions")
}

func (m *Manager) shutdown() error {
	m.closing = true
	m.logger.Info().Int("sessions", len(m.registry)).Msg("manager stopping, finishing sessions")
	m.cancelWorkers()

	deadline := time.NewTimer(m.drainTimeout)
	defer deadline.Stop()
drain:
	for len(m.registry) > 0 {
		select {
		case msg := <-m.inbox:
			m.handle(msg)
		case <-deadline.C:
			m.logger.Warn().Int("sessions", len(m.registry)).Msg("sessions did not exit within drain timeout")
			break drain
		}
	}
	close(m.stopped)

	ctx, cancel := context.WithTimeout(context.Background(), m.drainTimeout)
	defer cancel()
	err := m.group.CloseAndWait(ctx)
	if err != nil {
		m.logger.Error().Err(err).Msg("manager stopped with running workers")
	} else {
		m.logger.Info().Msg("manager stopped")
	}
	return err
}

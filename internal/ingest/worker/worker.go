// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package worker runs one publish session: it owns the driver, enforces the
// session expiry, respawns processes that exited on their own and reports its
// own exit to the manager.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/ManuGH/rtmp2hls/internal/config"
	"github.com/ManuGH/rtmp2hls/internal/ingest/driver"
	"github.com/ManuGH/rtmp2hls/internal/ingest/model"
	"github.com/ManuGH/rtmp2hls/internal/ingest/observer"
	"github.com/ManuGH/rtmp2hls/internal/ingest/role"
	"github.com/ManuGH/rtmp2hls/internal/ingest/runner"
	"github.com/ManuGH/rtmp2hls/internal/liveness"
	"github.com/ManuGH/rtmp2hls/internal/log"
	"github.com/ManuGH/rtmp2hls/internal/metrics"
)

// Driver is the part of driver.Driver the worker uses.
type Driver interface {
	Begin(ctx context.Context) error
	Tick() (runner.TickResult, error)
	End(ctx context.Context) error
	Restart(ctx context.Context) error
	Status() driver.Status
}

var _ Driver = (*driver.Driver)(nil)

// ExitReason says why the run loop stopped.
type ExitReason string

const (
	ExitFinished  ExitReason = "finished"  // terminate requested
	ExitExpired   ExitReason = "expired"   // session duration elapsed
	ExitStopped   ExitReason = "stopped"   // processes ended without respawn
	ExitFailed    ExitReason = "failed"    // driver error or failed restart
	ExitCancelled ExitReason = "cancelled" // run context cancelled
)

// Exit is reported to the Notifier once the worker has torn down.
type Exit struct {
	WorkerID string
	AppName  string
	SessKey  string
	Reason   ExitReason
	Respawns int
	Err      error
}

// Notifier receives the exit report of a worker. It must not block for long.
type Notifier interface {
	NotifyExiting(ex Exit)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Exit)

func (f NotifierFunc) NotifyExiting(ex Exit) { f(ex) }

// Params describes the session a worker runs.
type Params struct {
	// ID is generated when empty.
	ID       string
	Request  model.SpawnRequest
	IP       string
	Port     int
	Config   config.AppConfig
	Liveness liveness.Client
	Observer observer.Observer
	Notifier Notifier
	// Driver replaces the driver built from Request.Receiver.
	Driver        Driver
	RunnerOptions []runner.Option
	Now           func() time.Time
}

type finishReq struct {
	reply chan error
}

// Worker is the per-session actor. Begin runs on the caller goroutine; Run
// owns the worker afterwards and Finish is the only message it accepts.
type Worker struct {
	id       string
	req      model.SpawnRequest
	ip       string
	port     int
	cfg      config.AppConfig
	drv      Driver
	live     liveness.Client
	obs      observer.Observer
	notifier Notifier
	now      func() time.Time
	limiter  *rate.Limiter
	logger   zerolog.Logger

	startedAt time.Time
	expiresAt time.Time

	finishCh chan finishReq
	exiting  chan struct{}
	done     chan struct{}
	runOnce  sync.Once

	finished bool
	respawns atomic.Int32
}

// New builds a worker and its driver. Unsupported receiver types fail here.
func New(p Params) (*Worker, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	if p.Liveness == nil {
		p.Liveness = liveness.Noop{}
	}
	if p.Observer == nil {
		p.Observer = observer.Nop{}
	}
	if p.Notifier == nil {
		p.Notifier = NotifierFunc(func(Exit) {})
	}

	drv := p.Driver
	if drv == nil {
		cc := role.CreateContext{
			Owner: role.Owner{
				WorkerID: p.ID,
				AppName:  p.Request.AppName,
				SessKey:  p.Request.SessKey,
				Port:     p.Port,
				Media:    p.Request.Media,
				Receiver: p.Request.Receiver,
			},
			Config: p.Config,
			Props:  make(map[string]string),
		}
		d, err := driver.New(cc, p.RunnerOptions...)
		if err != nil {
			return nil, err
		}
		drv = d
	}

	start := p.Now()
	w := &Worker{
		id:        p.ID,
		req:       p.Request,
		ip:        p.IP,
		port:      p.Port,
		cfg:       p.Config,
		drv:       drv,
		live:      p.Liveness,
		obs:       p.Observer,
		notifier:  p.Notifier,
		now:       p.Now,
		startedAt: start,
		expiresAt: start.Add(p.Config.Session.Duration),
		finishCh:  make(chan finishReq),
		exiting:   make(chan struct{}),
		done:      make(chan struct{}),
		logger: log.WithComponent("worker").With().
			Str(log.FieldWorkerID, p.ID).
			Str(log.FieldAppName, p.Request.AppName).
			Str(log.FieldSessKey, p.Request.SessKey).
			Int(log.FieldStreamPort, p.Port).
			Logger(),
	}
	if iv := p.Config.Session.RespawnMinInterval; iv > 0 {
		w.limiter = rate.NewLimiter(rate.Every(iv), 1)
	}
	return w, nil
}

func (w *Worker) ID() string           { return w.id }
func (w *Worker) AppName() string      { return w.req.AppName }
func (w *Worker) SessKey() string      { return w.req.SessKey }
func (w *Worker) IP() string           { return w.ip }
func (w *Worker) Port() int            { return w.port }
func (w *Worker) StartedAt() time.Time { return w.startedAt }
func (w *Worker) ExpiresAt() time.Time { return w.expiresAt }
func (w *Worker) Respawns() int        { return int(w.respawns.Load()) }

// Done is closed once Run has returned.
func (w *Worker) Done() <-chan struct{} { return w.done }

// Info returns a registry snapshot of the session.
func (w *Worker) Info() model.SessionInfo {
	return model.SessionInfo{
		AppName:   w.req.AppName,
		SessKey:   w.req.SessKey,
		WorkerID:  w.id,
		IP:        w.ip,
		Port:      w.port,
		StartedAt: w.startedAt,
		ExpiresAt: w.expiresAt,
		Respawns:  w.Respawns(),
	}
}

func (w *Worker) logCtx(ctx context.Context) context.Context {
	ctx = log.ContextWithSession(ctx, w.req.AppName, w.id)
	l := w.logger
	return l.WithContext(ctx)
}

func (w *Worker) event(kind observer.Kind) observer.Event {
	return observer.Event{
		Kind:      kind,
		At:        w.now().UTC(),
		AppName:   w.req.AppName,
		SessKey:   w.req.SessKey,
		WorkerID:  w.id,
		Port:      w.port,
		ExpiresAt: w.expiresAt,
		Respawns:  w.Respawns(),
	}
}

// Begin starts the session processes. When the driver fails to begin it is
// still ended before the error is returned. On success the output address is
// registered with the liveness service and, when configured, the publish state
// is announced. Liveness failures are logged only.
func (w *Worker) Begin(ctx context.Context) error {
	lctx := w.logCtx(ctx)
	w.logger.Debug().Msg("worker begin")

	if err := w.drv.Begin(ctx); err != nil {
		ev := w.event(observer.KindSpawnFailed)
		ev.Error = err.Error()
		w.obs.SpawnFailed(lctx, ev)

		if endErr := w.drv.End(ctx); endErr != nil {
			w.logger.Error().Err(endErr).Msg("failed to end driver after begin failure")
			return errors.Join(fmt.Errorf("begin worker: %w", err), fmt.Errorf("end driver: %w", endErr))
		}
		return fmt.Errorf("begin worker: %w", err)
	}

	addr := w.outputAddr()
	if err := w.live.RegisterAddress(ctx, w.req.AppName, addr); err != nil {
		w.logger.Warn().Err(err).Str(log.FieldURL, addr).Msg("liveness: register address failed")
	}
	if w.cfg.Session.UsePublishState {
		if err := w.live.SetPublishState(ctx, w.req.AppName, w.req.SessKey, liveness.Publish); err != nil {
			w.logger.Warn().Err(err).Msg("liveness: publish state update failed")
		}
	} else {
		w.logger.Debug().Msg("liveness: publish state update skipped by config")
	}
	return nil
}

// outputAddr is where players fetch the session playlist.
func (w *Worker) outputAddr() string {
	base := strings.TrimRight(w.cfg.HLS.BaseURL, "/")
	if base == "" {
		return w.ip
	}
	return base + "/" + w.req.AppName
}

// Finish asks the run loop to stop. It fails with ErrAlreadyFinishing once
// the worker is past its loop or a finish was already accepted.
func (w *Worker) Finish(ctx context.Context) error {
	req := finishReq{reply: make(chan error, 1)}
	select {
	case w.finishCh <- req:
	case <-w.exiting:
		return fmt.Errorf("%w: worker %s is exiting", model.ErrAlreadyFinishing, w.id)
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) handleFinish(req finishReq) {
	if w.finished {
		w.logger.Error().Msg("already finishing")
		req.reply <- fmt.Errorf("%w: worker %s", model.ErrAlreadyFinishing, w.id)
		return
	}
	w.finished = true
	w.logger.Debug().Msg("finish requested")
	req.reply <- nil
}

// Run drives the session until it is finished, expires, fails or ctx is
// cancelled, then tears down exactly once. It must be called once, after a
// successful Begin.
func (w *Worker) Run(ctx context.Context) {
	w.runOnce.Do(func() {
		defer close(w.done)
		lctx := w.logCtx(ctx)
		w.obs.Created(lctx, w.event(observer.KindCreated))

		reason, err := w.loop(ctx)
		close(w.exiting)
		w.teardown(lctx, reason, err)
	})
}

func (w *Worker) loop(ctx context.Context) (ExitReason, error) {
	ticker := time.NewTicker(w.cfg.Worker.TickInterval)
	defer ticker.Stop()

	for {
		if w.finished {
			w.logger.Info().Msg("exiting by finish request")
			return ExitFinished, nil
		}

		res, err := w.drv.Tick()
		if err != nil {
			w.logger.Error().Err(err).Msg("driver tick failed")
			return ExitFailed, err
		}
		if res.Finished {
			if !res.Respawn {
				w.logger.Info().Msg("session processes ended without respawn")
				return ExitStopped, nil
			}
			if reason, stop := w.awaitRespawnSlot(ctx); stop {
				return reason, nil
			}
			if err := w.drv.Restart(ctx); err != nil {
				w.logger.Error().Err(err).Msg("driver restart failed")
				return ExitFailed, err
			}
			n := w.respawns.Add(1)
			metrics.IncSessionRespawn()
			w.logger.Info().Int(log.FieldRespawns, int(n)).Msg("session processes respawned")
			continue
		}

		if w.now().After(w.expiresAt) {
			w.logger.Info().
				Dur("duration", w.cfg.Session.Duration).
				Time("expires_at", w.expiresAt).
				Msg("session expired")
			w.obs.Expired(w.logCtx(ctx), w.event(observer.KindExpired))
			return ExitExpired, nil
		}

		select {
		case <-ticker.C:
		case req := <-w.finishCh:
			w.handleFinish(req)
		case <-ctx.Done():
			return ExitCancelled, ctx.Err()
		}
	}
}

// awaitRespawnSlot waits for the respawn limiter. A finish request or a
// cancelled context during the wait ends the loop instead.
func (w *Worker) awaitRespawnSlot(ctx context.Context) (ExitReason, bool) {
	if w.limiter == nil {
		return "", false
	}
	r := w.limiter.Reserve()
	delay := r.Delay()
	if delay <= 0 {
		return "", false
	}
	w.logger.Debug().Dur("delay", delay).Msg("respawn paced")
	timer := time.NewTimer(delay)
	defer timer.Stop()
	for {
		select {
		case <-timer.C:
			return "", false
		case req := <-w.finishCh:
			w.handleFinish(req)
			r.Cancel()
			return ExitFinished, true
		case <-ctx.Done():
			r.Cancel()
			return ExitCancelled, true
		}
	}
}

// teardown is the single exit path: end the driver, emit the exit event and
// notify the manager.
func (w *Worker) teardown(ctx context.Context, reason ExitReason, loopErr error) {
	// processes must be stopped even when the run context is gone
	endCtx := context.WithoutCancel(ctx)
	endErr := w.drv.End(endCtx)
	if endErr != nil {
		w.logger.Error().Err(endErr).Msg("failed to end driver")
	}

	ev := w.event(observer.KindExited)
	ev.Reason = string(reason)
	ev.Failed = reason == ExitFailed || endErr != nil
	if err := errors.Join(loopErr, endErr); err != nil {
		ev.Error = err.Error()
	}
	w.obs.Exited(ctx, ev)

	w.notifier.NotifyExiting(Exit{
		WorkerID: w.id,
		AppName:  w.req.AppName,
		SessKey:  w.req.SessKey,
		Reason:   reason,
		Respawns: w.Respawns(),
		Err:      errors.Join(loopErr, endErr),
	})
	w.logger.Debug().Str("reason", string(reason)).Msg("worker exited")
}

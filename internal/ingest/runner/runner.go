// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package runner is the session facade over a supervisor run. It starts the
// supervisor, waits for readiness, reports completion and stops it.
package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/rtmp2hls/internal/config"
	"github.com/ManuGH/rtmp2hls/internal/ingest/model"
	"github.com/ManuGH/rtmp2hls/internal/ingest/role"
	"github.com/ManuGH/rtmp2hls/internal/ingest/supervisor"
	"github.com/ManuGH/rtmp2hls/internal/log"
)

// Factory builds the spawners of one run.
type Factory func(role.CreateContext) ([]role.Spawner, error)

// TickResult reports whether the supervisor run has finished and whether the
// session should be respawned.
type TickResult struct {
	Finished bool
	Respawn  bool
}

// Runner owns at most one supervisor run at a time.
type Runner struct {
	cc      role.CreateContext
	cfg     config.AppConfig
	factory Factory
	logger  zerolog.Logger

	sup     *supervisor.Supervisor
	cancel  context.CancelFunc
	pending *TickResult
}

// Option customises a Runner.
type Option func(*Runner)

// WithFactory replaces role.Build as the spawner source.
func WithFactory(f Factory) Option {
	return func(r *Runner) { r.factory = f }
}

// New returns a runner for the session described by cc.
func New(cc role.CreateContext, opts ...Option) *Runner {
	r := &Runner{
		cc:      cc,
		cfg:     cc.Config,
		factory: role.Build,
		logger:  log.WithSession("runner", cc.Owner.AppName, cc.Owner.WorkerID),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Running reports whether a supervisor handle is held.
func (r *Runner) Running() bool { return r.sup != nil }

// Begin starts the supervisor and blocks until it reports running, finished or
// failed. There is no timeout; only ctx aborts the wait.
func (r *Runner) Begin(ctx context.Context) error {
	if r.sup != nil {
		return fmt.Errorf("%w: runner already has a supervisor", model.ErrInvalidState)
	}
	spawners, err := r.factory(r.cc)
	if err != nil {
		return err
	}

	// The run outlives the request that started it.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sup := supervisor.New(r.cfg.Supervisor, spawners, r.cc.Owner)
	r.sup, r.cancel, r.pending = sup, cancel, nil
	go sup.Run(runCtx)

	heartbeat := time.NewTicker(r.cfg.Runner.BeginPollInterval)
	defer heartbeat.Stop()
	waitStart := time.Now()

	for {
		select {
		case ev := <-sup.Events():
			switch ev.Kind {
			case supervisor.EventRunning:
				r.logger.Info().Msg("session processes running")
				return nil
			case supervisor.EventFinished:
				r.logger.Info().Bool("respawn", ev.Respawn).Msg("session processes finished during begin")
				r.pending = &TickResult{Finished: true, Respawn: ev.Respawn}
				return nil
			case supervisor.EventSpawnFailed:
				r.logger.Error().Err(ev.Err).Msg("failed to spawn session processes")
				return ev.Err
			default:
				r.logger.Debug().Str("kind", ev.Kind.String()).Msg("supervisor event")
			}
		case <-sup.Done():
			if ev, ok := decisive(sup); ok {
				if ev.Kind == supervisor.EventRunning {
					// finished right after running; the finish is lost with the buffer
					r.pending = &TickResult{Finished: true}
					return nil
				}
				if ev.Kind == supervisor.EventFinished {
					r.pending = &TickResult{Finished: true, Respawn: ev.Respawn}
					return nil
				}
				return ev.Err
			}
			err := fmt.Errorf("%w: supervisor exited during begin", model.ErrChannelClosed)
			r.logger.Error().Err(err).Msg("lost supervisor")
			return err
		case <-heartbeat.C:
			if time.Since(waitStart) > r.cfg.Supervisor.SpawnMaxWait {
				r.logger.Warn().Dur("waited", time.Since(waitStart)).Msg("still waiting for session processes")
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Tick reports a finished run without blocking. A runner without a
// supervisor reports a finished run without respawn.
func (r *Runner) Tick() TickResult {
	if r.sup == nil {
		return TickResult{Finished: true}
	}
	if r.pending != nil {
		res := *r.pending
		r.pending = nil
		return res
	}
	select {
	case ev := <-r.sup.Events():
		switch ev.Kind {
		case supervisor.EventFinished:
			r.logger.Debug().Bool("respawn", ev.Respawn).Msg("supervisor finished")
			return TickResult{Finished: true, Respawn: ev.Respawn}
		case supervisor.EventSpawnFailed:
			r.logger.Error().Err(ev.Err).Msg("supervisor failed")
			return TickResult{Finished: true}
		}
	case <-r.sup.Done():
		if ev, ok := decisive(r.sup); ok {
			switch ev.Kind {
			case supervisor.EventFinished:
				return TickResult{Finished: true, Respawn: ev.Respawn}
			case supervisor.EventSpawnFailed:
				r.logger.Error().Err(ev.Err).Msg("supervisor failed")
				return TickResult{Finished: true}
			}
		}
		r.logger.Error().Err(model.ErrChannelClosed).Msg("supervisor exited without a final event")
		return TickResult{Finished: true}
	default:
	}
	return TickResult{}
}

// decisive drains the buffered events of an exited supervisor and returns the
// last one that ends a wait.
func decisive(sup *supervisor.Supervisor) (supervisor.Event, bool) {
	var (
		last  supervisor.Event
		found bool
	)
	for {
		select {
		case ev := <-sup.Events():
			if ev.Kind != supervisor.EventSpawning {
				last, found = ev, true
			}
		default:
			return last, found
		}
	}
}

// End stops the supervisor and clears the handle. It waits at most the end
// grace window; when that passes the processes may still be running and only
// a warning is logged.
func (r *Runner) End(ctx context.Context) error {
	if r.sup == nil {
		return nil
	}
	sup, cancel := r.sup, r.cancel
	defer func() {
		cancel()
		r.sup, r.cancel, r.pending = nil, nil, nil
	}()

	select {
	case <-sup.Done():
		r.logger.Debug().Msg("supervisor already exited")
		return nil
	default:
	}

	reply, ok := sup.Terminate()
	if !ok {
		r.logger.Warn().Msg("terminate request already pending")
	}

	grace := time.NewTimer(r.cfg.Runner.EndGraceWindow)
	defer grace.Stop()
	poll := time.NewTicker(r.cfg.Runner.EndPollInterval)
	defer poll.Stop()

	for {
		select {
		case rep := <-reply:
			if rep.Err != nil {
				r.logger.Error().Err(rep.Err).Msg("supervisor reported termination error")
			} else {
				r.logger.Debug().Bool("all_terminated", rep.Result.AllTerminated).Msg("supervisor terminated")
			}
			<-sup.Done()
			return nil
		case <-sup.Done():
			// exited before answering; treated as terminated
			r.logger.Debug().Msg("supervisor exited without reply")
			return nil
		case <-poll.C:
			r.logger.Debug().Msg("awaiting supervisor termination")
		case <-grace.C:
			r.logger.Warn().
				Dur("grace", r.cfg.Runner.EndGraceWindow).
				Msg("supervisor did not confirm termination, processes may still be running")
			return nil
		case <-ctx.Done():
			r.logger.Warn().Err(ctx.Err()).Msg("end aborted, processes may still be running")
			return ctx.Err()
		}
	}
}

// Reset prepares the runner for another Begin. End must have cleared the
// supervisor handle first; anything else is a programming error.
func (r *Runner) Reset() {
	if r.sup != nil {
		panic("runner: Reset called while a supervisor is still attached")
	}
	r.pending = nil
}

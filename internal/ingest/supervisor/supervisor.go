// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package supervisor owns the processes of one publish session. It spawns the
// roles in order, rolls back on partial failure, monitors them, terminates them
// on request and decides whether the session should be respawned.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/rtmp2hls/internal/config"
	"github.com/ManuGH/rtmp2hls/internal/ingest/model"
	"github.com/ManuGH/rtmp2hls/internal/ingest/role"
	"github.com/ManuGH/rtmp2hls/internal/log"
	"github.com/ManuGH/rtmp2hls/internal/metrics"
	"github.com/ManuGH/rtmp2hls/internal/procgroup"
)

const (
	// eventBuffer holds every event a single run can emit, so sends never block.
	eventBuffer = 8
	// terminateSettle gives a terminated process time to flush its output.
	terminateSettle      = 100 * time.Millisecond
	noNeedTerminationMsg = "no need to termination"
)

// EventKind tags a supervisor event.
type EventKind int

const (
	EventSpawning EventKind = iota
	EventRunning
	EventSpawnFailed
	EventFinished
)

func (k EventKind) String() string {
	switch k {
	case EventSpawning:
		return "spawning"
	case EventRunning:
		return "running"
	case EventSpawnFailed:
		return "spawn_failed"
	case EventFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Event is sent to the owner on every lifecycle step.
// Respawn is meaningful for EventFinished, Err for EventSpawnFailed.
type Event struct {
	Kind    EventKind
	Respawn bool
	Err     error
}

// Result is the outcome of a run, also the reply to a terminate request.
type Result struct {
	AllTerminated bool
	Statuses      map[model.Role]procgroup.ExitStatus
}

// TerminateReply carries the result of an explicit termination.
type TerminateReply struct {
	Result Result
	Err    error
}

type terminateRequest struct {
	reply chan TerminateReply
}

type roleProc struct {
	spawner role.Spawner
	proc    *procgroup.Process
	exited  bool
	status  procgroup.ExitStatus
	termErr error
}

// Supervisor runs the protocol for one session. Create one per run; it is not reusable.
type Supervisor struct {
	cfg       config.SupervisorConfig
	roles     []*roleProc
	events    chan Event
	terminate chan terminateRequest
	done      chan struct{}
	logger    zerolog.Logger

	forceTerminating bool
	result           Result
	err              error
}

// New prepares a supervisor for spawners, which are started in slice order.
// owner only labels the log lines.
func New(cfg config.SupervisorConfig, spawners []role.Spawner, owner role.Owner) *Supervisor {
	roles := make([]*roleProc, 0, len(spawners))
	for _, sp := range spawners {
		roles = append(roles, &roleProc{spawner: sp})
	}
	return &Supervisor{
		cfg:       cfg,
		roles:     roles,
		events:    make(chan Event, eventBuffer),
		terminate: make(chan terminateRequest, 1),
		done:      make(chan struct{}),
		logger:    log.WithSession("supervisor", owner.AppName, owner.WorkerID),
	}
}

// Events delivers the lifecycle events of the run.
func (s *Supervisor) Events() <-chan Event { return s.events }

// Done is closed when Run has returned.
func (s *Supervisor) Done() <-chan struct{} { return s.done }

// Err returns the run error once Done is closed.
func (s *Supervisor) Err() error {
	<-s.done
	return s.err
}

// Terminate asks the running supervisor to stop every role. The returned channel
// receives exactly one reply, or none if the supervisor had already finished;
// callers should also watch Done. ok is false when a request is already pending.
func (s *Supervisor) Terminate() (reply <-chan TerminateReply, ok bool) {
	req := terminateRequest{reply: make(chan TerminateReply, 1)}
	select {
	case s.terminate <- req:
		return req.reply, true
	default:
		return nil, false
	}
}

// Run executes the whole protocol and returns when every role is gone.
// Cancelling ctx behaves like a terminate request without a requester.
func (s *Supervisor) Run(ctx context.Context) {
	defer close(s.done)

	s.emit(Event{Kind: EventSpawning})

	if err := s.spawnAll(ctx); err != nil {
		s.err = err
		s.emit(Event{Kind: EventSpawnFailed, Err: err})
		return
	}
	s.emit(Event{Kind: EventRunning})

	res, err := s.monitor(ctx)
	s.result, s.err = res, err

	switch {
	case err != nil:
		s.logger.Error().Err(err).Msg("supervisor exited with error, respawn disabled")
		s.emit(Event{Kind: EventSpawnFailed, Err: err})
	case s.forceTerminating:
		s.logger.Info().Msg("supervisor exiting after termination request, respawn disabled")
		s.emit(Event{Kind: EventFinished, Respawn: false})
	case !s.autoRespawn():
		s.logger.Info().Msg("all roles exited on their own, respawn disabled by role")
		s.emit(Event{Kind: EventFinished, Respawn: false})
	default:
		s.logger.Info().Msg("all roles exited on their own, requesting respawn")
		s.emit(Event{Kind: EventFinished, Respawn: true})
	}
}

func (s *Supervisor) autoRespawn() bool {
	for _, rp := range s.roles {
		if !rp.spawner.AutoRespawn() {
			return false
		}
	}
	return true
}

func (s *Supervisor) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		s.logger.Error().Str("kind", ev.Kind.String()).Msg("event buffer full, dropping event")
	}
}

// spawnAll starts the roles in order. On the first failure it stops every role
// started so far in reverse order before returning.
func (s *Supervisor) spawnAll(ctx context.Context) error {
	var spawned []*roleProc
	for _, rp := range s.roles {
		err := s.spawnOne(ctx, rp)
		if rp.proc != nil {
			spawned = append(spawned, rp)
		}
		if err == nil {
			continue
		}

		metrics.IncSpawnFailure(string(rp.spawner.Role()))
		s.logger.Error().Err(err).
			Str(log.FieldRole, string(rp.spawner.Role())).
			Int("spawned", len(spawned)).
			Msg("spawn failed, rolling back spawned roles in reverse order")
		s.rollback(ctx, spawned)
		return fmt.Errorf("%w: %s: %v", model.ErrSpawn, rp.spawner.Role(), err)
	}
	return nil
}

func (s *Supervisor) spawnOne(ctx context.Context, rp *roleProc) error {
	roleName := string(rp.spawner.Role())
	proc, err := rp.spawner.Spawn(ctx)
	if err != nil {
		return err
	}
	rp.proc = proc

	timer := time.NewTimer(s.cfg.SpawnSettle)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return ctx.Err()
	}

	if st, ok, werr := proc.TryWait(); ok {
		rp.exited, rp.status = true, st
		if werr != nil {
			return werr
		}
		msg := fmt.Sprintf("just exited, code=%d", st.Code)
		if tail := proc.Tail(5); len(tail) > 0 {
			msg += ", " + strings.Join(tail, " | ")
		}
		return errors.New(msg)
	}

	s.logger.Info().
		Str(log.FieldRole, roleName).
		Int(log.FieldPID, proc.Pid()).
		Msg("role spawned")

	if err := rp.spawner.AfterSpawn(ctx); err != nil {
		return fmt.Errorf("after spawn: %w", err)
	}
	return nil
}

func (s *Supervisor) rollback(ctx context.Context, spawned []*roleProc) {
	// rollback must complete even when the run was cancelled
	ctx = context.WithoutCancel(ctx)
	for i := len(spawned) - 1; i >= 0; i-- {
		rp := spawned[i]
		if rp.exited {
			continue
		}
		st, err := procgroup.Stop(ctx, rp.proc, s.cfg.RollbackPollTimeout, s.cfg.TerminatePollTimeout)
		ev := s.logger.Info()
		if err != nil {
			ev = s.logger.Error().Err(err)
		}
		ev.Str(log.FieldRole, string(rp.spawner.Role())).
			Int(log.FieldPID, rp.proc.Pid()).
			Int(log.FieldExitCode, st.Code).
			Msg("rollback terminated role")
		rp.exited, rp.status = true, st
	}
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ManuGH/rtmp2hls/internal/ingest/model"
	"github.com/ManuGH/rtmp2hls/internal/log"
	"github.com/ManuGH/rtmp2hls/internal/metrics"
	"github.com/ManuGH/rtmp2hls/internal/procgroup"
)

// monitor polls the roles until they have all exited or a terminate request arrives.
// A pending request is always handled before the next round of polling.
func (s *Supervisor) monitor(ctx context.Context) (Result, error) {
	for {
		select {
		case req := <-s.terminate:
			res, err := s.terminateAll(ctx)
			req.reply <- TerminateReply{Result: res, Err: err}
			return res, err
		default:
		}

		if ctx.Err() != nil {
			s.logger.Info().Msg("context cancelled, terminating roles")
			return s.terminateAll(context.WithoutCancel(ctx))
		}

		s.pollAll(ctx, s.cfg.MonitorPollTimeout)
		if s.running() == 0 {
			return s.snapshot(true), nil
		}

		sleepCtx(ctx, s.cfg.PollInterval)
	}
}

// pollAll refreshes the exit state of every role still running.
func (s *Supervisor) pollAll(ctx context.Context, timeout time.Duration) {
	for _, rp := range s.roles {
		if rp.proc == nil || rp.exited {
			continue
		}
		st, err := procgroup.PollExitStatus(ctx, rp.proc, timeout)
		switch {
		case err == nil:
			s.markExited(rp, st)
		case errors.Is(err, procgroup.ErrPollTimeout), errors.Is(err, context.Canceled):
		case errors.Is(err, procgroup.ErrPollStatus):
			s.logger.Error().Err(err).Str(log.FieldRole, string(rp.spawner.Role())).Msg("failed to poll role")
			s.markExited(rp, procgroup.ExitStatus{Code: procgroup.ExitCodeInterrupted, Message: err.Error()})
		default:
			s.logger.Error().Err(err).Str(log.FieldRole, string(rp.spawner.Role())).Msg("failed to poll role")
		}
	}
}

func (s *Supervisor) markExited(rp *roleProc, st procgroup.ExitStatus) {
	rp.exited, rp.status = true, st
	metrics.IncProcExit(string(rp.spawner.Role()), st.Reason.Cause.String())

	ev := s.logger.Info()
	if !st.Success() {
		ev = s.logger.Warn().Strs("tail", rp.proc.Tail(5))
	}
	ev.Str(log.FieldRole, string(rp.spawner.Role())).
		Int(log.FieldPID, rp.proc.Pid()).
		Int(log.FieldExitCode, st.Code).
		Str(log.FieldExitCause, st.Reason.Cause.String()).
		Msg(st.Message)
}

func (s *Supervisor) running() int {
	n := 0
	for _, rp := range s.roles {
		if rp.proc != nil && !rp.exited {
			n++
		}
	}
	return n
}

func (s *Supervisor) snapshot(all bool) Result {
	res := Result{AllTerminated: all, Statuses: make(map[model.Role]procgroup.ExitStatus, len(s.roles))}
	for _, rp := range s.roles {
		if rp.exited {
			res.Statuses[rp.spawner.Role()] = rp.status
		}
	}
	return res
}

// terminateAll stops every role still running and waits, with a bounded number
// of retries, until none is left. A single role timing out is tolerated.
func (s *Supervisor) terminateAll(ctx context.Context) (Result, error) {
	s.forceTerminating = true
	s.logger.Info().Int("running", s.running()).Msg("terminating roles")

	for _, rp := range s.roles {
		if rp.proc == nil || rp.exited {
			continue
		}
		err := s.terminateOne(ctx, rp)
		switch {
		case err == nil, errors.Is(err, model.ErrTerminationTimeout):
		default:
			s.logger.Error().Err(err).Str(log.FieldRole, string(rp.spawner.Role())).Msg("failed to terminate role")
		}
	}

	for retry := 0; ; retry++ {
		s.pollAll(ctx, s.cfg.MonitorPollTimeout)
		remaining := s.running()
		if remaining == 0 {
			s.logger.Debug().Msg("all roles terminated")
			return s.snapshot(true), nil
		}
		if retry >= s.cfg.TerminateRetries {
			err := fmt.Errorf("%w: retries exhausted (%d), %d roles still running",
				model.ErrTerminationTimeout, s.cfg.TerminateRetries, remaining)
			s.logger.Error().Err(err).Msg("termination incomplete")
			return s.snapshot(false), err
		}
		s.logger.Debug().Int("remaining", remaining).Int("retry", retry).Msg("waiting for roles to exit")
		sleepCtx(ctx, s.cfg.TerminateRetryInterval)
	}
}

// terminateOne signals one role and waits for its exit. Roles that stop on
// their own get a synthetic result and no signal. A role that could not be
// terminated is recorded with the interrupted sentinel code.
func (s *Supervisor) terminateOne(ctx context.Context, rp *roleProc) error {
	roleName := string(rp.spawner.Role())
	if rp.spawner.NoNeedTermination() {
		rp.exited = true
		rp.status = procgroup.ExitStatus{Code: 0, Message: noNeedTerminationMsg}
		s.logger.Debug().Str(log.FieldRole, roleName).Msg(noNeedTerminationMsg)
		return nil
	}

	var termErr error
	if err := procgroup.Terminate(rp.proc); err != nil {
		termErr = err
	} else {
		st, err := procgroup.PollExitStatus(ctx, rp.proc, s.cfg.TerminatePollTimeout)
		sleepCtx(ctx, terminateSettle)
		switch {
		case err == nil:
			s.markExited(rp, st)
			return nil
		case errors.Is(err, procgroup.ErrPollTimeout):
			termErr = fmt.Errorf("%w: %s pid=%d", model.ErrTerminationTimeout, roleName, rp.proc.Pid())
		default:
			termErr = err
		}
	}

	rp.termErr = termErr
	rp.exited = true
	rp.status = procgroup.ExitStatus{Code: procgroup.ExitCodeInterrupted, Message: termErr.Error()}
	return termErr
}

// sleepCtx waits d or until ctx is done. It reports whether the full wait elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

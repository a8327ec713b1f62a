// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package procgroup

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"time"

	"github.com/ManuGH/rtmp2hls/internal/log"
	"github.com/ManuGH/rtmp2hls/internal/metrics"
)

// Terminate sends SIGTERM to the process group and returns once the signal
// has been handed to the kernel. It does not wait for the exit.
func Terminate(p *Process) error {
	return signal(p, syscall.SIGTERM)
}

func signal(p *Process, sig syscall.Signal) error {
	if p == nil {
		return ErrNotStarted
	}
	name := signalName(sig)
	if p.Exited() {
		metrics.IncProcTerminate(name, "esrch")
		return nil
	}
	if err := Kill(p, sig); err != nil {
		metrics.IncProcTerminate(name, "error")
		return fmt.Errorf("%w: %s pid=%d: %v", ErrKillFailed, name, p.pid, err)
	}
	metrics.IncProcTerminate(name, "sent")
	return nil
}

// PollExitStatus waits up to timeout for p to exit and classifies the result.
// It returns ErrPollTimeout when the deadline passes first, and ErrPollStatus when
// the status could not be collected.
func PollExitStatus(ctx context.Context, p *Process, timeout time.Duration) (ExitStatus, error) {
	if p == nil {
		return ExitStatus{}, ErrNotStarted
	}
	if st, ok, err := p.TryWait(); ok {
		return st, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-p.Done():
		st, _, err := p.TryWait()
		return st, err
	case <-timer.C:
		return ExitStatus{}, fmt.Errorf("%w: pid=%d after %s", ErrPollTimeout, p.pid, timeout)
	case <-ctx.Done():
		return ExitStatus{}, ctx.Err()
	}
}

// Stop is the escalating variant: SIGTERM, wait grace, then SIGKILL and wait timeout.
// It is used where a process must not outlive its owner, such as spawn rollback.
func Stop(ctx context.Context, p *Process, grace, timeout time.Duration) (ExitStatus, error) {
	logger := log.WithComponent("procgroup")

	if err := Terminate(p); err != nil {
		logger.Warn().Err(err).Int(log.FieldPID, p.Pid()).Msg("SIGTERM delivery failed")
	}
	st, err := PollExitStatus(ctx, p, grace)
	if !errors.Is(err, ErrPollTimeout) {
		return st, err
	}

	logger.Warn().Int(log.FieldPID, p.Pid()).Dur("grace", grace).
		Msg("SIGTERM grace period exceeded, sending SIGKILL to process group")
	if kerr := signal(p, syscall.SIGKILL); kerr != nil {
		return ExitStatus{}, kerr
	}
	st, err = PollExitStatus(ctx, p, timeout)
	if err != nil {
		return ExitStatus{}, fmt.Errorf("%w: %v", ErrKillFailed, err)
	}
	return st, nil
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package procgroup starts, signals and reaps supervised child processes.
// Every child is started as its own process group leader so that signals reach
// the whole tree an ffmpeg invocation may fork.
package procgroup

import (
	"errors"
	"os"
	"os/exec"
	"sync"
)

var (
	ErrNotStarted = errors.New("process not started")
	ErrKillFailed = errors.New("kill operation failed")
	// ErrPollTimeout is returned when no exit was observed before the poll deadline.
	ErrPollTimeout = errors.New("polling exit status timed out")
	// ErrPollStatus is returned when the exit status could not be collected.
	ErrPollStatus = errors.New("polling exit status failed")
)

// Process is a started child with a background reaper.
// The reaper owns cmd.Wait; callers observe completion through Done and TryWait.
type Process struct {
	cmd  *exec.Cmd
	pid  int
	done chan struct{}
	tail func(n int) []string

	mu      sync.Mutex
	state   *os.ProcessState
	waitErr error
}

// Option customises a Process at start time.
type Option func(*Process)

// WithTail attaches a source for the last lines of the process output.
func WithTail(fn func(n int) []string) Option {
	return func(p *Process) { p.tail = fn }
}

// Start configures cmd as a process group leader, starts it and launches the reaper.
func Start(cmd *exec.Cmd, opts ...Option) (*Process, error) {
	if cmd == nil {
		return nil, ErrNotStarted
	}
	Set(cmd)
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	p := &Process{
		cmd:  cmd,
		pid:  cmd.Process.Pid,
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}

	go p.reap()
	return p, nil
}

func (p *Process) reap() {
	err := p.cmd.Wait()
	p.mu.Lock()
	p.state = p.cmd.ProcessState
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		p.waitErr = err
	}
	p.mu.Unlock()
	close(p.done)
}

// Pid returns the OS process id (also the process group id).
func (p *Process) Pid() int {
	return p.pid
}

// Done is closed once the process has been reaped.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Exited reports whether the process has been reaped.
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// TryWait returns the exit status without blocking.
// ok is false while the process is still running.
func (p *Process) TryWait() (status ExitStatus, ok bool, err error) {
	if !p.Exited() {
		return ExitStatus{}, false, nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.waitErr != nil {
		return ExitStatus{}, true, errors.Join(ErrPollStatus, p.waitErr)
	}
	return statusFromState(p.state), true, nil
}

// Tail returns up to n trailing output lines when a tail source was attached.
func (p *Process) Tail(n int) []string {
	if p.tail == nil {
		return nil
	}
	return p.tail(n)
}

func statusFromState(ps *os.ProcessState) ExitStatus {
	if ps == nil {
		return NewExitStatus(0, false)
	}
	// ExitCode is -1 when the process was terminated by a signal.
	code := ps.ExitCode()
	st := NewExitStatus(code, ps.Exited() && code >= 0)
	if sig := exitSignal(ps); sig != "" && st.Reason.Cause == CauseKilledExternally {
		st.Signal = sig
		st.Message = "terminated by " + sig
	}
	return st
}

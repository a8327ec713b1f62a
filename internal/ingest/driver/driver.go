// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package driver is the session state machine around a runner.
package driver

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ManuGH/rtmp2hls/internal/ingest/model"
	"github.com/ManuGH/rtmp2hls/internal/ingest/role"
	"github.com/ManuGH/rtmp2hls/internal/ingest/runner"
	"github.com/ManuGH/rtmp2hls/internal/log"
	"github.com/ManuGH/rtmp2hls/internal/pipeline/fsm"
)

// Status is the driver state.
type Status string

const (
	StatusInit                   Status = "init"
	StatusCreating               Status = "creating"
	StatusReceivingPublishStream Status = "receiving_publish_stream"
	StatusEnding                 Status = "ending"
	StatusEnd                    Status = "end"
	StatusRestarting             Status = "restarting"
)

type event string

const (
	evBegin   event = "begin"
	evReady   event = "ready"
	evEnd     event = "end"
	evEnded   event = "ended"
	evRestart event = "restart"
	evReset   event = "reset"
)

// Runner is what the driver delegates process work to.
type Runner interface {
	Begin(ctx context.Context) error
	Tick() runner.TickResult
	End(ctx context.Context) error
	Reset()
}

// Driver tracks the status of one session and forwards to its runner.
// It is used from the owning worker goroutine only.
type Driver struct {
	m      *fsm.Machine[Status, event]
	runner Runner
	logger zerolog.Logger
}

// New selects the runner for the requested receiver type. Only ffmpeg is implemented.
func New(cc role.CreateContext, opts ...runner.Option) (*Driver, error) {
	switch cc.Owner.Receiver.Type {
	case model.ReceiverFFmpeg, "":
		return NewWithRunner(runner.New(cc, opts...), cc.Owner.AppName), nil
	case model.ReceiverRustRTMP, model.ReceiverRustSRT:
		return nil, fmt.Errorf("%w: receiver type %q has no driver", model.ErrUnsupportedConfiguration, cc.Owner.Receiver.Type)
	default:
		return nil, fmt.Errorf("%w: unknown receiver type %q", model.ErrUnsupportedConfiguration, cc.Owner.Receiver.Type)
	}
}

// NewWithRunner wraps an existing runner.
func NewWithRunner(r Runner, appName string) *Driver {
	d := &Driver{
		runner: r,
		logger: log.WithComponent("driver").With().Str(log.FieldAppName, appName).Logger(),
	}
	logTransition := func(_ context.Context, from, to Status, ev event) error {
		d.logger.Debug().
			Str(log.FieldOldState, string(from)).
			Str(log.FieldNewState, string(to)).
			Str(log.FieldEvent, string(ev)).
			Msg("driver transition")
		return nil
	}

	var transitions []fsm.Transition[Status, event]
	add := func(from Status, ev event, to Status) {
		transitions = append(transitions, fsm.Transition[Status, event]{From: from, Event: ev, To: to, Action: logTransition})
	}
	add(StatusInit, evBegin, StatusCreating)
	add(StatusCreating, evReady, StatusReceivingPublishStream)
	for _, from := range []Status{StatusInit, StatusCreating, StatusReceivingPublishStream, StatusRestarting} {
		add(from, evEnd, StatusEnding)
	}
	add(StatusEnding, evEnded, StatusEnd)
	add(StatusEnd, evRestart, StatusRestarting)
	add(StatusRestarting, evReset, StatusInit)

	m, err := fsm.New(StatusInit, transitions)
	if err != nil {
		// the table above is static
		panic(err)
	}
	d.m = m
	return d
}

// Status returns the current state.
func (d *Driver) Status() Status { return d.m.State() }

func (d *Driver) fire(ctx context.Context, ev event) error {
	if !d.m.Can(ev) {
		return fmt.Errorf("%w: %s not allowed in %s", model.ErrInvalidState, ev, d.m.State())
	}
	_, err := d.m.Fire(ctx, ev)
	return err
}

// Begin starts the runner. Only valid from Init. On failure the status stays
// Creating and the caller is expected to End.
func (d *Driver) Begin(ctx context.Context) error {
	if err := d.fire(ctx, evBegin); err != nil {
		return err
	}
	if err := d.runner.Begin(ctx); err != nil {
		return err
	}
	return d.fire(ctx, evReady)
}

// Tick forwards the runner result. The status is left untouched even when the
// run has finished; the caller decides between Restart and End.
func (d *Driver) Tick() (runner.TickResult, error) {
	if st := d.m.State(); st != StatusReceivingPublishStream {
		return runner.TickResult{}, fmt.Errorf("%w: tick not allowed in %s", model.ErrInvalidState, st)
	}
	return d.runner.Tick(), nil
}

// End stops the runner. It is a no-op in End and an error while already Ending.
func (d *Driver) End(ctx context.Context) error {
	switch d.m.State() {
	case StatusEnd:
		return nil
	case StatusEnding:
		return fmt.Errorf("%w: end already in progress", model.ErrInvalidState)
	}
	if err := d.fire(ctx, evEnd); err != nil {
		return err
	}
	endErr := d.runner.End(ctx)
	if err := d.fire(ctx, evEnded); err != nil {
		return err
	}
	return endErr
}

// Restart ends the current run completely, resets the runner and begins again.
// Old and new processes never overlap.
func (d *Driver) Restart(ctx context.Context) error {
	if err := d.End(ctx); err != nil {
		return err
	}
	if err := d.fire(ctx, evRestart); err != nil {
		return err
	}
	d.runner.Reset()
	if err := d.fire(ctx, evReset); err != nil {
		return err
	}
	return d.Begin(ctx)
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build unix

package runner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/rtmp2hls/internal/ingest/model"
	"github.com/ManuGH/rtmp2hls/internal/ingest/role"
	"github.com/ManuGH/rtmp2hls/internal/ingest/supervisor"
	"github.com/ManuGH/rtmp2hls/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newRunner(t *testing.T, spawners ...role.Spawner) *Runner {
	t.Helper()
	cc := role.CreateContext{
		Owner:  role.Owner{WorkerID: "w-1", AppName: "demo"},
		Config: testutil.FastConfig(t),
	}
	r := New(cc, WithFactory(func(role.CreateContext) ([]role.Spawner, error) {
		return spawners, nil
	}))
	t.Cleanup(func() { _ = r.End(context.Background()) })
	return r
}

func waitFinished(t *testing.T, r *Runner) TickResult {
	t.Helper()
	var res TickResult
	require.Eventually(t, func() bool {
		res = r.Tick()
		return res.Finished
	}, 10*time.Second, 5*time.Millisecond)
	return res
}

func TestRunner_BeginTickEnd(t *testing.T) {
	r := newRunner(t, testutil.NewShSpawner(t, model.RoleReceiver, "sleep 30"))

	require.NoError(t, r.Begin(context.Background()))
	assert.True(t, r.Running())
	assert.False(t, r.Tick().Finished)

	start := time.Now()
	require.NoError(t, r.End(context.Background()))
	assert.False(t, r.Running())
	assert.Less(t, time.Since(start), 5*time.Second)

	// without a supervisor a tick reports a finished run without respawn
	assert.Equal(t, TickResult{Finished: true}, r.Tick())
}

func TestRunner_TickReportsRespawn(t *testing.T) {
	r := newRunner(t, testutil.NewShSpawner(t, model.RoleReceiver, "sleep 0.2"))

	require.NoError(t, r.Begin(context.Background()))
	res := waitFinished(t, r)
	assert.True(t, res.Respawn)

	require.NoError(t, r.End(context.Background()))
	assert.NotPanics(t, r.Reset)
}

func TestRunner_BeginSpawnFailure(t *testing.T) {
	bad := testutil.NewShSpawner(t, model.RoleReceiver, "sleep 30")
	bad.SpawnErr = errors.New("no such file")
	r := newRunner(t, bad)

	err := r.Begin(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrSpawn)

	require.NoError(t, r.End(context.Background()))
	assert.False(t, r.Running())
}

func TestRunner_FactoryError(t *testing.T) {
	cc := role.CreateContext{Config: testutil.FastConfig(t)}
	r := New(cc, WithFactory(func(role.CreateContext) ([]role.Spawner, error) {
		return nil, model.ErrUnsupportedConfiguration
	}))
	assert.ErrorIs(t, r.Begin(context.Background()), model.ErrUnsupportedConfiguration)
	assert.False(t, r.Running())
}

func TestRunner_EndGivesUpAfterGraceWindow(t *testing.T) {
	cc := role.CreateContext{Config: testutil.FastConfig(t)}
	cc.Config.Supervisor.TerminatePollTimeout = 5 * time.Second
	cc.Config.Runner.EndGraceWindow = 200 * time.Millisecond
	stubborn := testutil.NewShSpawner(t, model.RoleReceiver, "trap '' TERM; sleep 30")
	r := New(cc, WithFactory(func(role.CreateContext) ([]role.Spawner, error) {
		return []role.Spawner{stubborn}, nil
	}))

	require.NoError(t, r.Begin(context.Background()))
	start := time.Now()
	require.NoError(t, r.End(context.Background()))
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.False(t, r.Running())

	// let the supervisor finish before the leak check
	stubborn.KillAll()
}

func TestRunner_ResetPanicsWithAttachedSupervisor(t *testing.T) {
	r := newRunner(t, testutil.NewShSpawner(t, model.RoleReceiver, "sleep 30"))
	require.NoError(t, r.Begin(context.Background()))
	assert.Panics(t, r.Reset)
}

func TestDecisiveDrainsExitedSupervisor(t *testing.T) {
	cfg := testutil.FastConfig(t)
	sup := supervisor.New(cfg.Supervisor, nil, role.Owner{})
	sup.Run(context.Background())

	ev, ok := decisive(sup)
	require.True(t, ok)
	assert.Equal(t, supervisor.EventFinished, ev.Kind)
	assert.True(t, ev.Respawn)

	_, ok = decisive(sup)
	assert.False(t, ok)
}

func TestRunner_TickReportsLostSupervisor(t *testing.T) {
	cfg := testutil.FastConfig(t)
	sup := supervisor.New(cfg.Supervisor, nil, role.Owner{})
	sup.Run(context.Background())
	decisive(sup)

	r := newRunner(t)
	r.sup, r.cancel = sup, func() {}

	res := r.Tick()
	assert.True(t, res.Finished)
	assert.False(t, res.Respawn)
	require.NoError(t, r.End(context.Background()))
	assert.False(t, r.Running())
}

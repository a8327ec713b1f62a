// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build unix

package supervisor

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/rtmp2hls/internal/config"
	"github.com/ManuGH/rtmp2hls/internal/ingest/model"
	"github.com/ManuGH/rtmp2hls/internal/ingest/role"
	"github.com/ManuGH/rtmp2hls/internal/log"
	"github.com/ManuGH/rtmp2hls/internal/procgroup"
	"github.com/ManuGH/rtmp2hls/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func fastConfig(t *testing.T) config.SupervisorConfig {
	return testutil.FastConfig(t).Supervisor
}

func start(t *testing.T, cfg config.SupervisorConfig, spawners ...role.Spawner) (*Supervisor, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	s := New(cfg, spawners, role.Owner{AppName: "demo", WorkerID: "w-1"})
	go s.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-s.Done()
	})
	return s, cancel
}

func nextEvent(t *testing.T, s *Supervisor) Event {
	t.Helper()
	select {
	case ev := <-s.Events():
		return ev
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for supervisor event")
		return Event{}
	}
}

func TestSupervisor_RespawnWhenRolesExitOnTheirOwn(t *testing.T) {
	recv := testutil.NewShSpawner(t, model.RoleReceiver, "sleep 0.2")
	rec := testutil.NewShSpawner(t, model.RoleRecorder, "sleep 0.3")
	rec.NoTerm = true

	s, _ := start(t, fastConfig(t), recv, rec)

	assert.Equal(t, EventSpawning, nextEvent(t, s).Kind)
	assert.Equal(t, EventRunning, nextEvent(t, s).Kind)
	ev := nextEvent(t, s)
	assert.Equal(t, EventFinished, ev.Kind)
	assert.True(t, ev.Respawn)

	<-s.Done()
	require.NoError(t, s.Err())
	assert.True(t, s.result.AllTerminated)
	assert.True(t, s.result.Statuses[model.RoleReceiver].Success())
}

func TestSupervisor_NoRespawnWhenRoleOptsOut(t *testing.T) {
	recv := testutil.NewShSpawner(t, model.RoleReceiver, "sleep 0.2")
	rec := testutil.NewShSpawner(t, model.RoleRecorder, "sleep 0.2")
	rec.NoTerm, rec.NoRespawn = true, true

	s, _ := start(t, fastConfig(t), recv, rec)

	assert.Equal(t, EventSpawning, nextEvent(t, s).Kind)
	assert.Equal(t, EventRunning, nextEvent(t, s).Kind)
	ev := nextEvent(t, s)
	assert.Equal(t, EventFinished, ev.Kind)
	assert.False(t, ev.Respawn)
	<-s.Done()
}

func TestSupervisor_SpawnOrder(t *testing.T) {
	var spawnLog testutil.SpawnLog
	recv := testutil.NewShSpawner(t, model.RoleReceiver, "sleep 0.1").LogTo(&spawnLog)
	rec := testutil.NewShSpawner(t, model.RoleRecorder, "sleep 0.1").LogTo(&spawnLog)

	s, _ := start(t, fastConfig(t), recv, rec)
	<-s.Done()

	events := spawnLog.Events()
	require.GreaterOrEqual(t, len(events), 2)
	assert.Equal(t, []string{"spawn:receiver", "spawn:recorder"}, events[:2])
}

func TestSupervisor_TerminateRequestDisablesRespawn(t *testing.T) {
	recv := testutil.NewShSpawner(t, model.RoleReceiver, "sleep 30")
	rec := testutil.NewShSpawner(t, model.RoleRecorder, "sleep 0.5")
	rec.NoTerm = true

	s, _ := start(t, fastConfig(t), recv, rec)
	assert.Equal(t, EventSpawning, nextEvent(t, s).Kind)
	assert.Equal(t, EventRunning, nextEvent(t, s).Kind)

	reply, ok := s.Terminate()
	require.True(t, ok)

	var r TerminateReply
	select {
	case r = <-reply:
	case <-time.After(10 * time.Second):
		t.Fatal("no terminate reply")
	}
	require.NoError(t, r.Err)
	assert.True(t, r.Result.AllTerminated)
	assert.Equal(t, procgroup.CauseKilledExternally, r.Result.Statuses[model.RoleReceiver].Reason.Cause)
	assert.Equal(t, noNeedTerminationMsg, r.Result.Statuses[model.RoleRecorder].Message)

	ev := nextEvent(t, s)
	assert.Equal(t, EventFinished, ev.Kind)
	assert.False(t, ev.Respawn)
	assert.True(t, recv.Procs()[0].Exited())
}

func TestSupervisor_RollbackInReverseOrder(t *testing.T) {
	recv := testutil.NewShSpawner(t, model.RoleReceiver, "sleep 30")
	rec := testutil.NewShSpawner(t, model.RoleRecorder, "sleep 30")
	rec.SpawnErr = errors.New("permission denied")

	s, _ := start(t, fastConfig(t), recv, rec)
	assert.Equal(t, EventSpawning, nextEvent(t, s).Kind)

	ev := nextEvent(t, s)
	assert.Equal(t, EventSpawnFailed, ev.Kind)
	assert.ErrorIs(t, ev.Err, model.ErrSpawn)
	assert.ErrorContains(t, ev.Err, "permission denied")

	// the receiver must be gone before the failure is reported
	require.Len(t, recv.Procs(), 1)
	assert.True(t, recv.Procs()[0].Exited())
	assert.Equal(t, 0, rec.Spawns())
}

func TestSupervisor_SettleCheckDetectsEarlyExit(t *testing.T) {
	cfg := fastConfig(t)
	cfg.SpawnSettle = 300 * time.Millisecond
	recv := testutil.NewShSpawner(t, model.RoleReceiver, "exit 1")

	s, _ := start(t, cfg, recv)
	assert.Equal(t, EventSpawning, nextEvent(t, s).Kind)

	ev := nextEvent(t, s)
	assert.Equal(t, EventSpawnFailed, ev.Kind)
	assert.ErrorContains(t, ev.Err, "just exited, code=1")
}

func TestSupervisor_AfterSpawnFailureRollsBackThatRole(t *testing.T) {
	recv := testutil.NewShSpawner(t, model.RoleReceiver, "sleep 30")
	rec := testutil.NewShSpawner(t, model.RoleRecorder, "sleep 30")
	rec.AfterErr = errors.New("prepare failed")

	s, _ := start(t, fastConfig(t), recv, rec)
	nextEvent(t, s)
	ev := nextEvent(t, s)
	require.Equal(t, EventSpawnFailed, ev.Kind)

	assert.True(t, recv.Procs()[0].Exited())
	assert.True(t, rec.Procs()[0].Exited())
}

func TestSupervisor_TerminationTimeoutIsTolerated(t *testing.T) {
	cfg := fastConfig(t)
	cfg.TerminatePollTimeout = 100 * time.Millisecond
	recv := testutil.NewShSpawner(t, model.RoleReceiver, "trap '' TERM; sleep 30")

	s, _ := start(t, cfg, recv)
	nextEvent(t, s)
	require.Equal(t, EventRunning, nextEvent(t, s).Kind)

	reply, ok := s.Terminate()
	require.True(t, ok)
	r := <-reply
	require.NoError(t, r.Err)
	st := r.Result.Statuses[model.RoleReceiver]
	assert.Equal(t, procgroup.ExitCodeInterrupted, st.Code)
	assert.Contains(t, st.Message, model.ErrTerminationTimeout.Error())
}

func TestSupervisor_ContextCancelTerminates(t *testing.T) {
	recv := testutil.NewShSpawner(t, model.RoleReceiver, "sleep 30")

	s, cancel := start(t, fastConfig(t), recv)
	nextEvent(t, s)
	require.Equal(t, EventRunning, nextEvent(t, s).Kind)

	cancel()
	ev := nextEvent(t, s)
	assert.Equal(t, EventFinished, ev.Kind)
	assert.False(t, ev.Respawn)
	assert.True(t, recv.Procs()[0].Exited())
}

func TestSupervisor_SecondTerminateIsRejectedWhilePending(t *testing.T) {
	s := New(fastConfig(t), nil, role.Owner{})
	_, ok := s.Terminate()
	require.True(t, ok)
	_, ok = s.Terminate()
	assert.False(t, ok)
}

func TestEventKindString(t *testing.T) {
	assert.Equal(t, "finished", EventFinished.String())
	assert.Equal(t, "unknown", EventKind(42).String())
}

func TestSupervisor_LogLinesCarrySessionOnce(t *testing.T) {
	var buf bytes.Buffer
	log.Configure(log.Config{Level: "debug", Output: &buf})
	t.Cleanup(func() { log.Configure(log.Config{Level: "info"}) })

	New(fastConfig(t), nil, role.Owner{AppName: "demo", WorkerID: "w-1"}).Run(context.Background())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.NotEmpty(t, lines)
	for _, line := range lines {
		assert.Equal(t, 1, strings.Count(line, `"`+log.FieldComponent+`"`), line)
		assert.Equal(t, 1, strings.Count(line, `"`+log.FieldAppName+`":"demo"`), line)
	}
}

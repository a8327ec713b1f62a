// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package testutil holds helpers shared by the ingest package tests.
package testutil

import (
	"context"
	"os/exec"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/ManuGH/rtmp2hls/internal/config"
	"github.com/ManuGH/rtmp2hls/internal/ingest/model"
	"github.com/ManuGH/rtmp2hls/internal/ingest/role"
	"github.com/ManuGH/rtmp2hls/internal/procgroup"
)

// ShSpawner is a role backed by a `sh -c` script.
type ShSpawner struct {
	RoleName  model.Role
	Script    string
	NoTerm    bool
	NoRespawn bool
	SpawnErr  error
	AfterErr  error

	mu     sync.Mutex
	procs  []*procgroup.Process
	events *SpawnLog
}

var _ role.Spawner = (*ShSpawner)(nil)

// NewShSpawner returns a spawner for script. Every process it starts is killed
// when the test ends.
func NewShSpawner(t *testing.T, r model.Role, script string) *ShSpawner {
	t.Helper()
	s := &ShSpawner{RoleName: r, Script: script}
	t.Cleanup(s.KillAll)
	return s
}

// LogTo records spawn calls in l.
func (s *ShSpawner) LogTo(l *SpawnLog) *ShSpawner {
	s.events = l
	return s
}

func (s *ShSpawner) Role() model.Role        { return s.RoleName }
func (s *ShSpawner) NoNeedTermination() bool { return s.NoTerm }
func (s *ShSpawner) AutoRespawn() bool       { return !s.NoRespawn }

func (s *ShSpawner) Spawn(context.Context) (*procgroup.Process, error) {
	if s.events != nil {
		s.events.Add("spawn:" + string(s.RoleName))
	}
	if s.SpawnErr != nil {
		return nil, s.SpawnErr
	}
	p, err := procgroup.Start(exec.Command("sh", "-c", s.Script))
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.procs = append(s.procs, p)
	s.mu.Unlock()
	if s.events != nil {
		go func() {
			<-p.Done()
			s.events.Add("exit:" + string(s.RoleName))
		}()
	}
	return p, nil
}

func (s *ShSpawner) AfterSpawn(context.Context) error { return s.AfterErr }

// Procs returns every process started so far.
func (s *ShSpawner) Procs() []*procgroup.Process {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*procgroup.Process(nil), s.procs...)
}

// Spawns returns how many processes were started.
func (s *ShSpawner) Spawns() int {
	return len(s.Procs())
}

// KillAll sends SIGKILL to every process group and waits for the reapers.
func (s *ShSpawner) KillAll() {
	for _, p := range s.Procs() {
		_ = procgroup.Kill(p, syscall.SIGKILL)
		<-p.Done()
	}
}

// SpawnLog is an ordered, concurrency-safe record of spawn and exit events.
type SpawnLog struct {
	mu     sync.Mutex
	events []string
}

func (l *SpawnLog) Add(ev string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *SpawnLog) Events() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

// FastConfig returns the defaults with every interval shortened for tests.
func FastConfig(t *testing.T) config.AppConfig {
	t.Helper()
	cfg := config.Defaults()
	cfg.HLS.Root = t.TempDir()
	cfg.Record.Root = t.TempDir()
	cfg.FFmpeg.LogDir = t.TempDir()
	cfg.Ports.Probe = false
	cfg.Session.ExistReplyDelay = 10 * time.Millisecond

	cfg.Supervisor.SpawnSettle = 20 * time.Millisecond
	cfg.Supervisor.PollInterval = 5 * time.Millisecond
	cfg.Supervisor.MonitorPollTimeout = 5 * time.Millisecond
	cfg.Supervisor.TerminatePollTimeout = 2 * time.Second
	cfg.Supervisor.RollbackPollTimeout = 2 * time.Second
	cfg.Supervisor.TerminateRetryInterval = 5 * time.Millisecond

	cfg.Runner.BeginPollInterval = 10 * time.Millisecond
	cfg.Runner.EndPollInterval = 50 * time.Millisecond
	cfg.Runner.EndGraceWindow = 10 * time.Second

	cfg.Worker.TickInterval = 10 * time.Millisecond
	return cfg
}

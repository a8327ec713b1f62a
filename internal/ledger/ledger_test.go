// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ledger

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/rtmp2hls/internal/ingest/observer"
	"github.com/ManuGH/rtmp2hls/internal/pipeline/bus"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "ledger.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecordLifecycle(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	t0 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.Record(ctx, observer.Event{
		Kind: observer.KindCreated, At: t0, AppName: "demo", SessKey: "k1",
		WorkerID: "w-1", Port: 30000, ExpiresAt: t0.Add(time.Hour),
	}))
	require.NoError(t, s.Record(ctx, observer.Event{
		Kind: observer.KindExpired, At: t0.Add(time.Hour), WorkerID: "w-1",
	}))
	require.NoError(t, s.Record(ctx, observer.Event{
		Kind: observer.KindExited, At: t0.Add(time.Hour + time.Second), AppName: "demo", SessKey: "k1",
		WorkerID: "w-1", Port: 30000, Reason: "expired", Respawns: 2,
	}))

	got, err := s.List(ctx, "demo", 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	e := got[0]
	assert.Equal(t, StatusEnded, e.Status)
	assert.Equal(t, 30000, e.Port)
	assert.True(t, e.StartedAt.Equal(t0))
	assert.True(t, e.ExpiresAt.Equal(t0.Add(time.Hour)))
	assert.True(t, e.ExpiredAt.Equal(t0.Add(time.Hour)))
	assert.True(t, e.EndedAt.Equal(t0.Add(time.Hour+time.Second)))
	assert.Equal(t, "expired", e.Reason)
	assert.Equal(t, 2, e.Respawns)
	assert.False(t, e.Failed)
}

func TestRecordSpawnFailed(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	require.NoError(t, s.Record(ctx, observer.Event{
		Kind: observer.KindSpawnFailed, AppName: "demo", WorkerID: "w-2", Port: 30001,
		Failed: true, Error: "receiver exited during settle",
	}))

	got, err := s.List(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, StatusSpawnFailed, got[0].Status)
	assert.True(t, got[0].Failed)
	assert.Equal(t, "receiver exited during settle", got[0].Error)
	assert.False(t, got[0].EndedAt.IsZero())
}

func TestRecordRejectsBadEvents(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	assert.Error(t, s.Record(ctx, observer.Event{Kind: observer.KindCreated}))
	assert.Error(t, s.Record(ctx, observer.Event{Kind: "session.unknown", WorkerID: "w"}))
}

func TestListNewestFirstAndFiltered(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	t0 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, app := range []string{"a", "b", "a", "a"} {
		require.NoError(t, s.Record(ctx, observer.Event{
			Kind: observer.KindCreated, At: t0.Add(time.Duration(i) * 500 * time.Millisecond),
			AppName: app, WorkerID: "w-" + string(rune('0'+i)),
		}))
	}

	got, err := s.List(ctx, "a", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "w-3", got[0].WorkerID)
	assert.Equal(t, "w-2", got[1].WorkerID)

	all, err := s.List(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestOpenReopensExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.sqlite")
	s, err := Open(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, s.Record(context.Background(), observer.Event{Kind: observer.KindCreated, AppName: "x", WorkerID: "w"}))
	require.NoError(t, s.Close())

	s, err = Open(context.Background(), path)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	got, err := s.List(context.Background(), "x", 0)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestOpenRejectsGarbageFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.sqlite")
	require.NoError(t, os.WriteFile(path, []byte("definitely not sqlite, just some bytes on disk"), 0o600))

	_, err := Open(context.Background(), path)
	assert.Error(t, err)
}

func TestConsumeRecordsBusEvents(t *testing.T) {
	s := openTemp(t)
	b := bus.NewMemoryBus()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Consume(ctx, b) }()

	pub := observer.Bus{B: b}
	require.Eventually(t, func() bool {
		pub.Created(context.Background(), observer.Event{Kind: observer.KindCreated, AppName: "live", WorkerID: "w-bus"})
		got, err := s.List(context.Background(), "live", 0)
		return err == nil && len(got) == 1
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Consume did not return after cancel")
	}
}

func TestConsumeRecordsQueuedEventsAfterCancel(t *testing.T) {
	s := openTemp(t)
	b := bus.NewMemoryBus()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Consume(ctx, b) }()

	pub := observer.Bus{B: b}
	require.Eventually(t, func() bool {
		pub.Created(context.Background(), observer.Event{Kind: observer.KindCreated, AppName: "warmup", WorkerID: "w-0"})
		got, err := s.List(context.Background(), "warmup", 0)
		return err == nil && len(got) == 1
	}, 2*time.Second, 20*time.Millisecond)

	for _, id := range []string{"w-1", "w-2", "w-3"} {
		pub.Exited(context.Background(), observer.Event{
			Kind: observer.KindExited, AppName: "drain", WorkerID: id, Reason: "cancelled",
		})
	}
	cancel()
	require.NoError(t, <-done)

	got, err := s.List(context.Background(), "drain", 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for _, e := range got {
		assert.Equal(t, StatusEnded, e.Status)
		assert.Equal(t, "cancelled", e.Reason)
	}
}

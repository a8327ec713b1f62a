// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build unix

package role

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/rtmp2hls/internal/procgroup"
)

func TestStartLogged_WritesLogAndTail(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "work")
	logPath := filepath.Join(root, "logs", "demo_receiver.log")

	p, err := startLogged("/bin/sh", []string{"-c", "pwd; echo listening >&2; exit 3"}, dir, logPath)
	require.NoError(t, err)

	st, err := procgroup.PollExitStatus(context.Background(), p, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 3, st.Code)
	assert.Equal(t, procgroup.CauseApplicationError, st.Reason.Cause)

	assert.Eventually(t, func() bool {
		data, err := os.ReadFile(logPath)
		return err == nil && len(data) > 0
	}, time.Second, 10*time.Millisecond)
	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "listening")
	assert.Contains(t, string(data), dir)
	assert.Contains(t, p.Tail(5), "listening")
}

func TestReceiverAfterSpawn_IgnoresCopyErrors(t *testing.T) {
	cc := testContext(t, false)
	cc.Config.HLS.PreroleDir = filepath.Join(t.TempDir(), "missing")
	recv, err := NewReceiver(cc)
	require.NoError(t, err)
	assert.NoError(t, recv.AfterSpawn(context.Background()))
}

func TestRecorderSpawn_StartsInRecordDir(t *testing.T) {
	cc := testContext(t, true)
	cc.Config.FFmpeg.Bin = "/bin/true"
	cc.Props = map[string]string{PropPlaylist: "/tmp/none.m3u8"}
	rec, err := NewRecorder(cc)
	require.NoError(t, err)

	p, err := rec.Spawn(context.Background())
	require.NoError(t, err)
	st, err := procgroup.PollExitStatus(context.Background(), p, 5*time.Second)
	require.NoError(t, err)
	assert.True(t, st.Success())
	assert.DirExists(t, filepath.Join(cc.Config.Record.Root, "demo"))
}

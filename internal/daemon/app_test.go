// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/rtmp2hls/internal/config"
	"github.com/ManuGH/rtmp2hls/internal/testutil"
)

func TestBootstrapRequiresConfig(t *testing.T) {
	_, err := Bootstrap(context.Background(), nil, "test")
	assert.ErrorIs(t, err, ErrMissingConfig)
}

func TestBootstrapListenFailure(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = busy.Close() }()

	cfg := testutil.FastConfig(t)
	cfg.Server.ListenAddr = busy.Addr().String()
	_, err = Bootstrap(context.Background(), config.NewConfigHolder(cfg, nil, ""), "test")
	assert.Error(t, err)
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := testutil.FastConfig(t)
	cfg.Server.ListenAddr = "127.0.0.1:0"
	cfg.Ledger.Path = filepath.Join(t.TempDir(), "db", "ledger.sqlite")

	app, err := Bootstrap(context.Background(), config.NewConfigHolder(cfg, nil, ""), "test")
	require.NoError(t, err)
	app.reloadSignal = nil

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	require.Eventually(t, func() bool {
		conn, err := net.Dial("tcp", app.Addr().String())
		if err != nil {
			return false
		}
		_ = conn.Close()
		return true
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.NoError(t, app.Close(context.Background()))
	<-app.Manager().Done()
}

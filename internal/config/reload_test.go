// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigHolder_ReloadNotifiesListeners(t *testing.T) {
	path := writeConfig(t, "session:\n  duration: 20m\n")
	loader := NewLoader(path, "")
	initial, err := loader.Load()
	require.NoError(t, err)

	holder := NewConfigHolder(initial, loader, path)
	ch := make(chan AppConfig, 1)
	holder.RegisterListener(ch)

	require.NoError(t, os.WriteFile(path, []byte("session:\n  duration: 45m\n"), 0o600))
	require.NoError(t, holder.Reload(context.Background()))

	assert.Equal(t, 45*time.Minute, holder.Get().Session.Duration)
	select {
	case got := <-ch:
		assert.Equal(t, 45*time.Minute, got.Session.Duration)
	default:
		t.Fatal("listener was not notified")
	}
}

func TestConfigHolder_InvalidReloadKeepsOldConfig(t *testing.T) {
	path := writeConfig(t, "session:\n  duration: 20m\n")
	loader := NewLoader(path, "")
	initial, err := loader.Load()
	require.NoError(t, err)
	holder := NewConfigHolder(initial, loader, path)

	require.NoError(t, os.WriteFile(path, []byte("session:\n  duration: 1m\n"), 0o600))
	require.Error(t, holder.Reload(context.Background()))
	assert.Equal(t, 20*time.Minute, holder.Get().Session.Duration)
}

func TestConfigHolder_WatcherReloadsOnWrite(t *testing.T) {
	path := writeConfig(t, "session:\n  duration: 20m\n")
	loader := NewLoader(path, "")
	initial, err := loader.Load()
	require.NoError(t, err)

	holder := NewConfigHolder(initial, loader, path)
	holder.debounce = 20 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, holder.StartWatcher(ctx))

	require.NoError(t, os.WriteFile(path, []byte("session:\n  duration: 50m\n"), 0o600))
	assert.Eventually(t, func() bool {
		return holder.Get().Session.Duration == 50*time.Minute
	}, 3*time.Second, 20*time.Millisecond)
}

func TestConfigHolder_WatcherDisabledWithoutPath(t *testing.T) {
	holder := NewConfigHolder(Defaults(), NewLoader("", ""), "")
	assert.NoError(t, holder.StartWatcher(context.Background()))
	holder.Stop()
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestConfigValidate(t *testing.T) {
	var out, errOut bytes.Buffer
	good := writeConfig(t, "ports:\n  min: 31000\n  max: 31005\n")
	assert.Equal(t, 0, runConfig([]string{"validate", "-f", good}, &out, &errOut), errOut.String())
	assert.Contains(t, out.String(), "is valid")

	errOut.Reset()
	bad := writeConfig(t, "ports:\n  min: 31005\n  max: 31000\n")
	assert.Equal(t, 1, runConfig([]string{"validate", "-f", bad}, &out, &errOut))
	assert.Contains(t, errOut.String(), "Configuration error")
}

func TestConfigDumpRedactsPassword(t *testing.T) {
	path := writeConfig(t, "liveness:\n  redis_addr: 127.0.0.1:6379\n  redis_password: hunter2\n")

	var out, errOut bytes.Buffer
	require.Equal(t, 0, runConfig([]string{"dump", "-f", path}, &out, &errOut), errOut.String())
	var doc map[string]any
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &doc))
	live, ok := doc["liveness"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "***", live["redis_password"])

	out.Reset()
	require.Equal(t, 0, runConfig([]string{"dump", "-f", path, "--format=json"}, &out, &errOut))
	assert.True(t, json.Valid(out.Bytes()))
	assert.NotContains(t, out.String(), "hunter2")
}

func TestConfigUnknownSubcommand(t *testing.T) {
	var out, errOut bytes.Buffer
	assert.Equal(t, 2, runConfig([]string{"frobnicate"}, &out, &errOut))
	assert.Contains(t, errOut.String(), "Usage:")
}

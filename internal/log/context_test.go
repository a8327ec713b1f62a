// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextWithRequestID(t *testing.T) {
	tests := []struct {
		name      string
		ctx       context.Context
		requestID string
		want      string
	}{
		{name: "nil context", ctx: nil, requestID: "test-id-123", want: "test-id-123"},
		{name: "background context", ctx: context.Background(), requestID: "req-456", want: "req-456"},
		{name: "empty request ID", ctx: context.Background(), requestID: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := ContextWithRequestID(tt.ctx, tt.requestID)
			assert.Equal(t, tt.want, RequestIDFromContext(ctx))
		})
	}
}

func TestContextWithSession(t *testing.T) {
	ctx := ContextWithSession(nil, "demo", "w-1")
	assert.Equal(t, "demo", AppNameFromContext(ctx))
	assert.Equal(t, "w-1", WorkerIDFromContext(ctx))
	assert.Empty(t, RequestIDFromContext(ctx))
	assert.Empty(t, AppNameFromContext(nil))
}

func TestWithContext(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	t.Run("no fields returns logger unchanged", func(t *testing.T) {
		buf.Reset()
		l := WithContext(context.Background(), base)
		l.Info().Msg("plain")
		var entry map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.NotContains(t, entry, FieldRequestID)
		assert.NotContains(t, entry, FieldAppName)
	})

	t.Run("all fields", func(t *testing.T) {
		buf.Reset()
		ctx := ContextWithRequestID(context.Background(), "req-1")
		ctx = ContextWithSession(ctx, "demo", "w-9")
		l := WithContext(ctx, base)
		l.Info().Msg("enriched")
		var entry map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "req-1", entry[FieldRequestID])
		assert.Equal(t, "demo", entry[FieldAppName])
		assert.Equal(t, "w-9", entry[FieldWorkerID])
	})
}

func TestFromContextFallsBackToBase(t *testing.T) {
	require.NotNil(t, FromContext(nil))
	require.NotNil(t, FromContext(context.Background()))

	var buf bytes.Buffer
	custom := zerolog.New(&buf)
	ctx := custom.WithContext(context.Background())
	FromContext(ctx).Info().Msg("from-ctx")
	assert.Contains(t, buf.String(), "from-ctx")
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/rtmp2hls/internal/metrics"
)

type mockClock struct {
	now time.Time
}

func (m *mockClock) Now() time.Time { return m.now }

var errBoom = errors.New("boom")

func fail(context.Context) error { return errBoom }
func ok(context.Context) error   { return nil }

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	clock := &mockClock{now: time.Now()}
	cb := NewCircuitBreaker("test-threshold", 3, 30*time.Second, WithClock(clock))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, cb.Execute(ctx, fail), errBoom)
		assert.Equal(t, StateClosed, cb.State())
	}
	assert.ErrorIs(t, cb.Execute(ctx, fail), errBoom)
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(ctx, func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CircuitBreakerState.WithLabelValues("test-threshold", "open")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CircuitBreakerTrips.WithLabelValues("test-threshold", "threshold_exceeded")))
}

func TestCircuitBreakerSuccessResetsFailures(t *testing.T) {
	cb := NewCircuitBreaker("test-reset", 2, time.Minute)
	ctx := context.Background()

	require.Error(t, cb.Execute(ctx, fail))
	require.NoError(t, cb.Execute(ctx, ok))
	require.Error(t, cb.Execute(ctx, fail))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreakerHalfOpenProbe(t *testing.T) {
	clock := &mockClock{now: time.Now()}
	cb := NewCircuitBreaker("test-probe", 1, 10*time.Second, WithClock(clock))
	ctx := context.Background()

	require.Error(t, cb.Execute(ctx, fail))
	require.Equal(t, StateOpen, cb.State())

	clock.now = clock.now.Add(11 * time.Second)
	require.Error(t, cb.Execute(ctx, fail))
	assert.Equal(t, StateOpen, cb.State(), "failed probe reopens")
	assert.ErrorIs(t, cb.Execute(ctx, ok), ErrCircuitOpen)

	clock.now = clock.now.Add(11 * time.Second)
	require.NoError(t, cb.Execute(ctx, ok))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreakerSingleProbe(t *testing.T) {
	clock := &mockClock{now: time.Now()}
	cb := NewCircuitBreaker("test-single", 1, time.Second, WithClock(clock))
	ctx := context.Background()

	require.Error(t, cb.Execute(ctx, fail))
	clock.now = clock.now.Add(2 * time.Second)

	err := cb.Execute(ctx, func(ctx context.Context) error {
		assert.Equal(t, StateHalfOpen, cb.State())
		assert.ErrorIs(t, cb.Execute(ctx, ok), ErrCircuitOpen, "second caller is rejected during the probe")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreakerIgnoresCallerCancel(t *testing.T) {
	cb := NewCircuitBreaker("test-cancel", 1, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := cb.Execute(ctx, func(ctx context.Context) error { return ctx.Err() })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateClosed, cb.State())
}

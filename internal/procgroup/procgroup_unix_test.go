// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build unix

package procgroup

import (
	"context"
	"os/exec"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func startSh(t *testing.T, script string) *Process {
	t.Helper()
	p, err := Start(exec.Command("sh", "-c", script))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = Kill(p, syscall.SIGKILL)
		<-p.Done()
	})
	return p
}

func TestPollExitStatus_Normal(t *testing.T) {
	p := startSh(t, "exit 0")

	st, err := PollExitStatus(context.Background(), p, 2*time.Second)
	require.NoError(t, err)
	assert.True(t, st.Success())
	assert.Equal(t, 0, st.Code)
}

func TestPollExitStatus_ApplicationError(t *testing.T) {
	p := startSh(t, "exit 3")

	st, err := PollExitStatus(context.Background(), p, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, ExitReason{Cause: CauseApplicationError, Code: 3}, st.Reason)
	assert.Equal(t, 3, st.Code)
}

func TestPollExitStatus_TimeoutThenTerminate(t *testing.T) {
	p := startSh(t, "sleep 10")

	_, err := PollExitStatus(context.Background(), p, 50*time.Millisecond)
	require.ErrorIs(t, err, ErrPollTimeout)

	st, ok, err := p.TryWait()
	require.NoError(t, err)
	assert.False(t, ok, "process should still be running")

	require.NoError(t, Terminate(p))
	st, err = PollExitStatus(context.Background(), p, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, CauseKilledExternally, st.Reason.Cause)
	assert.Equal(t, ExitCodeInterrupted, st.Code)
	assert.Equal(t, "SIGTERM", st.Signal)
	assert.Equal(t, "terminated by SIGTERM", st.Message)
}

func TestTerminate_ReachesWholeGroup(t *testing.T) {
	p := startSh(t, "sleep 10 & sleep 10")
	time.Sleep(100 * time.Millisecond)

	pgid, err := syscall.Getpgid(p.Pid())
	require.NoError(t, err)
	assert.Equal(t, p.Pid(), pgid, "process should lead its own group")

	require.NoError(t, Terminate(p))
	_, err = PollExitStatus(context.Background(), p, 2*time.Second)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return syscall.Kill(-pgid, syscall.Signal(0)) == syscall.ESRCH
	}, 2*time.Second, 20*time.Millisecond, "process group should be gone")
}

func TestTerminate_AfterExitIsNoop(t *testing.T) {
	p := startSh(t, "exit 0")
	<-p.Done()

	assert.NoError(t, Terminate(p))
	assert.ErrorIs(t, Terminate(nil), ErrNotStarted)
}

func TestStop_EscalatesToSIGKILL(t *testing.T) {
	p := startSh(t, `trap "" TERM; sleep 10`)
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	st, err := Stop(context.Background(), p, 100*time.Millisecond, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, CauseKilledExternally, st.Reason.Cause)
	assert.Equal(t, "terminated by SIGKILL", st.Message)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestPollExitStatus_ContextCancel(t *testing.T) {
	p := startSh(t, "sleep 10")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := PollExitStatus(ctx, p, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTail(t *testing.T) {
	p, err := Start(exec.Command("sh", "-c", "exit 0"), WithTail(func(n int) []string {
		return []string{"line"}
	}))
	require.NoError(t, err)
	<-p.Done()
	assert.Equal(t, []string{"line"}, p.Tail(5))

	bare := startSh(t, "exit 0")
	assert.Nil(t, bare.Tail(5))
}

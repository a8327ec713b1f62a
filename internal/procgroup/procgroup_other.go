// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build !unix

package procgroup

import (
	"os"
	"os/exec"
	"syscall"
)

// Set is a no-op where process groups are unavailable.
func Set(cmd *exec.Cmd) {}

// Kill falls back to killing the root process only.
// Graceful signals are not delivered on these platforms.
func Kill(p *Process, sig syscall.Signal) error {
	if p == nil || p.cmd.Process == nil || p.Exited() {
		return nil
	}
	if sig == syscall.SIGKILL {
		return p.cmd.Process.Kill()
	}
	return nil
}

func signalName(sig syscall.Signal) string {
	return sig.String()
}

// Signal details are not reported here.
func exitSignal(*os.ProcessState) string { return "" }

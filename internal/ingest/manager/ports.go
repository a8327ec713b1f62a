// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package manager

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"time"
)

// ErrProbeUnavailable means the port probe could not run; the port is used unchecked.
var ErrProbeUnavailable = errors.New("port probe unavailable")

// PortProbe reports whether something already listens on a TCP port.
type PortProbe interface {
	InUse(ctx context.Context, port int) (bool, error)
}

// PortProbeFunc adapts a function to PortProbe.
type PortProbeFunc func(ctx context.Context, port int) (bool, error)

func (f PortProbeFunc) InUse(ctx context.Context, port int) (bool, error) { return f(ctx, port) }

// LsofProbe asks lsof for a listening socket on the port. It is best-effort:
// a missing lsof binary or an unexpected failure yields ErrProbeUnavailable.
type LsofProbe struct {
	Bin     string
	Timeout time.Duration
}

func (p LsofProbe) InUse(ctx context.Context, port int) (bool, error) {
	bin := p.Bin
	if bin == "" {
		bin = "lsof"
	}
	path, err := exec.LookPath(bin)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrProbeUnavailable, err)
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, path, "-n", "-P", "-t", "-iTCP:"+strconv.Itoa(port), "-sTCP:LISTEN").Output()
	if err == nil {
		return len(out) > 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		// lsof exits 1 when nothing matches
		return false, nil
	}
	return false, fmt.Errorf("%w: %v", ErrProbeUnavailable, err)
}

// portPool is the ordered set of publish ports not yet handed out. It is owned
// by the manager goroutine. Ports are never returned to it.
type portPool struct {
	ports []int
}

func newPortPool(min, max int) *portPool {
	p := &portPool{}
	for port := min; port <= max; port++ {
		p.ports = append(p.ports, port)
	}
	return p
}

func (p *portPool) pop() (int, bool) {
	if len(p.ports) == 0 {
		return 0, false
	}
	port := p.ports[0]
	p.ports = p.ports[1:]
	return port, true
}

func (p *portPool) Len() int { return len(p.ports) }

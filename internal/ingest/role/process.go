// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package role

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/ManuGH/rtmp2hls/internal/infra/ffmpeg"
	"github.com/ManuGH/rtmp2hls/internal/procgroup"
)

const tailLines = 20

// startLogged starts bin in dir with stdout and stderr appended to logPath.
// The last output lines stay available through Process.Tail.
func startLogged(bin string, args []string, dir, logPath string) (*procgroup.Process, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create working dir %s: %w", dir, err)
	}
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	// #nosec G304 -- log path is derived from configured log_dir and the app name
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", logPath, err)
	}

	ring := ffmpeg.NewLineRing(tailLines)
	out := io.MultiWriter(logFile, ring)

	// #nosec G204 -- binary and arguments come from operator configuration
	cmd := exec.Command(bin, args...)
	cmd.Dir = dir
	cmd.Stdout = out
	cmd.Stderr = out

	p, err := procgroup.Start(cmd, procgroup.WithTail(ring.LastN))
	if err != nil {
		_ = logFile.Close()
		return nil, fmt.Errorf("start %s: %w", filepath.Base(bin), err)
	}
	go func() {
		<-p.Done()
		_ = logFile.Close()
	}()
	return p, nil
}

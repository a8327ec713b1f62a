// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ffmpeg

import (
	"strings"
	"sync"
)

// LineRing is a thread-safe ring buffer keeping the last N lines of process output.
// ffmpeg stderr is teed into it so exit diagnostics can quote the tail.
type LineRing struct {
	mu      sync.RWMutex
	lines   []string
	head    int
	size    int
	partial strings.Builder
}

// NewLineRing creates a LineRing with the specified capacity.
func NewLineRing(capacity int) *LineRing {
	if capacity < 1 {
		capacity = 50
	}
	return &LineRing{
		lines: make([]string, capacity),
		size:  capacity,
	}
}

// Write implements io.Writer. Input is split on newlines and carriage returns
// (ffmpeg progress output uses \r); an unterminated trailing fragment is held
// until the next write completes it.
func (r *LineRing) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, b := range p {
		if b == '\n' || b == '\r' {
			r.flushLocked()
			continue
		}
		r.partial.WriteByte(b)
	}
	return len(p), nil
}

func (r *LineRing) flushLocked() {
	if r.partial.Len() == 0 {
		return
	}
	r.lines[r.head] = r.partial.String()
	r.head = (r.head + 1) % r.size
	r.partial.Reset()
}

// LastN returns the last N complete lines in chronological order.
func (r *LineRing) LastN(n int) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if n > r.size {
		n = r.size
	}

	// r.head is the next write position, so it is also the oldest entry once wrapped.
	ordered := make([]string, 0, r.size)
	for i := 0; i < r.size; i++ {
		idx := (r.head + i) % r.size
		if r.lines[idx] != "" {
			ordered = append(ordered, r.lines[idx])
		}
	}

	if len(ordered) <= n {
		return ordered
	}
	return ordered[len(ordered)-n:]
}

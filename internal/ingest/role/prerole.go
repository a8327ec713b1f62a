// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package role

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
)

// CopyPrerole copies every regular file of src into dst. Each file is replaced
// atomically so a player never reads a half-written segment. It returns the
// number of files copied and the joined errors of the ones that failed.
func CopyPrerole(src, dst string) (int, error) {
	entries, err := os.ReadDir(src)
	if err != nil {
		return 0, fmt.Errorf("read prerole dir: %w", err)
	}
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return 0, fmt.Errorf("create output dir: %w", err)
	}

	var (
		copied int
		errs   []error
	)
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if err := copyAtomic(filepath.Join(src, e.Name()), filepath.Join(dst, e.Name())); err != nil {
			errs = append(errs, err)
			continue
		}
		copied++
	}
	return copied, errors.Join(errs...)
}

func copyAtomic(from, to string) error {
	// #nosec G304 -- prerole dir is operator configuration
	in, err := os.Open(from)
	if err != nil {
		return fmt.Errorf("open %s: %w", from, err)
	}
	defer in.Close()

	pending, err := renameio.NewPendingFile(to, renameio.WithPermissions(0o644))
	if err != nil {
		return fmt.Errorf("create pending %s: %w", to, err)
	}
	defer func() { _ = pending.Cleanup() }()

	if _, err := io.Copy(pending, in); err != nil {
		return fmt.Errorf("copy %s: %w", from, err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("replace %s: %w", to, err)
	}
	return nil
}

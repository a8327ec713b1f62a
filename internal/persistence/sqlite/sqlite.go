// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package sqlite opens the SQLite files holding session history.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go driver
)

// ErrCorrupt is returned when an existing file fails its quick check.
var ErrCorrupt = errors.New("sqlite: integrity check failed")

type options struct {
	busyTimeout  time.Duration
	maxOpenConns int
}

// Option tunes Open.
type Option func(*options)

// WithBusyTimeout sets how long a writer waits for a locked database.
func WithBusyTimeout(d time.Duration) Option { return func(o *options) { o.busyTimeout = d } }

// WithMaxOpenConns caps the connection pool.
func WithMaxOpenConns(n int) Option { return func(o *options) { o.maxOpenConns = n } }

// Open opens or creates path in WAL mode. An existing file is quick-checked
// first so a damaged history is reported instead of silently extended.
func Open(ctx context.Context, path string, opts ...Option) (*sql.DB, error) {
	o := options{busyTimeout: 5 * time.Second, maxOpenConns: 4}
	for _, opt := range opts {
		opt(&o)
	}

	if _, err := os.Stat(path); err == nil {
		if err := Check(ctx, path); err != nil {
			return nil, err
		}
	}

	// modernc.org/sqlite applies _pragma entries on each new connection
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)",
		path, o.busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(o.maxOpenConns)
	db.SetMaxIdleConns(o.maxOpenConns)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping %s: %w", path, err)
	}
	return db, nil
}

// Check runs PRAGMA quick_check on the file at path, read-only. A healthy
// database answers with exactly one "ok" row.
func Check(ctx context.Context, path string) error {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro&_pragma=busy_timeout(2000)", path))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	defer func() { _ = db.Close() }()

	rows, err := db.QueryContext(ctx, "PRAGMA quick_check;")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	defer func() { _ = rows.Close() }()

	var issues []string
	for rows.Next() {
		var res string
		if err := rows.Scan(&res); err != nil {
			return fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
		issues = append(issues, res)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	if len(issues) == 1 && strings.EqualFold(issues[0], "ok") {
		return nil
	}
	if len(issues) == 0 {
		issues = []string{"no result"}
	}
	return fmt.Errorf("%w: %s", ErrCorrupt, strings.Join(issues, "; "))
}

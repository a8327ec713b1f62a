// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package ledger keeps a durable history of publish sessions in SQLite. It is
// fed from the lifecycle events on the in-process bus.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ManuGH/rtmp2hls/internal/ingest/observer"
	"github.com/ManuGH/rtmp2hls/internal/log"
	"github.com/ManuGH/rtmp2hls/internal/persistence/sqlite"
	"github.com/ManuGH/rtmp2hls/internal/pipeline/bus"
)

// Status of a ledger row.
const (
	StatusRunning     = "running"
	StatusSpawnFailed = "spawn_failed"
	StatusEnded       = "ended"
)

// DefaultListLimit caps List when the caller passes no limit.
const DefaultListLimit = 100

// ErrCorrupt is returned by Open when an existing file fails its integrity check.
var ErrCorrupt = sqlite.ErrCorrupt

// Entry is one session row.
type Entry struct {
	WorkerID  string    `json:"worker_id"`
	AppName   string    `json:"app_name"`
	SessKey   string    `json:"sess_key"`
	Port      int       `json:"port"`
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
	ExpiredAt time.Time `json:"expired_at,omitempty"`
	EndedAt   time.Time `json:"ended_at,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Failed    bool      `json:"failed"`
	Respawns  int       `json:"respawns"`
	Error     string    `json:"error,omitempty"`
}

// Store persists session history.
type Store struct {
	db *sql.DB
}

// Open opens or creates the ledger at path.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sqlite.Open(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		worker_id TEXT PRIMARY KEY,
		app_name TEXT NOT NULL,
		sess_key TEXT NOT NULL DEFAULT '',
		port INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL CHECK(status IN ('running', 'spawn_failed', 'ended')),
		started_at TEXT NOT NULL,
		expires_at TEXT,
		expired_at TEXT,
		ended_at TEXT,
		reason TEXT NOT NULL DEFAULT '',
		failed INTEGER NOT NULL DEFAULT 0,
		respawns INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_app_started ON sessions(app_name, started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record applies one lifecycle event.
func (s *Store) Record(ctx context.Context, ev observer.Event) error {
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	if ev.WorkerID == "" {
		return fmt.Errorf("ledger: event %s without worker id", ev.Kind)
	}

	var err error
	switch ev.Kind {
	case observer.KindCreated:
		_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (worker_id, app_name, sess_key, port, status, started_at, expires_at)
		VALUES (?, ?, ?, ?, 'running', ?, ?)
		ON CONFLICT(worker_id) DO UPDATE SET status = 'running', port = excluded.port, expires_at = excluded.expires_at
		`, ev.WorkerID, ev.AppName, ev.SessKey, ev.Port, formatTime(at), nullTime(ev.ExpiresAt))
	case observer.KindSpawnFailed:
		_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (worker_id, app_name, sess_key, port, status, started_at, ended_at, reason, failed, error)
		VALUES (?, ?, ?, ?, 'spawn_failed', ?, ?, 'failed', 1, ?)
		ON CONFLICT(worker_id) DO UPDATE SET status = 'spawn_failed', ended_at = excluded.ended_at,
			reason = 'failed', failed = 1, error = excluded.error
		`, ev.WorkerID, ev.AppName, ev.SessKey, ev.Port, formatTime(at), formatTime(at), ev.Error)
	case observer.KindExpired:
		_, err = s.db.ExecContext(ctx, `UPDATE sessions SET expired_at = ? WHERE worker_id = ?`,
			formatTime(at), ev.WorkerID)
	case observer.KindExited:
		_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (worker_id, app_name, sess_key, port, status, started_at, ended_at, reason, failed, respawns, error)
		VALUES (?, ?, ?, ?, 'ended', ?, ?, ?, ?, ?, ?)
		ON CONFLICT(worker_id) DO UPDATE SET status = 'ended', ended_at = excluded.ended_at,
			reason = excluded.reason, failed = excluded.failed, respawns = excluded.respawns, error = excluded.error
		`, ev.WorkerID, ev.AppName, ev.SessKey, ev.Port, formatTime(at), formatTime(at),
			ev.Reason, boolInt(ev.Failed), ev.Respawns, ev.Error)
	default:
		return fmt.Errorf("ledger: unknown event kind %q", ev.Kind)
	}
	if err != nil {
		return fmt.Errorf("ledger: record %s: %w", ev.Kind, err)
	}
	return nil
}

// List returns the newest sessions first. An empty app lists every app.
func (s *Store) List(ctx context.Context, app string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	query := `
	SELECT worker_id, app_name, sess_key, port, status, started_at, expires_at, expired_at, ended_at,
		reason, failed, respawns, error
	FROM sessions
	WHERE (? = '' OR app_name = ?)
	ORDER BY started_at DESC, rowid DESC
	LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, app, app, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Entry
	for rows.Next() {
		var (
			e                       Entry
			started                 string
			expires, expired, ended sql.NullString
			failed                  int
		)
		if err := rows.Scan(&e.WorkerID, &e.AppName, &e.SessKey, &e.Port, &e.Status, &started,
			&expires, &expired, &ended, &e.Reason, &failed, &e.Respawns, &e.Error); err != nil {
			return nil, err
		}
		e.StartedAt = parseTime(started)
		e.ExpiresAt = parseTime(expires.String)
		e.ExpiredAt = parseTime(expired.String)
		e.EndedAt = parseTime(ended.String)
		e.Failed = failed != 0
		out = append(out, e)
	}
	return out, rows.Err()
}

// Consume records every lifecycle event from b until ctx is done, then records
// the events already queued on the subscription.
// Record failures are logged and do not stop consumption.
func (s *Store) Consume(ctx context.Context, b bus.Bus) error {
	sub, err := b.Subscribe(ctx, observer.TopicLifecycle)
	if err != nil {
		return fmt.Errorf("ledger: subscribe: %w", err)
	}
	defer func() { _ = sub.Close() }()

	logger := log.WithComponent("ledger")
	record := func(msg bus.Message) {
		ev, ok := msg.(observer.Event)
		if !ok {
			logger.Warn().Msgf("unexpected message type %T", msg)
			return
		}
		if err := s.Record(context.WithoutCancel(ctx), ev); err != nil {
			logger.Error().Err(err).
				Str(log.FieldWorkerID, ev.WorkerID).
				Str(log.FieldEvent, string(ev.Kind)).
				Msg("ledger write failed")
		}
	}
	for {
		select {
		case <-ctx.Done():
			// events already queued are still recorded
			for {
				select {
				case msg, ok := <-sub.C():
					if !ok {
						return nil
					}
					record(msg)
				default:
					return nil
				}
			}
		case msg, ok := <-sub.C():
			if !ok {
				return nil
			}
			record(msg)
		}
	}
}

// timeLayout has a fixed width so text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(t), Valid: true}
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ManuGH/drivecast/internal/domain/driving/model"
	"github.com/ManuGH/drivecast/internal/persistence/sqlite"
)

const schemaVersion = 1

// SqliteStore implements Store using SQLite.
type SqliteStore struct {
	DB *sql.DB
}

// NewSqliteStore opens (and migrates) the record database at dbPath.
func NewSqliteStore(dbPath string, busyTimeout time.Duration) (*SqliteStore, error) {
	cfg := sqlite.DefaultConfig()
	if busyTimeout > 0 {
		cfg.BusyTimeout = busyTimeout
	}
	db, err := sqlite.Open(dbPath, cfg)
	if err != nil {
		return nil, err
	}

	s := &SqliteStore{DB: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("record store: migration failed: %w", err)
	}
	return s, nil
}

func (s *SqliteStore) Close() error {
	return s.DB.Close()
}

func (s *SqliteStore) Ping(ctx context.Context) error {
	return sqlite.QuickCheck(ctx, s.DB)
}

func (s *SqliteStore) migrate() error {
	var currentVersion int
	if err := s.DB.QueryRow("PRAGMA user_version").Scan(&currentVersion); err != nil {
		return err
	}
	if currentVersion >= schemaVersion {
		return nil
	}

	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	// AUTOINCREMENT keeps session IDs from being reused after deletes.
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		owner TEXT NOT NULL,
		started_at_ms INTEGER NOT NULL,
		ended_at_ms INTEGER,
		duration_seconds INTEGER NOT NULL DEFAULT 0,
		score INTEGER,
		artifact_key TEXT NOT NULL DEFAULT '',
		created_at_ms INTEGER NOT NULL,
		updated_at_ms INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_open ON sessions(ended_at_ms, updated_at_ms);

	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id INTEGER NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		code INTEGER NOT NULL,
		type TEXT NOT NULL,
		severity TEXT NOT NULL,
		note TEXT NOT NULL DEFAULT '',
		chunk_index INTEGER NOT NULL DEFAULT 0,
		occurred_at_ms INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id, id);
	`
	if _, err := tx.Exec(schema); err != nil {
		return err
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

// --- Sessions ---

const sessionColumns = `id, owner, started_at_ms, ended_at_ms, duration_seconds, score, artifact_key, created_at_ms, updated_at_ms`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (model.Session, error) {
	var (
		s                             model.Session
		startedMs, createdMs, updated int64
		endedMs, score                sql.NullInt64
	)
	if err := row.Scan(&s.ID, &s.Owner, &startedMs, &endedMs, &s.DurationSeconds, &score, &s.ArtifactKey, &createdMs, &updated); err != nil {
		return model.Session{}, err
	}
	s.StartedAt = time.UnixMilli(startedMs).UTC()
	s.CreatedAt = time.UnixMilli(createdMs).UTC()
	s.UpdatedAt = time.UnixMilli(updated).UTC()
	if endedMs.Valid {
		t := time.UnixMilli(endedMs.Int64).UTC()
		s.EndedAt = &t
	}
	if score.Valid {
		v := int(score.Int64)
		s.Score = &v
	}
	return s, nil
}

func (s *SqliteStore) Create(ctx context.Context, owner string, startedAt time.Time) (model.Session, error) {
	now := time.Now().UnixMilli()
	res, err := s.DB.ExecContext(ctx,
		`INSERT INTO sessions (owner, started_at_ms, created_at_ms, updated_at_ms) VALUES (?, ?, ?, ?)`,
		owner, normalizeTime(startedAt).UnixMilli(), now, now)
	if err != nil {
		return model.Session{}, fmt.Errorf("insert session: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.Session{}, fmt.Errorf("session id: %w", err)
	}
	return s.Get(ctx, id)
}

func (s *SqliteStore) Get(ctx context.Context, id int64) (model.Session, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Session{}, ErrNotFound
	}
	if err != nil {
		return model.Session{}, fmt.Errorf("get session %d: %w", id, err)
	}
	return sess, nil
}

func (s *SqliteStore) Touch(ctx context.Context, id int64, at time.Time) error {
	res, err := s.DB.ExecContext(ctx, `UPDATE sessions SET updated_at_ms = ? WHERE id = ?`, normalizeTime(at).UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("touch session %d: %w", id, err)
	}
	return requireRow(res)
}

func (s *SqliteStore) End(ctx context.Context, id int64, upd model.EndUpdate) (model.Session, error) {
	var score sql.NullInt64
	if upd.Score != nil {
		score = sql.NullInt64{Int64: int64(*upd.Score), Valid: true}
	}
	res, err := s.DB.ExecContext(ctx,
		`UPDATE sessions
		 SET ended_at_ms = ?, duration_seconds = ?, score = ?, artifact_key = ?, updated_at_ms = ?
		 WHERE id = ?`,
		normalizeTime(upd.EndedAt).UnixMilli(), upd.DurationSeconds, score, upd.ArtifactKey, time.Now().UnixMilli(), id)
	if err != nil {
		return model.Session{}, fmt.Errorf("end session %d: %w", id, err)
	}
	if err := requireRow(res); err != nil {
		return model.Session{}, err
	}
	return s.Get(ctx, id)
}

func (s *SqliteStore) ListIdle(ctx context.Context, cutoff time.Time) ([]model.Session, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE ended_at_ms IS NULL AND updated_at_ms < ? ORDER BY id`,
		cutoff.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("list idle sessions: %w", err)
	}
	defer rows.Close()

	var out []model.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan idle session: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// --- Events ---

func (s *SqliteStore) AppendEvent(ctx context.Context, ev model.Event) (model.Event, error) {
	ev = withDefaultSeverity(ev)
	// The EXISTS guard turns a missing session into zero affected rows
	// instead of a foreign key error.
	res, err := s.DB.ExecContext(ctx,
		`INSERT INTO events (session_id, code, type, severity, note, chunk_index, occurred_at_ms)
		 SELECT ?, ?, ?, ?, ?, ?, ?
		 WHERE EXISTS (SELECT 1 FROM sessions WHERE id = ?)`,
		ev.SessionID, ev.Code, ev.Type, ev.Severity, ev.Note, ev.ChunkIndex, ev.OccurredAt.UnixMilli(), ev.SessionID)
	if err != nil {
		return model.Event{}, fmt.Errorf("insert event: %w", err)
	}
	if err := requireRow(res); err != nil {
		return model.Event{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.Event{}, fmt.Errorf("event id: %w", err)
	}
	ev.ID = id
	return ev, nil
}

func (s *SqliteStore) Events(ctx context.Context, id int64) ([]model.Event, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, session_id, code, type, severity, note, chunk_index, occurred_at_ms
		 FROM events WHERE session_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	out := make([]model.Event, 0)
	for rows.Next() {
		var (
			ev         model.Event
			occurredMs int64
		)
		if err := rows.Scan(&ev.ID, &ev.SessionID, &ev.Code, &ev.Type, &ev.Severity, &ev.Note, &ev.ChunkIndex, &occurredMs); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.OccurredAt = time.UnixMilli(occurredMs).UTC()
		out = append(out, ev)
	}
	return out, rows.Err()
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package store persists driving session records and their detected events.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ManuGH/drivecast/internal/domain/driving/model"
)

// ErrNotFound is returned when a session does not exist.
var ErrNotFound = errors.New("session not found")

// Store is the session record collaborator. Implementations must be safe for
// concurrent use.
type Store interface {
	// Create allocates a new session ID for owner. IDs are never reused.
	Create(ctx context.Context, owner string, startedAt time.Time) (model.Session, error)
	Get(ctx context.Context, id int64) (model.Session, error)
	// Touch records ingest activity; the auto-finalize sweeper keys off it.
	Touch(ctx context.Context, id int64, at time.Time) error
	End(ctx context.Context, id int64, upd model.EndUpdate) (model.Session, error)
	AppendEvent(ctx context.Context, ev model.Event) (model.Event, error)
	Events(ctx context.Context, id int64) ([]model.Event, error)
	// ListIdle returns sessions without an end time whose last activity is before cutoff.
	ListIdle(ctx context.Context, cutoff time.Time) ([]model.Session, error)
	Ping(ctx context.Context) error
	Close() error
}

// Backends.
const (
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Open creates a Store based on the backend configuration.
func Open(backend, path string, busyTimeout time.Duration) (Store, error) {
	switch backend {
	case BackendMemory:
		return NewMemoryStore(), nil
	case BackendSQLite, "":
		return NewSqliteStore(path, busyTimeout)
	default:
		return nil, fmt.Errorf("unknown record store backend: %s", backend)
	}
}

// normalizeTime matches the millisecond precision the sqlite backend keeps.
func normalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

func withDefaultSeverity(ev model.Event) model.Event {
	if ev.Severity == "" {
		ev.Severity = model.DefaultSeverity
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now()
	}
	ev.OccurredAt = normalizeTime(ev.OccurredAt)
	return ev
}

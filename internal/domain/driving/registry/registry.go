// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package registry maps live session IDs to their connection so that
// asynchronous analysis results can find the device that produced them.
package registry

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	xglog "github.com/ManuGH/drivecast/internal/log"
)

var registeredSessions = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "drivecast_registry_sessions",
	Help: "Number of sessions with a registered live connection",
})

// Conn is the registry's view of a live connection. The registry never owns
// the connection's lifecycle; it only looks it up and writes to it.
type Conn interface {
	Send(ctx context.Context, payload []byte) error
	Closed() bool
}

// Registry is a concurrency-safe session ID to connection map.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]Conn
	logger zerolog.Logger
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		conns:  make(map[string]Conn),
		logger: xglog.WithComponent("registry"),
	}
}

// Register binds id to conn, replacing any previous binding.
func (r *Registry) Register(id string, conn Conn) {
	r.mu.Lock()
	_, replaced := r.conns[id]
	r.conns[id] = conn
	r.mu.Unlock()

	if !replaced {
		registeredSessions.Inc()
	}
	r.logger.Debug().
		Str(xglog.FieldEvent, "registry.registered").
		Str(xglog.FieldSessionID, id).
		Bool("replaced", replaced).
		Msg("session registered")
}

// Deregister removes id. Missing entries are ignored.
func (r *Registry) Deregister(id string) {
	r.mu.Lock()
	_, ok := r.conns[id]
	delete(r.conns, id)
	r.mu.Unlock()

	if ok {
		registeredSessions.Dec()
	}
}

// DeregisterConn removes id only if it is still bound to conn, so a stale
// connection cannot evict a newer binding.
func (r *Registry) DeregisterConn(id string, conn Conn) bool {
	r.mu.Lock()
	cur, ok := r.conns[id]
	owned := ok && cur == conn
	if owned {
		delete(r.conns, id)
	}
	r.mu.Unlock()

	if owned {
		registeredSessions.Dec()
	}
	return owned
}

// Has reports whether id has a live connection.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	conn, ok := r.conns[id]
	r.mu.RUnlock()
	return ok && !conn.Closed()
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Push delivers payload to the connection registered under id. It is best
// effort: a missing entry, a closed handle or a failed write all report false
// without an error. The lock is not held while writing.
func (r *Registry) Push(ctx context.Context, id string, payload []byte) bool {
	r.mu.RLock()
	conn, ok := r.conns[id]
	r.mu.RUnlock()

	if !ok || conn.Closed() {
		r.logger.Debug().
			Str(xglog.FieldEvent, "registry.push_skipped").
			Str(xglog.FieldSessionID, id).
			Bool("registered", ok).
			Msg("no live connection for session")
		return false
	}

	if err := conn.Send(ctx, payload); err != nil {
		r.logger.Debug().
			Err(err).
			Str(xglog.FieldEvent, "registry.push_failed").
			Str(xglog.FieldSessionID, id).
			Msg("push to session failed")
		return false
	}
	return true
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api is the HTTP surface: the websocket route, the analysis result
// callback, session end and lookup, and health probes.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/ManuGH/drivecast/internal/api/middleware"
	"github.com/ManuGH/drivecast/internal/auth"
	"github.com/ManuGH/drivecast/internal/domain/driving/callback"
	"github.com/ManuGH/drivecast/internal/domain/driving/finalize"
	"github.com/ManuGH/drivecast/internal/domain/driving/model"
	xglog "github.com/ManuGH/drivecast/internal/log"
)

const defaultMaxCallbackBytes = 8 << 20

// Authenticator resolves a request to its principal, or nil when anonymous.
type Authenticator interface {
	Authenticate(r *http.Request, allowQuery bool) *auth.Principal
}

// CallbackReceiver processes one analysis result body.
type CallbackReceiver interface {
	Handle(ctx context.Context, sessionID int64, raw []byte) (callback.Outcome, error)
}

// Finalizer ends sessions.
type Finalizer interface {
	Finalize(ctx context.Context, req finalize.Request) (model.Session, error)
}

// SessionStore reads session records and appends client-reported events.
type SessionStore interface {
	Get(ctx context.Context, id int64) (model.Session, error)
	Events(ctx context.Context, id int64) ([]model.Event, error)
	AppendEvent(ctx context.Context, ev model.Event) (model.Event, error)
}

// ReadinessCheck is one dependency probed by /readyz.
type ReadinessCheck struct {
	Name string
	Ping func(ctx context.Context) error
}

type Config struct {
	AllowQueryToken bool
	// CallbackToken, when set, must accompany every result callback.
	CallbackToken    string
	CallbackRPM      int
	FinalizeRPM      int
	MaxCallbackBytes int64
	EnableTracing    bool
}

type Deps struct {
	Stream    http.Handler
	Auth      Authenticator
	Receiver  CallbackReceiver
	Finalizer Finalizer
	Sessions  SessionStore
	Checks    []ReadinessCheck
}

// Server owns the HTTP routes. It holds no per-request state.
type Server struct {
	cfg    Config
	deps   Deps
	logger zerolog.Logger
}

func New(cfg Config, deps Deps) *Server {
	if cfg.MaxCallbackBytes <= 0 {
		cfg.MaxCallbackBytes = defaultMaxCallbackBytes
	}
	return &Server{
		cfg:    cfg,
		deps:   deps,
		logger: xglog.WithComponent("api"),
	}
}

// Handler returns the router with the full middleware stack applied.
func (s *Server) Handler() http.Handler {
	r := middleware.NewRouter(middleware.StackConfig{
		EnableSecurityHeaders: true,
		EnableMetrics:         true,
		EnableTracing:         s.cfg.EnableTracing,
		EnableLogging:         true,
	})

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)

	if s.deps.Stream != nil {
		r.Method(http.MethodGet, "/ws/driving", s.deps.Stream)
	}

	r.With(middleware.PerMinute(s.cfg.CallbackRPM)).
		Post("/api/ai-callback/{sessionId}", s.handleCallback)

	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)
		r.With(requireScope(auth.ScopeSessionRead)).
			Get("/api/sessions/{sessionId}", s.handleGetSession)
		r.With(requireScope(auth.ScopeSessionWrite), middleware.PerMinute(s.cfg.FinalizeRPM)).
			Post("/api/sessions/{sessionId}/end", s.handleFinalize)
		r.With(requireScope(auth.ScopeSessionWrite)).
			Post("/api/sessions/{sessionId}/events", s.handleAddEvent)
	})

	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type readyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := readyResponse{Status: "ready", Checks: make(map[string]string, len(s.deps.Checks))}
	code := http.StatusOK
	for _, c := range s.deps.Checks {
		if err := c.Ping(ctx); err != nil {
			resp.Checks[c.Name] = err.Error()
			resp.Status = "not_ready"
			code = http.StatusServiceUnavailable
			s.logger.Warn().
				Err(err).
				Str(xglog.FieldEvent, "readiness.failed").
				Str("check", c.Name).
				Msg("readiness check failed")
			continue
		}
		resp.Checks[c.Name] = "ok"
	}
	writeJSON(w, code, resp)
}

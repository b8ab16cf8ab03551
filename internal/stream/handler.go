// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package stream implements the device-facing websocket protocol: session
// start and end, segment ingestion and the live channel for analysis results.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/net/websocket"

	"github.com/ManuGH/drivecast/internal/auth"
	"github.com/ManuGH/drivecast/internal/dispatch"
	"github.com/ManuGH/drivecast/internal/domain/driving/model"
	"github.com/ManuGH/drivecast/internal/domain/driving/registry"
	xglog "github.com/ManuGH/drivecast/internal/log"
	"github.com/ManuGH/drivecast/internal/metrics"
	"github.com/ManuGH/drivecast/internal/objectstore"
)

const (
	DefaultMaxSegmentBytes = 5 << 20
	DefaultWriteTimeout    = 10 * time.Second
)

// Authenticator resolves the caller of an upgrade request. nil means anonymous.
type Authenticator interface {
	Authenticate(r *http.Request, allowQuery bool) *auth.Principal
}

// SessionStore is the part of the record store the protocol needs.
type SessionStore interface {
	Create(ctx context.Context, owner string, startedAt time.Time) (model.Session, error)
	Touch(ctx context.Context, id int64, at time.Time) error
}

// Submitter schedules an analysis dispatch without blocking.
type Submitter interface {
	Submit(ctx context.Context, req dispatch.Request) bool
}

type Config struct {
	AllowQueryToken bool
	AllowedOrigins  []string
	MaxSegmentBytes int
	WriteTimeout    time.Duration
}

type Deps struct {
	Auth     Authenticator
	Sessions SessionStore
	Objects  objectstore.Store
	Registry *registry.Registry
	Dispatch Submitter
}

type Option func(*Handler)

// WithClock overrides the time source used for session and segment timestamps.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

// Handler serves the websocket route.
type Handler struct {
	cfg    Config
	deps   Deps
	now    func() time.Time
	logger zerolog.Logger

	mu     sync.Mutex
	active map[*conn]struct{}
}

func NewHandler(cfg Config, deps Deps, opts ...Option) *Handler {
	if cfg.MaxSegmentBytes <= 0 {
		cfg.MaxSegmentBytes = DefaultMaxSegmentBytes
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	h := &Handler{
		cfg:    cfg,
		deps:   deps,
		now:    time.Now,
		logger: xglog.WithComponent("stream"),
		active: make(map[*conn]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type state int

const (
	stateConnected state = iota
	stateStarted
	stateEnded
)

func (s state) String() string {
	switch s {
	case stateStarted:
		return "started"
	case stateEnded:
		return "ended"
	default:
		return "connected"
	}
}

// connState is owned by the connection's read loop.
type connState struct {
	principal *auth.Principal
	state     state
	sessionID int64
	chunks    int
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var principal *auth.Principal
	if h.deps.Auth != nil {
		principal = h.deps.Auth.Authenticate(r, h.cfg.AllowQueryToken)
	}
	srv := websocket.Server{
		Handshake: h.handshake,
		Handler: func(ws *websocket.Conn) {
			h.serve(ws, principal)
		},
	}
	srv.ServeHTTP(w, r)
}

// handshake accepts any origin unless an allow-list is configured. Requests
// without an Origin header come from native clients and are always accepted.
func (h *Handler) handshake(cfg *websocket.Config, r *http.Request) error {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return nil
	}
	u, err := url.ParseRequestURI(origin)
	if err != nil {
		return fmt.Errorf("invalid origin %q: %w", origin, err)
	}
	cfg.Origin = u
	if len(h.cfg.AllowedOrigins) == 0 {
		return nil
	}
	if slices.ContainsFunc(h.cfg.AllowedOrigins, func(allowed string) bool {
		return allowed == "*" || strings.EqualFold(strings.TrimSuffix(allowed, "/"), strings.TrimSuffix(origin, "/"))
	}) {
		return nil
	}
	h.logger.Warn().
		Str(xglog.FieldEvent, "ws.origin_rejected").
		Str("origin", origin).
		Msg("websocket origin not allowed")
	return fmt.Errorf("origin %q not allowed", origin)
}

func (h *Handler) serve(ws *websocket.Conn, principal *auth.Principal) {
	ws.MaxPayloadBytes = h.cfg.MaxSegmentBytes
	ctx := ws.Request().Context()

	c := newConn(ws, uuid.NewString(), h.cfg.WriteTimeout)
	st := &connState{principal: principal}
	logger := xglog.WithContext(ctx, h.logger).With().
		Str(xglog.FieldConnectionID, c.id).
		Logger()
	if principal != nil {
		logger = logger.With().Str(xglog.FieldPrincipal, principal.ID).Logger()
	}

	h.track(c)
	defer h.untrack(c)
	metrics.IncWSConnections()
	defer metrics.DecWSConnections()
	defer h.disconnect(c, st, logger)
	defer func() { _ = ws.Close() }()

	logger.Info().
		Str(xglog.FieldEvent, "ws.connected").
		Bool("authenticated", principal != nil).
		Msg("websocket connected")

	if err := c.sendJSON(ctx, ConnectedMessage{Type: TypeConnected, ConnectionID: c.id}); err != nil {
		logger.Debug().Err(err).Msg("failed to send connected message")
		return
	}

	for {
		var f frame
		if err := frameCodec.Receive(ws, &f); err != nil {
			if errors.Is(err, websocket.ErrFrameTooLarge) {
				metrics.RecordSegment("too_large", 0)
				logger.Warn().
					Str(xglog.FieldEvent, "ws.frame_too_large").
					Int("limit", h.cfg.MaxSegmentBytes).
					Msg("frame exceeds size limit, closing connection")
				h.replyError(ctx, c, logger, ErrTextSegmentTooBig)
				return
			}
			if !errors.Is(err, io.EOF) {
				logger.Debug().Err(err).Msg("websocket read ended")
			}
			return
		}
		if f.binary {
			h.handleSegment(ctx, c, st, f.data, logger)
			continue
		}
		h.handleControl(ctx, c, st, f.data, logger)
	}
}

func (h *Handler) handleControl(ctx context.Context, c *conn, st *connState, data []byte, logger zerolog.Logger) {
	msgType, tag, err := decodeControl(data)
	if err != nil {
		metrics.IncControlMessage("invalid")
		logger.Debug().Err(err).Msg("invalid control message")
		h.replyError(ctx, c, logger, ErrTextInvalidJSON)
		return
	}
	metrics.IncControlMessage(msgType.String())

	switch msgType {
	case MessagePing:
		h.reply(ctx, c, logger, PongMessage{Type: TypePong})
	case MessageStart:
		h.start(ctx, c, st, logger)
	case MessageEnd:
		h.end(ctx, c, st, logger)
	default:
		h.replyError(ctx, c, logger, errTextUnknownTypeFmt+tag)
	}
}

func (h *Handler) start(ctx context.Context, c *conn, st *connState, logger zerolog.Logger) {
	if st.principal == nil {
		h.replyError(ctx, c, logger, ErrTextLoginRequired)
		return
	}
	if st.state == stateStarted {
		h.replyError(ctx, c, logger, ErrTextAlreadyActive)
		return
	}
	if st.sessionID != 0 {
		h.deps.Registry.DeregisterConn(model.FormatID(st.sessionID), c)
	}

	sess, err := h.deps.Sessions.Create(ctx, st.principal.ID, h.now())
	if err != nil {
		logger.Error().
			Err(err).
			Str(xglog.FieldEvent, "session.create_failed").
			Msg("failed to create session")
		h.replyError(ctx, c, logger, ErrTextStartFailed)
		return
	}

	st.state = stateStarted
	st.sessionID = sess.ID
	st.chunks = 0
	h.deps.Registry.Register(sess.Key(), c)

	logger.Info().
		Str(xglog.FieldEvent, "session.started").
		Int64(xglog.FieldSessionID, sess.ID).
		Msg("session started")
	h.reply(ctx, c, logger, StartedMessage{Type: TypeStarted, SessionID: sess.ID})
}

func (h *Handler) end(ctx context.Context, c *conn, st *connState, logger zerolog.Logger) {
	if st.state != stateStarted {
		h.replyError(ctx, c, logger, ErrTextNoSession)
		return
	}
	st.state = stateEnded

	logger.Info().
		Str(xglog.FieldEvent, "session.ended").
		Int64(xglog.FieldSessionID, st.sessionID).
		Int("chunks", st.chunks).
		Msg("session ended by client")
	h.reply(ctx, c, logger, EndedMessage{Type: TypeEnded, SessionID: st.sessionID, Chunks: st.chunks})
}

func (h *Handler) handleSegment(ctx context.Context, c *conn, st *connState, data []byte, logger zerolog.Logger) {
	if st.state != stateStarted {
		metrics.RecordSegment("no_session", 0)
		logger.Warn().
			Str(xglog.FieldEvent, "segment.rejected").
			Int(xglog.FieldSize, len(data)).
			Str("state", st.state.String()).
			Msg("segment received without an active session")
		h.replyError(ctx, c, logger, ErrTextNoSession)
		return
	}

	// Indices are assigned before storage and never reused.
	st.chunks++
	index := st.chunks
	now := h.now()
	key := model.SegmentKey(st.sessionID, now, index)
	segLogger := logger.With().
		Int64(xglog.FieldSessionID, st.sessionID).
		Int(xglog.FieldChunkIndex, index).
		Str(xglog.FieldKey, key).
		Logger()

	size, err := objectstore.PutBytes(ctx, h.deps.Objects, key, data)
	if err != nil {
		metrics.RecordSegment("store_failed", 0)
		segLogger.Error().
			Err(err).
			Str(xglog.FieldEvent, "segment.store_failed").
			Msg("failed to store segment")
		h.replyError(ctx, c, segLogger, ErrTextStoreFailed)
		return
	}
	metrics.RecordSegment("stored", size)

	if err := h.deps.Sessions.Touch(ctx, st.sessionID, now); err != nil {
		segLogger.Warn().Err(err).Msg("failed to touch session")
	}

	segLogger.Debug().
		Str(xglog.FieldEvent, "segment.stored").
		Int64(xglog.FieldSize, size).
		Msg("segment stored")
	h.reply(ctx, c, segLogger, ChunkStoredMessage{
		Type:       TypeChunkStored,
		Key:        key,
		Size:       size,
		ChunkIndex: index,
	})

	if h.deps.Dispatch == nil {
		return
	}
	h.deps.Dispatch.Submit(ctx, dispatch.Request{
		SessionID:  st.sessionID,
		SegmentKey: key,
		ChunkIndex: index,
	})
}

func (h *Handler) disconnect(c *conn, st *connState, logger zerolog.Logger) {
	c.markClosed()
	deregistered := false
	if st.sessionID != 0 {
		deregistered = h.deps.Registry.DeregisterConn(model.FormatID(st.sessionID), c)
	}
	ev := logger.Info().
		Str(xglog.FieldEvent, "ws.disconnected").
		Str("state", st.state.String()).
		Int("chunks", st.chunks).
		Bool("deregistered", deregistered)
	if st.sessionID != 0 {
		ev = ev.Int64(xglog.FieldSessionID, st.sessionID)
	}
	ev.Msg("websocket disconnected")
}

func (h *Handler) track(c *conn) {
	h.mu.Lock()
	h.active[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Handler) untrack(c *conn) {
	h.mu.Lock()
	delete(h.active, c)
	h.mu.Unlock()
}

// ActiveConnections returns the number of open websocket connections.
func (h *Handler) ActiveConnections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.active)
}

// CloseAll closes every open connection. Each read loop then runs its normal
// disconnect path.
func (h *Handler) CloseAll() int {
	h.mu.Lock()
	conns := make([]*conn, 0, len(h.active))
	for c := range h.active {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		_ = c.close()
	}
	if len(conns) > 0 {
		h.logger.Info().
			Str(xglog.FieldEvent, "ws.close_all").
			Int("connections", len(conns)).
			Msg("closed open websocket connections")
	}
	return len(conns)
}

func (h *Handler) reply(ctx context.Context, c *conn, logger zerolog.Logger, v any) {
	if err := c.sendJSON(ctx, v); err != nil {
		logger.Debug().Err(err).Msg("failed to send reply")
	}
}

func (h *Handler) replyError(ctx context.Context, c *conn, logger zerolog.Logger, message string) {
	h.reply(ctx, c, logger, ErrorMessage{Type: TypeError, Message: message})
}

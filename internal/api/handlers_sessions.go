// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/ManuGH/drivecast/internal/api/problem"
	"github.com/ManuGH/drivecast/internal/auth"
	"github.com/ManuGH/drivecast/internal/domain/driving/finalize"
	"github.com/ManuGH/drivecast/internal/domain/driving/model"
	"github.com/ManuGH/drivecast/internal/domain/driving/store"
	xglog "github.com/ManuGH/drivecast/internal/log"
	"github.com/ManuGH/drivecast/internal/validate"
)

const (
	maxFinalizeBodyBytes = 64 << 10
	maxVideoKeyLen       = 512
)

type finalizeRequest struct {
	EndTime       *time.Time `json:"endTime"`
	FinalScore    *int       `json:"finalScore"`
	FinalVideoKey string     `json:"finalVideoKey"`
}

func (req finalizeRequest) validate() error {
	v := validate.New()
	if req.FinalScore != nil && *req.FinalScore < 0 {
		v.AddError("finalScore", "must be >= 0", *req.FinalScore)
	}
	if len(req.FinalVideoKey) > maxVideoKeyLen {
		v.AddError("finalVideoKey", "must be at most 512 characters", len(req.FinalVideoKey))
	}
	return v.Err()
}

type sessionResponse struct {
	model.Session
	Events []model.Event `json:"events"`
}

// handleFinalize ends a session owned by the caller.
// POST /api/sessions/{sessionId}/end
func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionIDParam(w, r)
	if !ok {
		return
	}

	var req finalizeRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxFinalizeBodyBytes))
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		problem.Write(w, r, http.StatusBadRequest, codeInvalidBody, "body must be a JSON object with RFC 3339 endTime")
		return
	}
	if err := req.validate(); err != nil {
		problem.Write(w, r, http.StatusBadRequest, codeInvalidBody, err.Error())
		return
	}

	principal := auth.PrincipalFromContext(r.Context())
	sess, err := s.deps.Finalizer.Finalize(r.Context(), finalize.Request{
		SessionID:     id,
		Owner:         principal.ID,
		EndTime:       req.EndTime,
		FinalScore:    req.FinalScore,
		FinalVideoKey: req.FinalVideoKey,
	})
	if err != nil {
		s.writeSessionError(w, r, id, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// handleGetSession returns a session and its recorded events.
// GET /api/sessions/{sessionId}
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionIDParam(w, r)
	if !ok {
		return
	}
	sess, err := s.deps.Sessions.Get(r.Context(), id)
	if err != nil {
		s.writeSessionError(w, r, id, err)
		return
	}
	if sess.Owner != auth.PrincipalFromContext(r.Context()).ID {
		s.writeSessionError(w, r, id, finalize.ErrForbidden)
		return
	}
	events, err := s.deps.Sessions.Events(r.Context(), id)
	if err != nil {
		s.writeSessionError(w, r, id, err)
		return
	}
	if events == nil {
		events = []model.Event{}
	}
	writeJSON(w, http.StatusOK, sessionResponse{Session: sess, Events: events})
}

func (s *Server) writeSessionError(w http.ResponseWriter, r *http.Request, id int64, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		problem.Write(w, r, http.StatusNotFound, codeNotFound, "session not found")
	case errors.Is(err, finalize.ErrForbidden):
		problem.Write(w, r, http.StatusForbidden, codeForbidden, "session belongs to another user")
	case errors.Is(err, finalize.ErrAlreadyFinalized):
		problem.Write(w, r, http.StatusConflict, codeConflict, "session already has a final video")
	case errors.Is(err, finalize.ErrInvalidEndTime):
		problem.Write(w, r, http.StatusBadRequest, codeInvalidEndTime, "endTime precedes the session start")
	case errors.Is(err, finalize.ErrShuttingDown),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		problem.Write(w, r, http.StatusServiceUnavailable, codeUnavailable, err.Error())
	default:
		logger := xglog.WithContext(r.Context(), s.logger)
		logger.Error().
			Err(err).
			Str(xglog.FieldEvent, "session.request_failed").
			Int64(xglog.FieldSessionID, id).
			Msg("session request failed")
		problem.Write(w, r, http.StatusInternalServerError, codeInternal, "internal error")
	}
}

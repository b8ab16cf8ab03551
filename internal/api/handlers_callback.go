// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/ManuGH/drivecast/internal/api/problem"
	"github.com/ManuGH/drivecast/internal/domain/driving/callback"
	xglog "github.com/ManuGH/drivecast/internal/log"
	"github.com/ManuGH/drivecast/internal/metrics"
)

type callbackResponse struct {
	Status string `json:"status"`
	callback.Outcome
}

// handleCallback accepts an analysis result for a session.
// POST /api/ai-callback/{sessionId}
//
// An unknown or disconnected session is not an error: the result is
// acknowledged and nothing is delivered.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	if !s.authorizeCallback(r) {
		metrics.IncCallback("unauthorized")
		problem.Write(w, r, http.StatusUnauthorized, codeUnauthorized, "invalid callback token")
		return
	}
	id, ok := sessionIDParam(w, r)
	if !ok {
		metrics.IncCallback("rejected")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxCallbackBytes))
	if err != nil {
		metrics.IncCallback("rejected")
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			problem.Write(w, r, http.StatusRequestEntityTooLarge, codeBodyTooLarge, "callback body too large")
			return
		}
		problem.Write(w, r, http.StatusBadRequest, codeInvalidBody, "failed to read body")
		return
	}

	outcome, err := s.deps.Receiver.Handle(r.Context(), id, body)
	if err != nil {
		if errors.Is(err, callback.ErrInvalidPayload) {
			problem.Write(w, r, http.StatusBadRequest, codeInvalidBody, err.Error())
			return
		}
		logger := xglog.WithContext(r.Context(), s.logger)
		logger.Error().
			Err(err).
			Str(xglog.FieldEvent, "callback.failed").
			Int64(xglog.FieldSessionID, id).
			Msg("callback processing failed")
		problem.Write(w, r, http.StatusInternalServerError, codeInternal, "callback processing failed")
		return
	}

	writeJSON(w, http.StatusOK, callbackResponse{Status: "received", Outcome: outcome})
}

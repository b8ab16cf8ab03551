package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ManuGH/drivecast/internal/api/problem"
	"github.com/ManuGH/drivecast/internal/auth"
	"github.com/ManuGH/drivecast/internal/domain/driving/finalize"
	"github.com/ManuGH/drivecast/internal/domain/driving/model"
	xglog "github.com/ManuGH/drivecast/internal/log"
	"github.com/ManuGH/drivecast/internal/validate"
)

const (
	maxEventBodyBytes = 16 << 10
	maxEventTypeLen   = 50
	maxSeverityLen    = 20
	maxNoteLen        = 300
)

type addEventRequest struct {
	Type      string     `json:"type"`
	EventTime *time.Time `json:"eventTime"`
	Severity  string     `json:"severity"`
	Note      string     `json:"note"`
}

func (req addEventRequest) validate() error {
	v := validate.New()
	switch n := utf8.RuneCountInString(req.Type); {
	case strings.TrimSpace(req.Type) == "":
		v.AddError("type", "is required", req.Type)
	case n > maxEventTypeLen:
		v.AddError("type", "must be at most 50 characters", n)
	}
	if n := utf8.RuneCountInString(req.Severity); n > maxSeverityLen {
		v.AddError("severity", "must be at most 20 characters", n)
	}
	if n := utf8.RuneCountInString(req.Note); n > maxNoteLen {
		v.AddError("note", "must be at most 300 characters", n)
	}
	return v.Err()
}

// handleAddEvent records an event reported by the client against its own session.
// POST /api/sessions/{sessionId}/events
func (s *Server) handleAddEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionIDParam(w, r)
	if !ok {
		return
	}

	var req addEventRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEventBodyBytes)).Decode(&req); err != nil {
		problem.Write(w, r, http.StatusBadRequest, codeInvalidBody, "body must be a JSON object with a type")
		return
	}
	if err := req.validate(); err != nil {
		problem.Write(w, r, http.StatusBadRequest, codeInvalidBody, err.Error())
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

	occurred := time.Now()
	if req.EventTime != nil {
		occurred = *req.EventTime
	}
	ev, err := s.deps.Sessions.AppendEvent(r.Context(), model.Event{
		SessionID:  id,
		Type:       strings.TrimSpace(req.Type),
		Severity:   req.Severity,
		Note:       req.Note,
		OccurredAt: occurred,
	})
	if err != nil {
		s.writeSessionError(w, r, id, err)
		return
	}

	logger := xglog.WithContext(r.Context(), s.logger)
	logger.Info().
		Str(xglog.FieldEvent, "event.appended").
		Int64(xglog.FieldSessionID, id).
		Str("type", ev.Type).
		Msg("client event recorded")
	writeJSON(w, http.StatusCreated, ev)
}

package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/drivecast/internal/api/problem"
	"github.com/ManuGH/drivecast/internal/domain/driving/model"
)

// Problem codes.
const (
	codeUnauthorized     = "UNAUTHORIZED"
	codeForbidden        = "FORBIDDEN"
	codeNotFound         = "NOT_FOUND"
	codeInvalidSessionID = "INVALID_SESSION_ID"
	codeInvalidBody      = "INVALID_BODY"
	codeBodyTooLarge     = "BODY_TOO_LARGE"
	codeInvalidEndTime   = "INVALID_END_TIME"
	codeConflict         = "ALREADY_FINALIZED"
	codeUnavailable      = "UNAVAILABLE"
	codeInternal         = "INTERNAL"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// sessionIDParam parses the {sessionId} route parameter, writing a 400 when
// it is not a positive integer.
func sessionIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, ok := model.ParseID(chi.URLParam(r, "sessionId"))
	if !ok {
		problem.Write(w, r, http.StatusBadRequest, codeInvalidSessionID, "session id must be a positive integer")
		return 0, false
	}
	return id, true
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package problem writes RFC 7807 problem details responses.
package problem

import (
	"encoding/json"
	"net/http"

	xglog "github.com/ManuGH/drivecast/internal/log"
)

const (
	HeaderRequestID  = "X-Request-ID"
	JSONKeyRequestID = "requestId"
	ContentType      = "application/problem+json"
)

// Problem is the response body. Code is a stable machine-readable short code.
type Problem struct {
	Type      string `json:"type"`
	Title     string `json:"title"`
	Status    int    `json:"status"`
	Code      string `json:"code"`
	Detail    string `json:"detail,omitempty"`
	Instance  string `json:"instance,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// Write sends a problem response. The title is derived from status.
func Write(w http.ResponseWriter, r *http.Request, status int, code, detail string) {
	p := Problem{
		Type:   "about:blank",
		Title:  http.StatusText(status),
		Status: status,
		Code:   code,
		Detail: detail,
	}
	if r != nil {
		p.Instance = r.URL.EscapedPath()
		p.RequestID = xglog.RequestIDFromContext(r.Context())
	}
	if p.RequestID == "" {
		p.RequestID = w.Header().Get(HeaderRequestID)
	}
	if p.RequestID != "" {
		w.Header().Set(HeaderRequestID, p.RequestID)
	}

	w.Header().Set("Content-Type", ContentType)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(p); err != nil {
		xglog.L().Error().
			Err(err).
			Str("code", code).
			Int("status", status).
			Msg("failed to encode problem response")
	}
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"net/http"

	"github.com/ManuGH/drivecast/internal/api/problem"
	"github.com/ManuGH/drivecast/internal/auth"
	xglog "github.com/ManuGH/drivecast/internal/log"
)

// requireAuth rejects anonymous callers and stores the principal in the
// request context.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p *auth.Principal
		if s.deps.Auth != nil {
			p = s.deps.Auth.Authenticate(r, s.cfg.AllowQueryToken)
		}
		if p == nil {
			logger := xglog.WithContext(r.Context(), s.logger)
			logger.Warn().
				Str(xglog.FieldEvent, "auth.rejected").
				Str(xglog.FieldPath, r.URL.Path).
				Msg("missing or invalid token")
			problem.Write(w, r, http.StatusUnauthorized, codeUnauthorized, "a valid bearer token is required")
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
	})
}

func requireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !auth.PrincipalFromContext(r.Context()).HasScope(scope) {
				problem.Write(w, r, http.StatusForbidden, codeForbidden, "missing scope "+scope)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// authorizeCallback checks the worker's token when one is configured. The
// worker may send it in the query, which is how callback addresses carry it.
func (s *Server) authorizeCallback(r *http.Request) bool {
	if s.cfg.CallbackToken == "" {
		return true
	}
	return auth.AuthorizeRequest(r, s.cfg.CallbackToken, true)
}

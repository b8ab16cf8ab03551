// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package auth

import "net/http"

// Entry is one configured token.
type Entry struct {
	Token  string
	User   string
	Scopes []string
}

type tableEntry struct {
	token     string
	principal *Principal
}

// Table is an immutable set of static tokens.
type Table struct {
	entries []tableEntry
}

// NewTable builds a table. Entries with an empty token are skipped.
func NewTable(entries []Entry) *Table {
	t := &Table{}
	for _, e := range entries {
		if e.Token == "" {
			continue
		}
		t.entries = append(t.entries, tableEntry{
			token:     e.Token,
			principal: NewPrincipal(e.Token, e.User, e.Scopes),
		})
	}
	return t
}

// Len returns the number of configured tokens.
func (t *Table) Len() int { return len(t.entries) }

// Lookup resolves token to its principal. Every entry is compared so the
// time taken does not reveal which entry matched.
func (t *Table) Lookup(token string) (*Principal, bool) {
	if t == nil || token == "" {
		return nil, false
	}
	var found *Principal
	for _, e := range t.entries {
		if AuthorizeToken(token, e.token) && found == nil {
			found = e.principal
		}
	}
	return found, found != nil
}

// Authenticate resolves the principal for r, or nil for anonymous callers.
func (t *Table) Authenticate(r *http.Request, allowQuery bool) *Principal {
	p, _ := t.Lookup(ExtractToken(r, allowQuery))
	return p
}

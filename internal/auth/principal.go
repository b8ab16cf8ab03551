// Package auth resolves caller identity from static bearer tokens.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"slices"
)

// Scopes granted to token holders.
const (
	ScopeSessionRead  = "session:read"
	ScopeSessionWrite = "session:write"
)

// DefaultScopes apply to tokens configured without explicit scopes.
var DefaultScopes = []string{ScopeSessionRead, ScopeSessionWrite}

// Principal represents the authenticated identity of a caller.
type Principal struct {
	// ID is the stable, unique identifier for the user.
	// It is either the explicit User from config or a hash of the token.
	ID string

	// Scopes are the permissions granted to this principal.
	Scopes []string

	// User is the human-readable username if configured.
	User string
}

// NewPrincipal creates a Principal from a token and optional user/scopes.
func NewPrincipal(token string, user string, scopes []string) *Principal {
	id := user
	if id == "" {
		// "t_" prefix keeps derived IDs apart from configured user names.
		hash := sha256.Sum256([]byte(token))
		id = "t_" + hex.EncodeToString(hash[:])[:16]
	}
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}

	return &Principal{
		ID:     id,
		Scopes: slices.Clone(scopes),
		User:   user,
	}
}

// HasScope reports whether the principal was granted scope.
func (p *Principal) HasScope(scope string) bool {
	return p != nil && slices.Contains(p.Scopes, scope)
}

type principalKey struct{}

// WithPrincipal attaches p to ctx.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the principal attached by WithPrincipal, or nil.
func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey{}).(*Principal)
	return p
}

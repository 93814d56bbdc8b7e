package backend

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/oauth2"
)

// Principal is the authenticated user the client acts for.
type Principal interface {
	// OwnerID is the uid the status documents are stored under.
	OwnerID() string
	// Token returns a bearer token for the books API.
	Token(ctx context.Context) (string, error)
}

// TokenPrincipal draws bearer tokens from an oauth2.TokenSource.
type TokenPrincipal struct {
	ownerID string
	source  oauth2.TokenSource
}

// NewTokenPrincipal wraps source so tokens are cached until they expire.
func NewTokenPrincipal(ownerID string, source oauth2.TokenSource) *TokenPrincipal {
	return &TokenPrincipal{ownerID: strings.TrimSpace(ownerID), source: oauth2.ReuseTokenSource(nil, source)}
}

// NewStaticPrincipal uses a fixed ID token, as issued by the sign-in flow.
func NewStaticPrincipal(ownerID, idToken string) *TokenPrincipal {
	return NewTokenPrincipal(ownerID, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: strings.TrimSpace(idToken),
		TokenType:   "Bearer",
	}))
}

func (p *TokenPrincipal) OwnerID() string { return p.ownerID }

func (p *TokenPrincipal) Token(ctx context.Context) (string, error) {
	tok, err := p.source.Token()
	if err != nil {
		return "", fmt.Errorf("failed to obtain token: %w", err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("token source returned an empty token for %s", p.ownerID)
	}
	return tok.AccessToken, nil
}

// Session holds the current principal and tells listeners when the signed-in
// owner changes.
type Session struct {
	mu        sync.Mutex
	principal Principal
	listeners []func(Principal)
}

// NewSession creates a session; p may be nil for a signed-out client.
func NewSession(p Principal) *Session {
	return &Session{principal: p}
}

// Principal returns the current principal or nil.
func (s *Session) Principal() Principal {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.principal
}

// OnChange registers fn to run after the owner changes.
func (s *Session) OnChange(fn func(Principal)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Set swaps the principal. Listeners run only when the owner id differs, and
// never under the session lock.
func (s *Session) Set(p Principal) {
	s.mu.Lock()
	changed := ownerOf(s.principal) != ownerOf(p)
	s.principal = p
	listeners := append([]func(Principal){}, s.listeners...)
	s.mu.Unlock()

	if !changed {
		return
	}
	for _, fn := range listeners {
		fn(p)
	}
}

func ownerOf(p Principal) string {
	if p == nil {
		return ""
	}
	return p.OwnerID()
}

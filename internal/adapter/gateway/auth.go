package gateway

import (
	"crypto/subtle"

	"tutorstream/internal/domain"
	"tutorstream/internal/infra/config"
)

// ClientInfo holds metadata about an authenticated client.
type ClientInfo struct {
	Name   string
	UserID string
}

// Authenticator validates client tokens.
type Authenticator interface {
	Authenticate(token string) (*ClientInfo, error)
}

type authEntry struct {
	token []byte
	info  *ClientInfo
}

// StaticTokenAuth authenticates clients against a static token list
// using constant-time comparison.
type StaticTokenAuth struct {
	entries []authEntry
}

// NewStaticTokenAuth builds an authenticator from configured tokens.
// Entries with an empty token are skipped.
func NewStaticTokenAuth(tokens []config.SimTokenConfig) *StaticTokenAuth {
	a := &StaticTokenAuth{entries: make([]authEntry, 0, len(tokens))}
	for _, t := range tokens {
		if t.Token == "" {
			continue
		}
		a.entries = append(a.entries, authEntry{
			token: []byte(t.Token),
			info:  &ClientInfo{Name: t.Name, UserID: t.UserID},
		})
	}
	return a
}

// Authenticate returns a copy of the client info bound to token.
func (s *StaticTokenAuth) Authenticate(token string) (*ClientInfo, error) {
	tokenBytes := []byte(token)
	var found *ClientInfo
	for _, e := range s.entries {
		// Compare against every entry so timing does not reveal the match position.
		if subtle.ConstantTimeCompare(tokenBytes, e.token) == 1 && found == nil {
			found = e.info
		}
	}
	if found == nil {
		return nil, domain.ErrAuthInvalid
	}
	info := *found
	return &info, nil
}

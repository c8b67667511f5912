package auth

import (
	"strings"
	"sync"
)

// TokenSource supplies the bearer access token for REST calls and the
// realtime handshake.
type TokenSource interface {
	AccessToken() string
}

// TokenStore is session-scoped, in-memory token storage. Nothing is
// written to disk.
type TokenStore struct {
	mu           sync.RWMutex
	accessToken  string
	refreshToken string
}

// NewTokenStore returns a store seeded with accessToken.
func NewTokenStore(accessToken string) *TokenStore {
	s := &TokenStore{}
	s.Save(accessToken, "")
	return s
}

// Save replaces the stored tokens. Blank values are ignored.
func (s *TokenStore) Save(accessToken, refreshToken string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t := strings.TrimSpace(accessToken); t != "" {
		s.accessToken = t
	}
	if t := strings.TrimSpace(refreshToken); t != "" {
		s.refreshToken = t
	}
}

// AccessToken returns the current access token, or "" when none is stored.
func (s *TokenStore) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accessToken
}

// RefreshToken returns the current refresh token, or "".
func (s *TokenStore) RefreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refreshToken
}

// Clear forgets both tokens.
func (s *TokenStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessToken = ""
	s.refreshToken = ""
}

// BearerHeader formats token as an Authorization header value, or "" when
// token is blank.
func BearerHeader(token string) string {
	if strings.TrimSpace(token) == "" {
		return ""
	}
	return "Bearer " + token
}

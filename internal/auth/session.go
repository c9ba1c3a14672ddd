// Package auth holds the client's session context: who is signed in, or
// guest mode. The context is an explicitly constructed value handed down to
// the components that need it and replaced wholesale on sign-in, sign-out,
// and guest transitions; nothing mutates a live session in place.
package auth

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNotAuthenticated is returned by operations that require a signed-in
// (non-guest) user.
var ErrNotAuthenticated = errors.New("auth: not authenticated")

// Session is an immutable snapshot of the signed-in identity.
type Session struct {
	UserID    string
	Username  string
	Guest     bool
	ExpiresAt time.Time
}

// Authenticated reports whether the session carries a usable identity.
func (s *Session) Authenticated() bool {
	return s != nil && !s.Guest && s.UserID != ""
}

// GuestSession returns the unauthenticated session used before sign-in and
// after sign-out.
func GuestSession() *Session {
	return &Session{Guest: true}
}

// claims is the access-token payload issued by the hosted auth service.
type claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// FromToken verifies an access token and builds the session it describes.
func FromToken(tokenStr string, secret []byte) (*Session, error) {
	var c claims
	token, err := jwt.ParseWithClaims(tokenStr, &c, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("auth: unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("auth: parse token: %w", err)
	}
	if !token.Valid || c.Subject == "" {
		return nil, ErrNotAuthenticated
	}

	sess := &Session{
		UserID:   c.Subject,
		Username: c.Username,
	}
	if c.ExpiresAt != nil {
		sess.ExpiresAt = c.ExpiresAt.Time
	}
	return sess, nil
}

// Manager publishes the current session to concurrent readers. Writers
// replace the pointer wholesale, so a reader mid-use never observes a
// half-updated identity.
type Manager struct {
	current atomic.Pointer[Session]
}

// NewManager starts in guest mode, or with the given session if non-nil.
func NewManager(initial *Session) *Manager {
	m := &Manager{}
	if initial == nil {
		initial = GuestSession()
	}
	m.current.Store(initial)
	return m
}

// Current returns the active session. Never nil.
func (m *Manager) Current() *Session {
	return m.current.Load()
}

// SignIn replaces the active session.
func (m *Manager) SignIn(sess *Session) {
	if sess == nil {
		sess = GuestSession()
	}
	m.current.Store(sess)
}

// SignOut drops back to guest mode.
func (m *Manager) SignOut() {
	m.current.Store(GuestSession())
}

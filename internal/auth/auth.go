// Package auth gates the admin endpoints behind a shared password.
// It is a convenience for a single operator, not a security boundary.
package auth

import (
	"crypto/subtle"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// SessionTTL is how long a login stays valid.
const SessionTTL = 24 * time.Hour

// ErrInvalidPassword is returned by Login for a wrong password.
var ErrInvalidPassword = errors.New("invalid password")

// Session is an issued login.
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Checker verifies the admin password and tracks sessions.
type Checker struct {
	secret string
	now    func() time.Time

	mu       sync.Mutex
	sessions map[string]time.Time
}

// NewChecker creates a checker. secret may be a bcrypt hash or a plain
// password; an empty secret disables auth entirely.
func NewChecker(secret string) *Checker {
	return &Checker{
		secret:   secret,
		now:      time.Now,
		sessions: make(map[string]time.Time),
	}
}

// Enabled reports whether a password is configured.
func (c *Checker) Enabled() bool {
	return c.secret != ""
}

func (c *Checker) matches(password string) bool {
	if strings.HasPrefix(c.secret, "$2") {
		return bcrypt.CompareHashAndPassword([]byte(c.secret), []byte(password)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(c.secret), []byte(password)) == 1
}

// Login checks password and issues a session.
func (c *Checker) Login(password string) (Session, error) {
	if c.Enabled() && !c.matches(password) {
		return Session{}, ErrInvalidPassword
	}

	s := Session{Token: uuid.NewString(), ExpiresAt: c.now().Add(SessionTTL)}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prune()
	c.sessions[s.Token] = s.ExpiresAt
	return s, nil
}

// Valid reports whether token names a live session. Always true when auth
// is disabled.
func (c *Checker) Valid(token string) bool {
	if !c.Enabled() {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	exp, ok := c.sessions[token]
	if !ok {
		return false
	}
	if !c.now().Before(exp) {
		delete(c.sessions, token)
		return false
	}
	return true
}

// Logout ends a session.
func (c *Checker) Logout(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, token)
}

// prune drops expired sessions. Caller holds mu.
func (c *Checker) prune() {
	now := c.now()
	for token, exp := range c.sessions {
		if !now.Before(exp) {
			delete(c.sessions, token)
		}
	}
}

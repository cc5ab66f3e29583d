package core

import (
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rickcollette/kayveechat-server/models"
)

// DefaultSessionTTL is the absolute lifetime of a session.
const DefaultSessionTTL = time.Hour

// SessionDirectory issues, resolves and expires session tokens. All methods
// are safe for concurrent use; callers only ever get copies of sessions.
type SessionDirectory struct {
	mu       sync.Mutex
	sessions map[string]models.Session
	ttl      time.Duration
	now      func() time.Time
}

// NewSessionDirectory returns an empty directory. A non-positive ttl falls
// back to DefaultSessionTTL.
func NewSessionDirectory(ttl time.Duration) *SessionDirectory {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionDirectory{
		sessions: make(map[string]models.Session),
		ttl:      ttl,
		now:      time.Now,
	}
}

// TTL returns the configured session lifetime.
func (d *SessionDirectory) TTL() time.Duration {
	return d.ttl
}

// Create starts a session for the user and returns its token.
func (d *SessionDirectory) Create(userID int64, username string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for {
		token, err := newToken()
		if err != nil {
			return "", fmt.Errorf("generate session token: %w", err)
		}
		if _, taken := d.sessions[token]; taken {
			continue
		}
		d.sessions[token] = models.Session{
			Token:     token,
			UserID:    userID,
			Username:  username,
			CreatedAt: d.now(),
		}
		return token, nil
	}
}

// Get resolves a token. An expired session is removed and reported missing.
func (d *SessionDirectory) Get(token string) (models.Session, bool) {
	if token == "" {
		return models.Session{}, false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	s, ok := d.sessions[token]
	if !ok {
		return models.Session{}, false
	}
	if s.ExpiredAt(d.now(), d.ttl) {
		delete(d.sessions, token)
		return models.Session{}, false
	}
	return s, true
}

// Remove deletes the session if present.
func (d *SessionDirectory) Remove(token string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.sessions, token)
}

// Sweep drops every expired session and returns how many were dropped.
func (d *SessionDirectory) Sweep() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	removed := 0
	for token, s := range d.sessions {
		if s.ExpiredAt(now, d.ttl) {
			delete(d.sessions, token)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored sessions, expired or not.
func (d *SessionDirectory) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sessions)
}

// newToken returns 32 hex characters from a crypto/rand backed UUID.
func newToken() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(id[:]), nil
}

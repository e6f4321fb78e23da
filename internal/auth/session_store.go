// Package auth: server-side session tracking in Redis, so logout and
// forced re-authentication work without waiting for JWT expiry.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/pushi-dev/pushi/internal/cache"
)

// SessionStore tracks admin sessions in Redis.
type SessionStore struct {
	cache *cache.Cache
}

// SessionData is a stored session record.
type SessionData struct {
	SessionID string    `json:"session_id"`
	AdminID   string    `json:"admin_id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	IPAddress string    `json:"ip_address,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
}

// NewSessionStore creates a new session store.
func NewSessionStore(cache *cache.Cache) *SessionStore {
	return &SessionStore{cache: cache}
}

// GenerateSessionID creates a cryptographically random session ID.
func GenerateSessionID() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate session ID: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

// CreateSession stores a new session in Redis.
func (s *SessionStore) CreateSession(ctx context.Context, session *SessionData, ttl time.Duration) error {
	if !s.cache.IsEnabled() {
		return nil
	}
	return s.cache.Set(ctx, s.sessionKey(session.SessionID), session, ttl)
}

// GetSession retrieves a session from Redis.
func (s *SessionStore) GetSession(ctx context.Context, sessionID string) (*SessionData, error) {
	if !s.cache.IsEnabled() {
		return nil, nil
	}
	var session SessionData
	if err := s.cache.Get(ctx, s.sessionKey(sessionID), &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// ValidateSession checks if a session exists and is valid.
func (s *SessionStore) ValidateSession(ctx context.Context, sessionID string) (bool, error) {
	if !s.cache.IsEnabled() {
		return true, nil
	}
	return s.cache.Exists(ctx, s.sessionKey(sessionID))
}

// DeleteSession removes a session from Redis (logout).
func (s *SessionStore) DeleteSession(ctx context.Context, sessionID string) error {
	if !s.cache.IsEnabled() {
		return nil
	}
	return s.cache.Delete(ctx, s.sessionKey(sessionID))
}

// DeleteAdminSessions removes all sessions for a specific admin.
func (s *SessionStore) DeleteAdminSessions(ctx context.Context, adminID string) error {
	if !s.cache.IsEnabled() {
		return nil
	}
	pattern := fmt.Sprintf("session:admin:%s:*", adminID)
	return s.cache.DeletePattern(ctx, pattern)
}

// ClearAllSessions removes every session (forces global re-login).
func (s *SessionStore) ClearAllSessions(ctx context.Context) error {
	if !s.cache.IsEnabled() {
		return nil
	}
	return s.cache.DeletePattern(ctx, cache.AllSessionsPattern())
}

// RefreshSession extends the TTL of an existing session.
func (s *SessionStore) RefreshSession(ctx context.Context, sessionID string, newExpiresAt time.Time) error {
	if !s.cache.IsEnabled() {
		return nil
	}

	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	session.ExpiresAt = newExpiresAt

	ttl := time.Until(newExpiresAt)
	if ttl <= 0 {
		return s.DeleteSession(ctx, sessionID)
	}
	return s.cache.Set(ctx, s.sessionKey(sessionID), session, ttl)
}

func (s *SessionStore) sessionKey(sessionID string) string {
	return cache.SessionKey(sessionID)
}

// IsEnabled reports whether session tracking is active.
func (s *SessionStore) IsEnabled() bool {
	return s.cache != nil && s.cache.IsEnabled()
}

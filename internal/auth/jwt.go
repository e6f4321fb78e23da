// Package auth implements the session-based admin login half of the HTTP
// publish auth policy in spec section 4.5: "session-based admin login
// (username/password) OR, for machine publishers, presenting
// (app_id, app_key, app_secret)". This file covers the former.
//
// Tokens are signed JWTs (HS256) carrying a server-tracked session ID
// (the jti claim) so logout and forced re-authentication are possible
// without waiting out the token's natural expiration — the session record
// lives in Redis via SessionStore, not just in the token itself.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pushi-dev/pushi/internal/cache"
)

// JWTConfig holds the admin-token signing configuration. SecretKey must be
// cryptographically random and at least 32 bytes.
type JWTConfig struct {
	SecretKey     string
	Issuer        string
	TokenDuration time.Duration
}

// Claims are the custom JWT claims for an authenticated admin session.
type Claims struct {
	AdminID  string `json:"admin_id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// JWTManager issues and validates admin session tokens.
type JWTManager struct {
	config       *JWTConfig
	sessionStore *SessionStore
}

// NewJWTManager creates a manager with default issuer/duration if unset.
func NewJWTManager(config *JWTConfig) *JWTManager {
	if config.TokenDuration == 0 {
		config.TokenDuration = 24 * time.Hour
	}
	if config.Issuer == "" {
		config.Issuer = "pushi"
	}
	return &JWTManager{config: config}
}

// NewJWTManagerWithSessions creates a manager backed by Redis session
// tracking, enabling logout and forced re-authentication.
func NewJWTManagerWithSessions(config *JWTConfig, cacheClient *cache.Cache) *JWTManager {
	manager := NewJWTManager(config)
	manager.sessionStore = NewSessionStore(cacheClient)
	return manager
}

// SetSessionStore attaches (or replaces) the session store.
func (m *JWTManager) SetSessionStore(store *SessionStore) {
	m.sessionStore = store
}

// GetSessionStore returns the attached session store, if any.
func (m *JWTManager) GetSessionStore() *SessionStore {
	return m.sessionStore
}

// GenerateToken issues a token for an authenticated admin.
func (m *JWTManager) GenerateToken(adminID, username string) (string, error) {
	return m.GenerateTokenWithContext(context.Background(), adminID, username, "", "")
}

// GenerateTokenWithContext issues a token and, if a session store is
// attached, records the session so it can later be revoked.
func (m *JWTManager) GenerateTokenWithContext(ctx context.Context, adminID, username, ipAddress, userAgent string) (string, error) {
	now := time.Now()
	expiresAt := now.Add(m.config.TokenDuration)

	sessionID, err := GenerateSessionID()
	if err != nil {
		return "", fmt.Errorf("failed to generate session ID: %w", err)
	}

	claims := &Claims{
		AdminID:  adminID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        sessionID,
			Issuer:    m.config.Issuer,
			Subject:   adminID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	// Signing method is pinned to HS256; ValidateToken rejects anything
	// else to prevent algorithm-substitution attacks ("none", RS256 signed
	// with the secret treated as an HMAC key, etc).
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(m.config.SecretKey))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	if m.sessionStore != nil && m.sessionStore.IsEnabled() {
		session := &SessionData{
			SessionID: sessionID,
			AdminID:   adminID,
			Username:  username,
			CreatedAt: now,
			ExpiresAt: expiresAt,
			IPAddress: ipAddress,
			UserAgent: userAgent,
		}
		if err := m.sessionStore.CreateSession(ctx, session, m.config.TokenDuration); err != nil {
			fmt.Printf("warning: failed to store session in redis: %v\n", err)
		}
	}

	return tokenString, nil
}

// InvalidateSession revokes a single session (logout).
func (m *JWTManager) InvalidateSession(ctx context.Context, sessionID string) error {
	if m.sessionStore == nil {
		return nil
	}
	return m.sessionStore.DeleteSession(ctx, sessionID)
}

// InvalidateAdminSessions revokes every session for one admin.
func (m *JWTManager) InvalidateAdminSessions(ctx context.Context, adminID string) error {
	if m.sessionStore == nil {
		return nil
	}
	return m.sessionStore.DeleteAdminSessions(ctx, adminID)
}

// ValidateSession checks the session still exists server-side.
func (m *JWTManager) ValidateSession(ctx context.Context, sessionID string) (bool, error) {
	if m.sessionStore == nil {
		return true, nil
	}
	return m.sessionStore.ValidateSession(ctx, sessionID)
}

// ClearAllSessions revokes every tracked session (e.g. on restart).
func (m *JWTManager) ClearAllSessions(ctx context.Context) error {
	if m.sessionStore == nil {
		return nil
	}
	return m.sessionStore.ClearAllSessions(ctx)
}

// ValidateToken verifies signature, algorithm, and expiry, returning claims.
func (m *JWTManager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(m.config.SecretKey), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// RefreshToken issues a new token (with a new session) for a still-valid
// token that has 7 days or less remaining; a token with more time left is
// rejected. The new token can itself be refreshed the same way.
func (m *JWTManager) RefreshToken(tokenString string) (string, error) {
	claims, err := m.ValidateToken(tokenString)
	if err != nil {
		return "", err
	}

	remaining := time.Until(claims.ExpiresAt.Time)
	if remaining < 0 {
		return "", errors.New("token has already expired")
	}
	if remaining > 7*24*time.Hour {
		return "", errors.New("token not eligible for refresh yet")
	}

	return m.GenerateToken(claims.AdminID, claims.Username)
}

// ExtractAdminID validates tokenString and returns its admin_id claim.
func (m *JWTManager) ExtractAdminID(tokenString string) (string, error) {
	claims, err := m.ValidateToken(tokenString)
	if err != nil {
		return "", err
	}
	return claims.AdminID, nil
}

// GetTokenDuration returns the configured token lifetime.
func (m *JWTManager) GetTokenDuration() time.Duration {
	return m.config.TokenDuration
}

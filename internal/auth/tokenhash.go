// Package auth provides admin session auth and app credential generation.
//
// App key/secret pairs are generated here: key is a public hex identifier
// sent over the wire (URL path, HTTP bodies), secret is the HMAC key used
// by internal/signer and must never leave the server after creation.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// TokenHasher generates app credentials and hashes admin passwords.
type TokenHasher struct {
	bcryptCost int
}

// NewTokenHasher creates a new token hasher with the default bcrypt cost.
func NewTokenHasher() *TokenHasher {
	return &TokenHasher{bcryptCost: bcrypt.DefaultCost}
}

// GenerateAppKey returns a 64-char lowercase hex app key, the format the
// WebSocket upgrade path requires as the last URL segment (spec section 4.1).
func (t *TokenHasher) GenerateAppKey() (string, error) {
	return randomHex(32)
}

// GenerateAppSecret returns a 64-char lowercase hex HMAC secret.
func (t *TokenHasher) GenerateAppSecret() (string, error) {
	return randomHex(32)
}

// HashPassword hashes an admin password for storage.
func (t *TokenHasher) HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), t.bcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashed), nil
}

// VerifyPassword checks a plaintext password against its bcrypt hash.
func (t *TokenHasher) VerifyPassword(password, hashed string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(password)) == nil
}

func randomHex(n int) (string, error) {
	bytes := make([]byte, n)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random token: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

// Package cache provides Redis-based caching for Pushi.
//
// Admin session records (internal/auth.SessionStore) are the only thing
// cached. AppByKeyKey and AppPattern name keys for App records, but nothing
// writes App records to the cache; WebSocket handshakes resolve app keys
// from the broker's in-memory registry.
package cache

import "fmt"

const (
	PrefixSession = "session"
	PrefixApp     = "app"
)

// SessionKey is the Redis key for an admin session, keyed by its jti.
func SessionKey(sessionID string) string {
	return fmt.Sprintf("%s:%s", PrefixSession, sessionID)
}

// AllSessionsPattern matches every tracked session (used on full logout).
func AllSessionsPattern() string {
	return fmt.Sprintf("%s:*", PrefixSession)
}

// AppByKeyKey caches an App record by its public wire key.
func AppByKeyKey(appKey string) string {
	return fmt.Sprintf("%s:key:%s", PrefixApp, appKey)
}

// AppPattern matches every cached App record, invalidated on any app update.
func AppPattern() string {
	return fmt.Sprintf("%s:*", PrefixApp)
}

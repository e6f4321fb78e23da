// Package signer implements the HMAC-SHA256 channel admission signature
// used for private/presence/peer channel subscriptions (spec section 4.5).
package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
)

// Sign computes the hex HMAC-SHA256 digest of "socketID:channel" under the
// given app secret.
func Sign(secret, socketID, channel string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(socketID + ":" + channel))
	return hex.EncodeToString(mac.Sum(nil))
}

// Token builds the full auth token a client sends back on subscribe:
// "<app_key>:<hex digest>".
func Token(appKey, secret, socketID, channel string) string {
	return appKey + ":" + Sign(secret, socketID, channel)
}

// Verify checks a client-supplied auth token against the expected
// app_key/secret/socketID/channel combination. Comparison is constant-time.
func Verify(token, appKey, secret, socketID, channel string) error {
	parts := strings.SplitN(token, ":", 2)
	if len(parts) != 2 {
		return fmt.Errorf("malformed auth token")
	}
	if parts[0] != appKey {
		return fmt.Errorf("auth token app_key mismatch")
	}

	want := Sign(secret, socketID, channel)
	if subtle.ConstantTimeCompare([]byte(parts[1]), []byte(want)) != 1 {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}

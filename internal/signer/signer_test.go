package signer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	secret := "app-secret"
	appKey := "app-key"
	socketID := "socket-1"
	channel := "private-room"

	token := Token(appKey, secret, socketID, channel)
	assert.NoError(t, Verify(token, appKey, secret, socketID, channel))
}

func TestVerifyRejectsBitFlip(t *testing.T) {
	secret := "app-secret"
	appKey := "app-key"
	socketID := "socket-1"
	channel := "private-room"

	token := Token(appKey, secret, socketID, channel)
	tampered := token[:len(token)-1] + "0"
	if tampered == token {
		tampered = token[:len(token)-1] + "1"
	}

	assert.Error(t, Verify(tampered, appKey, secret, socketID, channel))
}

func TestVerifyRejectsAppKeyMismatch(t *testing.T) {
	secret := "app-secret"
	token := Token("app-key", secret, "socket-1", "private-room")

	err := Verify(token, "other-key", secret, "socket-1", "private-room")
	assert.Error(t, err)
}

func TestVerifyRejectsMalformedToken(t *testing.T) {
	err := Verify("not-a-valid-token", "app-key", "secret", "socket-1", "private-room")
	assert.Error(t, err)
}

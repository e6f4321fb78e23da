package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type TestPublishRequest struct {
	Channel string `json:"channel" validate:"required,channelname"`
	Event   string `json:"event" validate:"required,eventname"`
	Name    string `json:"name" validate:"required,min=3,max=100"`
}

func TestValidateStruct_Success(t *testing.T) {
	req := TestPublishRequest{Channel: "news", Event: "hello", Name: "My App"}
	assert.NoError(t, ValidateStruct(req))
}

func TestValidateStruct_RequiredFields(t *testing.T) {
	err := ValidateStruct(TestPublishRequest{})
	assert.Error(t, err)
}

func TestValidateRequest_MultipleErrors(t *testing.T) {
	req := TestPublishRequest{Channel: "", Event: "has spaces", Name: "ab"}

	errs := ValidateRequest(req)
	assert.NotNil(t, errs)
	assert.Contains(t, errs, "channel")
	assert.Contains(t, errs, "event")
	assert.Contains(t, errs, "name")
}

func TestEventName_Valid(t *testing.T) {
	for _, name := range []string{"hello", "pusher:subscribe", "client-event_1", "order-created"} {
		assert.True(t, EventName(name), "expected %q to be a valid event name", name)
	}
}

func TestEventName_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		event string
	}{
		{"empty", ""},
		{"spaces", "has spaces"},
		{"too long", string(make([]byte, 201))},
		{"slash", "has/slash"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.False(t, EventName(tt.event))
		})
	}
}

func TestChannelName_Valid(t *testing.T) {
	for _, name := range []string{"news", "private-room", "presence-chat", "peer-game:u1_u2", "personal-u1"} {
		assert.True(t, ChannelName(name), "expected %q to be a valid channel name", name)
	}
}

func TestChannelName_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		channel string
	}{
		{"empty", ""},
		{"spaces", "has spaces"},
		{"too long", string(make([]byte, 201))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.False(t, ChannelName(tt.channel))
		})
	}
}

func TestFormatValidationError(t *testing.T) {
	req := TestPublishRequest{Channel: "", Event: "bad event", Name: ""}

	errs := ValidateRequest(req)
	assert.NotNil(t, errs)
	for field, msg := range errs {
		assert.NotEmpty(t, msg, "error message should not be empty for field: %s", field)
	}
}

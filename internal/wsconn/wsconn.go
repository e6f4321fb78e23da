// Package wsconn is the WebSocket transport layer (spec section 4.1,
// "ConnectionManager"). It owns the wire protocol (handshake, frame
// encode/decode, per-connection outbound queue, limit enforcement) and
// knows nothing about channels, presence, or adapters: every inbound frame
// is handed to a Router, which is implemented by internal/broker.
//
// RFC 6455 framing (masking, extended length, the close handshake) is
// delegated to gorilla/websocket rather than hand-rolled, matching how the
// teacher's hub builds on the same library.
package wsconn

import (
	"encoding/json"
	"fmt"
)

// State is a connection's position in the state machine from spec
// section 4.7: ACCEPTED -> HANDSHAKING -> OPEN -> CLOSING -> CLOSED.
type State int32

const (
	StateAccepted State = iota
	StateHandshaking
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAccepted:
		return "accepted"
	case StateHandshaking:
		return "handshaking"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Frame is the Pusher-style wire envelope: every inbound and outbound
// message is one JSON object shaped like this.
type Frame struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Well-known event names (spec section 4.1's dispatch table and section
// 4.7's connection lifecycle frame).
const (
	EventConnectionEstablished = "pusher:connection_established"
	EventSubscribe             = "pusher:subscribe"
	EventUnsubscribe           = "pusher:unsubscribe"
	EventLatest                = "pusher:latest"
	EventError                 = "pusher:error"
	EventSubscriptionSucceeded   = "pusher_internal:subscription_succeeded"
	EventUnsubscriptionSucceeded = "pusher_internal:unsubscription_succeeded"
	EventLatestReply             = "pusher_internal:latest"
	EventMemberAdded             = "pusher_internal:member_added"
	EventMemberRemoved           = "pusher_internal:member_removed"
)

// subscribePayload is the "data" object of a pusher:subscribe frame.
type subscribePayload struct {
	Channel     string          `json:"channel"`
	Auth        string          `json:"auth,omitempty"`
	ChannelData json.RawMessage `json:"channel_data,omitempty"`
}

// latestPayload is the "data" object of a pusher:latest frame.
type latestPayload struct {
	Channel string `json:"channel"`
	Skip    int    `json:"skip,omitempty"`
	Count   int    `json:"count,omitempty"`
}

// EncodeFrame marshals event/channel/data into a wire Frame.
func EncodeFrame(event, channel string, data json.RawMessage) ([]byte, error) {
	frame := Frame{Event: event, Channel: channel, Data: data}
	b, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("encode frame %s: %w", event, err)
	}
	return b, nil
}

// EncodeJSON marshals event/channel/payload, JSON-encoding payload first and
// placing it in "data" as a nested value. This is the shape client-sent
// frames use (pusher:subscribe's channel_data, for instance); the server
// emits it only for pusher:error (ErrorFrame), every other server event uses
// EncodeJSONString.
func EncodeJSON(event, channel string, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload for %s: %w", event, err)
	}
	return EncodeFrame(event, channel, data)
}

// EncodeJSONString marshals payload to JSON and re-encodes that as the
// string held by "data", the Pusher convention every server-to-client
// event other than pusher:error follows (spec section 8, scenarios 1-2;
// original_source/src/pushi/net/server.py's uniform data=json.dumps(...)).
func EncodeJSONString(event, channel string, payload interface{}) ([]byte, error) {
	inner, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload for %s: %w", event, err)
	}
	data, err := json.Marshal(string(inner))
	if err != nil {
		return nil, fmt.Errorf("encode payload string for %s: %w", event, err)
	}
	return EncodeFrame(event, channel, data)
}

// ErrorFrame builds a pusher:error frame body.
func ErrorFrame(message string) []byte {
	b, _ := EncodeJSON(EventError, "", map[string]string{"message": message})
	return b
}

// Router is implemented by the broker. ConnectionManager dispatches every
// decoded inbound frame to one of these methods and calls Disconnect once
// the connection has fully closed, so the broker can unsubscribe it from
// every channel it had joined (spec section 4.7).
type Router interface {
	Subscribe(conn *Connection, channel, auth string, channelData json.RawMessage) error
	Unsubscribe(conn *Connection, channel string) error
	Latest(conn *Connection, channel string, skip, count int) error
	ClientEvent(conn *Connection, event, channel string, data json.RawMessage) error
	Disconnect(conn *Connection)
}

// AppResolver maps the path-embedded app_key to an app_id, or reports that
// no such App exists (spec section 4.1: "must ... match an App or the
// connection is closed").
type AppResolver interface {
	ResolveKey(key string) (appID string, ok bool)
}

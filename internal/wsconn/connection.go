package wsconn

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/pushi-dev/pushi/internal/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendQueueDepth = 256
)

// Connection is one accepted WebSocket socket. Its socket_id is the
// identity the broker keys ChannelStore membership by.
type Connection struct {
	id       string
	appID    string
	remoteIP string

	conn    *websocket.Conn
	manager *Manager
	limiter *rate.Limiter

	send chan []byte

	state     int32
	closeOnce sync.Once
}

// ID returns the connection's socket_id.
func (c *Connection) ID() string { return c.id }

// AppID returns the app this connection authenticated against.
func (c *Connection) AppID() string { return c.appID }

// RemoteIP returns the connection's originating address.
func (c *Connection) RemoteIP() string { return c.remoteIP }

// State returns the connection's current lifecycle state.
func (c *Connection) State() State {
	return State(atomic.LoadInt32(&c.state))
}

func (c *Connection) setState(s State) {
	atomic.StoreInt32(&c.state, int32(s))
}

// Send enqueues a pre-encoded frame for delivery. A full queue marks the
// connection a slow consumer and closes it (spec section 4.1).
func (c *Connection) Send(payload []byte) {
	if c.State() >= StateClosing {
		return
	}
	select {
	case c.send <- payload:
	default:
		logger.WebSocket().Warn().Str("socket_id", c.id).Msg("outbound queue full, disconnecting slow consumer")
		c.Close()
	}
}

// SendJSON encodes event/channel/payload as a server-to-client frame and
// enqueues it, stringifying payload into "data" per the Pusher convention
// (EncodeJSONString).
func (c *Connection) SendJSON(event, channel string, payload interface{}) {
	b, err := EncodeJSONString(event, channel, payload)
	if err != nil {
		logger.WebSocket().Error().Err(err).Str("event", event).Msg("failed to encode outbound frame")
		return
	}
	c.Send(b)
}

// SendRaw encodes event/channel/data and enqueues it without re-encoding
// data: used when data is already the finished wire value (a published
// event's data, normalized once by the broker's Trigger).
func (c *Connection) SendRaw(event, channel string, data json.RawMessage) {
	b, err := EncodeFrame(event, channel, data)
	if err != nil {
		logger.WebSocket().Error().Err(err).Str("event", event).Msg("failed to encode outbound frame")
		return
	}
	c.Send(b)
}

// SendError sends a pusher:error frame describing message.
func (c *Connection) SendError(message string) {
	c.Send(ErrorFrame(message))
}

// Close initiates connection teardown. Safe to call multiple times and
// from any goroutine.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		c.setState(StateClosing)
		c.manager.unregister(c)
	})
}

// writePump drains the outbound queue to the socket and keeps the
// connection alive with periodic pings. Exits (and closes the transport)
// when the queue is closed or a write fails.
func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)
			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads frames off the socket, enforces the per-connection rate
// limit and message size bound, and dispatches decoded frames to the
// router. Returns (and triggers Close) on any transport error, protocol
// violation, or limit breach.
func (c *Connection) readPump() {
	defer c.Close()

	c.conn.SetReadLimit(int64(c.manager.cfg.MaxMessageSize))
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				logger.WebSocket().Debug().Str("socket_id", c.id).Err(err).Msg("connection closed")
			}
			return
		}

		if !c.limiter.Allow() {
			c.SendError("rate limit exceeded")
			return
		}

		var frame Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			c.SendError("malformed frame")
			return
		}

		if err := c.dispatch(frame); err != nil {
			c.SendError(err.Error())
		}
	}
}

func (c *Connection) dispatch(frame Frame) error {
	switch frame.Event {
	case EventSubscribe:
		var payload subscribePayload
		if err := json.Unmarshal(frame.Data, &payload); err != nil {
			return errMalformed("subscribe")
		}
		return c.manager.router.Subscribe(c, payload.Channel, payload.Auth, payload.ChannelData)

	case EventUnsubscribe:
		var payload subscribePayload
		if err := json.Unmarshal(frame.Data, &payload); err != nil {
			return errMalformed("unsubscribe")
		}
		return c.manager.router.Unsubscribe(c, payload.Channel)

	case EventLatest:
		var payload latestPayload
		if err := json.Unmarshal(frame.Data, &payload); err != nil {
			return errMalformed("latest")
		}
		return c.manager.router.Latest(c, payload.Channel, payload.Skip, payload.Count)

	default:
		return c.manager.router.ClientEvent(c, frame.Event, frame.Channel, frame.Data)
	}
}

func errMalformed(op string) error {
	return &protocolError{op: op}
}

type protocolError struct{ op string }

func (e *protocolError) Error() string { return "malformed " + e.op + " frame" }

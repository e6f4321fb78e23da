package broker

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pushi-dev/pushi/internal/app"
	"github.com/pushi-dev/pushi/internal/config"
	"github.com/pushi-dev/pushi/internal/signer"
	"github.com/pushi-dev/pushi/internal/wsconn"
)

func testApp() *app.App {
	return &app.App{ID: "app-1", Key: "key1", Secret: "secret1", Name: "test"}
}

func newTestBroker(t *testing.T, apps ...*app.App) (*Broker, *httptest.Server) {
	t.Helper()

	repo := &fakeRepo{apps: apps}
	b := New(repo, config.Config{})
	require.NoError(t, b.Load(t.Context()))

	mgr := wsconn.NewManager(config.Config{MaxMessageSize: 10240, RateLimitPerSecond: 100, RateLimitBurst: 100}, b, b)
	b.AttachManager(mgr)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		appKey := strings.TrimPrefix(r.URL.Path, "/app/")
		mgr.ServeWS(w, r, appKey)
	}))
	t.Cleanup(server.Close)
	return b, server
}

func dial(t *testing.T, server *httptest.Server, appKey string) (*websocket.Conn, string) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/app/" + appKey
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var frame wsconn.Frame
	require.NoError(t, json.Unmarshal(raw, &frame))
	require.Equal(t, wsconn.EventConnectionEstablished, frame.Event)
	var payload string
	require.NoError(t, json.Unmarshal(frame.Data, &payload))
	var data map[string]string
	require.NoError(t, json.Unmarshal([]byte(payload), &data))
	return conn, data["socket_id"]
}

func send(t *testing.T, conn *websocket.Conn, event, channel string, data interface{}) {
	t.Helper()
	raw, err := wsconn.EncodeJSON(event, channel, data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, raw))
}

func readFrame(t *testing.T, conn *websocket.Conn) wsconn.Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var frame wsconn.Frame
	require.NoError(t, json.Unmarshal(raw, &frame))
	return frame
}

func TestSubscribePublicChannelSucceeds(t *testing.T) {
	_, server := newTestBroker(t, testApp())
	conn, _ := dial(t, server, "key1")

	send(t, conn, wsconn.EventSubscribe, "", map[string]string{"channel": "news"})

	frame := readFrame(t, conn)
	assert.Equal(t, wsconn.EventSubscriptionSucceeded, frame.Event)
	assert.Equal(t, "news", frame.Channel)
}

func TestSubscribePrivateChannelRejectsInvalidAuth(t *testing.T) {
	_, server := newTestBroker(t, testApp())
	conn, _ := dial(t, server, "key1")

	send(t, conn, wsconn.EventSubscribe, "", map[string]string{"channel": "private-orders", "auth": "bogus"})

	frame := readFrame(t, conn)
	assert.Equal(t, wsconn.EventError, frame.Event)
}

func TestSubscribePrivateChannelAcceptsValidAuth(t *testing.T) {
	_, server := newTestBroker(t, testApp())
	conn, socketID := dial(t, server, "key1")

	token := signer.Token("key1", "secret1", socketID, "private-orders")
	send(t, conn, wsconn.EventSubscribe, "", map[string]string{"channel": "private-orders", "auth": token})

	frame := readFrame(t, conn)
	assert.Equal(t, wsconn.EventSubscriptionSucceeded, frame.Event)
	assert.Equal(t, "private-orders", frame.Channel)
}

func TestPresenceMemberAddedBroadcastOnFirstJoin(t *testing.T) {
	_, server := newTestBroker(t, testApp())
	connA, socketA := dial(t, server, "key1")
	connB, socketB := dial(t, server, "key1")

	tokenA := signer.Token("key1", "secret1", socketA, "presence-chat")
	send(t, connA, wsconn.EventSubscribe, "", map[string]interface{}{
		"channel": "presence-chat", "auth": tokenA,
		"channel_data": json.RawMessage(`{"user_id":"alice"}`),
	})
	require.Equal(t, wsconn.EventSubscriptionSucceeded, readFrame(t, connA).Event)

	tokenB := signer.Token("key1", "secret1", socketB, "presence-chat")
	send(t, connB, wsconn.EventSubscribe, "", map[string]interface{}{
		"channel": "presence-chat", "auth": tokenB,
		"channel_data": json.RawMessage(`{"user_id":"bob"}`),
	})
	require.Equal(t, wsconn.EventSubscriptionSucceeded, readFrame(t, connB).Event)

	memberAdded := readFrame(t, connA)
	assert.Equal(t, wsconn.EventMemberAdded, memberAdded.Event)
	assert.Equal(t, "presence-chat", memberAdded.Channel)
}

func TestPeerChannelAutoWiredOnPeerJoin(t *testing.T) {
	_, server := newTestBroker(t, testApp())
	connA, socketA := dial(t, server, "key1")
	connB, socketB := dial(t, server, "key1")

	tokenA := signer.Token("key1", "secret1", socketA, "presence-game")
	send(t, connA, wsconn.EventSubscribe, "", map[string]interface{}{
		"channel": "presence-game", "auth": tokenA,
		"channel_data": json.RawMessage(`{"user_id":"alice","peer":true}`),
	})
	require.Equal(t, wsconn.EventSubscriptionSucceeded, readFrame(t, connA).Event)

	tokenB := signer.Token("key1", "secret1", socketB, "presence-game")
	send(t, connB, wsconn.EventSubscribe, "", map[string]interface{}{
		"channel": "presence-game", "auth": tokenB,
		"channel_data": json.RawMessage(`{"user_id":"bob","peer":true}`),
	})
	// connB is wired into the peer channel before its presence subscribe is
	// acknowledged, so the peer channel's subscription_succeeded comes first.
	peerSubB := readFrame(t, connB)
	assert.Equal(t, wsconn.EventSubscriptionSucceeded, peerSubB.Event)
	require.Equal(t, wsconn.EventSubscriptionSucceeded, readFrame(t, connB).Event)

	// connA receives member_added for bob, then its own peer channel subscription_succeeded.
	memberAdded := readFrame(t, connA)
	assert.Equal(t, wsconn.EventMemberAdded, memberAdded.Event)

	peerSubA := readFrame(t, connA)
	assert.Equal(t, wsconn.EventSubscriptionSucceeded, peerSubA.Event)
	assert.True(t, strings.HasPrefix(peerSubA.Channel, "peer-game:"))

	assert.Equal(t, peerSubA.Channel, peerSubB.Channel, "sorted-pair naming must yield the same channel on both endpoints")
}

func TestClientEventRejectedWhenNotSubscribed(t *testing.T) {
	_, server := newTestBroker(t, testApp())
	conn, _ := dial(t, server, "key1")

	send(t, conn, "client-typing", "news", map[string]string{"user": "bob"})

	frame := readFrame(t, conn)
	assert.Equal(t, wsconn.EventError, frame.Event)
}

func TestTriggerDeliversToLiveSubscribers(t *testing.T) {
	b, server := newTestBroker(t, testApp())
	conn, _ := dial(t, server, "key1")

	send(t, conn, wsconn.EventSubscribe, "", map[string]string{"channel": "news"})
	require.Equal(t, wsconn.EventSubscriptionSucceeded, readFrame(t, conn).Event)

	require.NoError(t, b.Trigger(t.Context(), "app-1", "headline", `{"title":"hi"}`, []string{"news"}, "", true, false))

	frame := readFrame(t, conn)
	assert.Equal(t, "headline", frame.Event)
	var data string
	require.NoError(t, json.Unmarshal(frame.Data, &data))
	assert.JSONEq(t, `{"title":"hi"}`, data)
}

func TestDisconnectBroadcastsMemberRemoved(t *testing.T) {
	_, server := newTestBroker(t, testApp())
	connA, socketA := dial(t, server, "key1")
	connB, socketB := dial(t, server, "key1")

	tokenA := signer.Token("key1", "secret1", socketA, "presence-chat")
	send(t, connA, wsconn.EventSubscribe, "", map[string]interface{}{
		"channel": "presence-chat", "auth": tokenA,
		"channel_data": json.RawMessage(`{"user_id":"alice"}`),
	})
	require.Equal(t, wsconn.EventSubscriptionSucceeded, readFrame(t, connA).Event)

	tokenB := signer.Token("key1", "secret1", socketB, "presence-chat")
	send(t, connB, wsconn.EventSubscribe, "", map[string]interface{}{
		"channel": "presence-chat", "auth": tokenB,
		"channel_data": json.RawMessage(`{"user_id":"bob"}`),
	})
	require.Equal(t, wsconn.EventSubscriptionSucceeded, readFrame(t, connB).Event)
	require.Equal(t, wsconn.EventMemberAdded, readFrame(t, connA).Event)

	require.NoError(t, connB.Close())

	frame := readFrame(t, connA)
	assert.Equal(t, wsconn.EventMemberRemoved, frame.Event)
}

func TestSubscribeRejectsWhenMaxChannelsPerSocketReached(t *testing.T) {
	repo := &fakeRepo{apps: []*app.App{testApp()}}
	b := New(repo, config.Config{MaxChannelsPerSocket: 1})
	require.NoError(t, b.Load(t.Context()))

	mgr := wsconn.NewManager(config.Config{MaxMessageSize: 10240, RateLimitPerSecond: 100, RateLimitBurst: 100}, b, b)
	b.AttachManager(mgr)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		appKey := strings.TrimPrefix(r.URL.Path, "/app/")
		mgr.ServeWS(w, r, appKey)
	}))
	t.Cleanup(server.Close)

	conn, _ := dial(t, server, "key1")

	send(t, conn, wsconn.EventSubscribe, "", map[string]string{"channel": "news"})
	require.Equal(t, wsconn.EventSubscriptionSucceeded, readFrame(t, conn).Event)

	send(t, conn, wsconn.EventSubscribe, "", map[string]string{"channel": "weather"})
	frame := readFrame(t, conn)
	assert.Equal(t, wsconn.EventError, frame.Event)
}

func TestSubscribeRejectsWhenMaxSocketsPerChannelReached(t *testing.T) {
	repo := &fakeRepo{apps: []*app.App{testApp()}}
	b := New(repo, config.Config{MaxSocketsPerChannel: 1})
	require.NoError(t, b.Load(t.Context()))

	mgr := wsconn.NewManager(config.Config{MaxMessageSize: 10240, RateLimitPerSecond: 100, RateLimitBurst: 100}, b, b)
	b.AttachManager(mgr)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		appKey := strings.TrimPrefix(r.URL.Path, "/app/")
		mgr.ServeWS(w, r, appKey)
	}))
	t.Cleanup(server.Close)

	connA, _ := dial(t, server, "key1")
	connB, _ := dial(t, server, "key1")

	send(t, connA, wsconn.EventSubscribe, "", map[string]string{"channel": "news"})
	require.Equal(t, wsconn.EventSubscriptionSucceeded, readFrame(t, connA).Event)

	send(t, connB, wsconn.EventSubscribe, "", map[string]string{"channel": "news"})
	frame := readFrame(t, connB)
	assert.Equal(t, wsconn.EventError, frame.Event)
}

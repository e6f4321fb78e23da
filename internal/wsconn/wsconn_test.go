package wsconn

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

	"github.com/pushi-dev/pushi/internal/config"
)

type fakeResolver struct{ apps map[string]string }

func (f fakeResolver) ResolveKey(key string) (string, bool) {
	id, ok := f.apps[key]
	return id, ok
}

type fakeRouter struct {
	subscribed   chan string
	clientEvents chan string
	disconnected chan string
}

func newFakeRouter() *fakeRouter {
	return &fakeRouter{
		subscribed:   make(chan string, 8),
		clientEvents: make(chan string, 8),
		disconnected: make(chan string, 8),
	}
}

func (f *fakeRouter) Subscribe(conn *Connection, channel, auth string, channelData json.RawMessage) error {
	f.subscribed <- channel
	conn.SendJSON(EventSubscriptionSucceeded, channel, map[string]string{"name": channel})
	return nil
}

func (f *fakeRouter) Unsubscribe(conn *Connection, channel string) error { return nil }

func (f *fakeRouter) Latest(conn *Connection, channel string, skip, count int) error { return nil }

func (f *fakeRouter) ClientEvent(conn *Connection, event, channel string, data json.RawMessage) error {
	f.clientEvents <- event
	return nil
}

func (f *fakeRouter) Disconnect(conn *Connection) {
	f.disconnected <- conn.ID()
}

func testConfig() config.Config {
	return config.Config{
		MaxMessageSize:     10240,
		RateLimitPerSecond: 100,
		RateLimitBurst:     100,
	}
}

func newTestServer(t *testing.T, mgr *Manager) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		appKey := strings.TrimPrefix(r.URL.Path, "/app/")
		mgr.ServeWS(w, r, appKey)
	}))
	t.Cleanup(server.Close)
	return server
}

func dial(t *testing.T, server *httptest.Server, appKey string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/app/" + appKey
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestServeWSRejectsUnknownAppKey(t *testing.T) {
	router := newFakeRouter()
	resolver := fakeResolver{apps: map[string]string{}}
	mgr := NewManager(testConfig(), router, resolver)
	server := newTestServer(t, mgr)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/app/nosuchkey"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServeWSSendsConnectionEstablished(t *testing.T) {
	router := newFakeRouter()
	resolver := fakeResolver{apps: map[string]string{"key1": "app-1"}}
	mgr := NewManager(testConfig(), router, resolver)
	server := newTestServer(t, mgr)

	conn := dial(t, server, "key1")

	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var frame Frame
	require.NoError(t, json.Unmarshal(raw, &frame))
	assert.Equal(t, EventConnectionEstablished, frame.Event)

	var payload string
	require.NoError(t, json.Unmarshal(frame.Data, &payload))
	var data map[string]string
	require.NoError(t, json.Unmarshal([]byte(payload), &data))
	assert.NotEmpty(t, data["socket_id"])
}

func TestSubscribeDispatchesToRouterAndRepliesSucceeded(t *testing.T) {
	router := newFakeRouter()
	resolver := fakeResolver{apps: map[string]string{"key1": "app-1"}}
	mgr := NewManager(testConfig(), router, resolver)
	server := newTestServer(t, mgr)

	conn := dial(t, server, "key1")
	_, _, err := conn.ReadMessage() // connection_established
	require.NoError(t, err)

	sub, _ := json.Marshal(subscribePayload{Channel: "news"})
	frame, _ := EncodeFrame(EventSubscribe, "", sub)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))

	select {
	case channel := <-router.subscribed:
		assert.Equal(t, "news", channel)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Subscribe call")
	}

	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var reply Frame
	require.NoError(t, json.Unmarshal(raw, &reply))
	assert.Equal(t, EventSubscriptionSucceeded, reply.Event)
}

func TestUnknownEventDispatchesClientEvent(t *testing.T) {
	router := newFakeRouter()
	resolver := fakeResolver{apps: map[string]string{"key1": "app-1"}}
	mgr := NewManager(testConfig(), router, resolver)
	server := newTestServer(t, mgr)

	conn := dial(t, server, "key1")
	_, _, err := conn.ReadMessage()
	require.NoError(t, err)

	frame, _ := EncodeFrame("client-typing", "news", json.RawMessage(`{"user":"bob"}`))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))

	select {
	case event := <-router.clientEvents:
		assert.Equal(t, "client-typing", event)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for ClientEvent call")
	}
}

func TestMalformedFrameClosesConnection(t *testing.T) {
	router := newFakeRouter()
	resolver := fakeResolver{apps: map[string]string{"key1": "app-1"}}
	mgr := NewManager(testConfig(), router, resolver)
	server := newTestServer(t, mgr)

	conn := dial(t, server, "key1")
	_, _, err := conn.ReadMessage()
	require.NoError(t, err)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))

	select {
	case id := <-router.disconnected:
		assert.NotEmpty(t, id)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Disconnect call")
	}
}

func TestConnectionsAndConnectionCount(t *testing.T) {
	router := newFakeRouter()
	resolver := fakeResolver{apps: map[string]string{"key1": "app-1"}}
	mgr := NewManager(testConfig(), router, resolver)
	server := newTestServer(t, mgr)

	dial(t, server, "key1")
	require.Eventually(t, func() bool {
		return mgr.ConnectionCount("app-1") == 1
	}, time.Second, 10*time.Millisecond)

	conns := mgr.Connections("app-1")
	require.Len(t, conns, 1)
	assert.Equal(t, "app-1", conns[0].AppID())
}

func TestMaxConnectionsPerAppRejectsOverflow(t *testing.T) {
	router := newFakeRouter()
	resolver := fakeResolver{apps: map[string]string{"key1": "app-1"}}
	cfg := testConfig()
	cfg.MaxConnectionsPerApp = 1
	mgr := NewManager(cfg, router, resolver)
	server := newTestServer(t, mgr)

	dial(t, server, "key1")
	require.Eventually(t, func() bool {
		return mgr.ConnectionCount("app-1") == 1
	}, time.Second, 10*time.Millisecond)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/app/key1"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

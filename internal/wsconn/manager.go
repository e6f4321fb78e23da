package wsconn

import (
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/pushi-dev/pushi/internal/config"
	"github.com/pushi-dev/pushi/internal/logger"
)

// Manager is the ConnectionManager (spec section 4.1): it performs the
// WebSocket upgrade, enforces connection-count limits, and owns the
// registry of live connections that adapters and the broker's trigger path
// send through.
type Manager struct {
	cfg      config.Config
	router   Router
	resolver AppResolver
	upgrader websocket.Upgrader

	mu       sync.Mutex
	byApp    map[string]map[string]*Connection // app_id -> socket_id -> conn
	byIP     map[string]int
	total    int
}

// NewManager creates a ConnectionManager. cfg supplies the enforcement
// limits from spec section 4.1; router is the broker.
func NewManager(cfg config.Config, router Router, resolver AppResolver) *Manager {
	return &Manager{
		cfg:      cfg,
		router:   router,
		resolver: resolver,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		byApp: make(map[string]map[string]*Connection),
		byIP:  make(map[string]int),
	}
}

// ServeWS upgrades an HTTP request to a WebSocket connection for appKey,
// the last path segment of the connect URL (spec section 4.1). Limit
// breaches and unknown app keys are rejected before the upgrade so no
// socket resources are spent on them.
func (m *Manager) ServeWS(w http.ResponseWriter, r *http.Request, appKey string) {
	appID, ok := m.resolver.ResolveKey(appKey)
	if !ok {
		http.Error(w, "unknown app_key", http.StatusNotFound)
		return
	}

	remoteIP := clientIP(r)
	if err := m.admit(appID, remoteIP); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WebSocket().Warn().Err(err).Msg("websocket upgrade failed")
		m.release(appID, remoteIP)
		return
	}

	c := &Connection{
		id:       uuid.New().String(),
		appID:    appID,
		remoteIP: remoteIP,
		conn:     conn,
		manager:  m,
		limiter:  rate.NewLimiter(rate.Limit(m.cfg.RateLimitPerSecond), m.cfg.RateLimitBurst),
		send:     make(chan []byte, sendQueueDepth),
	}
	c.setState(StateHandshaking)

	m.mu.Lock()
	if m.byApp[appID] == nil {
		m.byApp[appID] = make(map[string]*Connection)
	}
	m.byApp[appID][c.id] = c
	m.mu.Unlock()

	c.setState(StateOpen)
	c.SendJSON(EventConnectionEstablished, "", map[string]string{"socket_id": c.id})

	logger.WebSocket().Info().Str("socket_id", c.id).Str("app_id", appID).Msg("connection established")

	go c.writePump()
	go c.readPump()
}

// admit enforces the global, per-app, and per-IP connection limits before
// a socket is accepted (spec section 4.1's "Enforcement limits").
func (m *Manager) admit(appID, remoteIP string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cfg.MaxConnectionsGlobal > 0 && m.total >= m.cfg.MaxConnectionsGlobal {
		return limitError{"max global connections reached"}
	}
	if m.cfg.MaxConnectionsPerApp > 0 && len(m.byApp[appID]) >= m.cfg.MaxConnectionsPerApp {
		return limitError{"max connections per app reached"}
	}
	if m.cfg.MaxConnectionsPerIP > 0 && m.byIP[remoteIP] >= m.cfg.MaxConnectionsPerIP {
		return limitError{"max connections per IP reached"}
	}

	m.byIP[remoteIP]++
	m.total++
	return nil
}

func (m *Manager) release(appID, remoteIP string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releaseLocked(appID, remoteIP)
}

func (m *Manager) releaseLocked(appID, remoteIP string) {
	if m.byIP[remoteIP] > 0 {
		m.byIP[remoteIP]--
		if m.byIP[remoteIP] == 0 {
			delete(m.byIP, remoteIP)
		}
	}
	if m.total > 0 {
		m.total--
	}
}

// unregister removes a connection from the registry, closes its outbound
// queue, and notifies the router so it can unsubscribe the connection from
// every channel it had joined.
func (m *Manager) unregister(c *Connection) {
	m.mu.Lock()
	if sockets, ok := m.byApp[c.appID]; ok {
		if _, present := sockets[c.id]; present {
			delete(sockets, c.id)
			if len(sockets) == 0 {
				delete(m.byApp, c.appID)
			}
			m.releaseLocked(c.appID, c.remoteIP)
			close(c.send)
		}
	}
	m.mu.Unlock()

	c.setState(StateClosed)
	m.router.Disconnect(c)
	logger.WebSocket().Info().Str("socket_id", c.id).Str("app_id", c.appID).Msg("connection closed")
}

// Connections returns the live connections for appID, used by the broker
// to fan out trigger() deliveries (spec section 4.2, step 4).
func (m *Manager) Connections(appID string) []*Connection {
	m.mu.Lock()
	defer m.mu.Unlock()

	sockets := m.byApp[appID]
	out := make([]*Connection, 0, len(sockets))
	for _, c := range sockets {
		out = append(out, c)
	}
	return out
}

// Connection looks up a single live connection by socket_id.
func (m *Manager) Connection(appID, socketID string) (*Connection, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.byApp[appID][socketID]
	return c, ok
}

// ConnectionCount reports the number of live connections for appID.
func (m *Manager) ConnectionCount(appID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byApp[appID])
}

type limitError struct{ msg string }

func (e limitError) Error() string { return e.msg }

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}

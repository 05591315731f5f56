package api

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// ConnRegistry tracks the open chat socket of each session. A session has at
// most one socket; opening a second one closes the first.
type ConnRegistry struct {
	mu     sync.RWMutex
	active map[string]map[string]*websocket.Conn
}

// NewConnRegistry creates an empty registry.
func NewConnRegistry() *ConnRegistry {
	return &ConnRegistry{
		active: make(map[string]map[string]*websocket.Conn),
	}
}

// Register records conn as the socket for username's session sessionID.
func (m *ConnRegistry) Register(username, sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.active[username]; !exists {
		m.active[username] = make(map[string]*websocket.Conn)
	}

	if existing, exists := m.active[username][sessionID]; exists && existing != conn {
		go closeConn(existing, websocket.StatusPolicyViolation, "replaced by a newer connection")
	}

	m.active[username][sessionID] = conn
	slog.Info("Chat socket registered", "user", username, "session_id", sessionID)
}

// Unregister forgets conn if it is still the session's current socket.
func (m *ConnRegistry) Unregister(username, sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sessions, ok := m.active[username]
	if !ok {
		return
	}
	if current, exists := sessions[sessionID]; exists && current == conn {
		delete(sessions, sessionID)
		if len(sessions) == 0 {
			delete(m.active, username)
		}
		slog.Info("Chat socket unregistered", "user", username, "session_id", sessionID)
	}
}

// CloseSession closes the socket of one session, if any.
func (m *ConnRegistry) CloseSession(username, sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sessions, ok := m.active[username]
	if !ok {
		return
	}
	conn, ok := sessions[sessionID]
	if !ok {
		return
	}
	go closeConn(conn, websocket.StatusNormalClosure, "signed out")
	delete(sessions, sessionID)
	if len(sessions) == 0 {
		delete(m.active, username)
	}
	slog.Info("Chat socket closed", "user", username, "session_id", sessionID)
}

// Count returns the number of open sockets.
func (m *ConnRegistry) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, sessions := range m.active {
		n += len(sessions)
	}
	return n
}

// closeConn runs the close handshake, which waits for the peer, so callers
// run it off the request path.
func closeConn(conn *websocket.Conn, code websocket.StatusCode, reason string) {
	if err := conn.Close(code, reason); err != nil {
		slog.Debug("Failed to close chat socket", "error", err)
	}
}

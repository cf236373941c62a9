package connections

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// TimeoutConfig holds the keepalive timing for websocket connections
type TimeoutConfig struct {
	PongWait   time.Duration
	PingPeriod time.Duration
	WriteWait  time.Duration
}

// DefaultTimeouts provides sensible default timeout values
var DefaultTimeouts = TimeoutConfig{
	PongWait:   30 * time.Second,
	PingPeriod: 27 * time.Second, // (PongWait * 9) / 10
	WriteWait:  10 * time.Second,
}

// Manager tracks live channel connections and which user owns each one
type Manager struct {
	mu       sync.RWMutex
	conns    map[*websocket.Conn]string
	timeouts TimeoutConfig
}

// NewManager creates a new connection manager with the specified timeouts
func NewManager(timeouts TimeoutConfig) *Manager {
	return &Manager{
		conns:    make(map[*websocket.Conn]string),
		timeouts: timeouts,
	}
}

// Add registers a connection for a user
func (m *Manager) Add(conn *websocket.Conn, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conns[conn] = userID
}

// Remove drops a connection
func (m *Manager) Remove(conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.conns, conn)
}

// Count returns the current number of active connections
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}

// UserFor returns the user that owns a connection
func (m *Manager) UserFor(conn *websocket.Conn) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	userID, exists := m.conns[conn]
	return userID, exists
}

// Timeouts returns the keepalive configuration
func (m *Manager) Timeouts() TimeoutConfig {
	return m.timeouts
}

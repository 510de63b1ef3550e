package tcp

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"turbine/internal/metrics"
)

type ConnectionManager struct {
	clients map[string]*ClientConnection
	// key: client ID, value: ClientConnection pointer
	mu      sync.RWMutex // read-write mutex for concurrent access
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// ConnectionInfo is the read-only view of a connection exposed by Snapshot.
type ConnectionInfo struct {
	ID         string    `json:"id"`
	RemoteAddr string    `json:"remote_addr"`
	AcceptedAt time.Time `json:"accepted_at"`
}

// constructor for ConnectionManager
func NewConnectionManager(logger *slog.Logger, m *metrics.Metrics) *ConnectionManager {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.New()
	}
	return &ConnectionManager{
		clients: make(map[string]*ClientConnection),
		logger:  logger,
		metrics: m,
	}
}

// method to add a new connection
func (m *ConnectionManager) AddConnection(client *ClientConnection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[client.ID] = client
	m.metrics.ConnectionOpened()
	m.logger.Debug("client_added",
		"client_id", client.ID,
		"remote_addr", client.RemoteAddr(),
	)
}

// RemoveConnection unregisters client. It reports false when the client was
// already gone, e.g. removed by CloseAllConnections.
func (m *ConnectionManager) RemoveConnection(client *ClientConnection) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.clients[client.ID]; !ok {
		return false
	}
	delete(m.clients, client.ID)
	m.metrics.ConnectionClosed(client.AcceptedAt)
	m.logger.Debug("client_removed",
		"client_id", client.ID,
	)
	return true
}

// Count returns the number of open connections.
func (m *ConnectionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

// Snapshot lists open connections, oldest first.
func (m *ConnectionManager) Snapshot() []ConnectionInfo {
	m.mu.RLock()
	out := make([]ConnectionInfo, 0, len(m.clients))
	for _, c := range m.clients {
		out = append(out, ConnectionInfo{ID: c.ID, RemoteAddr: c.RemoteAddr(), AcceptedAt: c.AcceptedAt})
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].AcceptedAt.Before(out[j].AcceptedAt) })
	return out
}

// method to close all connections
func (m *ConnectionManager) CloseAllConnections() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.clients)
	for id, client := range m.clients {
		client.Close()
		m.metrics.ConnectionClosed(client.AcceptedAt)
		m.logger.Debug("client_connection_closed",
			"client_id", id,
		)
	}
	// reset the map, dropping all references
	m.clients = make(map[string]*ClientConnection)
	return n
}

package ws

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Connection is one WebSocket client. A connection starts anonymous and is
// bound to a user ID by the identify message.
type Connection struct {
	ID        string    // connection ID (UUID), never reused
	Conn      net.Conn  // underlying TCP connection
	Fd        int       // socket descriptor, -1 off Linux; for logs
	RemoteIP  string    // client address without port
	CreatedAt time.Time // when the connection was established
	writeMu   sync.Mutex
	lastSeen  atomic.Int64 // unix nanos of the last frame received
	reading   atomic.Bool  // a worker owns the socket's next frame

	userMu sync.RWMutex
	userID string
}

// Touch records activity from the client at t.
func (c *Connection) Touch(t time.Time) {
	c.lastSeen.Store(t.UnixNano())
}

// LastSeen returns when the client last sent a frame.
func (c *Connection) LastSeen() time.Time {
	return time.Unix(0, c.lastSeen.Load())
}

// UserID returns the bound user, or "" before identify or after the user
// moved to a newer connection.
func (c *Connection) UserID() string {
	c.userMu.RLock()
	defer c.userMu.RUnlock()
	return c.userID
}

func (c *Connection) setUserID(id string) {
	c.userMu.Lock()
	c.userID = id
	c.userMu.Unlock()
}

// WriteMessage sends a WebSocket text frame to this connection. The write
// mutex ensures that concurrent goroutines do not interleave frame bytes.
func (c *Connection) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.WriteServerMessage(c.Conn, ws.OpText, data)
}

// Close closes the underlying network connection.
func (c *Connection) Close() error {
	return c.Conn.Close()
}

// ConnectionManager indexes live connections by connection ID, socket and
// bound user. A user has at most one bound connection.
type ConnectionManager struct {
	mu     sync.RWMutex
	byID   map[string]*Connection
	byConn map[net.Conn]*Connection
	byUser map[string]*Connection
}

// NewConnectionManager creates an empty ConnectionManager ready for use.
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		byID:   make(map[string]*Connection),
		byConn: make(map[net.Conn]*Connection),
		byUser: make(map[string]*Connection),
	}
}

// Add registers a new, still anonymous connection.
func (cm *ConnectionManager) Add(conn *Connection) {
	cm.mu.Lock()
	cm.byID[conn.ID] = conn
	cm.byConn[conn.Conn] = conn
	cm.mu.Unlock()
}

// Bind attaches userID to conn. If the user was bound to another connection,
// that connection is unbound and returned so the caller can close it; its
// later removal then no longer speaks for the user.
func (cm *ConnectionManager) Bind(conn *Connection, userID string) *Connection {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if old := conn.UserID(); old != "" && old != userID && cm.byUser[old] == conn {
		delete(cm.byUser, old)
	}

	prev := cm.byUser[userID]
	if prev == conn {
		prev = nil
	}
	if prev != nil {
		prev.setUserID("")
	}
	conn.setUserID(userID)
	cm.byUser[userID] = conn
	return prev
}

// Remove removes a connection by ID, closes it, and drops its user binding.
// Returns false if the connection was already gone.
func (cm *ConnectionManager) Remove(id string) bool {
	cm.mu.Lock()
	conn, ok := cm.byID[id]
	if ok {
		delete(cm.byID, id)
		delete(cm.byConn, conn.Conn)
		if uid := conn.UserID(); uid != "" && cm.byUser[uid] == conn {
			delete(cm.byUser, uid)
		}
	}
	cm.mu.Unlock()

	if ok {
		conn.Close()
	}
	return ok
}

// Get returns the connection for the given connection ID, or nil.
func (cm *ConnectionManager) Get(id string) *Connection {
	cm.mu.RLock()
	conn := cm.byID[id]
	cm.mu.RUnlock()
	return conn
}

// ByUser returns the connection bound to userID, or nil.
func (cm *ConnectionManager) ByUser(userID string) *Connection {
	cm.mu.RLock()
	conn := cm.byUser[userID]
	cm.mu.RUnlock()
	return conn
}

// GetByConn returns the connection wrapping c, or nil.
func (cm *ConnectionManager) GetByConn(c net.Conn) *Connection {
	cm.mu.RLock()
	conn := cm.byConn[c]
	cm.mu.RUnlock()
	return conn
}

// Count returns the current number of active connections.
func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	n := len(cm.byID)
	cm.mu.RUnlock()
	return n
}

// Identified returns the number of connections bound to a user.
func (cm *ConnectionManager) Identified() int {
	cm.mu.RLock()
	n := len(cm.byUser)
	cm.mu.RUnlock()
	return n
}

// All returns a snapshot of all current connections. The returned slice is
// safe to iterate without holding the lock.
func (cm *ConnectionManager) All() []*Connection {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.byID))
	for _, conn := range cm.byID {
		conns = append(conns, conn)
	}
	cm.mu.RUnlock()
	return conns
}

// Package ws is the client transport: WebSocket upgrade on /ws, readiness
// polling of every socket, one-frame-per-wakeup reads on a bounded worker
// pool, and delivery of server frames to the connection bound to a user.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gobwas/ws"
	"github.com/google/uuid"

	"github.com/strangertalk/relay/internal/metrics"
	"github.com/strangertalk/relay/internal/protocol"
)

// ErrUnreachable is returned by Send when the user has no live connection.
var ErrUnreachable = errors.New("ws: user has no live connection")

// ServerConfig holds tunable parameters for the WebSocket server.
type ServerConfig struct {
	ListenAddr     string
	WorkerPoolSize int // frames read concurrently
	MaxConnections int
	ReadTimeout    time.Duration // bound on reading one frame after a wakeup
	WriteTimeout   time.Duration
	Heartbeat      HeartbeatConfig
}

// DefaultServerConfig returns the production defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:     ":8080",
		WorkerPoolSize: 256,
		MaxConnections: 100000,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		Heartbeat:      DefaultHeartbeatConfig(),
	}
}

// Server accepts WebSocket clients and feeds their text frames to a single
// message callback. It implements the engine's delivery sink through Send.
type Server struct {
	config  ServerConfig
	epoll   *Epoll
	conns   *ConnectionManager
	workers chan struct{}

	onMessage    func(conn *Connection, data []byte)
	onDisconnect func(conn *Connection)
	admit        func(remoteIP string) bool
	stats        func() any

	httpServer *http.Server
	done       chan struct{}
	startedAt  time.Time
}

// NewServer creates a Server. onMessage runs on a worker goroutine for every
// non-empty text or binary frame.
func NewServer(config ServerConfig, onMessage func(conn *Connection, data []byte)) *Server {
	if config.Heartbeat.Interval <= 0 {
		config.Heartbeat = DefaultHeartbeatConfig()
	}
	if config.WorkerPoolSize <= 0 {
		config.WorkerPoolSize = 1
	}
	return &Server{
		config:    config,
		conns:     NewConnectionManager(),
		workers:   make(chan struct{}, config.WorkerPoolSize),
		onMessage: onMessage,
		done:      make(chan struct{}),
	}
}

// SetAdmission registers a check run before each upgrade. Returning false
// rejects the connection with 429.
func (s *Server) SetAdmission(fn func(remoteIP string) bool) {
	s.admit = fn
}

// SetStats registers the payload served on /stats.
func (s *Server) SetStats(fn func() any) {
	s.stats = fn
}

// SetOnDisconnect registers the callback run once per removed connection. A
// connection displaced by a newer one for the same user has an empty UserID
// by then.
func (s *Server) SetOnDisconnect(fn func(conn *Connection)) {
	s.onDisconnect = fn
}

// Start creates the poller, starts the read loop and the heartbeat, and
// serves HTTP until Shutdown.
func (s *Server) Start() error {
	ep, err := NewEpoll()
	if err != nil {
		return fmt.Errorf("ws: create poller: %w", err)
	}
	s.epoll = ep
	s.startedAt = time.Now()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/stats", s.handleStats)
	mux.Handle("/metrics", metrics.Handler())
	s.httpServer = &http.Server{Addr: s.config.ListenAddr, Handler: mux}

	go s.readLoop()
	StartHeartbeat(s, s.config.Heartbeat)

	log.Printf("ws: listening on %s (workers=%d, max_conns=%d)",
		s.config.ListenAddr, s.config.WorkerPoolSize, s.config.MaxConnections)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("ws: serve: %w", err)
	}
	return nil
}

// handleUpgrade admits a client and registers it with the poller. The
// connection stays anonymous until it identifies.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if s.conns.Count() >= s.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}
	ip := remoteIP(r)
	if s.admit != nil && !s.admit(ip) {
		http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		log.Printf("ws: upgrade ip=%s: %v", ip, err)
		return
	}

	now := time.Now()
	c := &Connection{
		ID:        uuid.New().String(),
		Conn:      conn,
		Fd:        socketFD(conn),
		RemoteIP:  ip,
		CreatedAt: now,
	}
	c.Touch(now)

	s.conns.Add(c)
	if err := s.epoll.Add(conn); err != nil {
		log.Printf("ws: poller add conn=%s: %v", c.ID, err)
		s.conns.Remove(c.ID)
		return
	}
	metrics.ConnectionsTotal.Inc()
	log.Printf("ws: connected conn=%s fd=%d ip=%s (total=%d)", c.ID, c.Fd, ip, s.conns.Count())
}

// remoteIP prefers the first X-Forwarded-For hop, set by the load balancer.
func remoteIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type healthResponse struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"`
	Identified  int    `json:"identified"`
	Uptime      string `json:"uptime"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(healthResponse{
		Status:      "ok",
		Connections: s.conns.Count(),
		Identified:  s.conns.Identified(),
		Uptime:      time.Since(s.startedAt).Round(time.Second).String(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.stats())
}

// RemoveConnection unregisters and closes c, then runs the disconnect
// callback. Concurrent removals of the same connection run it once.
func (s *Server) RemoveConnection(c *Connection) {
	_ = s.epoll.Remove(c.Conn)
	if !s.conns.Remove(c.ID) {
		return
	}
	metrics.ConnectionsTotal.Dec()

	if s.onDisconnect != nil {
		s.onDisconnect(c)
	}
	log.Printf("ws: closed conn=%s user=%s (total=%d)", c.ID, c.UserID(), s.conns.Count())
}

// Bind attaches userID to c. A previous connection of the same user is told
// why and closed; the user's chat session survives the swap.
func (s *Server) Bind(c *Connection, userID string) {
	prev := s.conns.Bind(c, userID)
	if prev == nil {
		return
	}
	_ = s.write(prev, protocol.MustServerMessage(protocol.TypeNotice, protocol.NoticeMsg{
		Code: "replaced",
		Text: "This connection was replaced by a newer one.",
	}))
	s.RemoveConnection(prev)
}

// Send writes data to the connection bound to userID.
func (s *Server) Send(ctx context.Context, userID string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c := s.conns.ByUser(userID)
	if c == nil {
		return fmt.Errorf("%w: %s", ErrUnreachable, userID)
	}
	return s.write(c, data)
}

// Alive reports whether userID has a bound connection.
func (s *Server) Alive(userID string) bool {
	return s.conns.ByUser(userID) != nil
}

// write sends one text frame under the write timeout. The deadline is
// cleared afterwards so it cannot fail a later heartbeat ping.
func (s *Server) write(c *Connection, data []byte) error {
	if s.config.WriteTimeout <= 0 {
		return c.WriteMessage(data)
	}
	_ = c.Conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	defer c.Conn.SetWriteDeadline(time.Time{})
	return c.WriteMessage(data)
}

// Shutdown stops accepting clients and closes every connection without
// running the disconnect callback, so persisted state keeps its sessions.
func (s *Server) Shutdown() error {
	log.Println("ws: shutting down")
	close(s.done)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			log.Printf("ws: http shutdown: %v", err)
		}
	}

	for _, c := range s.conns.All() {
		if s.epoll != nil {
			_ = s.epoll.Remove(c.Conn)
		}
		c.Close()
	}
	if s.epoll != nil {
		_ = s.epoll.Close()
	}
	log.Printf("ws: stopped")
	return nil
}

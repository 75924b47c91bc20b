package ws

import (
	"log"
	"time"

	"github.com/gobwas/ws"
)

// HeartbeatConfig holds heartbeat tuning parameters.
//
// Browsers answer protocol-level pings automatically, so activity advances
// even for idle clients.
type HeartbeatConfig struct {
	Interval time.Duration // how often to ping (default: 30s)
	Timeout  time.Duration // max time to wait for activity after ping (default: 10s)
	// IdentifyTimeout closes connections that have not identified this long
	// after connecting. Zero uses Interval.
	IdentifyTimeout time.Duration
}

// DefaultHeartbeatConfig returns sensible defaults for heartbeat monitoring.
func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{
		Interval:        30 * time.Second,
		Timeout:         10 * time.Second,
		IdentifyTimeout: 30 * time.Second,
	}
}

// StartHeartbeat pings every connection each Interval and evicts the dead
// ones until the server shuts down.
func StartHeartbeat(server *Server, config HeartbeatConfig) {
	go func() {
		ticker := time.NewTicker(config.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-server.done:
				return
			case now := <-ticker.C:
				checkConnections(server, config, now)
			}
		}
	}()
}

// checkConnections evicts connections silent for longer than
// Interval + Timeout, and anonymous ones past IdentifyTimeout, then pings the
// rest. Eviction runs the disconnect callback, which ends the user's chat
// session; this is the only way an abandoned session ends. It returns the
// number of evicted connections.
func checkConnections(server *Server, config HeartbeatConfig, now time.Time) int {
	deadline := config.Interval + config.Timeout
	identifyBy := config.IdentifyTimeout
	if identifyBy <= 0 {
		identifyBy = config.Interval
	}

	evicted := 0
	for _, c := range server.conns.All() {
		if idle := now.Sub(c.LastSeen()); idle > deadline {
			log.Printf("ws: heartbeat timeout conn=%s user=%s last_activity=%s ago",
				c.ID, c.UserID(), idle.Round(time.Second))
			server.RemoveConnection(c)
			evicted++
			continue
		}
		if c.UserID() == "" && now.Sub(c.CreatedAt) > identifyBy {
			log.Printf("ws: identify timeout conn=%s ip=%s", c.ID, c.RemoteIP)
			server.RemoveConnection(c)
			evicted++
			continue
		}

		if err := server.ping(c); err != nil {
			log.Printf("ws: heartbeat ping failed conn=%s user=%s: %v", c.ID, c.UserID(), err)
			server.RemoveConnection(c)
			evicted++
		}
	}
	return evicted
}

// ping sends a protocol-level ping frame under the server's write timeout.
func (s *Server) ping(c *Connection) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if s.config.WriteTimeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
		defer c.Conn.SetWriteDeadline(time.Time{})
	}
	return ws.WriteFrame(c.Conn, ws.NewPingFrame(nil))
}

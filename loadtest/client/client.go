// Package client provides a reusable WebSocket load test client for the
// relay. It connects using gobwas/ws (the same library the server uses),
// sends the identify handshake on connect and tracks per-connection
// performance metrics.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Client -> Server message types.
const (
	TypeIdentify = "identify"
	TypeStart    = "start"
	TypeStop     = "stop"
	TypeNext     = "next"
	TypeMessage  = "message"
	TypeReport   = "report"
	TypeSafeMode = "safe_mode"
	TypeShare    = "share"
	TypeProfile  = "profile"
	TypePing     = "ping"
)

// Server -> Client message types.
const (
	TypeIdentified     = "identified"
	TypeQueued         = "queued"
	TypePartnerFound   = "partner_found"
	TypeSessionEnded   = "session_ended"
	TypePartnerLeft    = "partner_left"
	TypeNotice         = "notice"
	TypeReportAccepted = "report_accepted"
	TypeBanned         = "banned"
	TypeSafeModeState  = "safe_mode_state"
	TypeProfileInfo    = "profile_info"
	TypeShareRecorded  = "share_recorded"
	TypeRateLimited    = "rate_limited"
	TypeError          = "error"
	TypePong           = "pong"
)

// inboxSize bounds frames buffered for Await. Frames beyond it are dropped.
const inboxSize = 256

// Metrics tracks per-connection performance data.
type Metrics struct {
	ConnectLatency   time.Duration
	IdentifyLatency  time.Duration
	MessagesReceived int
	MessagesSent     int
	Errors           int
}

// Client is a single simulated user. Incoming frames go to the handler
// registered for their type and to an inbox consumed by Await.
type Client struct {
	conn   net.Conn
	userID string

	writeMu sync.Mutex

	mu       sync.Mutex
	metrics  Metrics
	handlers map[string]func(json.RawMessage)

	inbox      chan json.RawMessage
	identified chan struct{}
	identOnce  sync.Once
	done       chan struct{}
	closeOnce  sync.Once
}

// New dials url and identifies as userID. It does not wait for the
// identified reply; use WaitIdentified for that.
func New(ctx context.Context, url, userID string) (*Client, error) {
	start := time.Now()
	conn, _, _, err := ws.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	c := &Client{
		conn:       conn,
		userID:     userID,
		handlers:   make(map[string]func(json.RawMessage)),
		inbox:      make(chan json.RawMessage, inboxSize),
		identified: make(chan struct{}),
		done:       make(chan struct{}),
	}
	c.metrics.ConnectLatency = time.Since(start)

	go c.readLoop(time.Now())

	if err := c.Send(map[string]string{"type": TypeIdentify, "user_id": userID}); err != nil {
		c.Close()
		return nil, fmt.Errorf("identify: %w", err)
	}
	return c, nil
}

// Send sends a JSON message to the server. It is goroutine-safe.
func (c *Client) Send(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	c.metrics.MessagesSent++
	c.mu.Unlock()
	return wsutil.WriteClientMessage(c.conn, ws.OpText, data)
}

// SendText relays a text message to the current partner.
func (c *Client) SendText(text string) error {
	return c.Send(map[string]string{"type": TypeMessage, "kind": "text", "text": text})
}

// SendType sends a bare command such as start, stop or report.
func (c *Client) SendType(msgType string) error {
	return c.Send(map[string]string{"type": msgType})
}

// On registers a handler for a server message type, replacing any earlier
// one. Handlers run on the read goroutine and must not block.
func (c *Client) On(msgType string, handler func(json.RawMessage)) {
	c.mu.Lock()
	c.handlers[msgType] = handler
	c.mu.Unlock()
}

// WaitIdentified blocks until the server confirms the identify handshake.
func (c *Client) WaitIdentified(ctx context.Context) error {
	select {
	case <-c.identified:
		return nil
	case <-c.done:
		return fmt.Errorf("connection closed before identify completed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Await returns the next frame of msgType, discarding frames of other types
// received before it.
func (c *Client) Await(ctx context.Context, msgType string) (json.RawMessage, error) {
	for {
		select {
		case data := <-c.inbox:
			if typeOf(data) == msgType {
				return data, nil
			}
		case <-c.done:
			return nil, fmt.Errorf("connection closed while waiting for %s", msgType)
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for %s: %w", msgType, ctx.Err())
		}
	}
}

// Close closes the connection and stops the read loop. It is safe to call
// multiple times.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// Done is closed once the connection is gone, whether closed locally or
// dropped by the server.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// UserID returns the identity this client connected with.
func (c *Client) UserID() string {
	return c.userID
}

// GetMetrics returns a copy of the client's metrics.
func (c *Client) GetMetrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}

func (c *Client) readLoop(identifyStart time.Time) {
	for {
		data, err := wsutil.ReadServerText(c.conn)
		if err != nil {
			select {
			case <-c.done:
				// Closed on purpose.
			default:
				c.mu.Lock()
				c.metrics.Errors++
				c.mu.Unlock()
				c.Close()
			}
			return
		}

		msgType := typeOf(data)

		c.mu.Lock()
		c.metrics.MessagesReceived++
		if msgType == TypeIdentified && c.metrics.IdentifyLatency == 0 {
			c.metrics.IdentifyLatency = time.Since(identifyStart)
		}
		handler := c.handlers[msgType]
		c.mu.Unlock()

		if msgType == TypeIdentified {
			c.identOnce.Do(func() { close(c.identified) })
		}
		if handler != nil {
			handler(json.RawMessage(data))
		}

		select {
		case c.inbox <- json.RawMessage(data):
		default:
		}
	}
}

func typeOf(data []byte) string {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return ""
	}
	return envelope.Type
}

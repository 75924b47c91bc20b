// Package messaging is the relay's NATS side. Payment confirmations and
// admin requests arrive on the subjects below; session lifecycle events and
// admin notifications go out on them.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS subjects used by the relay.
const (
	SubjectPaymentConfirmed = "payment.confirmed"
	SubjectAdminBan         = "admin.ban"
	SubjectAdminUnban       = "admin.unban"
	SubjectAdminBroadcast   = "admin.broadcast"
	SubjectAdminStats       = "admin.stats"
	SubjectAdminList        = "admin.list"
	SubjectAdminNotify      = "admin.notify"   // outbound payment/ban notices
	SubjectSessionOpened    = "session.opened" // + .<session_id>
	SubjectSessionClosed    = "session.closed" // + .<session_id>
)

// ErrAlreadySubscribed is returned when a subject already has a handler on
// this client.
var ErrAlreadySubscribed = errors.New("nats: subject already subscribed")

// NATSClient is a NATS connection with one handler per subject.
type NATSClient struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL            string
	Name           string        // shows up in the server's connz
	ConnectTimeout time.Duration // bound on the initial dial
	ReconnectWait  time.Duration
	MaxReconnects  int // -1 reconnects forever
}

// DefaultNATSConfig returns the defaults used by relayd.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:            nats.DefaultURL,
		Name:           "relay",
		ConnectTimeout: 5 * time.Second,
		ReconnectWait:  2 * time.Second,
		MaxReconnects:  -1,
	}
}

// NewNATSClient dials NATS. Connection state changes after the first dial
// are logged, not returned.
func NewNATSClient(config NATSConfig) (*NATSClient, error) {
	nc, err := nats.Connect(config.URL,
		nats.Name(config.Name),
		nats.Timeout(config.ConnectTimeout),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Printf("[nats] disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			if sub != nil {
				log.Printf("[nats] async error on %s: %v", sub.Subject, err)
				return
			}
			log.Printf("[nats] async error: %v", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", config.URL, err)
	}
	log.Printf("[nats] connected to %s as %q", nc.ConnectedUrl(), config.Name)

	return &NATSClient{conn: nc, subs: make(map[string]*nats.Subscription)}, nil
}

// Publish sends data on subject without waiting for anyone.
func (c *NATSClient) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// Request sends data on subject and waits for the first reply or ctx.
func (c *NATSClient) Request(ctx context.Context, subject string, data []byte) ([]byte, error) {
	msg, err := c.conn.RequestWithContext(ctx, subject, data)
	if err != nil {
		return nil, fmt.Errorf("nats request %s: %w", subject, err)
	}
	return msg.Data, nil
}

// Subscribe installs handler for subject. A subject takes one handler per
// client; a second Subscribe returns ErrAlreadySubscribed.
func (c *NATSClient) Subscribe(subject string, handler func(msg *nats.Msg)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.subs[subject]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadySubscribed, subject)
	}
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}
	c.subs[subject] = sub
	return nil
}

// HandleRequests subscribes to subject and answers each request with the
// handler's result. Plain publishes, and nil results, get no reply.
func (c *NATSClient) HandleRequests(subject string, handler func(data []byte) []byte) error {
	return c.Subscribe(subject, func(msg *nats.Msg) {
		reply := handler(msg.Data)
		if msg.Reply == "" || reply == nil {
			return
		}
		if err := msg.Respond(reply); err != nil {
			log.Printf("[nats] respond on %s: %v", subject, err)
		}
	})
}

// PublishSessionOpened announces a new session on session.opened.<id>.
func (c *NATSClient) PublishSessionOpened(sessionID string, data []byte) error {
	return c.Publish(SubjectSessionOpened+"."+sessionID, data)
}

// PublishSessionClosed announces a teardown on session.closed.<id>.
func (c *NATSClient) PublishSessionClosed(sessionID string, data []byte) error {
	return c.Publish(SubjectSessionClosed+"."+sessionID, data)
}

// PublishAdminNotify publishes an operator notification.
func (c *NATSClient) PublishAdminNotify(data []byte) error {
	return c.Publish(SubjectAdminNotify, data)
}

// SubscribeAdminNotify streams operator notifications to handler.
func (c *NATSClient) SubscribeAdminNotify(handler func(data []byte)) error {
	return c.Subscribe(SubjectAdminNotify, func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

// Close drains the connection: handlers finish the messages already
// delivered to them, then the connection closes.
func (c *NATSClient) Close() {
	c.mu.Lock()
	c.subs = make(map[string]*nats.Subscription)
	c.mu.Unlock()

	if err := c.conn.Drain(); err != nil {
		log.Printf("[nats] drain: %v", err)
		c.conn.Close()
	}
}

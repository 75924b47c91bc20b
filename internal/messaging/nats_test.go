package messaging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
)

func newTestClient(t *testing.T) *NATSClient {
	t.Helper()
	cfg := DefaultNATSConfig()
	cfg.Name = "relay-test"
	cfg.MaxReconnects = 0
	c, err := NewNATSClient(cfg)
	if err != nil {
		t.Skipf("nats not available: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestDefaultNATSConfig(t *testing.T) {
	cfg := DefaultNATSConfig()
	if cfg.URL != "nats://127.0.0.1:4222" {
		t.Errorf("unexpected default URL %q", cfg.URL)
	}
	if cfg.MaxReconnects != -1 {
		t.Errorf("expected infinite reconnects, got %d", cfg.MaxReconnects)
	}
}

func TestHandleRequests_Replies(t *testing.T) {
	c := newTestClient(t)

	subject := "test.echo." + time.Now().Format("150405.000000")
	err := c.HandleRequests(subject, func(data []byte) []byte {
		return append([]byte("ack:"), data...)
	})
	if err != nil {
		t.Fatalf("HandleRequests: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	reply, err := c.Request(ctx, subject, []byte("ping"))
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if string(reply) != "ack:ping" {
		t.Fatalf("unexpected reply %q", reply)
	}
}

func TestSubscribe_SecondHandlerRejected(t *testing.T) {
	c := newTestClient(t)
	subject := "test.dup." + time.Now().Format("150405.000000")

	if err := c.Subscribe(subject, func(*nats.Msg) {}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	err := c.Subscribe(subject, func(*nats.Msg) {})
	if !errors.Is(err, ErrAlreadySubscribed) {
		t.Fatalf("expected ErrAlreadySubscribed, got %v", err)
	}
}

func TestRequest_HonorsContext(t *testing.T) {
	c := newTestClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := c.Request(ctx, "test.nobody."+time.Now().Format("150405.000000"), nil); err == nil {
		t.Fatal("expected an error for a cancelled context")
	}
}

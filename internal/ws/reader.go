package ws

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// readLoop waits for readable sockets and hands each to a worker, blocking
// while all workers are busy.
func (s *Server) readLoop() {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		ready, err := s.epoll.Wait()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			log.Printf("ws: poller wait: %v", err)
			time.Sleep(10 * time.Millisecond)
			continue
		}

		for _, conn := range ready {
			s.workers <- struct{}{}
			go func(conn net.Conn) {
				defer func() { <-s.workers }()
				s.serveFrame(conn)
			}(conn)
		}
	}
}

// serveFrame reads one frame from a readable socket and passes its payload
// to the message callback. Each wakeup reads at most one frame; the poller
// reports the socket again while data remains.
func (s *Server) serveFrame(netConn net.Conn) {
	c := s.conns.GetByConn(netConn)
	if c == nil {
		return
	}
	// The poller is level-triggered and may report a socket again before
	// its previous frame is consumed.
	if !c.reading.CompareAndSwap(false, true) {
		return
	}
	defer c.reading.Store(false)
	defer s.epoll.Rearm(netConn)

	payload, err := s.readFrame(c)
	switch {
	case errors.Is(err, errStaleWakeup):
		return
	case err != nil:
		s.RemoveConnection(c)
		return
	}
	if len(payload) > 0 && s.onMessage != nil {
		s.onMessage(c, payload)
	}
}

// MaxFrameSize bounds a client data frame. Larger frames close the
// connection.
const MaxFrameSize = 64 << 10

var (
	errStaleWakeup = errors.New("ws: no frame within read timeout")
	errClosed      = errors.New("ws: close frame")
)

// readFrame returns the payload of the next data frame on c, or nil for a
// ping or pong. Any frame counts as activity for the heartbeat.
func (s *Server) readFrame(c *Connection) ([]byte, error) {
	if s.config.ReadTimeout > 0 {
		_ = c.Conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		defer c.Conn.SetReadDeadline(time.Time{})
	}

	header, body, err := wsutil.NextReader(s.epoll.Reader(c.Conn), ws.StateServerSide)
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			// Dead peers are the heartbeat's job.
			return nil, errStaleWakeup
		}
		return nil, err
	}
	c.Touch(time.Now())

	if header.OpCode.IsControl() {
		if header.OpCode == ws.OpClose {
			return nil, errClosed
		}
		_, err := io.Copy(io.Discard, body)
		return nil, err
	}
	if header.Length > MaxFrameSize {
		return nil, fmt.Errorf("ws: frame of %d bytes exceeds %d", header.Length, MaxFrameSize)
	}

	payload := make([]byte, header.Length)
	if _, err := io.ReadFull(body, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

//go:build !linux

package ws

import (
	"bytes"
	"io"
	"net"
	"sync"
)

// Epoll is the portable stand-in for the Linux poller. Each connection gets a
// goroutine that blocks on a one-byte read; the byte is handed back through
// Reader so the frame stays intact. After signalling readiness the goroutine
// waits for Rearm before reading again.
type Epoll struct {
	mu      sync.Mutex
	watches map[net.Conn]*watch
	readyCh chan net.Conn
	done    chan struct{}
	once    sync.Once
}

type watch struct {
	pending []byte
	resume  chan struct{}
	stop    chan struct{}
}

// NewEpoll creates the fallback poller.
func NewEpoll() (*Epoll, error) {
	return &Epoll{
		watches: make(map[net.Conn]*watch),
		readyCh: make(chan net.Conn, 128),
		done:    make(chan struct{}),
	}, nil
}

// Add starts watching conn.
func (e *Epoll) Add(conn net.Conn) error {
	w := &watch{
		resume: make(chan struct{}, 1),
		stop:   make(chan struct{}),
	}
	e.mu.Lock()
	e.watches[conn] = w
	e.mu.Unlock()

	go e.monitor(conn, w)
	return nil
}

func (e *Epoll) monitor(conn net.Conn, w *watch) {
	buf := make([]byte, 1)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			e.mu.Lock()
			w.pending = append(w.pending, buf[0])
			e.mu.Unlock()
		}

		// A read error is reported as readiness too so the server's read
		// path observes the closure.
		select {
		case e.readyCh <- conn:
		case <-w.stop:
			return
		case <-e.done:
			return
		}
		if err != nil {
			return
		}

		select {
		case <-w.resume:
		case <-w.stop:
			return
		case <-e.done:
			return
		}
	}
}

// Remove stops watching conn.
func (e *Epoll) Remove(conn net.Conn) error {
	e.mu.Lock()
	w, ok := e.watches[conn]
	delete(e.watches, conn)
	e.mu.Unlock()
	if ok {
		close(w.stop)
	}
	return nil
}

// Wait blocks until at least one connection is ready and returns every
// connection ready at that moment.
func (e *Epoll) Wait() ([]net.Conn, error) {
	var first net.Conn
	select {
	case first = <-e.readyCh:
	case <-e.done:
		return nil, net.ErrClosed
	}

	conns := []net.Conn{first}
	for {
		select {
		case conn := <-e.readyCh:
			conns = append(conns, conn)
		default:
			return conns, nil
		}
	}
}

// Reader returns conn with any byte consumed by the readiness probe put back
// in front.
func (e *Epoll) Reader(conn net.Conn) io.Reader {
	e.mu.Lock()
	defer e.mu.Unlock()

	w, ok := e.watches[conn]
	if !ok || len(w.pending) == 0 {
		return conn
	}
	p := w.pending
	w.pending = nil
	return io.MultiReader(bytes.NewReader(p), conn)
}

// Rearm lets conn's monitor probe for the next frame.
func (e *Epoll) Rearm(conn net.Conn) {
	e.mu.Lock()
	w, ok := e.watches[conn]
	e.mu.Unlock()
	if !ok {
		return
	}
	select {
	case w.resume <- struct{}{}:
	default:
	}
}

// Close stops every monitor.
func (e *Epoll) Close() error {
	e.once.Do(func() { close(e.done) })
	e.mu.Lock()
	e.watches = make(map[net.Conn]*watch)
	e.mu.Unlock()
	return nil
}

func socketFD(net.Conn) int {
	return -1
}

// Package statemontest provides an in-memory run-control service, for
// testing code that uses package statemon.
package statemontest

import (
	"errors"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/jrtomps/go-statemon/reactor"
	"github.com/jrtomps/go-statemon/statemon"
)

var ErrConnClosed = errors.New(`statemontest: connection closed`)

type (
	// Server is an in-memory run-control service. Published frames are
	// delivered to every open connection that subscribed to a matching
	// prefix, at the time of publishing.
	Server struct {
		mu      sync.Mutex
		conns   []*Conn
		handler func(request string) (string, error)
		dialErr []error
		dials   int
	}

	// Conn is a connection to a Server, implementing statemon.Transport.
	Conn struct {
		server *Server
		r, w   *os.File

		mu          sync.Mutex
		subs        []string
		unsubs      []string
		requests    []string
		queue       []string
		receiveErrs []error
		hangup      bool
		closed      bool
	}
)

var (
	_ statemon.Dialer    = (*Server)(nil)
	_ statemon.Transport = (*Conn)(nil)
)

// NewServer returns a Server that replies "OK" to every request.
func NewServer() *Server {
	return &Server{handler: func(string) (string, error) { return `OK`, nil }}
}

// HandleRequests replaces the request handler. It is called on the
// goroutine making the request, which blocks until it returns.
func (s *Server) HandleRequests(handler func(request string) (string, error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = handler
}

// FailDial causes the next len(errs) dial attempts to fail.
func (s *Server) FailDial(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dialErr = append(s.dialErr, errs...)
}

// Dials returns the number of dial attempts.
func (s *Server) Dials() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dials
}

// Conns returns the open connections, in dial order.
func (s *Server) Conns() []*Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.conns)
}

// Dial implements statemon.Dialer.
func (s *Server) Dial(requestAddr, stateAddr string) (statemon.Transport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.dials++
	if len(s.dialErr) != 0 {
		err := s.dialErr[0]
		s.dialErr = s.dialErr[1:]
		return nil, err
	}

	r, w, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	c := &Conn{server: s, r: r, w: w}
	s.conns = append(s.conns, c)
	return c, nil
}

// Publish sends frame to every subscribed connection. It returns the number
// of connections that received it.
func (s *Server) Publish(frame string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	for _, c := range s.conns {
		if c.deliver(frame) {
			n++
		}
	}
	return n
}

func (s *Server) remove(c *Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns = slices.DeleteFunc(s.conns, func(v *Conn) bool { return v == c })
}

// Fail causes the next Receive to return err.
func (c *Conn) Fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.receiveErrs = append(c.receiveErrs, err)
	c.signal()
}

// Hangup causes the connection to report EventHangup, without read
// readiness, until it is closed.
func (c *Conn) Hangup() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.hangup = true
	c.signal()
}

// Subscriptions returns the active subscriptions.
func (c *Conn) Subscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.subs)
}

// Unsubscribed returns every prefix passed to Unsubscribe, in order.
func (c *Conn) Unsubscribed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.unsubs)
}

// Requests returns every request received, in order.
func (c *Conn) Requests() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.requests)
}

// Closed reports whether Close has been called.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Request implements statemon.Requester.
func (c *Conn) Request(msg string) (string, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ``, ErrConnClosed
	}
	c.requests = append(c.requests, msg)
	c.mu.Unlock()

	c.server.mu.Lock()
	handler := c.server.handler
	c.server.mu.Unlock()

	return handler(msg)
}

// Subscribe implements statemon.Subscriber.
func (c *Conn) Subscribe(prefix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	c.subs = append(c.subs, prefix)
	return nil
}

// Unsubscribe implements statemon.Subscriber. Frames already queued are not
// affected.
func (c *Conn) Unsubscribe(prefix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	c.unsubs = append(c.unsubs, prefix)
	if i := slices.Index(c.subs, prefix); i >= 0 {
		c.subs = slices.Delete(c.subs, i, i+1)
	}
	return nil
}

// PollFD implements reactor.Source.
func (c *Conn) PollFD() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return -1, ErrConnClosed
	}
	return int(c.r.Fd()), nil
}

// Ready implements reactor.Source, reporting EventRead while a frame or
// error is pending, regardless of revents, or EventHangup after Hangup.
func (c *Conn) Ready(reactor.Events) (reactor.Events, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hangup {
		return reactor.EventHangup, nil
	}
	if len(c.queue) != 0 || len(c.receiveErrs) != 0 {
		return reactor.EventRead, nil
	}
	return 0, nil
}

// Receive implements statemon.Subscriber.
func (c *Conn) Receive() (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ``, false, ErrConnClosed
	}
	if len(c.receiveErrs) != 0 {
		err := c.receiveErrs[0]
		c.receiveErrs = c.receiveErrs[1:]
		c.drain()
		return ``, false, err
	}
	if len(c.queue) == 0 {
		return ``, false, nil
	}
	frame := c.queue[0]
	c.queue = c.queue[1:]
	c.drain()
	return frame, true, nil
}

// Close implements statemon.Transport.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.queue = nil
	c.receiveErrs = nil
	c.mu.Unlock()

	c.server.remove(c)
	return errors.Join(c.w.Close(), c.r.Close())
}

func (c *Conn) deliver(frame string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || !slices.ContainsFunc(c.subs, func(prefix string) bool { return strings.HasPrefix(frame, prefix) }) {
		return false
	}
	c.queue = append(c.queue, frame)
	c.signal()
	return true
}

// signal writes one byte per pending item, keeping the pipe readable while
// anything is pending.
func (c *Conn) signal() {
	_, _ = c.w.Write([]byte{0})
}

func (c *Conn) drain() {
	var b [1]byte
	_, _ = c.r.Read(b[:])
}

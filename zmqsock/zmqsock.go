package zmqsock

import (
	"errors"
	"fmt"
	"sync"
	"syscall"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/jrtomps/go-statemon/reactor"
	"github.com/jrtomps/go-statemon/statemon"
	zmq "github.com/pebbe/zmq4"
)

// ErrRequestTimeout indicates no reply was received within
// Dialer.RequestTimeout. The request socket is reopened, and the reply, if
// it arrives, is discarded.
var ErrRequestTimeout = errors.New(`zmqsock: request timed out`)

type (
	// Dialer opens ZeroMQ connections. The zero value is usable.
	Dialer struct {
		// Context is used to create sockets, if non-nil, e.g. to allow inproc
		// endpoints. Otherwise each connection creates, and terminates, its
		// own.
		Context *zmq.Context

		Logger *logiface.Logger[logiface.Event]

		// RequestTimeout bounds the wait for a reply. Zero waits forever.
		RequestTimeout time.Duration

		// Linger is applied to both sockets. Zero discards unsent messages on
		// close.
		Linger time.Duration
	}

	// Conn is a ZeroMQ connection to the run-control service.
	Conn struct {
		ctx         *zmq.Context
		ownCtx      bool
		logger      *logiface.Logger[logiface.Event]
		requestAddr string
		timeout     time.Duration
		linger      time.Duration

		reqMu sync.Mutex
		req   *zmq.Socket

		sub *zmq.Socket
	}
)

var (
	_ statemon.Dialer    = (*Dialer)(nil)
	_ statemon.Transport = (*Conn)(nil)
)

// Dial implements statemon.Dialer. The connections are established
// asynchronously, by ZeroMQ, so only invalid endpoints fail.
func (x *Dialer) Dial(requestAddr, stateAddr string) (statemon.Transport, error) {
	return x.DialConn(requestAddr, stateAddr)
}

// DialConn is Dial, returning the concrete type.
func (x *Dialer) DialConn(requestAddr, stateAddr string) (_ *Conn, err error) {
	c := &Conn{
		ctx:         x.Context,
		logger:      x.Logger,
		requestAddr: requestAddr,
		timeout:     x.RequestTimeout,
		linger:      x.Linger,
	}

	if c.ctx == nil {
		if c.ctx, err = zmq.NewContext(); err != nil {
			return nil, err
		}
		c.ownCtx = true
	}
	defer func() {
		if err != nil {
			_ = c.Close()
		}
	}()

	if c.req, err = c.openRequest(); err != nil {
		return nil, err
	}

	if c.sub, err = c.ctx.NewSocket(zmq.SUB); err != nil {
		return nil, err
	}
	if err = c.sub.SetLinger(c.linger); err != nil {
		return nil, err
	}
	if err = c.sub.Connect(stateAddr); err != nil {
		return nil, fmt.Errorf(`zmqsock: connect %s: %w`, stateAddr, err)
	}

	return c, nil
}

// Request implements statemon.Requester. Concurrent calls are serialized.
func (x *Conn) Request(msg string) (string, error) {
	x.reqMu.Lock()
	defer x.reqMu.Unlock()

	if x.req == nil {
		return ``, errClosed
	}

	if _, err := x.req.Send(msg, 0); err != nil {
		return ``, err
	}

	reply, err := x.req.Recv(0)
	if err == nil {
		return reply, nil
	}
	if !isAgain(err) {
		return ``, err
	}

	// a REQ socket cannot send again until it receives
	x.logger.Warning().
		Str(`request`, msg).
		Dur(`timeout`, x.timeout).
		Log(`request timed out, reopening request socket`)
	_ = x.req.Close()
	x.req = nil
	if x.req, err = x.openRequest(); err != nil {
		return ``, errors.Join(ErrRequestTimeout, err)
	}
	return ``, ErrRequestTimeout
}

// Subscribe implements statemon.Subscriber.
func (x *Conn) Subscribe(prefix string) error {
	return x.sub.SetSubscribe(prefix)
}

// Unsubscribe implements statemon.Subscriber.
func (x *Conn) Unsubscribe(prefix string) error {
	return x.sub.SetUnsubscribe(prefix)
}

// Receive implements statemon.Subscriber.
func (x *Conn) Receive() (string, bool, error) {
	frame, err := x.sub.Recv(zmq.DONTWAIT)
	if err != nil {
		if isAgain(err) {
			return ``, false, nil
		}
		return ``, false, err
	}
	return frame, true, nil
}

// PollFD implements reactor.Source, returning ZMQ_FD of the SUB socket.
func (x *Conn) PollFD() (int, error) {
	return socketFD(x.sub)
}

// Ready implements reactor.Source, consulting ZMQ_EVENTS, as ZMQ_FD only
// signals that the events may have changed.
func (x *Conn) Ready(reactor.Events) (reactor.Events, error) {
	state, err := x.sub.GetEvents()
	if err != nil {
		return 0, err
	}
	var events reactor.Events
	if state&zmq.POLLIN != 0 {
		events |= reactor.EventRead
	}
	return events, nil
}

// Close closes both sockets, then terminates the context, if it was created
// by the Dialer.
func (x *Conn) Close() error {
	var errs []error

	x.reqMu.Lock()
	if x.req != nil {
		errs = append(errs, x.req.Close())
		x.req = nil
	}
	x.reqMu.Unlock()

	if x.sub != nil {
		errs = append(errs, x.sub.Close())
		x.sub = nil
	}

	if x.ownCtx && x.ctx != nil {
		errs = append(errs, x.ctx.Term())
		x.ctx = nil
	}

	return errors.Join(errs...)
}

var errClosed = errors.New(`zmqsock: connection closed`)

func (x *Conn) openRequest() (*zmq.Socket, error) {
	s, err := x.ctx.NewSocket(zmq.REQ)
	if err != nil {
		return nil, err
	}
	if err := x.configureRequest(s); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (x *Conn) configureRequest(s *zmq.Socket) error {
	if err := s.SetLinger(x.linger); err != nil {
		return err
	}
	if x.timeout > 0 {
		if err := s.SetRcvtimeo(x.timeout); err != nil {
			return err
		}
	}
	if err := s.Connect(x.requestAddr); err != nil {
		return fmt.Errorf(`zmqsock: connect %s: %w`, x.requestAddr, err)
	}
	return nil
}

func isAgain(err error) bool {
	return zmq.AsErrno(err) == zmq.Errno(syscall.EAGAIN)
}

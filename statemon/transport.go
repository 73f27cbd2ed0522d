package statemon

import (
	"github.com/jrtomps/go-statemon/reactor"
)

type (
	// Requester is the request/reply side of a connection to the run-control
	// service.
	Requester interface {
		// Request sends msg, and blocks until the reply is received.
		Request(msg string) (string, error)
	}

	// Subscriber is the publish/subscribe side of a connection to the
	// run-control service. It is a reactor.Source, readable when at least
	// one frame may be received.
	Subscriber interface {
		reactor.Source

		Subscribe(prefix string) error
		Unsubscribe(prefix string) error

		// Receive returns the next frame without blocking. A false ok and a
		// nil error indicate that no frame is available.
		Receive() (frame string, ok bool, err error)
	}

	// Transport is a connection to the run-control service. Implementations
	// must be comparable (typically pointers). Request may be called
	// concurrently with the Subscriber methods, but neither side is called
	// concurrently with itself.
	Transport interface {
		Requester
		Subscriber
		Close() error
	}

	// Dialer opens a Transport, given the transition request address, and the
	// state publication address.
	Dialer interface {
		Dial(requestAddr, stateAddr string) (Transport, error)
	}

	// DialerFunc implements Dialer.
	DialerFunc func(requestAddr, stateAddr string) (Transport, error)
)

var _ Dialer = DialerFunc(nil)

// Dial implements Dialer.
func (f DialerFunc) Dial(requestAddr, stateAddr string) (Transport, error) {
	return f(requestAddr, stateAddr)
}

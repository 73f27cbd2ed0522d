package reactor

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/logiface"
)

// Events represents the type of readiness to monitor, or that was observed.
type Events uint32

const (
	// EventRead indicates the source is ready for reading.
	EventRead Events = 1 << iota
	// EventWrite indicates the source is ready for writing.
	EventWrite
	// EventError indicates an error condition on the source.
	EventError
	// EventHangup indicates the peer closed its end of the connection.
	EventHangup
)

// Standard errors.
var (
	ErrReentrantPoll = errors.New(`reactor: poll already in progress`)
	ErrNoSources     = errors.New(`reactor: no sources registered and no timeout`)
	ErrUnsupported   = errors.New(`reactor: poll not supported on this platform`)
)

type (
	// Source is anything the Reactor can wait on. Implementations must be
	// comparable, as the source value is the registration identity.
	Source interface {
		// PollFD returns the descriptor handed to poll(2).
		PollFD() (int, error)

		// Ready maps the readiness observed on PollFD to the actual readiness
		// of the source. It is called with zero revents before blocking, to
		// detect readiness that will not be signalled by the descriptor.
		Ready(revents Events) (Events, error)
	}

	// FD is a plain, level-triggered file descriptor source.
	FD int

	// Callback is invoked for each source that fired, with the events that
	// fired, and the parameter given at registration.
	Callback func(src Source, events Events, param any)

	// Reactor is a readiness-driven event loop. The zero value is not usable,
	// use New.
	Reactor struct {
		mu      sync.Mutex
		regs    []*registration
		index   map[Source]*registration
		polling atomic.Bool
		logger  *logiface.Logger[logiface.Event]
	}

	// Option configures a Reactor.
	Option interface {
		applyReactor(*Reactor)
	}

	optionFunc func(*Reactor)

	registration struct {
		source   Source
		callback Callback
		param    any
		mask     Events
	}
)

var _ Source = FD(0)

// PollFD implements Source.
func (x FD) PollFD() (int, error) { return int(x), nil }

// Ready implements Source, returning revents unchanged.
func (x FD) Ready(revents Events) (Events, error) { return revents, nil }

func (f optionFunc) applyReactor(r *Reactor) { f(r) }

// WithLogger configures the logger used to report poll failures, nil disables
// logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return optionFunc(func(r *Reactor) {
		r.logger = logger
	})
}

// New constructs a Reactor with no registrations.
func New(options ...Option) *Reactor {
	r := &Reactor{index: make(map[Source]*registration)}
	for _, o := range options {
		if o != nil {
			o.applyReactor(r)
		}
	}
	return r
}

// Register starts monitoring src for the readiness in mask. A prior
// registration for the same source is replaced, keeping its position in the
// dispatch order.
func (x *Reactor) Register(src Source, mask Events, callback Callback, param any) {
	reg := &registration{
		source:   src,
		callback: callback,
		param:    param,
		mask:     mask,
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if old, ok := x.index[src]; ok {
		for i, v := range x.regs {
			if v == old {
				x.regs[i] = reg
				break
			}
		}
	} else {
		x.regs = append(x.regs, reg)
	}
	x.index[src] = reg
}

// Unregister stops monitoring src. It is a no-op if src is not registered.
func (x *Reactor) Unregister(src Source) {
	x.mu.Lock()
	defer x.mu.Unlock()

	old, ok := x.index[src]
	if !ok {
		return
	}
	delete(x.index, src)
	for i, v := range x.regs {
		if v == old {
			x.regs = append(x.regs[:i:i], x.regs[i+1:]...)
			break
		}
	}
}

// Len returns the number of registered sources.
func (x *Reactor) Len() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.regs)
}

// Poll blocks until at least one registered source satisfies its mask, or
// the timeout elapses, then invokes the callback of every source that fired,
// in registration order. A negative timeout blocks indefinitely. Returns the
// number of callbacks invoked.
//
// Error and hangup conditions are always reported, regardless of mask. Only
// one Poll may be in progress, whether called from a callback or another
// goroutine, any other returns ErrReentrantPoll.
func (x *Reactor) Poll(timeout time.Duration) (int, error) {
	if !x.polling.CompareAndSwap(false, true) {
		return 0, ErrReentrantPoll
	}
	defer x.polling.Store(false)

	x.mu.Lock()
	regs := make([]*registration, len(x.regs))
	copy(regs, x.regs)
	x.mu.Unlock()

	if len(regs) == 0 && timeout < 0 {
		return 0, ErrNoSources
	}

	fds := make([]int, len(regs))
	var pending bool
	for i, reg := range regs {
		fd, err := reg.source.PollFD()
		if err != nil {
			return 0, err
		}
		fds[i] = fd
		ready, err := reg.source.Ready(0)
		if err != nil {
			return 0, err
		}
		if ready&reg.interest() != 0 {
			pending = true
		}
	}

	if pending {
		timeout = 0
	}

	masks := make([]Events, len(regs))
	for i, reg := range regs {
		masks[i] = reg.mask
	}

	revents, err := pollFDs(fds, masks, timeout)
	if err != nil {
		x.logger.Err().
			Err(err).
			Int(`sources`, len(regs)).
			Log(`reactor poll failed`)
		return 0, err
	}

	var n int
	for i, reg := range regs {
		ready, err := reg.source.Ready(revents[i])
		if err != nil {
			return n, err
		}
		fired := ready & reg.interest()
		if fired == 0 || !x.current(reg) {
			continue
		}
		if reg.callback != nil {
			reg.callback(reg.source, fired, reg.param)
		}
		n++
	}

	return n, nil
}

// RunForever calls Poll repeatedly, with the given timeout. After each call
// idle is invoked, if non-nil, and the loop stops when it returns false.
// Without an idle hook the loop only stops on a Poll error.
func (x *Reactor) RunForever(timeout time.Duration, idle func() bool) error {
	for {
		if _, err := x.Poll(timeout); err != nil {
			return err
		}
		if idle != nil && !idle() {
			return nil
		}
	}
}

// current reports whether reg has not been unregistered or replaced, e.g. by
// an earlier callback within the same Poll.
func (x *Reactor) current(reg *registration) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.index[reg.source] == reg
}

func (x *registration) interest() Events {
	return x.mask | EventError | EventHangup
}

package statemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
	"github.com/jrtomps/go-statemon/reactor"
)

var errHangup = errors.New(`subscriber hangup`)

type (
	// Snapshot is the last known state, and published facts.
	Snapshot struct {
		// State is empty until the first STATE or TRANSITION frame.
		State string
		Title string
		// RunNumber is -1 until the first RUN frame.
		RunNumber int
		Recording bool
	}

	// Base owns the connection to the run-control service, and maintains the
	// last known Snapshot. It is safe to call methods concurrently, but only
	// one goroutine may call Run at a time.
	Base struct {
		dialer      Dialer
		hooks       Hooks
		logger      *logiface.Logger[logiface.Event]
		reactor     *reactor.Reactor
		limiter     *catrate.Limiter
		opts        *baseOptions
		requestAddr string
		stateAddr   string

		// connMu guards conn, and serializes requests
		connMu sync.Mutex
		conn   Transport

		mu       sync.RWMutex
		snapshot Snapshot

		running atomic.Bool
		closed  atomic.Bool

		// the remaining fields are only accessed by the constructor, or the
		// goroutine calling Run

		stateSubscribed bool
		resync          bool
		recordSeen      bool
		broken          error
		fatal           error
	}
)

// NewBase connects to the run-control service, and subscribes to all frame
// types. The requestAddr is the transition request endpoint, and stateAddr
// is the state publication endpoint. Failure to connect results in a
// *TransportError.
func NewBase(dialer Dialer, requestAddr, stateAddr string, options ...Option) (*Base, error) {
	opts, err := resolveBaseOptions(options)
	if err != nil {
		return nil, err
	}
	return newBase(dialer, requestAddr, stateAddr, opts)
}

func newBase(dialer Dialer, requestAddr, stateAddr string, opts *baseOptions) (*Base, error) {
	if dialer == nil {
		return nil, ErrNilDialer
	}

	x := &Base{
		dialer:      dialer,
		hooks:       opts.hooks,
		logger:      opts.logger,
		reactor:     reactor.New(reactor.WithLogger(opts.logger)),
		opts:        opts,
		requestAddr: requestAddr,
		stateAddr:   stateAddr,
		snapshot:    Snapshot{RunNumber: -1},
	}

	if len(opts.reconnectRates) != 0 {
		var err error
		if x.limiter, err = newLimiter(opts.reconnectRates); err != nil {
			return nil, err
		}
	}

	if err := x.connect(); err != nil {
		return nil, err
	}

	x.logger.Info().
		Str(`request_addr`, requestAddr).
		Str(`state_addr`, stateAddr).
		Log(`connected to run control`)

	for _, fn := range opts.init {
		if err := fn(x); err != nil {
			_ = x.Close()
			return nil, err
		}
	}

	return x, nil
}

// Snapshot returns a consistent copy of the last known state, and facts.
func (x *Base) Snapshot() Snapshot {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.snapshot
}

// State returns the current state, or an empty string if it is unknown.
func (x *Base) State() string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.snapshot.State
}

// RunNumber returns the current run number, or -1 if it is unknown.
func (x *Base) RunNumber() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.snapshot.RunNumber
}

// Title returns the current run title.
func (x *Base) Title() string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.snapshot.Title
}

// Recording returns the current recording flag.
func (x *Base) Recording() bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.snapshot.Recording
}

// Phase reports whether the current state is known.
func (x *Base) Phase() Phase {
	if x.State() == `` {
		return PhaseUnknown
	}
	return PhaseTracking
}

// Reactor returns the private reactor, to which additional sources may be
// registered, which will be serviced by Run.
func (x *Base) Reactor() *reactor.Reactor {
	return x.reactor
}

// RequestTransition sends a request for the named state, and blocks until
// the reply is received, which is returned verbatim. Concurrent requests are
// serialized. It must not be called from a hook or callback, as replies are
// not serviced by Run.
func (x *Base) RequestTransition(name string) (string, error) {
	x.connMu.Lock()
	defer x.connMu.Unlock()

	if x.closed.Load() {
		return ``, ErrClosed
	}
	if x.conn == nil {
		return ``, ErrNotConnected
	}

	reply, err := x.conn.Request(RequestPrefix + name)
	if err != nil {
		x.logger.Err().
			Err(err).
			Str(`state`, name).
			Log(`transition request failed`)
		return ``, &TransportError{Op: `request`, Addr: x.requestAddr, Err: err}
	}

	x.logger.Debug().
		Str(`state`, name).
		Str(`reply`, reply).
		Log(`transition requested`)

	return reply, nil
}

// Run services published frames until ctx is canceled, returning ctx.Err(),
// or until an unrecoverable error occurs. Transport failures are handled per
// the reconnect policy, see WithReconnect.
func (x *Base) Run(ctx context.Context) error {
	if !x.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer x.running.Store(false)

	if x.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	wakeR, wakeW, err := os.Pipe()
	if err != nil {
		return err
	}
	defer wakeR.Close()
	defer wakeW.Close()

	// wakes Poll on cancel, the idle hook then stops the loop
	wake := reactor.FD(wakeR.Fd())
	x.reactor.Register(wake, reactor.EventRead, nil, nil)
	defer x.reactor.Unregister(wake)
	stop := context.AfterFunc(ctx, func() { _, _ = wakeW.Write([]byte{0}) })
	defer stop()

	if err := x.reactor.RunForever(x.opts.wakeInterval, func() bool { return x.idle(ctx) }); err != nil {
		return err
	}

	if x.fatal != nil {
		err := x.fatal
		x.fatal = nil
		return err
	}

	return ctx.Err()
}

// RunForever services published frames until an unrecoverable error occurs.
func (x *Base) RunForever() error {
	return x.Run(context.Background())
}

// Close disconnects from the run-control service. It must not be called
// while Run is in progress, cancel it first.
func (x *Base) Close() error {
	if x.running.Load() {
		return ErrRunning
	}
	if !x.closed.CompareAndSwap(false, true) {
		return nil
	}
	return x.disconnect()
}

func (x *Base) connect() error {
	conn, err := x.dialer.Dial(x.requestAddr, x.stateAddr)
	if err != nil {
		return &TransportError{Op: `dial`, Addr: x.stateAddr, Err: err}
	}

	for _, prefix := range Prefixes() {
		if err := conn.Subscribe(prefix); err != nil {
			_ = conn.Close()
			return &TransportError{Op: `subscribe`, Addr: x.stateAddr, Err: fmt.Errorf(`%q: %w`, prefix, err)}
		}
	}
	x.stateSubscribed = true

	x.connMu.Lock()
	x.conn = conn
	x.connMu.Unlock()

	x.reactor.Register(conn, reactor.EventRead, x.readable, nil)

	return nil
}

func (x *Base) disconnect() error {
	x.connMu.Lock()
	conn := x.conn
	x.conn = nil
	x.connMu.Unlock()

	if conn == nil {
		return nil
	}
	x.reactor.Unregister(conn)
	return conn.Close()
}

// readable is the reactor callback for the subscriber, it handles one frame.
func (x *Base) readable(src reactor.Source, events reactor.Events, _ any) {
	conn := src.(Transport)

	if events&reactor.EventRead == 0 {
		x.fail(&TransportError{Op: `receive`, Addr: x.stateAddr, Err: errHangup})
		return
	}

	frame, ok, err := conn.Receive()
	if err != nil {
		x.fail(&TransportError{Op: `receive`, Addr: x.stateAddr, Err: err})
		return
	}
	if !ok {
		return
	}

	if err := x.apply(frame); err != nil {
		if x.opts.protocolPolicy == FailOnProtocolError {
			x.fatal = err
			return
		}
		x.logger.Warning().
			Err(err).
			Log(`dropped frame`)
	}
}

func (x *Base) fail(err error) {
	x.logger.Err().
		Err(err).
		Log(`subscriber failed`)
	x.broken = err
	if x.conn != nil {
		x.reactor.Unregister(x.conn)
	}
}

// idle runs after every poll, on the goroutine calling Run.
func (x *Base) idle(ctx context.Context) bool {
	if x.fatal != nil || ctx.Err() != nil {
		return false
	}
	if x.broken == nil {
		return true
	}
	if err := x.reconnect(ctx); err != nil {
		if ctx.Err() == nil {
			x.fatal = err
		}
		return false
	}
	return true
}

// apply decodes a frame, updates the snapshot, then calls the hooks.
func (x *Base) apply(raw string) error {
	frame, err := ParseFrame(raw)
	if err != nil {
		return err
	}

	switch frame.Kind {
	case KindState:
		if frame.Body == `` {
			return &ProtocolError{Frame: raw, Type: frame.Type, Reason: `empty state`}
		}
		x.stateFrame(frame.Body)

	case KindTransition:
		if frame.Body == `` {
			return &ProtocolError{Frame: raw, Type: frame.Type, Reason: `empty state`}
		}
		x.transitionFrame(frame.Body)

	case KindRun:
		n, err := strconv.Atoi(strings.TrimSpace(frame.Body))
		if err != nil {
			return &ProtocolError{Frame: raw, Type: frame.Type, Reason: `invalid run number`, Err: err}
		}
		x.mu.Lock()
		previous := x.snapshot.RunNumber
		x.snapshot.RunNumber = n
		x.mu.Unlock()
		x.hooks.RunNumber(previous, n)

	case KindTitle:
		x.mu.Lock()
		previous := x.snapshot.Title
		x.snapshot.Title = frame.Body
		x.mu.Unlock()
		x.hooks.Title(previous, frame.Body)

	case KindRecord:
		recording := frame.Body == `True`
		first := !x.recordSeen
		x.recordSeen = true
		x.mu.Lock()
		previous := x.snapshot.Recording
		x.snapshot.Recording = recording
		x.mu.Unlock()
		x.hooks.Recording(previous, recording, first)
	}

	return nil
}

func (x *Base) stateFrame(state string) {
	switch previous := x.State(); {
	case previous == ``:
		x.initialState(state)

	case x.resync:
		// first snapshot after reconnecting
		x.setState(state)
		x.cancelStateSubscription()
		if previous != state {
			x.hooks.Transition(previous, state)
		}

	default:
		x.logger.Debug().
			Str(`state`, state).
			Log(`ignored state announcement`)
	}
}

func (x *Base) transitionFrame(state string) {
	previous := x.State()
	if previous == `` {
		x.initialState(state)
		return
	}
	if x.resync {
		x.cancelStateSubscription()
	}
	x.setState(state)
	x.hooks.Transition(previous, state)
}

func (x *Base) initialState(state string) {
	x.setState(state)
	x.cancelStateSubscription()
	x.logger.Info().
		Str(`state`, state).
		Log(`initial state`)
	x.hooks.InitialState(state)
}

func (x *Base) setState(state string) {
	x.mu.Lock()
	x.snapshot.State = state
	x.mu.Unlock()
}

func (x *Base) cancelStateSubscription() {
	x.resync = false
	if !x.stateSubscribed || x.conn == nil {
		return
	}
	x.stateSubscribed = false
	if err := x.conn.Unsubscribe(PrefixState); err != nil {
		// stray STATE frames are ignored while tracking
		x.logger.Warning().
			Err(err).
			Log(`failed to unsubscribe from state announcements`)
	}
}

// reconnect replaces the failed connection, retrying with backoff until it
// succeeds, ctx is canceled, or reconnection is disabled.
func (x *Base) reconnect(ctx context.Context) error {
	cause := x.broken
	if err := x.disconnect(); err != nil {
		x.logger.Debug().
			Err(err).
			Log(`failed to close broken connection`)
	}

	if x.opts.reconnectMax <= 0 {
		return cause
	}

	delay := x.opts.reconnectMin
	for attempt := 1; ; attempt++ {
		for {
			next, ok := x.limiter.Allow(x.stateAddr)
			if ok {
				break
			}
			if err := sleep(ctx, time.Until(next)); err != nil {
				return err
			}
		}

		err := x.connect()
		if err == nil {
			x.broken = nil
			x.resync = x.State() != ``
			x.logger.Notice().
				Int(`attempt`, attempt).
				Str(`state_addr`, x.stateAddr).
				Log(`reconnected to run control`)
			return nil
		}

		x.logger.Warning().
			Err(err).
			Int(`attempt`, attempt).
			Dur(`retry_in`, delay).
			Log(`reconnect failed`)

		if err := sleep(ctx, delay); err != nil {
			return err
		}
		delay = min(delay*2, x.opts.reconnectMax)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

package relay

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/joeycumines/logiface"
	"github.com/jrtomps/go-statemon/statemon"
)

// Standard errors.
var (
	ErrNilPoster  = errors.New(`relay: nil poster`)
	ErrStarted    = errors.New(`relay: already started`)
	ErrNotStarted = errors.New(`relay: not started`)
)

// Monitor is a thread-safe façade over a statemon.Monitor, running on a
// worker goroutine, that delivers notifications to a host via a Poster.
// Every method may be called from any goroutine, but actions are only ever
// run by the host.
type Monitor struct {
	poster         Poster
	logger         *logiface.Logger[logiface.Event]
	errorHandler   func(err error)
	monitorOptions []statemon.Option

	// mu guards the bindings, and lifecycle fields, and is never held while
	// posting, running an action, or calling a blocking method
	mu        sync.Mutex
	states    map[string]*binding
	title     *binding
	runNumber *binding
	recording *binding
	monitor   *statemon.Monitor
	phase     statemon.Phase
	cancel    context.CancelFunc
	done      chan struct{}
	err       error
}

// New returns an unstarted Monitor. Actions may be bound before Start.
func New(poster Poster, options ...Option) (*Monitor, error) {
	if poster == nil {
		return nil, ErrNilPoster
	}
	opts, err := resolveRelayOptions(options)
	if err != nil {
		return nil, err
	}
	x := &Monitor{
		poster:         poster,
		logger:         opts.logger,
		errorHandler:   opts.errorHandler,
		monitorOptions: append([]statemon.Option{statemon.WithLogger(opts.logger)}, opts.monitorOptions...),
		states:         make(map[string]*binding),
		phase:          statemon.PhaseUnstarted,
	}
	if x.errorHandler == nil {
		x.errorHandler = x.logError
	}
	return x, nil
}

// Start connects to the run-control service, see statemon.NewMonitor, then
// services it on a new goroutine, until ctx is canceled, or Close is called.
// Connection failures are returned, and Start may be retried.
func (x *Monitor) Start(ctx context.Context, dialer statemon.Dialer, requestAddr, stateAddr string, options ...statemon.Option) error {
	x.mu.Lock()
	if x.phase != statemon.PhaseUnstarted {
		x.mu.Unlock()
		return ErrStarted
	}
	x.phase = statemon.PhaseConnecting
	x.mu.Unlock()

	m, err := statemon.NewMonitor(dialer, requestAddr, stateAddr, append(x.monitorOptions[:len(x.monitorOptions):len(x.monitorOptions)], options...)...)
	if err != nil {
		x.mu.Lock()
		x.phase = statemon.PhaseUnstarted
		x.mu.Unlock()
		return err
	}

	m.SetTitleCallback(x.relayTitle, nil)
	m.SetRunNumberCallback(x.relayRunNumber, nil)
	m.SetRecordingCallback(x.relayRecording, nil)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	x.mu.Lock()
	x.monitor = m
	x.cancel = cancel
	x.done = done
	for key, b := range x.states {
		m.Register(key, x.trampoline(b), nil)
	}
	x.mu.Unlock()

	go func() {
		defer close(done)
		defer cancel()
		err := m.Run(runCtx)
		if errors.Is(err, context.Canceled) {
			err = nil
		} else if err != nil {
			x.logger.Err().
				Err(err).
				Log(`state monitor stopped`)
		}
		x.mu.Lock()
		x.err = err
		x.mu.Unlock()
	}()

	return nil
}

// Wait blocks until the worker stops, returning the reason, which is nil if
// it was stopped by canceling the Start context, or Close.
func (x *Monitor) Wait() error {
	x.mu.Lock()
	done := x.done
	x.mu.Unlock()
	if done == nil {
		return ErrNotStarted
	}
	<-done
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.err
}

// Close stops the worker, and disconnects. Events already posted are still
// delivered.
func (x *Monitor) Close() error {
	x.mu.Lock()
	m, cancel, done := x.monitor, x.cancel, x.done
	x.mu.Unlock()
	if m == nil {
		return nil
	}
	cancel()
	<-done
	return m.Close()
}

// Phase returns the lifecycle stage.
func (x *Monitor) Phase() statemon.Phase {
	x.mu.Lock()
	m, phase := x.monitor, x.phase
	x.mu.Unlock()
	if m == nil {
		return phase
	}
	return m.Phase()
}

// RegisterState binds action to entering state, matched case-insensitively,
// replacing any existing action. Every call creates a new binding, so events
// already posted for the previous binding are dropped, including when
// re-registering the same action. A nil action is equivalent to
// UnregisterState.
func (x *Monitor) RegisterState(state string, action StateAction) {
	if action == nil {
		x.UnregisterState(state)
		return
	}
	b := &binding{key: strings.ToUpper(state), state: action}
	x.mu.Lock()
	defer x.mu.Unlock()
	x.states[b.key] = b
	if x.monitor != nil {
		x.monitor.Register(b.key, x.trampoline(b), nil)
	}
}

// UnregisterState unbinds any action for entering state. Events already
// posted for it are dropped.
func (x *Monitor) UnregisterState(state string) {
	key := strings.ToUpper(state)
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.states, key)
	if x.monitor != nil {
		x.monitor.Unregister(key)
	}
}

// SetTitleCallback binds, or given nil unbinds, the title action.
func (x *Monitor) SetTitleCallback(action TitleAction) {
	var b *binding
	if action != nil {
		b = &binding{title: action}
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	x.title = b
}

// SetRunNumberCallback binds, or given nil unbinds, the run number action.
func (x *Monitor) SetRunNumberCallback(action RunNumberAction) {
	var b *binding
	if action != nil {
		b = &binding{runNumber: action}
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	x.runNumber = b
}

// SetRecordingCallback binds, or given nil unbinds, the recording action.
// The first RECORD frame always notifies, if an action is bound at the time.
func (x *Monitor) SetRecordingCallback(action RecordingAction) {
	var b *binding
	if action != nil {
		b = &binding{recording: action}
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	x.recording = b
}

// RequestTransition requests the named state, blocking until the reply. It
// must not be called from the host goroutine if that would prevent the
// reply, e.g. in single-threaded hosts that also serve requests.
func (x *Monitor) RequestTransition(name string) (string, error) {
	m := x.current()
	if m == nil {
		return ``, ErrNotStarted
	}
	return m.RequestTransition(name)
}

// GetState returns the current state, or an empty string if unknown.
func (x *Monitor) GetState() string {
	return x.Snapshot().State
}

// GetRunNumber returns the current run number, or -1 if unknown.
func (x *Monitor) GetRunNumber() int {
	return x.Snapshot().RunNumber
}

// GetTitle returns the current run title.
func (x *Monitor) GetTitle() string {
	return x.Snapshot().Title
}

// GetRecording returns the current recording flag.
func (x *Monitor) GetRecording() bool {
	return x.Snapshot().Recording
}

// Snapshot returns a consistent copy of the current state, and facts.
func (x *Monitor) Snapshot() statemon.Snapshot {
	if m := x.current(); m != nil {
		return m.Snapshot()
	}
	return statemon.Snapshot{RunNumber: -1}
}

func (x *Monitor) current() *statemon.Monitor {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.monitor
}

// trampoline returns the worker callback for a state binding.
func (x *Monitor) trampoline(b *binding) statemon.StateCallback {
	return func(_ *statemon.Monitor, from, to string, _ any) {
		x.post(&Event{Kind: EventState, From: from, To: to, binding: b})
	}
}

func (x *Monitor) relayTitle(_ *statemon.Monitor, title string, _ any) {
	x.mu.Lock()
	b := x.title
	x.mu.Unlock()
	if b != nil {
		x.post(&Event{Kind: EventTitle, Title: title, binding: b})
	}
}

func (x *Monitor) relayRunNumber(_ *statemon.Monitor, runNumber int, _ any) {
	x.mu.Lock()
	b := x.runNumber
	x.mu.Unlock()
	if b != nil {
		x.post(&Event{Kind: EventRunNumber, RunNumber: runNumber, binding: b})
	}
}

func (x *Monitor) relayRecording(_ *statemon.Monitor, recording bool, _ any) {
	x.mu.Lock()
	b := x.recording
	x.mu.Unlock()
	if b != nil {
		x.post(&Event{Kind: EventRecording, Recording: recording, binding: b})
	}
}

func (x *Monitor) post(ev *Event) {
	if err := x.poster.Post(func() { x.deliver(ev) }); err != nil {
		x.logger.Warning().
			Err(err).
			Str(`event`, ev.String()).
			Log(`failed to post event`)
	}
}

// deliver runs on the host.
func (x *Monitor) deliver(ev *Event) {
	if !ev.delivered.CompareAndSwap(false, true) {
		return
	}

	if !x.bound(ev) {
		x.logger.Debug().
			Str(`event`, ev.String()).
			Log(`dropped stale event`)
		return
	}

	if err := ev.binding.invoke(ev); err != nil {
		x.errorHandler(&ActionError{Event: ev, Err: err})
	}
}

// bound reports whether the event's binding is still the bound one.
func (x *Monitor) bound(ev *Event) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	switch ev.Kind {
	case EventState:
		return x.states[ev.binding.key] == ev.binding
	case EventTitle:
		return x.title == ev.binding
	case EventRunNumber:
		return x.runNumber == ev.binding
	case EventRecording:
		return x.recording == ev.binding
	default:
		return false
	}
}

func (x *Monitor) logError(err error) {
	x.logger.Err().
		Err(err).
		Log(`host action failed`)
}

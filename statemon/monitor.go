package statemon

import (
	"sync"
)

type (
	// StateCallback is invoked when the named state is entered. The from
	// state is empty when reporting the initial state.
	StateCallback func(m *Monitor, from, to string, arg any)

	// TitleCallback is invoked when the run title changes.
	TitleCallback func(m *Monitor, title string, arg any)

	// RunNumberCallback is invoked when the run number changes.
	RunNumberCallback func(m *Monitor, runNumber int, arg any)

	// RecordingCallback is invoked for the first RECORD frame, then each time
	// the recording flag changes.
	RecordingCallback func(m *Monitor, recording bool, arg any)

	// Monitor extends Base with a registry of callbacks, keyed by the
	// case-insensitive name of the state being entered, and single-slot
	// callbacks for the title, run number, and recording flag.
	//
	// Registration methods may be called from any goroutine, including from
	// within a callback. Callbacks run on the goroutine calling Run, without
	// any lock held.
	Monitor struct {
		*Base

		mu        sync.Mutex
		states    map[string]stateSlot
		title     slot[TitleCallback]
		runNumber slot[RunNumberCallback]
		recording slot[RecordingCallback]
	}

	stateSlot struct {
		callback StateCallback
		arg      any
	}

	slot[T any] struct {
		callback T
		arg      any
		set      bool
	}

	// monitorHooks keeps the Hooks methods off the Monitor method set.
	monitorHooks struct {
		m *Monitor
	}
)

var _ Hooks = monitorHooks{}

// NewMonitor connects to the run-control service, see NewBase. Any
// WithHooks option is ignored.
func NewMonitor(dialer Dialer, requestAddr, stateAddr string, options ...Option) (*Monitor, error) {
	opts, err := resolveBaseOptions(options)
	if err != nil {
		return nil, err
	}

	m := &Monitor{states: make(map[string]stateSlot)}
	opts.hooks = monitorHooks{m}

	// the base is assigned before any init callback runs
	var init []func(*Base) error
	init = append(init, func(b *Base) error {
		m.Base = b
		return nil
	})
	opts.init = append(init, opts.init...)

	if _, err := newBase(dialer, requestAddr, stateAddr, opts); err != nil {
		return nil, err
	}

	return m, nil
}

// Register sets the callback for entering state, replacing any existing one.
// State names are matched case-insensitively.
func (x *Monitor) Register(state string, callback StateCallback, arg any) {
	if callback == nil {
		x.Unregister(state)
		return
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	x.states[normalizeState(state)] = stateSlot{callback: callback, arg: arg}
}

// Unregister removes any callback for entering state.
func (x *Monitor) Unregister(state string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.states, normalizeState(state))
}

// Registered reports whether a callback is set for entering state.
func (x *Monitor) Registered(state string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	_, ok := x.states[normalizeState(state)]
	return ok
}

// SetTitleCallback sets or, given nil, clears the title callback.
func (x *Monitor) SetTitleCallback(callback TitleCallback, arg any) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.title = slot[TitleCallback]{callback: callback, arg: arg, set: callback != nil}
}

// SetRunNumberCallback sets or, given nil, clears the run number callback.
func (x *Monitor) SetRunNumberCallback(callback RunNumberCallback, arg any) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.runNumber = slot[RunNumberCallback]{callback: callback, arg: arg, set: callback != nil}
}

// SetRecordingCallback sets or, given nil, clears the recording callback.
func (x *Monitor) SetRecordingCallback(callback RecordingCallback, arg any) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.recording = slot[RecordingCallback]{callback: callback, arg: arg, set: callback != nil}
}

func (x *Monitor) dispatch(from, to string) {
	x.mu.Lock()
	s, ok := x.states[normalizeState(to)]
	x.mu.Unlock()
	if !ok {
		return
	}
	s.callback(x, from, to, s.arg)
}

func (x monitorHooks) InitialState(state string) {
	x.m.dispatch(``, state)
}

func (x monitorHooks) Transition(from, to string) {
	x.m.dispatch(from, to)
}

func (x monitorHooks) RunNumber(previous, current int) {
	if previous == current {
		return
	}
	x.m.mu.Lock()
	s := x.m.runNumber
	x.m.mu.Unlock()
	if s.set {
		s.callback(x.m, current, s.arg)
	}
}

func (x monitorHooks) Title(previous, current string) {
	if previous == current {
		return
	}
	x.m.mu.Lock()
	s := x.m.title
	x.m.mu.Unlock()
	if s.set {
		s.callback(x.m, current, s.arg)
	}
}

func (x monitorHooks) Recording(previous, current bool, first bool) {
	if !first && previous == current {
		return
	}
	x.m.mu.Lock()
	s := x.m.recording
	x.m.mu.Unlock()
	if s.set {
		s.callback(x.m, current, s.arg)
	}
}

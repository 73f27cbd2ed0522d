package relay

import (
	"fmt"
	"sync/atomic"
)

// EventKind identifies the notification carried by an Event.
type EventKind int

const (
	EventState EventKind = iota + 1
	EventTitle
	EventRunNumber
	EventRecording
)

type (
	// Event is a notification in transit from the worker to the host. It is
	// delivered at most once.
	Event struct {
		binding   *binding
		From      string
		To        string
		Title     string
		Kind      EventKind
		RunNumber int
		Recording bool
		delivered atomic.Bool
	}

	// StateAction is bound to entering a state. The from state is empty for
	// the initial state.
	StateAction func(from, to string) error

	TitleAction func(title string) error

	RunNumberAction func(runNumber int) error

	RecordingAction func(recording bool) error

	// ActionError reports a failed, or panicking, action.
	ActionError struct {
		Event *Event
		Err   error
	}

	// binding is the identity of a bound action, compared by pointer.
	binding struct {
		state     StateAction
		title     TitleAction
		runNumber RunNumberAction
		recording RecordingAction
		// key is the normalized state, for state bindings
		key string
	}
)

// String returns the name of the kind.
func (x EventKind) String() string {
	switch x {
	case EventState:
		return `state`
	case EventTitle:
		return `title`
	case EventRunNumber:
		return `run_number`
	case EventRecording:
		return `recording`
	default:
		return `unknown`
	}
}

// String describes the event.
func (x *Event) String() string {
	switch x.Kind {
	case EventState:
		return fmt.Sprintf(`state %q -> %q`, x.From, x.To)
	case EventTitle:
		return fmt.Sprintf(`title %q`, x.Title)
	case EventRunNumber:
		return fmt.Sprintf(`run number %d`, x.RunNumber)
	case EventRecording:
		return fmt.Sprintf(`recording %t`, x.Recording)
	default:
		return `unknown event`
	}
}

// Error implements the error interface.
func (e *ActionError) Error() string {
	return fmt.Sprintf(`relay: %s action failed: %v`, e.Event, e.Err)
}

// Unwrap returns the underlying cause for use with [errors.Is] and [errors.As].
func (e *ActionError) Unwrap() error {
	return e.Err
}

// invoke runs the bound action, converting a panic to an error.
func (x *binding) invoke(ev *Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = fmt.Errorf(`panic: %w`, e)
			} else {
				err = fmt.Errorf(`panic: %v`, r)
			}
		}
	}()
	switch ev.Kind {
	case EventState:
		return x.state(ev.From, ev.To)
	case EventTitle:
		return x.title(ev.Title)
	case EventRunNumber:
		return x.runNumber(ev.RunNumber)
	case EventRecording:
		return x.recording(ev.Recording)
	default:
		return fmt.Errorf(`relay: invalid event kind: %d`, ev.Kind)
	}
}

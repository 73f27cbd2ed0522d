package statemon

type (
	// Hooks receives each applied frame, on the goroutine calling Run. Every
	// method is called after the snapshot is updated, and is passed the value
	// it replaced.
	Hooks interface {
		// InitialState is called for the first STATE or TRANSITION frame,
		// i.e. when the state becomes known.
		InitialState(state string)

		// Transition is called for a TRANSITION frame, while the state is
		// known, and for a STATE frame that differs from the known state,
		// received after reconnecting.
		Transition(from, to string)

		RunNumber(previous, current int)
		Title(previous, current string)

		// Recording is called for every RECORD frame. The first flag is true
		// for the first RECORD frame received by the Base.
		Recording(previous, current bool, first bool)
	}

	// NopHooks implements Hooks, ignoring everything.
	NopHooks struct{}
)

var _ Hooks = NopHooks{}

func (NopHooks) InitialState(string) {}
func (NopHooks) Transition(string, string) {}
func (NopHooks) RunNumber(int, int) {}
func (NopHooks) Title(string, string) {}
func (NopHooks) Recording(bool, bool, bool) {}

// Phase is the lifecycle stage of a monitor.
type Phase int

const (
	// PhaseUnstarted indicates no connection has been attempted.
	PhaseUnstarted Phase = iota
	// PhaseConnecting indicates the connection is being established.
	PhaseConnecting
	// PhaseUnknown indicates a connection, but no known state.
	PhaseUnknown
	// PhaseTracking indicates a known state. It never regresses to
	// PhaseUnknown.
	PhaseTracking
)

// String returns the name of the phase.
func (x Phase) String() string {
	switch x {
	case PhaseUnstarted:
		return `unstarted`
	case PhaseConnecting:
		return `connecting`
	case PhaseUnknown:
		return `unknown`
	case PhaseTracking:
		return `tracking`
	default:
		return `invalid`
	}
}

package statemon

import (
	"strings"
)

// Subscription prefixes, and the request prefix.
const (
	PrefixState      = `STATE:`
	PrefixTransition = `TRANSITION:`
	PrefixRun        = `RUN:`
	PrefixTitle      = `TITLE:`
	PrefixRecord     = `RECORD:`

	// RequestPrefix is prepended to the state name, to form a transition
	// request.
	RequestPrefix = `TRANSITION:`
)

// Kind identifies the type of a published frame.
type Kind int

const (
	KindState Kind = iota + 1
	KindTransition
	KindRun
	KindTitle
	KindRecord
)

// Frame is a decoded, published frame.
type Frame struct {
	// Type is the type as received, prior to case normalization.
	Type string
	Body string
	Kind Kind
}

// Prefixes returns the subscription prefixes, in subscription order.
func Prefixes() []string {
	return []string{
		PrefixState,
		PrefixTransition,
		PrefixRun,
		PrefixTitle,
		PrefixRecord,
	}
}

// String returns the wire type of the kind.
func (x Kind) String() string {
	switch x {
	case KindState:
		return `STATE`
	case KindTransition:
		return `TRANSITION`
	case KindRun:
		return `RUN`
	case KindTitle:
		return `TITLE`
	case KindRecord:
		return `RECORD`
	default:
		return `UNKNOWN`
	}
}

// ParseFrame splits frame at the first ':' into type and body, matching the
// type case-insensitively. Frames without a separator, or with an unknown
// type, result in a *ProtocolError.
func ParseFrame(frame string) (Frame, error) {
	typ, body, ok := strings.Cut(frame, `:`)
	if !ok {
		return Frame{}, &ProtocolError{Frame: frame, Reason: `missing type separator`}
	}

	var kind Kind
	switch strings.ToUpper(typ) {
	case `STATE`:
		kind = KindState
	case `TRANSITION`:
		kind = KindTransition
	case `RUN`:
		kind = KindRun
	case `TITLE`:
		kind = KindTitle
	case `RECORD`:
		kind = KindRecord
	default:
		return Frame{}, &ProtocolError{Frame: frame, Type: typ, Reason: `unknown frame type`}
	}

	return Frame{Type: typ, Body: body, Kind: kind}, nil
}

// normalizeState maps a state name to its registry key.
func normalizeState(state string) string {
	return strings.ToUpper(state)
}

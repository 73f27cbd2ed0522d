// Package statemon implements the run-control state-monitor client: it tracks
// the current state of a central run-control state machine, and auxiliary
// published facts (run number, title, recording flag), by consuming a
// publish/subscribe stream of text frames, and requests state transitions
// over a request/reply channel.
//
// # Wire Protocol
//
// Each published frame has the form "<TYPE>:<BODY>", where TYPE is one of
// STATE, TRANSITION, RUN, TITLE or RECORD. See [ParseFrame].
//
// # Layers
//
// [Base] owns the [Transport], a private [reactor.Reactor], and the last
// known [Snapshot]. It decodes frames, applies them to the snapshot, then
// reports each one to a [Hooks] implementation, passing the prior value
// alongside the new one. [Monitor] is the [Hooks] layer that maps state names
// to callbacks, and fires the single-slot title, run number and recording
// callbacks when those values change.
//
// # Concurrency
//
// [Base.Run] services frames on the calling goroutine, and every hook and
// callback runs there. Registration, getters and [Base.RequestTransition]
// may be called from any goroutine. See package relay for delivering
// notifications to a different, single-threaded, host goroutine.
package statemon

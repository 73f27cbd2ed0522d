// Package reactor implements a readiness-driven event loop, multiplexing an
// arbitrary set of message sockets and file descriptors.
//
// # Sources
//
// Everything the [Reactor] waits on is a [Source]. Plain descriptors are
// wrapped with [FD]. Message sockets that expose an edge-triggered
// notification descriptor (e.g. ZeroMQ's ZMQ_FD) implement [Source] directly,
// reporting their real readiness from [Source.Ready], which is consulted both
// before blocking (pending, already queued messages) and after poll(2)
// returns.
//
// # Dispatch
//
// A single [Reactor.Poll] blocks until at least one registered source is
// ready, or the timeout elapses, then invokes the callback of every source
// that fired, synchronously, in registration order. [Reactor.RunForever]
// repeats Poll, consulting an idle hook after each call.
//
// # Thread Safety
//
// Register and Unregister are safe to call from any goroutine, including from
// within callbacks. Poll must not be called concurrently, nor re-entered from
// a callback.
package reactor

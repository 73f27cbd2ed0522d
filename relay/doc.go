// Package relay delivers statemon notifications to a single-threaded host,
// such as a GUI, script, or event loop, that owns a task queue.
//
// A [Monitor] runs a statemon.Monitor on its own goroutine. Each callback
// that fires there is packaged as an [Event], holding a value snapshot and
// the identity of the action bound at the time, then posted to the host via
// a [Poster]. On the host, the event is delivered only if the same action is
// still bound, so unregistering or replacing an action makes any in-flight
// events for it inert. Actions run on the host, and their failures are
// reported to the error handler, never to the worker.
//
// [Queue] is a minimal host queue. Any other, e.g. a
// github.com/joeycumines/go-eventloop Loop, may be adapted with [PosterFunc].
package relay

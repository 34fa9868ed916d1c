// Package bridge hosts engine instances in an isolated realm and
// exposes their lifecycle through a remote-call proxy, so callers on
// the application side never touch the render loop directly.
//
// A Bridge lazily spins up one Realm and talks to it over a control
// port pair: method calls go through a transport.Caller, events come
// back per instance on a dedicated duplex event port. Instances are
// identified by a context UID of the form "audioWorklet<N>", allocated
// monotonically for the lifetime of the realm and never reused.
//
// Start readiness is an explicit acknowledgment: the realm posts a
// start-ack event once its render loop has produced the first active
// callback, instead of the caller guessing with a delay. Play-state
// transitions are deduplicated on the application side, so the ack and
// the mirrored state event collapse into a single local transition.
package bridge

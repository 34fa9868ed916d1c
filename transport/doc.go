// Package transport provides the two primitives the cross-context
// bridge is built on: duplex message ports and a remote-call proxy.
//
// A port pair created with Pipe delivers messages strictly in send
// order, buffering anything posted before a handler is bound. Ordering
// is guaranteed per port only: there is no ordering between a proxy
// call's reply and events pushed on a separate port, so consumers must
// tolerate either arrival order.
//
// The proxy layers request/response over one port pair. Calls may
// overlap; each request carries a monotonically increasing ID and is
// served on its own goroutine.
package transport
